// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package localauth

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/stacklok/credkeeper/pkg/credentials"
)

func testHash(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("1234"), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestTerminalGate_Authenticate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  credentials.AuthResult
	}{
		{name: "correct passcode", input: "1234\n", want: credentials.AuthSucceeded},
		{name: "correct passcode without newline", input: "1234", want: credentials.AuthSucceeded},
		{name: "wrong passcode", input: "0000\n", want: credentials.AuthFailed},
		{name: "empty answer cancels", input: "\n", want: credentials.AuthCancelled},
		{name: "closed input cancels", input: "", want: credentials.AuthCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			g, err := NewTerminalGate(testHash(t), WithInput(strings.NewReader(tt.input)), WithOutput(&out))
			require.NoError(t, err)

			got, err := g.Authenticate(t.Context(), credentials.Prompt{
				Title:       "Unlock",
				CancelTitle: "Cancel",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Unlock")
			assert.Contains(t, out.String(), "leave empty to cancel")
		})
	}
}

func TestTerminalGate_ContextCancelled(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	g, err := NewTerminalGate(testHash(t), WithInput(pr), WithOutput(io.Discard))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	got, err := g.Authenticate(ctx, credentials.Prompt{Title: "Unlock"})
	require.NoError(t, err)
	assert.Equal(t, credentials.AuthCancelled, got)
}

// promptWriter signals every time a passcode prompt is written.
type promptWriter struct {
	prompted chan struct{}
}

func (w promptWriter) Write(p []byte) (int, error) {
	if strings.Contains(string(p), "Passcode:") {
		w.prompted <- struct{}{}
	}
	return len(p), nil
}

func TestTerminalGate_AnswerAfterCancelledPrompt(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })
	out := promptWriter{prompted: make(chan struct{}, 2)}

	g, err := NewTerminalGate(testHash(t), WithInput(pr), WithOutput(out))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	first := make(chan credentials.AuthResult, 1)
	go func() {
		got, _ := g.Authenticate(ctx, credentials.Prompt{Title: "Unlock"})
		first <- got
	}()
	<-out.prompted
	cancel()
	assert.Equal(t, credentials.AuthCancelled, <-first)

	second := make(chan credentials.AuthResult, 1)
	go func() {
		got, err := g.Authenticate(t.Context(), credentials.Prompt{Title: "Unlock"})
		assert.NoError(t, err)
		second <- got
	}()
	<-out.prompted
	_, err = io.WriteString(pw, "1234\n")
	require.NoError(t, err)

	select {
	case got := <-second:
		assert.Equal(t, credentials.AuthSucceeded, got)
	case <-time.After(5 * time.Second):
		t.Fatal("second prompt never received the passcode")
	}
}

func TestTerminalGate_ConcurrentPrompts(t *testing.T) {
	t.Parallel()

	g, err := NewTerminalGate(testHash(t),
		WithInput(strings.NewReader("1234\n0000\n")),
		WithOutput(io.Discard),
	)
	require.NoError(t, err)

	results := make(chan credentials.AuthResult, 2)
	for range 2 {
		go func() {
			got, err := g.Authenticate(t.Context(), credentials.Prompt{Title: "Unlock"})
			assert.NoError(t, err)
			results <- got
		}()
	}

	got := []credentials.AuthResult{<-results, <-results}
	assert.ElementsMatch(t, []credentials.AuthResult{credentials.AuthSucceeded, credentials.AuthFailed}, got)
}

func TestTerminalGate_Throttled(t *testing.T) {
	t.Parallel()

	g, err := NewTerminalGate(testHash(t),
		WithInput(strings.NewReader("1234\n1234\n")),
		WithOutput(io.Discard),
		WithLimiter(rate.NewLimiter(0, 1)),
	)
	require.NoError(t, err)

	got, err := g.Authenticate(t.Context(), credentials.Prompt{Title: "Unlock"})
	require.NoError(t, err)
	assert.Equal(t, credentials.AuthSucceeded, got)

	got, err = g.Authenticate(t.Context(), credentials.Prompt{Title: "Unlock"})
	require.NoError(t, err)
	assert.Equal(t, credentials.AuthFailed, got)
}

func TestHashPasscode(t *testing.T) {
	t.Parallel()

	hash, err := HashPasscode("1234")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("1234")))

	_, err = HashPasscode("")
	assert.Error(t, err)

	_, err = NewTerminalGate("not-a-hash")
	assert.Error(t, err)
}
