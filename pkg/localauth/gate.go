// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package localauth implements local user authentication for the
// credential cache when running in a terminal.
package localauth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/stacklok/credkeeper/pkg/credentials"
)

const (
	// DefaultAttemptInterval is the steady rate at which attempts are allowed.
	DefaultAttemptInterval = 2 * time.Second
	// DefaultAttemptBurst is how many attempts may be made back to back.
	DefaultAttemptBurst = 3
)

var _ credentials.Gate = (*TerminalGate)(nil)

// TerminalGate asks for a passcode on the terminal and checks it against a
// bcrypt hash.
type TerminalGate struct {
	hash    []byte
	out     io.Writer
	read    func() (string, error)
	limiter *rate.Limiter

	// One reader goroutine serves every prompt. A line requested by a
	// prompt whose context ended is delivered to the next prompt.
	mu       sync.Mutex
	start    sync.Once
	requests chan struct{}
	answers  chan answer
	pending  bool
}

type answer struct {
	passcode string
	err      error
}

// Option configures a TerminalGate.
type Option func(*TerminalGate)

// WithInput reads passcodes line by line from r instead of the terminal.
func WithInput(r io.Reader) Option {
	br := bufio.NewReader(r)
	return func(g *TerminalGate) {
		g.read = func() (string, error) {
			line, err := br.ReadString('\n')
			if err != nil && !(errors.Is(err, io.EOF) && line != "") {
				return "", err
			}
			return strings.TrimRight(line, "\r\n"), nil
		}
	}
}

// WithOutput sets where the prompt is written.
func WithOutput(w io.Writer) Option {
	return func(g *TerminalGate) {
		g.out = w
	}
}

// WithLimiter replaces the attempt limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(g *TerminalGate) {
		g.limiter = l
	}
}

// NewTerminalGate creates a gate for the bcrypt hash produced by HashPasscode.
func NewTerminalGate(hash string, opts ...Option) (*TerminalGate, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid passcode hash: %w", err)
	}

	g := &TerminalGate{
		hash:     []byte(hash),
		out:      os.Stderr,
		read:     readTerminal,
		limiter:  rate.NewLimiter(rate.Every(DefaultAttemptInterval), DefaultAttemptBurst),
		requests: make(chan struct{}, 1),
		answers:  make(chan answer),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// HashPasscode returns the bcrypt hash to configure a TerminalGate with.
func HashPasscode(passcode string) (string, error) {
	if passcode == "" {
		return "", errors.New("passcode must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash passcode: %w", err)
	}
	return string(hash), nil
}

// Authenticate prompts for the passcode. An empty answer or a cancelled
// context is AuthCancelled. Concurrent calls are answered one at a time.
func (g *TerminalGate) Authenticate(ctx context.Context, prompt credentials.Prompt) (credentials.AuthResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.limiter.Allow() {
		return credentials.AuthFailed, nil
	}

	if ctx.Err() != nil {
		return credentials.AuthCancelled, nil
	}

	g.start.Do(func() { go g.readLoop() })
	g.writePrompt(prompt)
	if !g.pending {
		g.requests <- struct{}{}
		g.pending = true
	}

	select {
	case <-ctx.Done():
		_, _ = fmt.Fprintln(g.out)
		return credentials.AuthCancelled, nil
	case a := <-g.answers:
		g.pending = false
		if a.err != nil {
			if errors.Is(a.err, io.EOF) {
				return credentials.AuthCancelled, nil
			}
			return credentials.AuthFailed, fmt.Errorf("failed to read passcode: %w", a.err)
		}
		if a.passcode == "" {
			return credentials.AuthCancelled, nil
		}
		if bcrypt.CompareHashAndPassword(g.hash, []byte(a.passcode)) != nil {
			return credentials.AuthFailed, nil
		}
		return credentials.AuthSucceeded, nil
	}
}

// readLoop reads one line per request so nothing is consumed while no
// prompt is waiting.
func (g *TerminalGate) readLoop() {
	for range g.requests {
		passcode, err := g.read()
		g.answers <- answer{passcode: passcode, err: err}
	}
}

func (g *TerminalGate) writePrompt(prompt credentials.Prompt) {
	_, _ = fmt.Fprintln(g.out, prompt.Title)
	if prompt.Description != "" {
		_, _ = fmt.Fprintln(g.out, prompt.Description)
	}
	if prompt.CancelTitle != "" {
		_, _ = fmt.Fprintf(g.out, "(leave empty to %s)\n", strings.ToLower(prompt.CancelTitle))
	}
	if prompt.FallbackTitle != "" {
		_, _ = fmt.Fprintf(g.out, "(%s)\n", prompt.FallbackTitle)
	}
	_, _ = fmt.Fprint(g.out, "Passcode: ")
}

func readTerminal() (string, error) {
	fd := int(os.Stdin.Fd()) // #nosec G115 -- file descriptors fit in int
	if !term.IsTerminal(fd) {
		return "", errors.New("local authentication requires an interactive terminal")
	}
	b, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
