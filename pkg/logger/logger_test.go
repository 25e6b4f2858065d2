// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-core/env/mocks"
	"github.com/stacklok/toolhive-core/logging"
)

func TestUnstructuredLogsCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		envValue string
		expected bool
	}{
		{"Default Case", "", true},
		{"Explicitly True", "true", true},
		{"Explicitly False", "false", false},
		{"Invalid Value", "not-a-bool", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)

			mockEnv := mocks.NewMockReader(ctrl)
			mockEnv.EXPECT().Getenv(UnstructuredLogsEnvVar).Return(tt.envValue)

			assert.Equal(t, tt.expected, unstructuredLogsWithEnv(mockEnv))
		})
	}
}

func setSingletonForTest(t *testing.T, l *slog.Logger) {
	t.Helper()
	prev := singleton.Load()
	singleton.Store(l)
	t.Cleanup(func() { singleton.Store(prev) })
}

func TestLogLevels(t *testing.T) { //nolint:paralleltest // mutates singleton
	tests := []struct {
		name     string
		logFn    func()
		contains string
	}{
		{"Debugf", func() { Debugf("debug %s", "formatted") }, "debug formatted"},
		{"Debugw", func() { Debugw("debug kv", "key", "val") }, "debug kv"},
		{"Infof", func() { Infof("info %s", "formatted") }, "info formatted"},
		{"Infow", func() { Infow("info kv", "key", "val") }, "info kv"},
		{"Warnf", func() { Warnf("warn %s", "formatted") }, "warn formatted"},
		{"Warnw", func() { Warnw("warn kv", "key", "val") }, "warn kv"},
		{"Errorf", func() { Errorf("error %s", "formatted") }, "error formatted"},
		{"Errorw", func() { Errorw("error kv", "key", "val") }, "error kv"},
	}

	for _, tc := range tests { //nolint:paralleltest // mutates singleton
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			setSingletonForTest(t, logging.New(
				logging.WithOutput(&buf),
				logging.WithLevel(slog.LevelDebug),
			))

			tc.logFn()

			assert.Contains(t, buf.String(), tc.contains)
		})
	}
}

func TestFor(t *testing.T) { //nolint:paralleltest // mutates singleton
	var buf bytes.Buffer
	setSingletonForTest(t, logging.New(
		logging.WithOutput(&buf),
		logging.WithFormat(logging.FormatText),
	))

	l := For("renewal")
	require.NotNil(t, l)
	l.Info("component test")

	assert.Contains(t, buf.String(), "component test")
	assert.Contains(t, buf.String(), "component=renewal")
}

func TestInitializeWithEnv(t *testing.T) { //nolint:paralleltest // mutates singleton
	prev := singleton.Load()
	t.Cleanup(func() { singleton.Store(prev) })

	for _, value := range []string{"", "true", "false"} {
		ctrl := gomock.NewController(t)
		mockEnv := mocks.NewMockReader(ctrl)
		mockEnv.EXPECT().Getenv(UnstructuredLogsEnvVar).Return(value)

		InitializeWithEnv(mockEnv)
		assert.NotNil(t, Get())
	}
}
