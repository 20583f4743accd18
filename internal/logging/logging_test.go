// Copyright Pigeonworks LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want zapcore.Level
		ok   bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, true},
		{" INFO ", zapcore.InfoLevel, true},
		{"warning", zapcore.WarnLevel, true},
		{"error", zapcore.ErrorLevel, true},
		{"off", zapcore.FatalLevel + 1, true},
		{"loud", zapcore.InfoLevel, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := parseLevel(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultOptions(t *testing.T) {
	runtime := defaultOptions(ProfileRuntime)
	assert.Equal(t, zapcore.InfoLevel, runtime.Level)
	assert.Equal(t, "json", runtime.Format)
	assert.False(t, runtime.Caller)

	test := defaultOptions(ProfileTest)
	assert.Equal(t, zapcore.DebugLevel, test.Level)
	assert.Equal(t, "console", test.Format)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvLogFormat, "text")
	t.Setenv(EnvLogCaller, "true")

	opts := defaultOptions(ProfileRuntime)
	applyEnvOverrides(&opts)

	assert.Equal(t, zapcore.WarnLevel, opts.Level)
	assert.Equal(t, "console", opts.Format)
	assert.True(t, opts.Caller)
}

func TestApplyEnvOverrides_IgnoresGarbage(t *testing.T) {
	t.Setenv(EnvLogLevel, "loud")
	t.Setenv(EnvLogFormat, "xml")
	t.Setenv(EnvLogCaller, "maybe")

	opts := defaultOptions(ProfileRuntime)
	applyEnvOverrides(&opts)

	assert.Equal(t, defaultOptions(ProfileRuntime), opts)
}

func TestNew(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")

	logger, err := New(ProfileRuntime, "error")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.WarnLevel), "flag beats environment")
	assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))

	logger, err = New(ProfileRuntime, "")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_UnknownLevel(t *testing.T) {
	_, err := New(ProfileRuntime, "loud")
	assert.Error(t, err)
}
