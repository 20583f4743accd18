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

// Package logging builds the zap loggers used by fleetvisor.
package logging

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvLogLevel  = "FLEETVISOR_LOG_LEVEL"
	EnvLogFormat = "FLEETVISOR_LOG_FORMAT"
	EnvLogCaller = "FLEETVISOR_LOG_CALLER"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Options are the knobs that survive profile defaults and environment
// overrides.
type Options struct {
	Level  zapcore.Level
	Format string
	Caller bool
}

// New builds a logger for profile. A non-empty level takes precedence over
// FLEETVISOR_LOG_LEVEL.
func New(profile Profile, level string) (*zap.Logger, error) {
	opts := defaultOptions(profile)
	applyEnvOverrides(&opts)
	if level != "" {
		lvl, ok := parseLevel(level)
		if !ok {
			return nil, fmt.Errorf("unknown log level %q", level)
		}
		opts.Level = lvl
	}
	return build(opts)
}

func defaultOptions(profile Profile) Options {
	switch profile {
	case ProfileTest:
		return Options{Level: zapcore.DebugLevel, Format: "console", Caller: true}
	default:
		return Options{Level: zapcore.InfoLevel, Format: "json"}
	}
}

func applyEnvOverrides(opts *Options) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		opts.Level = lvl
	}
	if format, ok := parseFormat(os.Getenv(EnvLogFormat)); ok {
		opts.Format = format
	}
	if v, ok := parseBool(os.Getenv(EnvLogCaller)); ok {
		opts.Caller = v
	}
}

func build(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(opts.Level)
	cfg.DisableCaller = !opts.Caller
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func parseLevel(raw string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zapcore.InfoLevel, false
	case "debug", "trace":
		return zapcore.DebugLevel, true
	case "info":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	case "off", "none", "disabled":
		return zapcore.FatalLevel + 1, true
	default:
		return zapcore.InfoLevel, false
	}
}

func parseFormat(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "json":
		return "json", true
	case "console", "text":
		return "console", true
	default:
		return "", false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
