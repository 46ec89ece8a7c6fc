// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSlogHandlerLevels(t *testing.T) {
	var buf bytes.Buffer

	zl := zerolog.New(&buf).Level(zerolog.TraceLevel)
	logger := slog.New(NewSlogHandlerWithLogger(zl))

	tests := []struct {
		name  string
		log   func()
		level string
	}{
		{"Debug", func() { logger.Debug("d") }, `"level":"debug"`},
		{"Info", func() { logger.Info("i") }, `"level":"info"`},
		{"Warn", func() { logger.Warn("w") }, `"level":"warn"`},
		{"Error", func() { logger.Error("e") }, `"level":"error"`},
	}

	for _, tt := range tests {
		buf.Reset()
		tt.log()
		if !strings.Contains(buf.String(), tt.level) {
			t.Errorf("%s: expected %s in output: %s", tt.name, tt.level, buf.String())
		}
	}
}

func TestSlogHandlerAttrs(t *testing.T) {
	var buf bytes.Buffer

	zl := zerolog.New(&buf).Level(zerolog.TraceLevel)
	logger := slog.New(NewSlogHandlerWithLogger(zl))

	logger.Info("warmed",
		slog.String("key", "steps:day:2025-01-15:all:summary"),
		slog.Int64("bytes", 2048),
		slog.Bool("promoted", true),
	)

	output := buf.String()
	for _, want := range []string{
		`"key":"steps:day:2025-01-15:all:summary"`,
		`"bytes":2048`,
		`"promoted":true`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output: %s", want, output)
		}
	}
}

func TestSlogHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer

	zl := zerolog.New(&buf).Level(zerolog.TraceLevel)
	handler := NewSlogHandlerWithLogger(zl).
		WithAttrs([]slog.Attr{slog.String("component", "refresh")}).
		WithGroup("pass")
	logger := slog.New(handler)

	logger.Info("done", slog.Int("warmed", 3))

	output := buf.String()
	if !strings.Contains(output, `"component":"refresh"`) {
		t.Errorf("expected pre-configured attr in output: %s", output)
	}
	if !strings.Contains(output, `"pass.warmed":3`) {
		t.Errorf("expected group-prefixed attr in output: %s", output)
	}
}

func TestSlogHandlerEnabled(t *testing.T) {
	t.Parallel()

	zl := zerolog.New(nil).Level(zerolog.WarnLevel)
	handler := NewSlogHandlerWithLogger(zl)

	if handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be disabled at warn level")
	}
	if !handler.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}

func TestNewSlogLogger(t *testing.T) {
	var buf bytes.Buffer

	SetLogger(zerolog.New(&buf))
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	logger := NewSlogLogger()
	logger.Info("via slog")

	if !strings.Contains(buf.String(), "via slog") {
		t.Errorf("expected slog output through zerolog, got: %s", buf.String())
	}
}
