// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package api

import (
	"net/http/httptest"
	"testing"
)

func TestSanitizeLogValue(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"clean string", "steps:day:2025-01-15", "steps:day:2025-01-15"},
		{"newline", "line1\nline2", "line1\\x0aline2"},
		{"carriage return", "a\rb", "a\\x0db"},
		{"tab", "a\tb", "a\\x09b"},
		{"null byte", "a\x00b", "a\\x00b"},
		{"delete char", "a\x7fb", "a\\x7fb"},
		{"unicode preserved", "métrique", "métrique"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeLogValue(tt.input); got != tt.want {
				t.Errorf("sanitizeLogValue(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestGenerateETagDeterministic(t *testing.T) {
	data := []byte(`{"status":"success"}`)
	first := generateETag(data)
	second := generateETag(data)
	if first != second {
		t.Errorf("same data produced different ETags: %s vs %s", first, second)
	}

	other := generateETag([]byte(`{"status":"error"}`))
	if other == first {
		t.Error("different data produced the same ETag")
	}
}

func TestGetIntParam(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"present", "limit=42", 42},
		{"missing", "", 7},
		{"not a number", "limit=abc", 7},
		{"negative", "limit=-3", -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/?"+tt.query, nil)
			if got := getIntParam(r, "limit", 7); got != tt.want {
				t.Errorf("getIntParam = %d, want %d", got, tt.want)
			}
		})
	}
}
