// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"disabled", zerolog.Disabled},
		{"INFO", zerolog.InfoLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewTestLogger_WritesJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewTestLogger(&buf)
	logger.Info().Str("key", "value").Msg("test message")

	out := buf.String()
	if !strings.Contains(out, `"key":"value"`) {
		t.Errorf("missing structured field in output: %s", out)
	}
	if !strings.Contains(out, `"message":"test message"`) {
		t.Errorf("missing message in output: %s", out)
	}
}

func TestLeveledWriter_Filters(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := leveledWriter{Writer: &buf, min: zerolog.WarnLevel}
	logger := zerolog.New(zerolog.MultiLevelWriter(w))

	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("info message should have been filtered")
	}
	if !strings.Contains(out, "kept") {
		t.Error("warn message should have been written")
	}
}

func TestNamed_AddsComponentField(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))
	t.Cleanup(func() { Init(DefaultConfig()) })

	logger := Named("monitor")
	logger.Info().Msg("sampling")

	if !strings.Contains(buf.String(), `"component":"monitor"`) {
		t.Errorf("missing component field: %s", buf.String())
	}
}

func TestCtx_CarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))
	t.Cleanup(func() { Init(DefaultConfig()) })

	ctx := ContextWithRequestID(context.Background(), "req-42")
	ctxLogger := Ctx(ctx)
	ctxLogger.Info().Msg("handled")

	if !strings.Contains(buf.String(), `"request_id":"req-42"`) {
		t.Errorf("missing request id: %s", buf.String())
	}
}

func TestSanitizeToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"empty", "", ""},
		{"short", "abc123", "***"},
		{"long", "eyJhbGciOiJIUzI1NiJ9payload", "eyJh...load"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SanitizeToken(tt.token); got != tt.want {
				t.Errorf("SanitizeToken(%q) = %q, want %q", tt.token, got, tt.want)
			}
		})
	}
}

func TestSanitizeEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		email string
		want  string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"notanemail", "***"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			t.Parallel()
			if got := SanitizeEmail(tt.email); got != tt.want {
				t.Errorf("SanitizeEmail(%q) = %q, want %q", tt.email, got, tt.want)
			}
		})
	}
}

func TestSanitizeError_MasksSensitive(t *testing.T) {
	t.Parallel()

	if got := SanitizeError("invalid password for user"); got != "authentication error" {
		t.Errorf("sensitive error leaked: %q", got)
	}
	if got := SanitizeError("connection refused"); got != "connection refused" {
		t.Errorf("benign error changed: %q", got)
	}
}

func TestSanitizeLogValue_EscapesControlChars(t *testing.T) {
	t.Parallel()

	got := SanitizeLogValue("line1\nline2\rinjected")
	if strings.ContainsAny(got, "\n\r") {
		t.Errorf("control characters not escaped: %q", got)
	}
	if !strings.Contains(got, "\\x0a") {
		t.Errorf("newline not hex-escaped: %q", got)
	}
}

func TestSecurityLogger_MasksUsername(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sl := NewSecurityLoggerWithLogger(NewTestLogger(&buf))
	sl.LogLoginFailure("johndoe", "10.0.0.1", "curl/8", "bad credentials")

	out := buf.String()
	if strings.Contains(out, "johndoe") {
		t.Errorf("raw username leaked: %s", out)
	}
	if !strings.Contains(out, "jo***") {
		t.Errorf("masked username missing: %s", out)
	}
	if !strings.Contains(out, `"status":"failed"`) {
		t.Errorf("status missing: %s", out)
	}
}
