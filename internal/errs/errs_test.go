// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Message(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "plain message",
			err:  New(KindConfiguration, "missing jwt secret"),
			want: "missing jwt secret",
		},
		{
			name: "wrapped cause appended",
			err:  Wrap(KindSecurity, "token verification failed", errors.New("signature invalid")),
			want: "token verification failed: signature invalid",
		},
		{
			name: "formatted message",
			err:  Newf(KindDependency, "unknown dependency %q for manager %q", "cache", "api"),
			want: `unknown dependency "cache" for manager "api"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsKind_ThroughWrapping(t *testing.T) {
	t.Parallel()

	base := New(KindPluginIsolation, "invoke timed out")
	wrapped := fmt.Errorf("plugin call: %w", base)
	doubleWrapped := fmt.Errorf("handler: %w", wrapped)

	if !IsKind(doubleWrapped, KindPluginIsolation) {
		t.Error("IsKind should find the kind through fmt.Errorf wrapping")
	}
	if IsKind(doubleWrapped, KindSecurity) {
		t.Error("IsKind matched the wrong kind")
	}
	if IsKind(errors.New("bare"), KindSecurity) {
		t.Error("IsKind matched a bare error")
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	if got := KindOf(New(KindValidation, "bad username")); got != KindValidation {
		t.Errorf("KindOf = %q, want %q", got, KindValidation)
	}
	if got := KindOf(errors.New("bare")); got != "" {
		t.Errorf("KindOf(bare) = %q, want empty", got)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
}

func TestWithDetail(t *testing.T) {
	t.Parallel()

	err := New(KindManagerInit, "manager failed").
		WithDetail("manager", "event_bus").
		WithDetail("attempt", 1)

	if v, ok := err.Detail("manager"); !ok || v != "event_bus" {
		t.Errorf("Detail(manager) = %v, %v", v, ok)
	}
	if _, ok := err.Detail("missing"); ok {
		t.Error("Detail(missing) should not be present")
	}
}

func TestUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	err := Wrap(KindManagerStop, "shutdown failed", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause through Unwrap")
	}
}
