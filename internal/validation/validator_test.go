// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package validation

import (
	"strings"
	"testing"
)

func TestValidUsername_Boundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		username string
		want     bool
	}{
		{"two chars rejected", "ab", false},
		{"three chars accepted", "abc", true},
		{"thirty-two chars accepted", strings.Repeat("a", 32), true},
		{"thirty-three chars rejected", strings.Repeat("a", 33), false},
		{"dots underscores hyphens", "john.doe_x-1", true},
		{"space rejected", "john doe", false},
		{"unicode rejected", "jöhn", false},
		{"at sign rejected", "user@host", false},
		{"empty rejected", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ValidUsername(tt.username); got != tt.want {
				t.Errorf("ValidUsername(%q) = %v, want %v", tt.username, got, tt.want)
			}
		})
	}
}

func TestValidDottedPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want bool
	}{
		{"app.name", true},
		{"security.jwt.secret", true},
		{"app", true},
		{"app..name", false},
		{".app", false},
		{"app.", false},
		{"", false},
		{"app.name!", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			if got := ValidDottedPath(tt.path); got != tt.want {
				t.Errorf("ValidDottedPath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestValidateStruct_CustomTags(t *testing.T) {
	t.Parallel()

	type createUserRequest struct {
		Username string `validate:"required,username"`
		Email    string `validate:"required,email"`
		Role     string `validate:"required,role"`
	}

	tests := []struct {
		name    string
		req     createUserRequest
		wantErr bool
		field   string
	}{
		{
			name: "valid",
			req:  createUserRequest{Username: "alice", Email: "alice@example.com", Role: "viewer"},
		},
		{
			name:    "bad username",
			req:     createUserRequest{Username: "a!", Email: "alice@example.com", Role: "viewer"},
			wantErr: true,
			field:   "Username",
		},
		{
			name:    "bad email",
			req:     createUserRequest{Username: "alice", Email: "nope", Role: "viewer"},
			wantErr: true,
			field:   "Email",
		},
		{
			name:    "bad role",
			req:     createUserRequest{Username: "alice", Email: "alice@example.com", Role: "editor"},
			wantErr: true,
			field:   "Role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateStruct(&tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateStruct() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && err.Errors()[0].Field() != tt.field {
				t.Errorf("failed field = %q, want %q", err.Errors()[0].Field(), tt.field)
			}
		})
	}
}

func TestToAPIError_MultipleFields(t *testing.T) {
	t.Parallel()

	type req struct {
		Username string `validate:"required,username"`
		Email    string `validate:"required,email"`
	}

	verr := ValidateStruct(&req{})
	if verr == nil {
		t.Fatal("expected validation errors")
	}

	apiErr := verr.ToAPIError()
	if apiErr.Code != "ValidationError" {
		t.Errorf("Code = %q, want ValidationError", apiErr.Code)
	}
	if _, ok := apiErr.Details["fields"]; !ok {
		t.Error("multi-error details should list fields")
	}
	if !strings.Contains(apiErr.Message, "Username") || !strings.Contains(apiErr.Message, "Email") {
		t.Errorf("message should name both fields: %s", apiErr.Message)
	}
}

func TestValidateStruct_IsolationLevel(t *testing.T) {
	t.Parallel()

	type loadRequest struct {
		Level string `validate:"omitempty,isolation_level"`
	}

	if err := ValidateStruct(&loadRequest{Level: "thread"}); err != nil {
		t.Errorf("thread should validate: %v", err)
	}
	if err := ValidateStruct(&loadRequest{Level: ""}); err != nil {
		t.Errorf("empty should pass omitempty: %v", err)
	}
	if err := ValidateStruct(&loadRequest{Level: "vm"}); err == nil {
		t.Error("vm should fail isolation_level validation")
	}
}
