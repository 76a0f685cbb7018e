// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package security

import (
	"strings"
	"testing"

	"github.com/nexusruntime/nexus/internal/config"
)

func testPolicy() config.PasswordPolicyConfig {
	return config.PasswordPolicyConfig{
		MinLength:        8,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireDigit:     true,
		RequireSpecial:   true,
		SpecialChars:     "!@#$%^&*()-_=+[]{};:,.<>?",
		MaxRepeats:       3,
		BcryptCost:       12,
	}
}

func TestCheckPasswordPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		username string
		password string
		valid    bool
		wantErr  string
	}{
		{"valid", "alice", "Str0ng!Passphrase", true, ""},
		{"too short", "alice", "Ab1!x", false, "too short"},
		{"missing uppercase", "alice", "weak1ness!pass", false, "uppercase"},
		{"missing lowercase", "alice", "WEAK1NESS!PASS", false, "lowercase"},
		{"missing digit", "alice", "Weakness!Pass", false, "digit"},
		{"missing special", "alice", "Weakness1Pass", false, "special"},
		{"repeated run", "alice", "Gooood1!pass", false, "repeats"},
		{"common password", "alice", "Password123", false, ""},
		{"contains username", "alice", "Sup3r!alice9", false, "username"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			check := CheckPassword(testPolicy(), tc.username, tc.password)
			if check.Valid != tc.valid {
				t.Fatalf("Valid = %v, want %v (errors: %v)", check.Valid, tc.valid, check.Errors)
			}
			if tc.wantErr == "" {
				return
			}
			found := false
			for _, e := range check.Errors {
				if strings.Contains(e, tc.wantErr) {
					found = true
				}
			}
			if !found {
				t.Fatalf("errors %v do not mention %q", check.Errors, tc.wantErr)
			}
		})
	}
}

func TestPasswordInsideUsernameRejected(t *testing.T) {
	t.Parallel()

	// "gomery" is a substring of the username, which makes it easy to
	// guess from the login form alone.
	check := CheckPassword(config.PasswordPolicyConfig{MinLength: 4}, "montgomery", "Gomery")
	if check.Valid {
		t.Fatal("password inside the username was accepted")
	}
}

func TestCheckPasswordCommonListIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	check := CheckPassword(config.PasswordPolicyConfig{MinLength: 6}, "", "QWERTY")
	if check.Valid {
		t.Fatal("common password accepted")
	}
}

func TestPasswordStrengthGrading(t *testing.T) {
	t.Parallel()

	tests := []struct {
		password string
		want     string
	}{
		{"abc", StrengthWeak},
		{"abcdefgh", StrengthWeak},
		{"Abcdefg1", StrengthFair},
		{"Abcdef1!pass", StrengthGood},
		{"Abcdefg1!legendary", StrengthStrong},
	}
	policy := config.PasswordPolicyConfig{MinLength: 1}
	for _, tc := range tests {
		got := CheckPassword(policy, "", tc.password).Strength
		if got != tc.want {
			t.Errorf("strength(%q) = %s, want %s", tc.password, got, tc.want)
		}
	}
}

func TestZeroPolicyOnlyChecksCommonAndLength(t *testing.T) {
	t.Parallel()

	// All requirement flags off: anything long enough and uncommon
	// passes.
	check := CheckPassword(config.PasswordPolicyConfig{MinLength: 4}, "", "zzzz")
	if !check.Valid {
		t.Fatalf("expected valid, got errors %v", check.Errors)
	}
}

func TestLongestRun(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s    string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"aabbb", 3},
		{"aaaa", 4},
		{"abba", 2},
	}
	for _, tc := range tests {
		if got := longestRun(tc.s); got != tc.want {
			t.Errorf("longestRun(%q) = %d, want %d", tc.s, got, tc.want)
		}
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("Correct!Horse9", 0) // cost floors to 12
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Fatalf("unexpected hash format: %s", hash)
	}
	if !VerifyPassword(hash, "Correct!Horse9") {
		t.Fatal("correct password rejected")
	}
	if VerifyPassword(hash, "wrong") {
		t.Fatal("wrong password accepted")
	}
}
