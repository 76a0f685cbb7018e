// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package security

import (
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/nexusruntime/nexus/internal/config"
	"github.com/nexusruntime/nexus/internal/errs"
)

// minBcryptCost is the hashing floor. Configured costs below it are
// raised silently; lowering the work factor is never allowed.
const minBcryptCost = 12

// Password strength labels, weakest to strongest.
const (
	StrengthWeak   = "weak"
	StrengthFair   = "fair"
	StrengthGood   = "good"
	StrengthStrong = "strong"
)

// commonPasswords are rejected outright regardless of policy. The list
// covers the top entries of the usual breach corpora; anything longer
// belongs in an external denylist.
var commonPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"123456":      {},
	"12345678":    {},
	"123456789":   {},
	"qwerty":      {},
	"qwerty123":   {},
	"letmein":     {},
	"welcome":     {},
	"admin":       {},
	"admin123":    {},
	"iloveyou":    {},
	"abc123":      {},
	"monkey":      {},
	"dragon":      {},
	"sunshine":    {},
	"princess":    {},
	"football":    {},
	"trustno1":    {},
}

// PasswordCheck is the outcome of policy evaluation. Errors make the
// password unusable; warnings are advisory.
type PasswordCheck struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Strength string   `json:"strength"`
}

// CheckPassword evaluates password against the configured policy.
// username is used for the similarity check and may be empty.
func CheckPassword(policy config.PasswordPolicyConfig, username, password string) PasswordCheck {
	var check PasswordCheck

	if len(password) < policy.MinLength {
		check.Errors = append(check.Errors, "password is too short")
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	special := policy.SpecialChars
	if special == "" {
		special = "!@#$%^&*()-_=+[]{};:,.<>?"
	}
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
		if strings.ContainsRune(special, r) {
			hasSpecial = true
		}
	}
	if policy.RequireUppercase && !hasUpper {
		check.Errors = append(check.Errors, "password must contain an uppercase letter")
	}
	if policy.RequireLowercase && !hasLower {
		check.Errors = append(check.Errors, "password must contain a lowercase letter")
	}
	if policy.RequireDigit && !hasDigit {
		check.Errors = append(check.Errors, "password must contain a digit")
	}
	if policy.RequireSpecial && !hasSpecial {
		check.Errors = append(check.Errors, "password must contain a special character")
	}

	if policy.MaxRepeats > 0 && longestRun(password) > policy.MaxRepeats {
		check.Errors = append(check.Errors, "password repeats the same character too many times")
	}

	lower := strings.ToLower(password)
	if _, ok := commonPasswords[lower]; ok {
		check.Errors = append(check.Errors, "password is too common")
	}

	if username != "" {
		lowerName := strings.ToLower(username)
		if strings.Contains(lower, lowerName) || strings.Contains(lowerName, lower) {
			check.Errors = append(check.Errors, "password must not contain the username")
		}
	}

	check.Strength = scoreStrength(password, hasUpper, hasLower, hasDigit, hasSpecial)
	if check.Strength == StrengthWeak && len(check.Errors) == 0 {
		check.Warnings = append(check.Warnings, "password is weak; consider a longer passphrase")
	}

	check.Valid = len(check.Errors) == 0
	return check
}

// longestRun returns the length of the longest run of one repeated
// character.
func longestRun(s string) int {
	longest, run := 0, 0
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
		prev = r
	}
	return longest
}

// scoreStrength grades by length and character-class variety.
func scoreStrength(password string, hasUpper, hasLower, hasDigit, hasSpecial bool) string {
	classes := 0
	for _, ok := range []bool{hasUpper, hasLower, hasDigit, hasSpecial} {
		if ok {
			classes++
		}
	}
	score := classes
	switch {
	case len(password) >= 16:
		score += 3
	case len(password) >= 12:
		score += 2
	case len(password) >= 8:
		score++
	}

	switch {
	case score >= 7:
		return StrengthStrong
	case score >= 5:
		return StrengthGood
	case score >= 4:
		return StrengthFair
	default:
		return StrengthWeak
	}
}

// HashPassword produces a bcrypt digest at the configured cost,
// floored at minBcryptCost.
func HashPassword(password string, cost int) (string, error) {
	if cost < minBcryptCost {
		cost = minBcryptCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", errs.Wrap(errs.KindSecurity, "hash password", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored digest.
// bcrypt.CompareHashAndPassword is timing-safe.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// dummyDigest hashes seed at minimum cost. Compared against when no
// account matches, so the missing-user path still runs a comparison.
func dummyDigest(seed string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(seed), bcrypt.MinCost)
	if err != nil {
		return "", errs.Wrap(errs.KindSecurity, "hash dummy digest", err)
	}
	return string(hash), nil
}
