package security

import (
	"strings"
	"unicode"
)

const MinPasswordLength = 12

type Strength string

const (
	StrengthWeak   Strength = "weak"
	StrengthMedium Strength = "medium"
	StrengthStrong Strength = "strong"
)

var weakPasswordPatterns = []string{
	"password",
	"qwerty",
	"admin",
	"123456",
	"letmein",
	"welcome",
	"abc123",
	"iloveyou",
}

type StrengthReport struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Strength Strength `json:"strength"`
}

// ValidateStrength applies the credential policy. username may be empty.
func ValidateStrength(password, username string) StrengthReport {
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	distinct := make(map[rune]struct{})
	for _, r := range password {
		distinct[r] = struct{}{}
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	lower := strings.ToLower(password)
	weak := containsWeakPattern(lower)
	length := len([]rune(password))

	errs := make([]string, 0)
	if length < MinPasswordLength {
		errs = append(errs, "password must be at least 12 characters")
	}
	if !hasUpper {
		errs = append(errs, "password must contain an uppercase letter")
	}
	if !hasLower {
		errs = append(errs, "password must contain a lowercase letter")
	}
	if !hasDigit {
		errs = append(errs, "password must contain a number")
	}
	if !hasSpecial {
		errs = append(errs, "password must contain a special character")
	}
	if u := strings.ToLower(strings.TrimSpace(username)); u != "" && strings.Contains(lower, u) {
		errs = append(errs, "password must not contain the username")
	}
	if hasRepeatedRun(password, 3) {
		errs = append(errs, "password must not repeat a character more than twice in a row")
	}
	if weak {
		errs = append(errs, "password contains a common weak pattern")
	}

	signals := 0
	for _, ok := range []bool{length >= 16, hasUpper, hasLower, hasDigit, hasSpecial, !weak, len(distinct) >= 8} {
		if ok {
			signals++
		}
	}
	strength := StrengthWeak
	switch {
	case signals >= 6:
		strength = StrengthStrong
	case signals >= 4:
		strength = StrengthMedium
	}
	return StrengthReport{IsValid: len(errs) == 0, Errors: errs, Strength: strength}
}

func containsWeakPattern(lower string) bool {
	for _, p := range weakPasswordPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func hasRepeatedRun(s string, n int) bool {
	run := 0
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run >= n {
			return true
		}
		prev = r
	}
	return false
}
