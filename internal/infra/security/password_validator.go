package security

import (
	"fmt"
	"math/bits"
	"strings"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// Violation codes carried by PasswordValidationError.
const (
	ViolationMinLength         = "min_length"
	ViolationCharacterClasses  = "character_classes"
	ViolationSymbol            = "symbol"
	ViolationMatchesIdentifier = "matches_identifier"
	ViolationWeak              = "weak_password"
)

// PasswordValidationError reports the first rule a password failed.
type PasswordValidationError struct {
	Code    string
	Message string
}

func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func violation(code, format string, args ...any) error {
	return &PasswordValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// PasswordRule checks one property of a candidate password.
type PasswordRule interface {
	Validate(password string) error
}

// PasswordRuleFunc adapts a function to PasswordRule.
type PasswordRuleFunc func(password string) error

func (f PasswordRuleFunc) Validate(password string) error {
	return f(password)
}

// PasswordValidator runs rules in order and stops at the first violation.
type PasswordValidator struct {
	rules []PasswordRule
}

func NewPasswordValidator(rules ...PasswordRule) *PasswordValidator {
	kept := make([]PasswordRule, 0, len(rules))
	for _, rule := range rules {
		if rule != nil {
			kept = append(kept, rule)
		}
	}
	return &PasswordValidator{rules: kept}
}

func (v *PasswordValidator) Validate(password string) error {
	if v == nil {
		return fmt.Errorf("password validator not configured")
	}
	for _, rule := range v.rules {
		if err := rule.Validate(password); err != nil {
			return err
		}
	}
	return nil
}

type charClass uint8

const (
	classUpper charClass = 1 << iota
	classLower
	classDigit
	classSymbol
)

// classesOf returns the set of character classes present in password.
func classesOf(password string) charClass {
	var set charClass
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			set |= classUpper
		case unicode.IsLower(r):
			set |= classLower
		case unicode.IsDigit(r):
			set |= classDigit
		case unicode.IsSymbol(r) || unicode.IsPunct(r):
			set |= classSymbol
		}
	}
	return set
}

// MinLengthRule counts runes, not bytes.
func MinLengthRule(min int) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if len([]rune(password)) >= min {
			return nil
		}
		return violation(ViolationMinLength, "password must be at least %d characters long", min)
	})
}

// RequireCharacterClassesRule wants min of upper, lower, digit and symbol.
func RequireCharacterClassesRule(min int) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if min <= 0 || bits.OnesCount8(uint8(classesOf(password))) >= min {
			return nil
		}
		return violation(ViolationCharacterClasses, "password must include at least %d character types", min)
	})
}

func RequireSymbolRule() PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if classesOf(password)&classSymbol != 0 {
			return nil
		}
		return violation(ViolationSymbol, "password must include at least one symbol")
	})
}

// RejectUserInputsRule rejects a password equal to any account identifier, ignoring case.
func RejectUserInputsRule(userInputs ...string) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		for _, input := range userInputs {
			input = strings.TrimSpace(input)
			if input != "" && strings.EqualFold(input, password) {
				return violation(ViolationMatchesIdentifier, "password must not match the username or email")
			}
		}
		return nil
	})
}

// RequirePasswordStrengthRule enforces a zxcvbn score between 1 and 4; zero disables it.
func RequirePasswordStrengthRule(minScore int, userInputs ...string) PasswordRule {
	minScore = min(minScore, 4)
	return PasswordRuleFunc(func(password string) error {
		if minScore <= 0 || zxcvbn.PasswordStrength(password, userInputs).Score >= minScore {
			return nil
		}
		return violation(ViolationWeak, "password is too weak; choose a more complex value")
	})
}
