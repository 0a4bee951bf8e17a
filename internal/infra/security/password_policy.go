package security

import (
	"fmt"

	"github.com/arklim/identity-link-service/internal/core/port"
)

const (
	defaultMinPasswordLength   = 8
	defaultMinCharacterClasses = 3
)

// PasswordPolicyConfig tunes the password strength rules.
// MinZxcvbnScore of zero disables the zxcvbn estimate.
type PasswordPolicyConfig struct {
	MinLength           int
	MinCharacterClasses int
	MinZxcvbnScore      int
	RequireSymbol       bool
}

// DefaultPasswordPolicyConfig returns the baseline policy: eight characters from three classes.
func DefaultPasswordPolicyConfig() PasswordPolicyConfig {
	return PasswordPolicyConfig{
		MinLength:           defaultMinPasswordLength,
		MinCharacterClasses: defaultMinCharacterClasses,
	}
}

// PasswordPolicy implements port.PasswordStrengthValidator. A fresh validator is built per call
// so the zxcvbn rule can penalise passwords derived from the caller's username or email.
type PasswordPolicy struct {
	cfg PasswordPolicyConfig
}

// NewPasswordPolicy builds a policy from cfg, falling back to defaults for unset limits.
func NewPasswordPolicy(cfg PasswordPolicyConfig) *PasswordPolicy {
	if cfg.MinLength <= 0 {
		cfg.MinLength = defaultMinPasswordLength
	}
	if cfg.MinCharacterClasses < 0 {
		cfg.MinCharacterClasses = 0
	}
	return &PasswordPolicy{cfg: cfg}
}

// Validate applies the configured rules and returns the first violation as *PasswordValidationError.
func (p *PasswordPolicy) Validate(password string, userInputs ...string) error {
	if p == nil {
		return fmt.Errorf("password policy not configured")
	}

	var symbol PasswordRule
	if p.cfg.RequireSymbol {
		symbol = RequireSymbolRule()
	}

	validator := NewPasswordValidator(
		MinLengthRule(p.cfg.MinLength),
		RequireCharacterClassesRule(p.cfg.MinCharacterClasses),
		symbol,
		RejectUserInputsRule(userInputs...),
		RequirePasswordStrengthRule(p.cfg.MinZxcvbnScore, userInputs...),
	)
	return validator.Validate(password)
}

var _ port.PasswordStrengthValidator = (*PasswordPolicy)(nil)
