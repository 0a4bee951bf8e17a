package port

// PasswordHasher hashes and verifies secrets using the configured algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encoded string) (bool, error)
}

// PasswordStrengthValidator enforces password strength requirements.
type PasswordStrengthValidator interface {
	Validate(password string, userInputs ...string) error
}

// TokenHasher produces the deterministic digest used to store and look up opaque tokens.
type TokenHasher interface {
	Hash(token string) string
}

// TokenProtector encrypts provider secrets before they are persisted.
type TokenProtector interface {
	Protect(plaintext string) (string, error)
	Unprotect(ciphertext string) (string, error)
}
