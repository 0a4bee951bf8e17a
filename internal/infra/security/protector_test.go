package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESGCMProtectorRoundTrip(t *testing.T) {
	protector, err := NewAESGCMProtector("master-key", "external-tokens")
	require.NoError(t, err)

	for _, plaintext := range []string{"a", "ya29.a0AfH6SMB-access", "1//0g-refresh-token", "ünïcødé"} {
		sealed, err := protector.Protect(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, sealed)

		opened, err := protector.Unprotect(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}
}

func TestAESGCMProtectorRejectsEmptyInput(t *testing.T) {
	protector, err := NewAESGCMProtector("master-key", "external-tokens")
	require.NoError(t, err)

	_, err = protector.Protect("")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = protector.Unprotect("")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestAESGCMProtectorIsPurposeScoped(t *testing.T) {
	tokens, err := NewAESGCMProtector("master-key", "external-tokens")
	require.NoError(t, err)
	other, err := NewAESGCMProtector("master-key", "something-else")
	require.NoError(t, err)

	sealed, err := tokens.Protect("secret")
	require.NoError(t, err)

	_, err = other.Unprotect(sealed)
	assert.ErrorIs(t, err, ErrUnprotectFailed)
}

func TestAESGCMProtectorRejectsGarbage(t *testing.T) {
	protector, err := NewAESGCMProtector("master-key", "external-tokens")
	require.NoError(t, err)

	_, err = protector.Unprotect("%%%")
	assert.ErrorIs(t, err, ErrUnprotectFailed)

	_, err = protector.Unprotect("c2hvcnQ")
	assert.ErrorIs(t, err, ErrUnprotectFailed)
}

func TestNewAESGCMProtectorRequiresKeyAndPurpose(t *testing.T) {
	_, err := NewAESGCMProtector("", "p")
	assert.ErrorIs(t, err, ErrProtectionKeyMissing)
	_, err = NewAESGCMProtector("k", " ")
	assert.ErrorIs(t, err, ErrProtectionKeyMissing)
}
