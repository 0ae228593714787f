package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyIsStable(t *testing.T) {
	k1, err := DeriveKey("s3cret")
	require.NoError(t, err)
	k2, err := DeriveKey("s3cret")
	require.NoError(t, err)
	k3, err := DeriveKey("other")
	require.NoError(t, err)

	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)

	_, err = DeriveKey("")
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestStringRoundTripAndWrongKey(t *testing.T) {
	enc, err := NewEncryptorFromSecret("s3cret")
	require.NoError(t, err)

	sealed, err := EncryptString(enc, "channel-access-token")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "channel-access-token")

	plain, err := DecryptString(enc, sealed)
	require.NoError(t, err)
	assert.Equal(t, "channel-access-token", plain)

	other, err := NewEncryptorFromSecret("other")
	require.NoError(t, err)
	_, err = DecryptString(other, sealed)
	assert.ErrorIs(t, err, ErrDecryption)

	_, err = DecryptString(enc, "not base64 !!")
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestNewAESEncryptorRejectsBadKey(t *testing.T) {
	_, err := NewAESEncryptor([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}
