package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	fe, err := DeriveFieldEncryptor([]byte("master-secret-for-tests"), "telegram-session")
	require.NoError(t, err)

	stored, err := fe.Encrypt("1BVtsOK4Bu...session-material")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(stored, "enc:v1:"))
	require.True(t, IsEncrypted(stored))

	plain, err := fe.Decrypt(stored)
	require.NoError(t, err)
	require.Equal(t, "1BVtsOK4Bu...session-material", plain)
}

func TestDecryptPlaintextPassthrough(t *testing.T) {
	fe, err := DeriveFieldEncryptor([]byte("master-secret-for-tests"), "telegram-session")
	require.NoError(t, err)

	plain, err := fe.Decrypt("legacy-plaintext-session")
	require.NoError(t, err)
	require.Equal(t, "legacy-plaintext-session", plain)
}

func TestPurposeIsolation(t *testing.T) {
	a, err := DeriveFieldEncryptor([]byte("master-secret-for-tests"), "telegram-session")
	require.NoError(t, err)
	b, err := DeriveFieldEncryptor([]byte("master-secret-for-tests"), "other-purpose")
	require.NoError(t, err)

	stored, err := a.Encrypt("payload")
	require.NoError(t, err)

	_, err = b.Decrypt(stored)
	require.Error(t, err)
}

func TestDecryptRejectsTruncatedCiphertext(t *testing.T) {
	fe, err := DeriveFieldEncryptor([]byte("master-secret-for-tests"), "telegram-session")
	require.NoError(t, err)

	_, err = fe.Decrypt("enc:v1:AAAA")
	require.Error(t, err)
}
