package usm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordToKeyDeterministic(t *testing.T) {
	k1, err := PasswordToKey(AuthHMACSHA1, []byte("maplesyrup"))
	require.NoError(t, err)
	k2, err := PasswordToKey(AuthHMACSHA1, []byte("maplesyrup"))
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 20)
}

func TestLocalizeKeyDiffersPerEngine(t *testing.T) {
	ku, err := PasswordToKey(AuthHMACMD5, []byte("maplesyrup"))
	require.NoError(t, err)

	k1, err := LocalizeKey(AuthHMACMD5, ku, []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02})
	require.NoError(t, err)
	k2, err := LocalizeKey(AuthHMACMD5, ku, []byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)

	assert.Len(t, k1, 16)
	assert.NotEqual(t, k1, k2)
}

func TestAuthenticateAndVerifyRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	msg := []byte("an SNMPv3 message")

	digest, err := AuthHMACSHA256.Authenticate(key, msg)
	require.NoError(t, err)
	assert.Len(t, digest, 24) // RFC 7860 truncation for SHA-256

	ok, err := AuthHMACSHA256.Verify(key, msg, digest)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = AuthHMACSHA256.Verify(key, []byte("tampered"), digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPrivEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, PrivAES128.KeyLen())
	iv := make([]byte, 16)
	plaintext := []byte("a scoped PDU payload")

	ciphertext, err := PrivAES128.Encrypt(key, iv, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decoded, err := PrivAES128.Decrypt(key, iv, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decoded)
}

func TestExtendKeyProducesRequestedLength(t *testing.T) {
	localized, err := LocalizePassword(AuthHMACSHA1, []byte("maplesyrup"), []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)

	extended, err := ExtendKey(AuthHMACSHA1, localized, []byte{0x01, 0x02, 0x03}, 32)
	require.NoError(t, err)
	assert.Len(t, extended, 32)
	assert.Equal(t, localized, extended[:len(localized)])
}

func TestUserTableLocalizedKeysMemoizes(t *testing.T) {
	table := NewUserTable()
	table.AddUser(&User{
		SecurityName: []byte("MD5DES"),
		AuthProtocol: AuthHMACMD5,
		AuthPassword: []byte("maplesyrup"),
		PrivProtocol: PrivDES,
		PrivPassword: []byte("maplesyrup"),
	})

	engineID := []byte{0x80, 0x00, 0x1f, 0x88, 0x80}
	authKey1, privKey1, err := table.LocalizedKeys([]byte("MD5DES"), engineID)
	require.NoError(t, err)
	assert.Len(t, authKey1, 16)
	assert.Len(t, privKey1, 8)

	authKey2, privKey2, err := table.LocalizedKeys([]byte("MD5DES"), engineID)
	require.NoError(t, err)
	assert.Equal(t, authKey1, authKey2)
	assert.Equal(t, privKey1, privKey2)
}

func TestUserTableUnknownUser(t *testing.T) {
	table := NewUserTable()
	_, _, err := table.LocalizedKeys([]byte("nobody"), []byte{1})
	assert.Error(t, err)
}

func TestEngineCacheSetAndLookup(t *testing.T) {
	c := NewEngineCache()
	_, ok := c.EngineIDFor("10.0.0.1:161")
	assert.False(t, ok)

	c.SetEngineID("10.0.0.1:161", []byte{0x80, 0x00, 0x1f, 0x88})
	id, ok := c.EngineIDFor("10.0.0.1:161")
	require.True(t, ok)
	assert.Equal(t, []byte{0x80, 0x00, 0x1f, 0x88}, id)

	c.InvalidateEngineID("10.0.0.1:161")
	_, ok = c.EngineIDFor("10.0.0.1:161")
	assert.False(t, ok)
}

func TestEngineCacheInWindow(t *testing.T) {
	c := NewEngineCache()
	engineID := []byte{1, 2, 3}

	assert.False(t, c.InWindow(engineID, 1, 1000), "unseen engine is out of window")

	c.UpdateTime(engineID, 1, 1000)
	assert.True(t, c.InWindow(engineID, 1, 1001))
	assert.False(t, c.InWindow(engineID, 2, 1001), "boots mismatch")
}
