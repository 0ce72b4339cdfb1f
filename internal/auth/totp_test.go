package auth

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTOTPManager(t *testing.T) *TOTPManager {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	tm, err := NewTOTPManager(key, "Gatehouse")
	require.NoError(t, err)
	return tm
}

func TestNewTOTPManager_InvalidKeyLength(t *testing.T) {
	for _, length := range []int{0, 16, 24, 31, 33, 64} {
		key := make([]byte, length)
		tm, err := NewTOTPManager(key, "Gatehouse")
		assert.Error(t, err)
		assert.Nil(t, tm)
		assert.Contains(t, err.Error(), "must be exactly 32 bytes")
	}
}

func TestNewTOTPManager_EmptyIssuer(t *testing.T) {
	key := make([]byte, 32)
	tm, err := NewTOTPManager(key, "")
	assert.Error(t, err)
	assert.Nil(t, tm)
}

func TestTOTPManager_GenerateSecret(t *testing.T) {
	tm := newTestTOTPManager(t)

	secret, err := tm.GenerateSecret("alice")
	require.NoError(t, err)

	// 160 bits of secret encode to 32 base32 characters
	assert.Len(t, secret, 32)

	decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	require.NoError(t, err)
	assert.Len(t, decoded, TOTPSecretSize)

	other, err := tm.GenerateSecret("alice")
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}

func TestTOTPManager_ProvisioningURI(t *testing.T) {
	tm := newTestTOTPManager(t)

	uri := tm.ProvisioningURI("JBSWY3DPEHPK3PXP", "alice@example.com")

	assert.Equal(t,
		"otpauth://totp/Gatehouse:alice@example.com?algorithm=SHA1&digits=6&issuer=Gatehouse&period=30&secret=JBSWY3DPEHPK3PXP",
		uri)
}

func TestTOTPManager_ProvisioningURI_PercentEncoding(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	tm, err := NewTOTPManager(key, "Gate House")
	require.NoError(t, err)

	uri := tm.ProvisioningURI("JBSWY3DPEHPK3PXP", "a user")
	assert.Contains(t, uri, "otpauth://totp/Gate%20House:a%20user?")
	assert.Contains(t, uri, "issuer=Gate+House")
}

func TestTOTPManager_Verify_DriftWindow(t *testing.T) {
	tm := newTestTOTPManager(t)
	secret := "JBSWY3DPEHPK3PXP"

	// Mid-step reference instant keeps the boundary arithmetic deterministic
	at := time.Unix(1700000015, 0)
	code, err := totp.GenerateCode(secret, at)
	require.NoError(t, err)
	require.Len(t, code, 6)

	assert.True(t, tm.Verify(secret, code, at))
	assert.True(t, tm.Verify(secret, code, at.Add(-29*time.Second)))
	assert.True(t, tm.Verify(secret, code, at.Add(29*time.Second)))

	// Outside the one-step tolerance window
	assert.False(t, tm.Verify(secret, code, at.Add(-61*time.Second)))
	assert.False(t, tm.Verify(secret, code, at.Add(61*time.Second)))
}

func TestTOTPManager_Verify_MalformedInput(t *testing.T) {
	tm := newTestTOTPManager(t)
	at := time.Now()

	assert.False(t, tm.Verify("JBSWY3DPEHPK3PXP", "", at))
	assert.False(t, tm.Verify("JBSWY3DPEHPK3PXP", "12345", at))
	assert.False(t, tm.Verify("JBSWY3DPEHPK3PXP", "1234567", at))
	assert.False(t, tm.Verify("JBSWY3DPEHPK3PXP", "abcdef", at))
	assert.False(t, tm.Verify("not base32!!", "123456", at))
}

func TestTOTPManager_Verify_ZeroPaddedCodes(t *testing.T) {
	tm := newTestTOTPManager(t)
	secret := "JBSWY3DPEHPK3PXP"

	// Scan time-steps until one produces a leading-zero code; codes are
	// always exactly six decimal digits
	at := time.Unix(1700000015, 0)
	for i := 0; i < 5000; i++ {
		code, err := totp.GenerateCode(secret, at)
		require.NoError(t, err)
		require.Len(t, code, 6)
		if code[0] == '0' {
			assert.True(t, tm.Verify(secret, code, at))
			return
		}
		at = at.Add(TOTPPeriod * time.Second)
	}
	t.Fatal("no leading-zero code found in 5000 steps")
}

func TestTOTPManager_EncryptDecryptSecret_RoundTrip(t *testing.T) {
	tm := newTestTOTPManager(t)

	secret, err := tm.GenerateSecret("alice")
	require.NoError(t, err)

	encrypted, nonce, err := tm.EncryptSecret(secret)
	require.NoError(t, err)
	assert.Len(t, nonce, 12)
	assert.NotEqual(t, []byte(secret), encrypted)

	decrypted, err := tm.DecryptSecret(encrypted, nonce)
	require.NoError(t, err)
	assert.Equal(t, secret, decrypted)
}

func TestTOTPManager_DecryptSecret_TamperedCiphertext(t *testing.T) {
	tm := newTestTOTPManager(t)

	encrypted, nonce, err := tm.EncryptSecret("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	encrypted[0] ^= 0xff
	_, err = tm.DecryptSecret(encrypted, nonce)
	assert.Error(t, err)
}

func TestTOTPManager_EncryptSecret_NonceUniqueness(t *testing.T) {
	tm := newTestTOTPManager(t)

	_, nonce1, err := tm.EncryptSecret("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	_, nonce2, err := tm.EncryptSecret("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	assert.NotEqual(t, fmt.Sprintf("%x", nonce1), fmt.Sprintf("%x", nonce2))
}
