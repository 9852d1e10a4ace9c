package util

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAES(t *testing.T) {
	key, err := RandomBytes(AESKeySize)
	require.NoError(t, err)
	plainText := []byte("hello world")
	aad := []byte("context")

	t.Run("EncryptDecryptWithAAD", func(t *testing.T) {
		cipherText, err := EncryptAESWithAAD(plainText, key, aad)
		require.NoError(t, err)
		decrypted, err := DecryptAESWithAAD(cipherText, key, aad)
		require.NoError(t, err)
		assert.Equal(t, plainText, decrypted)
	})

	t.Run("TamperAAD", func(t *testing.T) {
		cipherText, _ := EncryptAESWithAAD(plainText, key, aad)
		_, err := DecryptAESWithAAD(cipherText, key, []byte("other"))
		assert.Error(t, err)
	})

	t.Run("ShortCiphertext", func(t *testing.T) {
		_, err := DecryptAESWithAAD([]byte("short"), key, nil)
		assert.Error(t, err)
	})

	t.Run("BadKeySize", func(t *testing.T) {
		_, err := EncryptAESWithAAD(plainText, []byte("short"), nil)
		assert.Error(t, err)
	})
}

func TestHKDF(t *testing.T) {
	seed := []byte("device secret")
	k1, err := HKDF(seed, []byte("salt"), []byte("info"))
	require.NoError(t, err)
	assert.Len(t, k1, HKDFKeyLength)

	k2, _ := HKDF(seed, []byte("salt"), []byte("info"))
	assert.Equal(t, k1, k2, "derivation is deterministic")

	k3, _ := HKDF(seed, []byte("salt"), []byte("other"))
	assert.False(t, bytes.Equal(k1, k3), "info separates keys")

	_, err = HKDF(nil, nil, nil)
	assert.Error(t, err)
}

func TestBytes(t *testing.T) {
	src := []byte{1, 2, 3}
	dst := CopyBytes(src)
	dst[0] = 9
	assert.Equal(t, byte(1), src[0])
	assert.Nil(t, CopyBytes(nil))

	WipeBytes(src)
	assert.Equal(t, []byte{0, 0, 0}, src)
}

func TestEncoding(t *testing.T) {
	// Fullwidth letters fold to ASCII under NFKC.
	assert.Equal(t, "ABC", Normalize("ＡＢＣ"))

	b := []byte{0xde, 0xad}
	s := HexEncode(b)
	assert.Equal(t, "dead", s)
	got, err := HexDecode(s)
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestRandom(t *testing.T) {
	code, err := RandomDigits(6)
	require.NoError(t, err)
	assert.Len(t, code, 6)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9')
	}

	b1, _ := RandomBytes(16)
	b2, _ := RandomBytes(16)
	assert.NotEqual(t, b1, b2)

	n, err := RandomIntn(5)
	require.NoError(t, err)
	assert.True(t, n >= 0 && n < 5)
}
