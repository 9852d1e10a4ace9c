package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "device.key")

	first, err := LoadOrCreateDeviceSecret(path)
	require.NoError(t, err)
	assert.Len(t, first, deviceSecretSize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := LoadOrCreateDeviceSecret(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	k1, err := SealKey(first)
	require.NoError(t, err)
	k2, _ := SealKey(second)
	assert.Equal(t, k1, k2)
}

func TestDeviceSecretRejectsBadFile(t *testing.T) {
	dir := t.TempDir()

	notHex := filepath.Join(dir, "nothex.key")
	require.NoError(t, os.WriteFile(notHex, []byte("zz"), 0o600))
	_, err := LoadOrCreateDeviceSecret(notHex)
	assert.Error(t, err)

	short := filepath.Join(dir, "short.key")
	require.NoError(t, os.WriteFile(short, []byte("abcd\n"), 0o600))
	_, err = LoadOrCreateDeviceSecret(short)
	assert.Error(t, err)
}
