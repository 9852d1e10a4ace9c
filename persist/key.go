package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/coursemart/authclient/internal/util"
)

const (
	deviceSecretSize = 32
	sealKeyInfo      = "coursemart:session-seal:v1"
)

// LoadOrCreateDeviceSecret reads the hex-encoded device secret at path,
// creating it with a fresh random secret when the file does not exist.
func LoadOrCreateDeviceSecret(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		secret, err := util.HexDecode(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("decoding device secret: %w", err)
		}
		if len(secret) != deviceSecretSize {
			return nil, fmt.Errorf("device secret must be %d bytes, got %d", deviceSecretSize, len(secret))
		}
		return secret, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading device secret: %w", err)
	}

	secret, err := util.RandomBytes(deviceSecretSize)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(util.HexEncode(secret)+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("writing device secret: %w", err)
	}
	return secret, nil
}

// SealKey derives the record seal key from the device secret.
func SealKey(deviceSecret []byte) ([]byte, error) {
	return util.HKDF(deviceSecret, nil, []byte(sealKeyInfo))
}
