package storage

import (
	"fmt"

	"github.com/coursemart/authclient/internal/util"
)

const (
	// SchemeAESGCM marks an envelope sealed with AES-256-GCM.
	SchemeAESGCM = "aes256gcm"
	// SchemeRaw marks an envelope whose Ciphertext is plaintext JSON. Used
	// when no seal key is configured.
	SchemeRaw = "raw"
)

// Envelope is a stored record, sealed or raw.
type Envelope struct {
	Ver        int    `json:"ver"`
	Scheme     string `json:"scheme"`
	Nonce      []byte `json:"nonce,omitempty"`
	Ciphertext []byte `json:"ciphertext"`
}

// SealRecord encrypts plaintext into an Envelope using the given record key and AAD.
func SealRecord(recordKey, plaintext, aad []byte) (*Envelope, error) {
	cipher, err := util.EncryptAESWithAAD(plaintext, recordKey, aad)
	if err != nil {
		return nil, err
	}

	// util.EncryptAESWithAAD returns nonce || ciphertext.
	return &Envelope{
		Ver:        1,
		Scheme:     SchemeAESGCM,
		Nonce:      cipher[:12],
		Ciphertext: cipher[12:],
	}, nil
}

// RawRecord wraps plaintext in an unsealed Envelope.
func RawRecord(plaintext []byte) *Envelope {
	return &Envelope{Ver: 1, Scheme: SchemeRaw, Ciphertext: util.CopyBytes(plaintext)}
}

// Seal seals plaintext when recordKey is set and falls back to a raw envelope otherwise.
func Seal(recordKey, plaintext, aad []byte) (*Envelope, error) {
	if len(recordKey) == 0 {
		return RawRecord(plaintext), nil
	}
	return SealRecord(recordKey, plaintext, aad)
}

// OpenRecord decrypts an Envelope using the given record key and AAD.
// Raw envelopes are returned as-is regardless of the key.
func OpenRecord(recordKey []byte, envelope *Envelope, aad []byte) ([]byte, error) {
	if envelope.Ver != 1 {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	switch envelope.Scheme {
	case SchemeRaw:
		return util.CopyBytes(envelope.Ciphertext), nil
	case SchemeAESGCM:
	default:
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}
	if len(recordKey) == 0 {
		return nil, fmt.Errorf("sealed envelope requires a record key")
	}

	// Reconstruct nonce || ciphertext without mutating envelope fields.
	fullCipher := make([]byte, len(envelope.Nonce)+len(envelope.Ciphertext))
	copy(fullCipher, envelope.Nonce)
	copy(fullCipher[len(envelope.Nonce):], envelope.Ciphertext)

	return util.DecryptAESWithAAD(fullCipher, recordKey, aad)
}
