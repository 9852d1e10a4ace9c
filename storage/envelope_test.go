package storage

import (
	"bytes"
	"testing"

	"github.com/coursemart/authclient/internal/util"
)

func newTestKey(t *testing.T) []byte {
	t.Helper()
	key, err := util.RandomBytes(util.AESKeySize)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	return key
}

func TestEnvelope(t *testing.T) {
	key := newTestKey(t)
	plain := []byte(`{"id":"u1","email":"ada@example.com"}`)
	aad := []byte("identity:durable")

	env, err := SealRecord(key, plain, aad)
	if err != nil {
		t.Fatalf("SealRecord failed: %v", err)
	}

	if env.Ver != 1 || env.Scheme != SchemeAESGCM {
		t.Errorf("unexpected envelope header: %d %s", env.Ver, env.Scheme)
	}
	if bytes.Contains(env.Ciphertext, []byte("ada@example.com")) {
		t.Error("sealed envelope leaks plaintext")
	}

	decrypted, err := OpenRecord(key, env, aad)
	if err != nil {
		t.Fatalf("OpenRecord failed: %v", err)
	}

	if !bytes.Equal(plain, decrypted) {
		t.Errorf("expected %s, got %s", plain, decrypted)
	}

	t.Run("WrongAAD", func(t *testing.T) {
		_, err := OpenRecord(key, env, []byte("identity:ephemeral"))
		if err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		wrongKey := newTestKey(t)
		_, err := OpenRecord(wrongKey, env, aad)
		if err == nil {
			t.Error("expected error with wrong key, got nil")
		}
	})

	t.Run("MissingKey", func(t *testing.T) {
		_, err := OpenRecord(nil, env, aad)
		if err == nil {
			t.Error("expected error opening sealed envelope without key")
		}
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		badEnv := *env
		badEnv.Ver = 99
		_, err := OpenRecord(key, &badEnv, aad)
		if err == nil {
			t.Error("expected error with unsupported version, got nil")
		}
	})

	t.Run("UnsupportedScheme", func(t *testing.T) {
		badEnv := *env
		badEnv.Scheme = "unknown"
		_, err := OpenRecord(key, &badEnv, aad)
		if err == nil {
			t.Error("expected error with unsupported scheme, got nil")
		}
	})
}

func TestRawEnvelope(t *testing.T) {
	plain := []byte(`{"id":"u1"}`)

	env, err := Seal(nil, plain, nil)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if env.Scheme != SchemeRaw {
		t.Fatalf("expected raw scheme without key, got %s", env.Scheme)
	}

	plain[0] = 'X'
	got, err := OpenRecord(nil, env, nil)
	if err != nil {
		t.Fatalf("OpenRecord failed: %v", err)
	}
	if string(got) != `{"id":"u1"}` {
		t.Errorf("raw envelope must hold a private copy, got %s", got)
	}
}
