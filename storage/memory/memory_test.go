package memory

import (
	"bytes"
	"errors"
	"testing"

	"github.com/coursemart/authclient/storage"
)

func TestMemoryRepository(t *testing.T) {
	repo := NewRepository()
	namespace := "session"
	recordType := "IDENTITY"
	recordID := "current"
	env := &storage.Envelope{
		Ver:        1,
		Scheme:     storage.SchemeAESGCM,
		Nonce:      []byte("nonce1234567"),
		Ciphertext: []byte("ciphertext"),
	}

	t.Run("PutAndGet", func(t *testing.T) {
		err := repo.Put(namespace, recordType, recordID, env)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := repo.Get(namespace, recordType, recordID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if got.Ver != env.Ver || got.Scheme != env.Scheme || !bytes.Equal(got.Nonce, env.Nonce) || !bytes.Equal(got.Ciphertext, env.Ciphertext) {
			t.Errorf("Get returned wrong envelope: %+v", got)
		}

		// Test isolation (cloning)
		got.Nonce[0] = 'X'
		got2, _ := repo.Get(namespace, recordType, recordID)
		if got2.Nonce[0] == 'X' {
			t.Error("Memory repository should return clones of envelopes")
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := repo.Get("nonexistent", recordType, recordID)
		if !errors.Is(err, storage.ErrNamespaceNotFound) {
			t.Errorf("expected ErrNamespaceNotFound, got %v", err)
		}

		_, err = repo.Get(namespace, recordType, "nonexistent")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if !storage.IsNotFound(err) {
			t.Error("IsNotFound should match ErrNotFound")
		}
	})

	t.Run("List", func(t *testing.T) {
		repo.Put(namespace, "COOKIE", "a", env)
		repo.Put(namespace, "COOKIE", "b", env)

		ids, err := repo.List(namespace, "COOKIE")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(ids) != 2 {
			t.Errorf("Expected 2 IDs, got %d: %v", len(ids), ids)
		}

		ids, _ = repo.List("nonexistent", "COOKIE")
		if len(ids) != 0 {
			t.Errorf("Expected 0 IDs for nonexistent namespace, got %d", len(ids))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Delete(namespace, recordType, recordID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get(namespace, recordType, recordID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected record to be gone, got %v", err)
		}
		if err := repo.Delete(namespace, recordType, recordID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting twice, got %v", err)
		}
	})

	t.Run("DeleteNamespace", func(t *testing.T) {
		if err := repo.DeleteNamespace(namespace); err != nil {
			t.Fatalf("DeleteNamespace failed: %v", err)
		}
		if ids, _ := repo.List(namespace, "COOKIE"); len(ids) != 0 {
			t.Errorf("expected empty namespace, got %v", ids)
		}
		if err := repo.DeleteNamespace(namespace); !errors.Is(err, storage.ErrNamespaceNotFound) {
			t.Errorf("expected ErrNamespaceNotFound, got %v", err)
		}
	})
}
