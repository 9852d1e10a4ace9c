// Package storage provides the key-value abstraction behind the client's
// persisted session records.
//
// Records are addressed by namespace, record type and record ID and hold a
// single Envelope. Implementations: storage/memory (process lifetime) and
// storage/bbolt (survives restarts).
package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNamespaceNotFound is returned when a whole namespace does not exist.
	ErrNamespaceNotFound = errors.New("namespace not found")
)

// Repository defines the interface for envelope storage.
type Repository interface {
	Put(namespace string, recordType string, recordID string, envelope *Envelope) error
	Get(namespace string, recordType string, recordID string) (*Envelope, error)
	Delete(namespace string, recordType string, recordID string) error
	List(namespace string, recordType string) ([]string, error)
	// DeleteNamespace drops every record in namespace.
	DeleteNamespace(namespace string) error
}

// IsNotFound reports whether err means the record or its namespace is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNamespaceNotFound)
}
