// Package persist stores the session identity in one of two scopes and
// restores it at start-up.
//
// The durable scope survives restarts (bbolt); the ephemeral scope lives only
// as long as the process (memory). An identity is held by exactly one scope
// at a time.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coursemart/authclient/identity"
	"github.com/coursemart/authclient/internal/util"
	"github.com/coursemart/authclient/storage"
)

const (
	sessionNamespace  = "session"
	identityType      = "IDENTITY"
	identityID        = "current"
	identityAADPrefix = "coursemart:identity:"
)

// ErrNoSession is returned by Load when neither scope holds an identity.
var ErrNoSession = errors.New("no persisted session")

// Scope selects where Persist writes.
type Scope int

const (
	// ScopeKeep writes to whichever scope currently holds the identity.
	ScopeKeep Scope = iota
	// ScopeDurable survives process restarts ("remember me").
	ScopeDurable
	// ScopeEphemeral lasts for the lifetime of the process.
	ScopeEphemeral
)

func (s Scope) String() string {
	switch s {
	case ScopeDurable:
		return "durable"
	case ScopeEphemeral:
		return "ephemeral"
	default:
		return "keep"
	}
}

// Adapter reads and writes the identity record. It remembers the scope it
// last loaded or wrote so ScopeKeep never has to inspect storage.
type Adapter struct {
	durable   storage.Repository
	ephemeral storage.Repository
	key       []byte
	logger    *slog.Logger

	mu      sync.Mutex
	current Scope // ScopeKeep means no identity is held
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSealKey seals records with AES-256-GCM under key. Without it records
// are stored as raw JSON.
func WithSealKey(key []byte) Option {
	return func(a *Adapter) {
		a.key = util.CopyBytes(key)
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// NewAdapter returns an Adapter over the two repositories.
func NewAdapter(durable, ephemeral storage.Repository, opts ...Option) *Adapter {
	a := &Adapter{
		durable:   durable,
		ephemeral: ephemeral,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "persist")
	return a
}

// Persist writes id to scope and removes it from the other scope. A nil id
// removes the identity from both.
func (a *Adapter) Persist(id *identity.Identity, scope Scope) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id == nil {
		err := errors.Join(a.remove(a.durable), a.remove(a.ephemeral))
		a.current = ScopeKeep
		return err
	}

	if scope == ScopeKeep {
		scope = a.current
		if scope == ScopeKeep {
			scope = ScopeEphemeral
		}
	}
	target, other := a.durable, a.ephemeral
	if scope == ScopeEphemeral {
		target, other = a.ephemeral, a.durable
	}

	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encoding identity: %w", err)
	}
	defer util.WipeBytes(data)
	env, err := storage.Seal(a.key, data, identityAAD())
	if err != nil {
		return fmt.Errorf("sealing identity: %w", err)
	}
	if err := target.Put(sessionNamespace, identityType, identityID, env); err != nil {
		return fmt.Errorf("writing %s identity: %w", scope, err)
	}
	a.current = scope
	if err := a.remove(other); err != nil {
		return fmt.Errorf("clearing stale identity: %w", err)
	}
	return nil
}

// Load returns the persisted identity, preferring the durable scope. It
// returns ErrNoSession when neither scope holds one. An unreadable durable
// record is logged and skipped.
func (a *Adapter) Load() (*identity.Identity, Scope, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, scope := range []Scope{ScopeDurable, ScopeEphemeral} {
		id, err := a.read(a.repo(scope))
		switch {
		case err == nil:
			a.current = scope
			return id, scope, nil
		case storage.IsNotFound(err):
		default:
			a.logger.Warn("discarding unreadable identity", "scope", scope.String(), "error", err)
		}
	}
	a.current = ScopeKeep
	return nil, ScopeKeep, ErrNoSession
}

// Clear removes the identity from both scopes.
func (a *Adapter) Clear() error {
	return a.Persist(nil, ScopeKeep)
}

// Scope reports the scope holding the identity, or ScopeKeep when none does.
func (a *Adapter) Scope() Scope {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *Adapter) repo(scope Scope) storage.Repository {
	if scope == ScopeDurable {
		return a.durable
	}
	return a.ephemeral
}

func (a *Adapter) read(repo storage.Repository) (*identity.Identity, error) {
	env, err := repo.Get(sessionNamespace, identityType, identityID)
	if err != nil {
		return nil, err
	}
	data, err := storage.OpenRecord(a.key, env, identityAAD())
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(data)
	var id identity.Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("decoding identity: %w", err)
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return &id, nil
}

func (a *Adapter) remove(repo storage.Repository) error {
	err := repo.Delete(sessionNamespace, identityType, identityID)
	if storage.IsNotFound(err) {
		return nil
	}
	return err
}

func identityAAD() []byte {
	return []byte(identityAADPrefix + identityType + ":" + identityID)
}
