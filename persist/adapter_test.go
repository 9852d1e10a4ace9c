package persist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursemart/authclient/identity"
	"github.com/coursemart/authclient/storage"
	boltrepo "github.com/coursemart/authclient/storage/bbolt"
	"github.com/coursemart/authclient/storage/memory"
)

func testIdentity() *identity.Identity {
	return &identity.Identity{ID: "u1", Email: "ada@example.com", Role: identity.RoleStudent}
}

func holds(t *testing.T, repo storage.Repository) bool {
	t.Helper()
	_, err := repo.Get(sessionNamespace, identityType, identityID)
	if storage.IsNotFound(err) {
		return false
	}
	require.NoError(t, err)
	return true
}

func newAdapter(t *testing.T, opts ...Option) (*Adapter, *memory.Repository, *memory.Repository) {
	t.Helper()
	durable, ephemeral := memory.NewRepository(), memory.NewRepository()
	return NewAdapter(durable, ephemeral, opts...), durable, ephemeral
}

func TestScopeExclusivity(t *testing.T) {
	a, durable, ephemeral := newAdapter(t)

	require.NoError(t, a.Persist(testIdentity(), ScopeDurable))
	assert.True(t, holds(t, durable))
	assert.False(t, holds(t, ephemeral))
	assert.Equal(t, ScopeDurable, a.Scope())

	require.NoError(t, a.Persist(testIdentity(), ScopeEphemeral))
	assert.False(t, holds(t, durable))
	assert.True(t, holds(t, ephemeral))
	assert.Equal(t, ScopeEphemeral, a.Scope())
}

func TestPersistKeep(t *testing.T) {
	t.Run("keeps durable choice", func(t *testing.T) {
		a, durable, ephemeral := newAdapter(t)
		require.NoError(t, a.Persist(testIdentity(), ScopeDurable))

		updated := testIdentity()
		updated.FirstName = "Ada"
		require.NoError(t, a.Persist(updated, ScopeKeep))

		assert.True(t, holds(t, durable))
		assert.False(t, holds(t, ephemeral))
		got, scope, err := a.Load()
		require.NoError(t, err)
		assert.Equal(t, ScopeDurable, scope)
		assert.Equal(t, "Ada", got.FirstName)
	})

	t.Run("defaults to ephemeral", func(t *testing.T) {
		a, durable, ephemeral := newAdapter(t)
		require.NoError(t, a.Persist(testIdentity(), ScopeKeep))
		assert.False(t, holds(t, durable))
		assert.True(t, holds(t, ephemeral))
	})

	t.Run("follows loaded scope", func(t *testing.T) {
		durable, ephemeral := memory.NewRepository(), memory.NewRepository()
		require.NoError(t, NewAdapter(durable, ephemeral).Persist(testIdentity(), ScopeDurable))

		// A fresh adapter learns the scope from Load.
		a := NewAdapter(durable, ephemeral)
		_, _, err := a.Load()
		require.NoError(t, err)
		require.NoError(t, a.Persist(testIdentity(), ScopeKeep))
		assert.True(t, holds(t, durable))
		assert.False(t, holds(t, ephemeral))
	})
}

func TestPersistNilClearsBoth(t *testing.T) {
	a, durable, ephemeral := newAdapter(t)
	require.NoError(t, a.Persist(testIdentity(), ScopeDurable))
	require.NoError(t, ephemeral.Put(sessionNamespace, identityType, identityID, storage.RawRecord([]byte("{}"))))

	require.NoError(t, a.Persist(nil, ScopeDurable))
	assert.False(t, holds(t, durable))
	assert.False(t, holds(t, ephemeral))
	assert.Equal(t, ScopeKeep, a.Scope())

	require.NoError(t, a.Clear(), "clearing an empty store is not an error")
}

func TestLoad(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		a, _, _ := newAdapter(t)
		id, scope, err := a.Load()
		assert.ErrorIs(t, err, ErrNoSession)
		assert.Nil(t, id)
		assert.Equal(t, ScopeKeep, scope)
	})

	t.Run("prefers durable", func(t *testing.T) {
		durable, ephemeral := memory.NewRepository(), memory.NewRepository()
		d := testIdentity()
		d.FirstName = "durable"
		e := testIdentity()
		e.FirstName = "ephemeral"
		// Write both directly to bypass exclusivity.
		require.NoError(t, NewAdapter(memory.NewRepository(), ephemeral).Persist(e, ScopeEphemeral))
		require.NoError(t, NewAdapter(durable, memory.NewRepository()).Persist(d, ScopeDurable))

		got, scope, err := NewAdapter(durable, ephemeral).Load()
		require.NoError(t, err)
		assert.Equal(t, ScopeDurable, scope)
		assert.Equal(t, "durable", got.FirstName)
	})

	t.Run("skips corrupt durable record", func(t *testing.T) {
		a, durable, _ := newAdapter(t)
		require.NoError(t, a.Persist(testIdentity(), ScopeEphemeral))
		require.NoError(t, durable.Put(sessionNamespace, identityType, identityID, storage.RawRecord([]byte("not json"))))

		_, scope, err := a.Load()
		require.NoError(t, err)
		assert.Equal(t, ScopeEphemeral, scope)
	})
}

func TestSealedRecords(t *testing.T) {
	secret, err := LoadOrCreateDeviceSecret(filepath.Join(t.TempDir(), "device.key"))
	require.NoError(t, err)
	key, err := SealKey(secret)
	require.NoError(t, err)

	a, durable, _ := newAdapter(t, WithSealKey(key))
	require.NoError(t, a.Persist(testIdentity(), ScopeDurable))

	env, err := durable.Get(sessionNamespace, identityType, identityID)
	require.NoError(t, err)
	assert.Equal(t, storage.SchemeAESGCM, env.Scheme)
	assert.NotContains(t, string(env.Ciphertext), "ada@example.com")

	got, _, err := a.Load()
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)

	// Without the key the sealed record is unreadable.
	_, _, err = NewAdapter(durable, memory.NewRepository()).Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestDurableSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	store, err := boltrepo.NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, NewAdapter(store, memory.NewRepository()).Persist(testIdentity(), ScopeDurable))
	require.NoError(t, store.Close())

	store, err = boltrepo.NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	defer store.Close()
	got, scope, err := NewAdapter(store, memory.NewRepository()).Load()
	require.NoError(t, err)
	assert.Equal(t, ScopeDurable, scope)
	assert.Equal(t, "u1", got.ID)
}

func TestEphemeralDoesNotSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	store, err := boltrepo.NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, NewAdapter(store, memory.NewRepository()).Persist(testIdentity(), ScopeEphemeral))
	require.NoError(t, store.Close())

	store, err = boltrepo.NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	defer store.Close()
	_, _, err = NewAdapter(store, memory.NewRepository()).Load()
	assert.ErrorIs(t, err, ErrNoSession)
}
