package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altobase/altobase-go/kv"
)

func TestKVSessionStoreRoundTrip(t *testing.T) {
	store := NewKVSessionStore(kv.NewMemory())

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoSession)

	session := Session{
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresIn:    3600,
		TokenType:    "bearer",
		ExpiresAt:    time.Unix(1_700_003_600, 0).UTC(),
	}
	require.NoError(t, store.Save(session))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, session.AccessToken, loaded.AccessToken)
	assert.Equal(t, session.RefreshToken, loaded.RefreshToken)
	// The persisted expiry survives, it is not re-derived on load.
	assert.True(t, session.ExpiresAt.Equal(loaded.ExpiresAt))

	require.NoError(t, store.Delete())
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestKVCodeVerifierCache(t *testing.T) {
	cache := NewKVCodeVerifierCache(kv.NewMemory())

	_, err := cache.Load()
	assert.ErrorIs(t, err, ErrNoCodeVerifier)

	require.NoError(t, cache.Save("v1"))
	// Saving replaces any previous verifier.
	require.NoError(t, cache.Save("v2"))
	got, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, "v2", got)

	require.NoError(t, cache.Delete())
	_, err = cache.Load()
	assert.ErrorIs(t, err, ErrNoCodeVerifier)
}

func TestMemorySessionStoreReturnsCopy(t *testing.T) {
	store := NewMemorySessionStore()
	require.NoError(t, store.Save(Session{AccessToken: "a1"}))

	first, err := store.Load()
	require.NoError(t, err)
	first.AccessToken = "mutated"

	second, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "a1", second.AccessToken)
}
