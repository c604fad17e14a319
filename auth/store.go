package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/altobase/altobase-go/kv"
)

var (
	// ErrNoSession is returned by SessionStore.Load when nothing is persisted.
	ErrNoSession = errors.New("no session in storage")
	// ErrNoCodeVerifier is returned when a code exchange is attempted without
	// a cached verifier.
	ErrNoCodeVerifier = errors.New("no code verifier cached")
)

// SessionStore persists the latest session. It is a delegate, not an owner:
// the in-memory session held by the Client stays authoritative even when
// persistence fails. Implementations must be safe to call concurrently with
// refresh operations; last write wins.
type SessionStore interface {
	Save(session Session) error
	Load() (*Session, error)
	Delete() error
}

// CodeVerifierCache stores the transient PKCE code verifier between the
// "start auth" and "exchange code" steps. Single-slot: saving replaces any
// previous verifier.
type CodeVerifierCache interface {
	Save(verifier string) error
	Load() (string, error)
	Delete() error
}

const (
	sessionKey      = "altobase.session"
	codeVerifierKey = "altobase.code_verifier"
)

// KVSessionStore is the default SessionStore, backed by a key-value settings
// store.
type KVSessionStore struct {
	store kv.Store
}

// NewKVSessionStore creates a SessionStore on top of a kv.Store.
func NewKVSessionStore(store kv.Store) *KVSessionStore {
	return &KVSessionStore{store: store}
}

func (s *KVSessionStore) Save(session Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.store.Set(sessionKey, string(raw)); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

func (s *KVSessionStore) Load() (*Session, error) {
	raw, err := s.store.Get(sessionKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("failed to decode persisted session: %w", err)
	}
	return &session, nil
}

func (s *KVSessionStore) Delete() error {
	if err := s.store.Delete(sessionKey); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// KVCodeVerifierCache is the default CodeVerifierCache, backed by a
// key-value settings store.
type KVCodeVerifierCache struct {
	store kv.Store
}

// NewKVCodeVerifierCache creates a CodeVerifierCache on top of a kv.Store.
func NewKVCodeVerifierCache(store kv.Store) *KVCodeVerifierCache {
	return &KVCodeVerifierCache{store: store}
}

func (c *KVCodeVerifierCache) Save(verifier string) error {
	if err := c.store.Set(codeVerifierKey, verifier); err != nil {
		return fmt.Errorf("failed to persist code verifier: %w", err)
	}
	return nil
}

func (c *KVCodeVerifierCache) Load() (string, error) {
	verifier, err := c.store.Get(codeVerifierKey)
	if errors.Is(err, kv.ErrNotFound) {
		return "", ErrNoCodeVerifier
	}
	if err != nil {
		return "", fmt.Errorf("failed to load code verifier: %w", err)
	}
	return verifier, nil
}

func (c *KVCodeVerifierCache) Delete() error {
	if err := c.store.Delete(codeVerifierKey); err != nil {
		return fmt.Errorf("failed to delete code verifier: %w", err)
	}
	return nil
}

// MemorySessionStore keeps the session in process memory only. Useful for
// tests and short-lived programs that never restore sessions.
type MemorySessionStore struct {
	mu      sync.Mutex
	session *Session
}

// NewMemorySessionStore creates an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore { return &MemorySessionStore{} }

func (s *MemorySessionStore) Save(session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = &session
	return nil
}

func (s *MemorySessionStore) Load() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, ErrNoSession
	}
	copied := *s.session
	return &copied, nil
}

func (s *MemorySessionStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return nil
}

// MemoryCodeVerifierCache keeps the verifier in process memory only.
type MemoryCodeVerifierCache struct {
	mu       sync.Mutex
	verifier string
	present  bool
}

// NewMemoryCodeVerifierCache creates an empty MemoryCodeVerifierCache.
func NewMemoryCodeVerifierCache() *MemoryCodeVerifierCache { return &MemoryCodeVerifierCache{} }

func (c *MemoryCodeVerifierCache) Save(verifier string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verifier = verifier
	c.present = true
	return nil
}

func (c *MemoryCodeVerifierCache) Load() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.present {
		return "", ErrNoCodeVerifier
	}
	return c.verifier, nil
}

func (c *MemoryCodeVerifierCache) Delete() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verifier = ""
	c.present = false
	return nil
}
