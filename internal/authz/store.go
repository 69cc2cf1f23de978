package authz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
)

// ErrIdentityNotFound is returned by IdentityStore.Authenticate when no
// record matches the presented API key.
var ErrIdentityNotFound = errors.New("authz: identity not found")

// IdentityStore resolves a presented API key into a caller identity.
type IdentityStore interface {
	Authenticate(ctx context.Context, apiKey string) (Identity, error)
}

// record is the internal representation held per registered key: the
// bcrypt hash used for verification plus a SHA-256 lookup hash so a
// presented key can be found in O(1) before paying bcrypt's cost.
type record struct {
	lookupHash string
	keyHash    string
	member     *member
}

// member is the concrete Identity implementation returned by
// StaticIdentityStore.
type member struct {
	userID string
	email  string
	roles  map[string]Role
}

func (m *member) ID() string    { return m.userID }
func (m *member) Email() string { return m.email }

func (m *member) RoleIn(_ context.Context, projectID string) (Role, bool, error) {
	role, ok := m.roles[projectID]

	return role, ok, nil
}

// StaticIdentityStore is an in-memory IdentityStore keyed by bcrypt-hashed
// API keys, using a lookup-hash-then-bcrypt-verify shape: a fast SHA-256
// index narrows candidates, bcrypt comparison confirms. It is meant for local development, tests,
// and as a reference implementation a production deployment can swap for
// a database-backed store implementing the same interface.
type StaticIdentityStore struct {
	mu       sync.RWMutex
	byLookup map[string]*record
}

// NewStaticIdentityStore returns an empty store. Use Register to add
// identities.
func NewStaticIdentityStore() *StaticIdentityStore {
	return &StaticIdentityStore{byLookup: make(map[string]*record)}
}

// Register hashes apiKey and associates it with a user identity and its
// per-project roles. It returns ErrKeyEmpty for an empty key, or the
// error from hashing it.
func (s *StaticIdentityStore) Register(userID, email, apiKey string, roles map[string]Role) error {
	if apiKey == "" {
		return ErrKeyEmpty
	}

	keyHash, err := HashAPIKey(apiKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byLookup[lookupHash(apiKey)] = &record{
		lookupHash: lookupHash(apiKey),
		keyHash:    keyHash,
		member: &member{
			userID: userID,
			email:  email,
			roles:  roles,
		},
	}

	return nil
}

// Authenticate resolves apiKey to its registered Identity. Returns
// ErrIdentityNotFound for both an unknown lookup hash and a bcrypt
// mismatch on a colliding lookup hash — callers cannot distinguish "no
// such key" from "wrong key" from the error alone, by design.
func (s *StaticIdentityStore) Authenticate(_ context.Context, apiKey string) (Identity, error) {
	if apiKey == "" {
		return nil, ErrIdentityNotFound
	}

	s.mu.RLock()
	rec, ok := s.byLookup[lookupHash(apiKey)]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrIdentityNotFound
	}

	if !CompareAPIKeyHash(rec.keyHash, apiKey) {
		return nil, ErrIdentityNotFound
	}

	return rec.member, nil
}

func lookupHash(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))

	return hex.EncodeToString(sum[:])
}
