package authz_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rossant/triagedeck/internal/authz"
)

func TestStaticIdentityStoreAuthenticate(t *testing.T) {
	store := authz.NewStaticIdentityStore()
	err := store.Register("user-1", "alice@example.com", "secret-key-1", map[string]authz.Role{
		"proj-1": authz.RoleAdmin,
	})
	require.NoError(t, err)

	identity, err := store.Authenticate(context.Background(), "secret-key-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", identity.ID())
	require.Equal(t, "alice@example.com", identity.Email())

	role, member, err := identity.RoleIn(context.Background(), "proj-1")
	require.NoError(t, err)
	require.True(t, member)
	require.Equal(t, authz.RoleAdmin, role)

	_, member, err = identity.RoleIn(context.Background(), "proj-unknown")
	require.NoError(t, err)
	require.False(t, member)
}

func TestStaticIdentityStoreRejectsUnknownOrWrongKey(t *testing.T) {
	store := authz.NewStaticIdentityStore()
	require.NoError(t, store.Register("user-1", "alice@example.com", "secret-key-1", nil))

	_, err := store.Authenticate(context.Background(), "not-registered")
	require.ErrorIs(t, err, authz.ErrIdentityNotFound)

	_, err = store.Authenticate(context.Background(), "")
	require.ErrorIs(t, err, authz.ErrIdentityNotFound)
}

func TestStaticIdentityStoreRegisterRejectsEmptyKey(t *testing.T) {
	store := authz.NewStaticIdentityStore()
	err := store.Register("user-1", "alice@example.com", "", nil)
	require.ErrorIs(t, err, authz.ErrKeyEmpty)
}
