package authz_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rossant/triagedeck/internal/authz"
)

func TestGenerateAPIKeyHasPrefix(t *testing.T) {
	key, err := authz.GenerateAPIKey()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(key, "triagedeck_ak_"))

	other, err := authz.GenerateAPIKey()
	require.NoError(t, err)
	require.NotEqual(t, key, other)
}

func TestHashAndCompareAPIKey(t *testing.T) {
	hash, err := authz.HashAPIKey("a-real-key")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	require.True(t, authz.CompareAPIKeyHash(hash, "a-real-key"))
	require.False(t, authz.CompareAPIKeyHash(hash, "a-wrong-key"))
}

func TestHashAPIKeyRejectsEmpty(t *testing.T) {
	_, err := authz.HashAPIKey("")
	require.ErrorIs(t, err, authz.ErrKeyEmpty)
}

func TestHashAPIKeyHandlesLongKeys(t *testing.T) {
	long := strings.Repeat("k", 200)

	hash, err := authz.HashAPIKey(long)
	require.NoError(t, err)
	require.True(t, authz.CompareAPIKeyHash(hash, long))
}

func TestCompareAPIKeyHashRejectsEmptyInputs(t *testing.T) {
	require.False(t, authz.CompareAPIKeyHash("", "x"))
	require.False(t, authz.CompareAPIKeyHash("x", ""))
}
