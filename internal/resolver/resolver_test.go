package resolver_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rossant/triagedeck/internal/resolver"
)

func TestClampTTL(t *testing.T) {
	require.Equal(t, resolver.DefaultTTL, resolver.ClampTTL(0))
	require.Equal(t, resolver.MinTTL, resolver.ClampTTL(time.Second))
	require.Equal(t, resolver.MaxTTL, resolver.ClampTTL(time.Hour*10))
	require.Equal(t, 20*time.Minute, resolver.ClampTTL(20*time.Minute))
}

func TestPassthroughResolver(t *testing.T) {
	r := resolver.PassthroughResolver{}

	url, expiresAt, err := r.Resolve(context.Background(), "s3://bucket/key.jpg", 0)
	require.NoError(t, err)
	require.Equal(t, "s3://bucket/key.jpg", url)
	require.Nil(t, expiresAt)
}

func TestHMACResolverRejectsEmptySecret(t *testing.T) {
	_, err := resolver.NewHMACResolver(nil, "https://media.example.com")
	require.ErrorIs(t, err, resolver.ErrEmptySecret)
}

func TestHMACResolverSignsAndVerifies(t *testing.T) {
	r, err := resolver.NewHMACResolver([]byte("resolver-secret"), "https://media.example.com")
	require.NoError(t, err)

	url, expiresAt, err := r.Resolve(context.Background(), "/items/item-1/original.jpg", 10*time.Minute)
	require.NoError(t, err)
	require.Contains(t, url, "https://media.example.com/items/item-1/original.jpg?exp=")
	require.NotNil(t, expiresAt)
}

func TestHMACResolverTamperedSignatureFailsVerify(t *testing.T) {
	r, err := resolver.NewHMACResolver([]byte("resolver-secret"), "https://media.example.com")
	require.NoError(t, err)

	require.False(t, r.Verify("/items/x.jpg", "1234", "not-a-real-signature"))
}
