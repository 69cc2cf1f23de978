package middleware_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rossant/triagedeck/internal/api/middleware"
)

func TestCallerContextRoundTrip(t *testing.T) {
	_, ok := middleware.GetCallerContext(context.Background())
	require.False(t, ok)

	want := middleware.CallerContext{
		Identity: fakeIdentity{id: "user-1"},
		KeyID:    "user-1",
		AuthTime: time.Now(),
	}

	ctx := middleware.SetCallerContext(context.Background(), want)

	got, ok := middleware.GetCallerContext(ctx)
	require.True(t, ok)
	require.Equal(t, want.KeyID, got.KeyID)
	require.Equal(t, want.Identity.ID(), got.Identity.ID())
}
