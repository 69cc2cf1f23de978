package cursor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeRejectsExpiredCursor(t *testing.T) {
	c, err := NewCodec([]byte("test-secret-key-material"))
	require.NoError(t, err)

	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return issued }

	token, err := c.Encode(ViewItems, Key{ItemID: "x"})
	require.NoError(t, err)

	c.now = func() time.Time { return issued.Add(8 * 24 * time.Hour) }

	_, err = c.Decode(ViewItems, token)
	require.ErrorIs(t, err, ErrExpiredCursor)
}

func TestDecodeAcceptsCursorWithinExpiry(t *testing.T) {
	c, err := NewCodec([]byte("test-secret-key-material"))
	require.NoError(t, err)

	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return issued }

	token, err := c.Encode(ViewItems, Key{ItemID: "x"})
	require.NoError(t, err)

	c.now = func() time.Time { return issued.Add(6 * 24 * time.Hour) }

	_, err = c.Decode(ViewItems, token)
	require.NoError(t, err)
}
