package cursor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rossant/triagedeck/internal/cursor"
)

func newCodec(t *testing.T) *cursor.Codec {
	t.Helper()

	c, err := cursor.NewCodec([]byte("test-secret-key-material"))
	require.NoError(t, err)

	return c
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := newCodec(t)

	key := cursor.Key{SortKey: "00042", ItemID: "item-1"}

	token, err := c.Encode(cursor.ViewItems, key)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := c.Decode(cursor.ViewItems, token)
	require.NoError(t, err)
	require.Equal(t, key, got)
}

func TestDecodeRejectsWrongView(t *testing.T) {
	c := newCodec(t)

	token, err := c.Encode(cursor.ViewItems, cursor.Key{ItemID: "x"})
	require.NoError(t, err)

	_, err = c.Decode(cursor.ViewDecisions, token)
	require.ErrorIs(t, err, cursor.ErrInvalidCursor)
}

func TestDecodeRejectsTamperedToken(t *testing.T) {
	c := newCodec(t)

	token, err := c.Encode(cursor.ViewItems, cursor.Key{ItemID: "x"})
	require.NoError(t, err)

	tampered := token[:len(token)-2] + "zz"

	_, err = c.Decode(cursor.ViewItems, tampered)
	require.ErrorIs(t, err, cursor.ErrInvalidCursor)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c := newCodec(t)

	_, err := c.Decode(cursor.ViewItems, "not-a-cursor")
	require.ErrorIs(t, err, cursor.ErrInvalidCursor)

	_, err = c.Decode(cursor.ViewItems, "")
	require.ErrorIs(t, err, cursor.ErrInvalidCursor)
}

func TestDecodeRejectsCursorsFromADifferentSecret(t *testing.T) {
	a := newCodec(t)

	other, err := cursor.NewCodec([]byte("a-completely-different-secret"))
	require.NoError(t, err)

	token, err := a.Encode(cursor.ViewExports, cursor.Key{ID: "exp-1"})
	require.NoError(t, err)

	_, err = other.Decode(cursor.ViewExports, token)
	require.ErrorIs(t, err, cursor.ErrInvalidCursor)
}

func TestNewCodecRejectsEmptySecret(t *testing.T) {
	_, err := cursor.NewCodec(nil)
	require.Error(t, err)
}
