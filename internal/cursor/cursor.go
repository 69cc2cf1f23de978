// Package cursor implements the opaque, signed pagination cursors used by
// every list endpoint. A cursor encodes the last-seen key tuple of a
// specific ordered view plus an issue timestamp, and is authenticated with
// an HMAC tag so clients can carry it around without being able to forge
// or tamper with a position.
package cursor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// View identifies which ordered view a cursor belongs to. Cursors are not
// interchangeable across views: decoding validates the view tag matches
// what the caller expects.
type View string

const (
	ViewItems     View = "items"
	ViewDecisions View = "decisions"
	ViewExports   View = "exports"

	// schemaVersion lets us evolve the payload shape later without breaking
	// cursors already in flight; decode rejects unknown versions as
	// InvalidCursor rather than guessing.
	schemaVersion = 1

	// expiry is how stale an issued cursor may be before decode treats it
	// as ExpiredCursor instead of a usable position.
	expiry = 7 * 24 * time.Hour
)

// Sentinel errors surfaced by Decode. The HTTP layer maps both to
// "400 invalid_cursor" per spec, but keeps them distinct so handlers can
// log which failure mode occurred.
var (
	ErrInvalidCursor = errors.New("invalid cursor")
	ErrExpiredCursor = errors.New("expired cursor")
)

// Key is the ordered-view position encoded into a cursor. Which fields are
// populated depends on View:
//   - ViewItems: SortKey, ItemID
//   - ViewDecisions: TSServer, ItemID
//   - ViewExports: CreatedAtMS, ID
type Key struct {
	SortKey     string `json:"sort_key,omitempty"`
	ItemID      string `json:"item_id,omitempty"`
	TSServer    int64  `json:"ts_server,omitempty"`
	CreatedAtMS int64  `json:"created_at_ms,omitempty"`
	ID          string `json:"id,omitempty"`
}

// payload is the signed, serialized envelope. IssuedAtMS anchors cursor
// expiry; View prevents a cursor minted for one list endpoint being
// replayed against another.
type payload struct {
	View       View  `json:"v"`
	Version    int   `json:"s"`
	IssuedAtMS int64 `json:"iat"`
	Key        Key   `json:"k"`
}

// Codec encodes and decodes cursors using a process-wide HMAC secret. The
// secret must be stable for the life of the process (and ideally across
// restarts) or previously issued cursors become unreadable.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec returns a Codec keyed by secret. An empty secret is a
// configuration error: callers must not construct a Codec that would sign
// cursors with a predictable (zero-length) key.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("cursor: secret must not be empty")
	}

	return &Codec{secret: secret, now: time.Now}, nil
}

// Encode produces an opaque token for the given view and key, signed with
// the codec's secret and stamped with the current time.
func (c *Codec) Encode(view View, key Key) (string, error) {
	p := payload{
		View:       view,
		Version:    schemaVersion,
		IssuedAtMS: c.now().UnixMilli(),
		Key:        key,
	}

	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("cursor: encode payload: %w", err)
	}

	bodyB64 := base64.RawURLEncoding.EncodeToString(body)
	sig := c.sign([]byte(bodyB64))

	return bodyB64 + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Decode verifies and decodes a token previously produced by Encode for
// the given view. Any tampering, malformed structure, view mismatch, or
// unknown schema version is reported as ErrInvalidCursor. A well-formed,
// correctly signed token older than the 7-day expiry window is reported as
// ErrExpiredCursor.
func (c *Codec) Decode(view View, token string) (Key, error) {
	if token == "" {
		return Key{}, ErrInvalidCursor
	}

	dot := strings.IndexByte(token, '.')
	if dot < 0 {
		return Key{}, ErrInvalidCursor
	}

	bodyB64, sigB64 := token[:dot], token[dot+1:]

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return Key{}, ErrInvalidCursor
	}

	expected := c.sign([]byte(bodyB64))
	if !hmac.Equal(sig, expected) {
		return Key{}, ErrInvalidCursor
	}

	body, err := base64.RawURLEncoding.DecodeString(bodyB64)
	if err != nil {
		return Key{}, ErrInvalidCursor
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Key{}, ErrInvalidCursor
	}

	if p.Version != schemaVersion || p.View != view {
		return Key{}, ErrInvalidCursor
	}

	if c.now().UnixMilli()-p.IssuedAtMS > expiry.Milliseconds() {
		return Key{}, ErrExpiredCursor
	}

	return p.Key, nil
}

func (c *Codec) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)

	return mac.Sum(nil)
}
