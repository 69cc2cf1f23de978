package authz

import (
	"encoding/json"
	"fmt"
	"os"
)

// seedMember is the on-disk shape of one entry in an identity seed file:
// a plaintext API key (hashed on load, never stored as-is) plus the
// roles it holds per project.
type seedMember struct {
	UserID string           `json:"user_id"`
	Email  string           `json:"email"`
	APIKey string           `json:"api_key"`
	Roles  map[string]Role  `json:"roles"`
}

// LoadSeedFile reads a JSON array of seedMember entries from path and
// registers each with store. Intended for local development and tests;
// a production deployment swaps StaticIdentityStore for a database- or
// directory-backed IdentityStore and skips this entirely.
func LoadSeedFile(store *StaticIdentityStore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("authz: read identity seed file: %w", err)
	}

	var members []seedMember
	if err := json.Unmarshal(data, &members); err != nil {
		return fmt.Errorf("authz: parse identity seed file: %w", err)
	}

	for _, m := range members {
		if err := store.Register(m.UserID, m.Email, m.APIKey, m.Roles); err != nil {
			return fmt.Errorf("authz: register seeded identity %q: %w", m.UserID, err)
		}
	}

	return nil
}
