package export

import (
	"github.com/rossant/triagedeck/internal/storage"
)

// ManifestJSON renders m with alphabetically sorted keys (spec §4.7 step
// 6: "Manifest JSON keys are sorted alphabetically so it too hashes
// stably"). The actual encoding lives on storage.ManifestJSON, next to the
// ExportManifest type it renders; this wraps it so existing callers in
// this package (and its tests) keep calling export.ManifestJSON.
func ManifestJSON(m storage.ExportManifest) ([]byte, error) {
	return storage.ManifestJSON(m)
}
