// Package storage provides the PostgreSQL-backed persistence layer for
// triagedeck: connection management plus the concrete implementations of
// the store interfaces declared by internal/ingest, internal/query, and
// internal/export.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const (
	postgresDriver = "postgres"
	ctxTimeout     = 5 * time.Second
)

// Connection wraps a pooled PostgreSQL handle.
type Connection struct {
	*sql.DB
}

// NewConnection opens a pooled connection to PostgreSQL using config and
// verifies it with an immediate health check.
func NewConnection(config *Config) (*Connection, error) {
	db, err := sql.Open(postgresDriver, config.databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("database health check failed: %w", err)
	}

	return &Connection{db}, nil
}

// HealthCheck verifies the connection is still reachable.
func (c *Connection) HealthCheck(ctx context.Context) error { //nolint: contextcheck
	if ctx == nil {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(context.Background(), ctxTimeout)

		defer cancel()
	}

	return c.PingContext(ctx)
}

// Close closes the connection pool. Safe to call more than once.
func (c *Connection) Close() error {
	return c.DB.Close()
}

// MediaType is the kind of asset an item references.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaPDF   MediaType = "pdf"
	MediaOther MediaType = "other"
)

// VariantNavigationMode controls how the client moves between an item's
// variants.
type VariantNavigationMode string

const (
	NavigationHorizontal VariantNavigationMode = "horizontal"
	NavigationVertical   VariantNavigationMode = "vertical"
	NavigationBoth       VariantNavigationMode = "both"
)

// SchemaChoice is one selectable decision outcome within a DecisionSchema.
type SchemaChoice struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Hotkey string `json:"hotkey,omitempty"`
}

// DecisionSchema is a versioned enumeration of the choices reviewers may
// record. Version increases monotonically; historical events keep
// rendering against the schema version active when they were recorded.
type DecisionSchema struct {
	Version    int            `json:"version"`
	Choices    []SchemaChoice `json:"choices"`
	AllowNotes bool           `json:"allow_notes"`
}

// ProjectConfig holds the project-level display and export policy toggles
// that are not part of the decision schema itself.
type ProjectConfig struct {
	MediaTypesSupported         []MediaType           `json:"media_types_supported"`
	VariantsEnabled             bool                  `json:"variants_enabled"`
	VariantNavigationMode       VariantNavigationMode `json:"variant_navigation_mode"`
	CompareModeEnabled          bool                  `json:"compare_mode_enabled"`
	MaxCompareVariants          int                   `json:"max_compare_variants"`
	ExportAllowlist             []string              `json:"export_allowlist,omitempty"`
	ViewerMayCreateExport       bool                  `json:"viewer_may_create_export"`
	ReviewerMaySeeOthersExports bool                  `json:"reviewer_may_see_others_exports"`
}

// Project is a top-level review workspace.
type Project struct {
	ID             string
	OrgID          string
	Slug           string
	DecisionSchema DecisionSchema
	Config         ProjectConfig
	CreatedAt      time.Time
	DeletedAt      *time.Time
}

// Item is a single reviewable asset within a project.
type Item struct {
	ID         string
	ProjectID  string
	ExternalID string
	MediaType  MediaType
	LogicalURI string
	SortKey    string
	Metadata   map[string]any
	DeletedAt  *time.Time
	Variants   []ItemVariant
}

// ItemVariant is an alternate rendition of an item (e.g. a crop, a second
// camera angle), ordered within the item.
type ItemVariant struct {
	ItemID     string
	VariantKey string
	Label      string
	LogicalURI string
	SortOrder  int
	Metadata   map[string]any
}

// DecisionEvent is a single, immutable reviewer decision. Rows are never
// updated or deleted in normal operation (I1).
type DecisionEvent struct {
	ID                string
	ProjectID         string
	UserID            string
	EventID           string
	ItemID            string
	DecisionID        string
	Note              string
	TSClient          int64
	TSClientEffective int64
	TSServer          int64
}

// DecisionLatest is the recomputed winner per (project, user, item) under
// the total order in spec §4.4 step 5.
type DecisionLatest struct {
	ProjectID         string
	UserID            string
	ItemID            string
	EventID           string
	DecisionID        string
	Note              string
	TSClient          int64
	TSClientEffective int64
	TSServer          int64
}

// Outranks reports whether candidate beats incumbent under the order
// (ts_client_effective desc, ts_server desc, event_id desc). A nil
// incumbent always loses.
func (candidate DecisionEvent) Outranks(incumbent *DecisionLatest) bool {
	if incumbent == nil {
		return true
	}

	if candidate.TSClientEffective != incumbent.TSClientEffective {
		return candidate.TSClientEffective > incumbent.TSClientEffective
	}

	if candidate.TSServer != incumbent.TSServer {
		return candidate.TSServer > incumbent.TSServer
	}

	return candidate.EventID > incumbent.EventID
}

// ApplyOutcome is the result of a single apply_event call.
type ApplyOutcome string

const (
	OutcomeAccepted  ApplyOutcome = "accepted"
	OutcomeDuplicate ApplyOutcome = "duplicate"
)

// ExportStatus is a state in the export job lifecycle.
type ExportStatus string

const (
	ExportQueued  ExportStatus = "queued"
	ExportRunning ExportStatus = "running"
	ExportReady   ExportStatus = "ready"
	ExportFailed  ExportStatus = "failed"
	ExportExpired ExportStatus = "expired"
)

// ExportMode selects which items an export includes.
type ExportMode string

const (
	ExportLabelsOnly          ExportMode = "labels_only"
	ExportLabelsPlusUnlabeled ExportMode = "labels_plus_unlabeled"
)

// ExportFormat is the dataset serialization.
type ExportFormat string

const (
	FormatJSONL   ExportFormat = "jsonl"
	FormatCSV     ExportFormat = "csv"
	FormatParquet ExportFormat = "parquet"
)

// ExportFilters narrows the rows an export selects. Metadata filters are
// equality-only (spec §9(c)).
type ExportFilters struct {
	DecisionIDs []string          `json:"decision_ids,omitempty"`
	FromTS      *int64            `json:"from_ts,omitempty"`
	ToTS        *int64            `json:"to_ts,omitempty"`
	UserIDs     []string          `json:"user_ids,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ExportManifest is the byte-stable description of a completed export,
// written alongside the dataset file with sorted JSON keys.
type ExportManifest struct {
	SnapshotAt            time.Time     `json:"snapshot_at"`
	ProjectID             string        `json:"project_id"`
	DecisionSchemaVersion int           `json:"decision_schema_version"`
	LabelPolicy           string        `json:"label_policy"`
	Filters               ExportFilters `json:"filters"`
	RowCount              int64         `json:"row_count"`
	SHA256                string        `json:"sha256"`
	Format                ExportFormat  `json:"format"`
	IncludeFields         []string      `json:"include_fields"`
}

// ExportJob tracks an export's admission, lifecycle, and resulting
// artifact location.
type ExportJob struct {
	ID            string
	ProjectID     string
	Requester     string
	Status        ExportStatus
	Mode          ExportMode
	LabelPolicy   string
	Format        ExportFormat
	Filters       ExportFilters
	IncludeFields []string
	Manifest      *ExportManifest
	FileURI       string
	ErrorCode     string
	ExpiresAt     *time.Time
	CreatedAt     time.Time
	CompletedAt   *time.Time
}
