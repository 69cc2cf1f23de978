// Package api provides the HTTP API server implementation for triagedeck.
package api

import (
	"time"

	"github.com/rossant/triagedeck/internal/storage"
)

// ProjectSummary is the list-shape returned by GET /projects.
type ProjectSummary struct {
	ProjectID string `json:"project_id"`
	OrgID     string `json:"org_id"`
	Slug      string `json:"slug"`
}

// ProjectListResponse wraps GET /projects.
type ProjectListResponse struct {
	Projects []ProjectSummary `json:"projects"`
}

// ProjectConfigResponse is the GET /projects/{pid}/config shape (spec §6).
type ProjectConfigResponse struct {
	ProjectID             string                         `json:"project_id"`
	Slug                  string                          `json:"slug"`
	DecisionSchema        storage.DecisionSchema          `json:"decision_schema"`
	MediaTypesSupported   []storage.MediaType             `json:"media_types_supported"`
	VariantsEnabled       bool                            `json:"variants_enabled"`
	VariantNavigationMode storage.VariantNavigationMode   `json:"variant_navigation_mode"`
	CompareModeEnabled    bool                            `json:"compare_mode_enabled"`
	MaxCompareVariants    int                             `json:"max_compare_variants"`
}

func newProjectConfigResponse(project storage.Project) ProjectConfigResponse {
	return ProjectConfigResponse{
		ProjectID:             project.ID,
		Slug:                  project.Slug,
		DecisionSchema:        project.DecisionSchema,
		MediaTypesSupported:   project.Config.MediaTypesSupported,
		VariantsEnabled:       project.Config.VariantsEnabled,
		VariantNavigationMode: project.Config.VariantNavigationMode,
		CompareModeEnabled:    project.Config.CompareModeEnabled,
		MaxCompareVariants:    project.Config.MaxCompareVariants,
	}
}

// ItemResponse is the wire shape for a single item, with its variants.
type ItemResponse struct {
	ItemID     string                `json:"item_id"`
	ExternalID string                `json:"external_id"`
	MediaType  storage.MediaType     `json:"media_type"`
	LogicalURI string                `json:"logical_uri"`
	SortKey    string                `json:"sort_key"`
	Metadata   map[string]any        `json:"metadata,omitempty"`
	Variants   []ItemVariantResponse `json:"variants,omitempty"`
}

// ItemVariantResponse is one variant of an item.
type ItemVariantResponse struct {
	VariantKey string         `json:"variant_key"`
	Label      string         `json:"label"`
	LogicalURI string         `json:"logical_uri"`
	SortOrder  int            `json:"sort_order"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func newItemResponse(item storage.Item) ItemResponse {
	resp := ItemResponse{
		ItemID:     item.ID,
		ExternalID: item.ExternalID,
		MediaType:  item.MediaType,
		LogicalURI: item.LogicalURI,
		SortKey:    item.SortKey,
		Metadata:   item.Metadata,
	}

	if len(item.Variants) > 0 {
		resp.Variants = make([]ItemVariantResponse, len(item.Variants))
		for i, v := range item.Variants {
			resp.Variants[i] = ItemVariantResponse{
				VariantKey: v.VariantKey,
				Label:      v.Label,
				LogicalURI: v.LogicalURI,
				SortOrder:  v.SortOrder,
				Metadata:   v.Metadata,
			}
		}
	}

	return resp
}

// ItemListResponse wraps a page of items.
type ItemListResponse struct {
	Items      []ItemResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// ItemURLResponse is the GET .../items/{iid}/url shape.
type ItemURLResponse struct {
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// postEventRequest is one event within a POST /events batch request.
type postEventRequest struct {
	EventID    string `json:"event_id"`
	ItemID     string `json:"item_id"`
	DecisionID string `json:"decision_id"`
	Note       string `json:"note,omitempty"`
	TSClient   int64  `json:"ts_client"`
}

// postEventsRequest is the POST /events request body.
type postEventsRequest struct {
	ClientID  string             `json:"client_id,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
	Events    []postEventRequest `json:"events"`
}

// DecisionResponse is one row in GET /decisions.
type DecisionResponse struct {
	ItemID     string `json:"item_id"`
	EventID    string `json:"event_id"`
	DecisionID string `json:"decision_id"`
	Note       string `json:"note,omitempty"`
	TSClient   int64  `json:"ts_client"`
	TSServer   int64  `json:"ts_server"`
}

func newDecisionResponse(d storage.DecisionLatest) DecisionResponse {
	return DecisionResponse{
		ItemID:     d.ItemID,
		EventID:    d.EventID,
		DecisionID: d.DecisionID,
		Note:       d.Note,
		TSClient:   d.TSClient,
		TSServer:   d.TSServer,
	}
}

// DecisionListResponse wraps a page of latest decisions.
type DecisionListResponse struct {
	Decisions  []DecisionResponse `json:"decisions"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// createExportRequest is the POST /exports request body.
type createExportRequest struct {
	LabelPolicy   string                  `json:"label_policy,omitempty"`
	Format        storage.ExportFormat    `json:"format,omitempty"`
	Mode          storage.ExportMode      `json:"mode"`
	IncludeFields []string                `json:"include_fields,omitempty"`
	Filters       storage.ExportFilters   `json:"filters,omitempty"`
}

// ExportJobResponse is the wire shape for an export job at any stage of
// its lifecycle.
type ExportJobResponse struct {
	ExportID      string                   `json:"export_id"`
	Status        storage.ExportStatus     `json:"status"`
	Requester     string                   `json:"requester"`
	Mode          storage.ExportMode       `json:"mode"`
	LabelPolicy   string                   `json:"label_policy"`
	Format        storage.ExportFormat     `json:"format"`
	IncludeFields []string                 `json:"include_fields,omitempty"`
	Filters       storage.ExportFilters    `json:"filters"`
	Manifest      *storage.ExportManifest  `json:"manifest,omitempty"`
	DownloadURL   string                   `json:"download_url,omitempty"`
	ErrorCode     string                   `json:"error_code,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	CompletedAt   *time.Time               `json:"completed_at,omitempty"`
}

func newExportJobResponse(job storage.ExportJob) ExportJobResponse {
	resp := ExportJobResponse{
		ExportID:      job.ID,
		Status:        job.Status,
		Requester:     job.Requester,
		Mode:          job.Mode,
		LabelPolicy:   job.LabelPolicy,
		Format:        job.Format,
		IncludeFields: job.IncludeFields,
		Filters:       job.Filters,
		ErrorCode:     job.ErrorCode,
		CreatedAt:     job.CreatedAt,
		CompletedAt:   job.CompletedAt,
	}

	if job.Status == storage.ExportReady {
		resp.Manifest = job.Manifest
		resp.DownloadURL = job.FileURI
	}

	return resp
}

// ExportListResponse wraps a page of export jobs.
type ExportListResponse struct {
	Exports    []ExportJobResponse `json:"exports"`
	NextCursor string              `json:"next_cursor,omitempty"`
}
