package export_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rossant/triagedeck/internal/export"
	"github.com/rossant/triagedeck/internal/storage"
)

func TestJSONLWriterNoTrailingNewline(t *testing.T) {
	var buf bytes.Buffer

	w := export.NewJSONLWriter(&buf, []string{"item_id", "decision_id"})
	require.NoError(t, w.WriteRow(export.ExportRow{ItemID: "i1", DecisionID: "keep", HasLabel: true}))
	require.NoError(t, w.WriteRow(export.ExportRow{ItemID: "i2", DecisionID: "discard", HasLabel: true}))

	require.Equal(t, `{"item_id":"i1","decision_id":"keep"}`+"\n"+`{"item_id":"i2","decision_id":"discard"}`, buf.String())
}

func TestJSONLWriterEmitsNullForUnlabeled(t *testing.T) {
	var buf bytes.Buffer

	w := export.NewJSONLWriter(&buf, []string{"item_id", "decision_id"})
	require.NoError(t, w.WriteRow(export.ExportRow{ItemID: "i1", HasLabel: false}))

	require.Equal(t, `{"item_id":"i1","decision_id":null}`, buf.String())
}

func TestCSVWriterHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer

	w := export.NewCSVWriter(&buf, []string{"item_id", "decision_id"})
	require.NoError(t, w.WriteRow(export.ExportRow{ItemID: "i1", DecisionID: "keep", HasLabel: true}))
	require.NoError(t, w.Flush())

	require.Equal(t, "item_id,decision_id\ni1,keep\n", buf.String())
}

func TestDeterministicOutputAcrossRuns(t *testing.T) {
	rows := []export.ExportRow{
		{ItemID: "i1", DecisionID: "keep", HasLabel: true},
		{ItemID: "i2", DecisionID: "discard", HasLabel: true},
	}

	render := func() string {
		var buf bytes.Buffer
		w := export.NewJSONLWriter(&buf, []string{"item_id", "decision_id"})

		for _, row := range rows {
			require.NoError(t, w.WriteRow(row))
		}

		return buf.String()
	}

	require.Equal(t, render(), render())
}

func TestManifestJSONSortsKeysAlphabetically(t *testing.T) {
	m := storage.ExportManifest{
		SnapshotAt:    time.Unix(1_700_000_000, 0).UTC(),
		ProjectID:     "proj-1",
		LabelPolicy:   "latest_per_user",
		RowCount:      2,
		SHA256:        "deadbeef",
		Format:        storage.FormatJSONL,
		IncludeFields: []string{"item_id"},
	}

	data, err := export.ManifestJSON(m)
	require.NoError(t, err)

	keyOrder := []string{"decision_schema_version", "filters", "format", "include_fields", "label_policy", "project_id", "row_count", "sha256", "snapshot_at"}

	prev := -1

	for _, key := range keyOrder {
		idx := bytes.Index(data, []byte(`"`+key+`"`))
		require.Greater(t, idx, prev, "key %q out of alphabetical order", key)
		prev = idx
	}
}
