package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Project extracts the include_fields values from row, in order. Dotted
// paths address nested metadata (e.g. "metadata.session_id"); a missing
// path yields nil.
func Project(row ExportRow, includeFields []string) []any {
	values := make([]any, len(includeFields))

	for i, field := range includeFields {
		values[i] = fieldValue(row, field)
	}

	return values
}

func fieldValue(row ExportRow, field string) any {
	switch field {
	case "item_id":
		return row.ItemID
	case "user_id":
		return row.UserID
	case "decision_id":
		if !row.HasLabel {
			return nil
		}

		return row.DecisionID
	case "note":
		if !row.HasLabel {
			return nil
		}

		return row.Note
	case "ts_client":
		return row.TSClient
	case "ts_server":
		return row.TSServer
	case "logical_uri":
		return row.LogicalURI
	case "external_id":
		return row.ExternalID
	}

	const prefix = "metadata."
	if strings.HasPrefix(field, prefix) {
		return lookupDotted(row.Metadata, strings.TrimPrefix(field, prefix))
	}

	return nil
}

func lookupDotted(m map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = m

	for _, p := range parts {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil
		}

		cur, ok = asMap[p]
		if !ok {
			return nil
		}
	}

	return cur
}

// JSONLWriter serializes rows as newline-delimited JSON objects with
// keys in include_fields order, no trailing newline after the last line
// (spec §4.7 step 5).
type JSONLWriter struct {
	w             io.Writer
	includeFields []string
	wroteAny      bool
}

func NewJSONLWriter(w io.Writer, includeFields []string) *JSONLWriter {
	return &JSONLWriter{w: w, includeFields: includeFields}
}

func (jw *JSONLWriter) WriteRow(row ExportRow) error {
	if jw.wroteAny {
		if _, err := jw.w.Write([]byte("\n")); err != nil {
			return err
		}
	}

	values := Project(row, jw.includeFields)

	var b strings.Builder

	b.WriteByte('{')

	for i, field := range jw.includeFields {
		if i > 0 {
			b.WriteByte(',')
		}

		key, err := json.Marshal(field)
		if err != nil {
			return err
		}

		val, err := json.Marshal(values[i])
		if err != nil {
			return err
		}

		b.Write(key)
		b.WriteByte(':')
		b.Write(val)
	}

	b.WriteByte('}')

	if _, err := jw.w.Write([]byte(b.String())); err != nil {
		return err
	}

	jw.wroteAny = true

	return nil
}

// CSVWriter serializes rows as RFC 4180 CSV with a header row equal to
// include_fields and LF line endings.
type CSVWriter struct {
	cw            *csv.Writer
	includeFields []string
	wroteHeader   bool
}

func NewCSVWriter(w io.Writer, includeFields []string) *CSVWriter {
	cw := csv.NewWriter(w)
	cw.UseCRLF = false

	return &CSVWriter{cw: cw, includeFields: includeFields}
}

func (cw *CSVWriter) WriteRow(row ExportRow) error {
	if !cw.wroteHeader {
		if err := cw.cw.Write(cw.includeFields); err != nil {
			return err
		}

		cw.wroteHeader = true
	}

	values := Project(row, cw.includeFields)
	record := make([]string, len(values))

	for i, v := range values {
		record[i] = stringifyCSV(v)
	}

	return cw.cw.Write(record)
}

func (cw *CSVWriter) Flush() error {
	cw.cw.Flush()

	return cw.cw.Error()
}

func stringifyCSV(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}
