package export

import (
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strings"

	"github.com/parquet-go/parquet-go"
)

var parquetFieldNamePattern = regexp.MustCompile(`[^A-Za-z0-9_]`)

// ParquetWriter serializes rows into a single parquet file, one column
// per included field (spec §4.7 step 5). The schema is built once from
// include_fields via reflection so the column set stays pinned for the
// life of the writer, and page sizes are left to the library's defaults
// for repeatability across runs of the same include_fields set.
type ParquetWriter struct {
	includeFields []string
	structType    reflect.Type
	writer        *parquet.GenericWriter[any]
}

// NewParquetWriter returns a ParquetWriter over w for the given
// include_fields. Every column is a nullable, UTF-8-leaning value: export
// fields are heterogeneous (string ids, int64 timestamps, arbitrary
// metadata), so columns are typed as parquet's optional leaf rather than
// forcing every field through an int/string split.
func NewParquetWriter(w io.Writer, includeFields []string) (*ParquetWriter, error) {
	fields := make([]reflect.StructField, len(includeFields))

	for i, name := range includeFields {
		goName := sanitizeFieldName(name, i)
		fields[i] = reflect.StructField{
			Name: goName,
			Type: reflect.TypeOf((*string)(nil)),
			Tag:  reflect.StructTag(fmt.Sprintf(`parquet:"%s,optional"`, name)),
		}
	}

	structType := reflect.StructOf(fields)
	schema := parquet.SchemaOf(reflect.New(structType).Interface())

	writer := parquet.NewGenericWriter[any](w, schema)

	return &ParquetWriter{includeFields: includeFields, structType: structType, writer: writer}, nil
}

func (pw *ParquetWriter) WriteRow(row ExportRow) error {
	values := Project(row, pw.includeFields)

	rec := reflect.New(pw.structType).Elem()

	for i, v := range values {
		s := stringifyCSV(v) // same textual projection used by the CSV writer
		if v == nil {
			continue
		}

		ptr := reflect.New(reflect.TypeOf(""))
		ptr.Elem().SetString(s)
		rec.Field(i).Set(ptr)
	}

	_, err := pw.writer.Write([]any{rec.Interface()})

	return err
}

func (pw *ParquetWriter) Close() error {
	return pw.writer.Close()
}

func sanitizeFieldName(field string, index int) string {
	name := parquetFieldNamePattern.ReplaceAllString(field, "_")
	if name == "" {
		return fmt.Sprintf("Field%d", index)
	}

	return strings.ToUpper(name[:1]) + name[1:]
}
