// Package export renders query results as downloadable CSV or JSON files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/welldanyogia/home-iot/internal/query"
)

// ErrUnsupportedFormat is returned for formats other than csv and json
var ErrUnsupportedFormat = errors.New("unsupported format")

// Format is an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat validates a format path parameter
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", ErrUnsupportedFormat
}

// ContentType returns the media type of the format
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv; charset=utf-8"
}

// Filename builds "[device_type_]query_type_YYYYmmdd_HHMMSS.ext"
func Filename(queryType, deviceType string, format Format, now time.Time) string {
	parts := make([]string, 0, 3)
	if deviceType != "" {
		parts = append(parts, deviceType)
	}
	parts = append(parts, queryType, now.Format("20060102_150405"))
	return strings.Join(parts, "_") + "." + string(format)
}

// Write sends result as a file attachment named filename
func Write(w http.ResponseWriter, format Format, filename string, result *query.Result) error {
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)

	switch format {
	case FormatCSV:
		return WriteCSV(w, result)
	case FormatJSON:
		return WriteJSON(w, result)
	}
	return ErrUnsupportedFormat
}

// WriteCSV writes a header row of column names followed by one record per
// row. A result without columns produces no output.
func WriteCSV(w io.Writer, result *query.Result) error {
	if len(result.Columns) == 0 {
		return nil
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(result.Columns); err != nil {
		return err
	}

	record := make([]string, len(result.Columns))
	for _, row := range result.Rows {
		for i, col := range result.Columns {
			record[i] = formatValue(row[col])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the rows as an indented JSON array
func WriteJSON(w io.Writer, result *query.Result) error {
	rows := result.Rows
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}
