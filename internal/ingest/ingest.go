// Package ingest parses student tables from CSV, XLSX, and JSON sources into
// raw records for the normalizer.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Format is a supported input file type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// FormatOf picks a format from a file name's extension.
func FormatOf(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", eris.Errorf("ingest: unsupported file type %q (want .csv, .xlsx, or .json)", filepath.Ext(name))
	}
}

// ReadFile reads records from a file on disk. Tables are always a batch; a
// JSON object is a single record.
func ReadFile(ctx context.Context, path string) (recs []map[string]any, batch bool, err error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, false, err
	}
	if format == FormatXLSX {
		recs, err := ReadXLSX(path, XLSXOptions{})
		return recs, true, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, false, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	return Read(ctx, format, f)
}

// Read reads records of the given format from r.
func Read(ctx context.Context, format Format, r io.Reader) (recs []map[string]any, batch bool, err error) {
	switch format {
	case FormatCSV:
		recs, err := ReadCSV(ctx, r, CSVOptions{LazyQuotes: true})
		return recs, true, err
	case FormatXLSX:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, true, eris.Wrap(err, "ingest: read xlsx upload")
		}
		recs, err := ReadXLSXBytes(data, XLSXOptions{})
		return recs, true, err
	case FormatJSON:
		return ReadJSON(ctx, r)
	default:
		return nil, false, eris.Errorf("ingest: unsupported format %q", format)
	}
}

// toRecords zips a header with each row. Blank header cells and fully blank
// rows are skipped; short rows leave the remaining columns absent.
func toRecords(header []string, rows [][]string) []map[string]any {
	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		rec := make(map[string]any, len(names))
		blank := true
		for i, cell := range row {
			if i >= len(names) || names[i] == "" {
				continue
			}
			rec[names[i]] = cell
			if strings.TrimSpace(cell) != "" {
				blank = false
			}
		}
		if !blank {
			out = append(out, rec)
		}
	}
	return out
}

// studentIDKeys are the header spellings accepted for a student identifier.
var studentIDKeys = map[string]bool{
	"student_id": true, "studentid": true, "student id": true, "id": true, "matricula": true,
}

// StudentID returns the record's student identifier, or "" if it has none.
func StudentID(rec map[string]any) string {
	for k, v := range rec {
		if !studentIDKeys[strings.ToLower(strings.TrimSpace(k))] || v == nil {
			continue
		}
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	return ""
}
