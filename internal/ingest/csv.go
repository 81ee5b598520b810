package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // 0 = sniff from the first line
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
}

// delimiters are the separators sniffed from a header line. Student exports
// from spreadsheet tools in comma-decimal locales are usually ';'.
var delimiters = []rune{',', ';', '\t', '|'}

// StreamCSV reads a CSV table and sends rows, header included, to a
// channel. Fields are trimmed. Both channels are closed when processing
// completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		br := bufio.NewReader(r)
		delim := opts.Delimiter
		if delim == 0 {
			delim = sniffDelimiter(br)
		}

		reader := csv.NewReader(br)
		reader.Comma = delim
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSV reads a CSV table whose first row is the header.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) ([]map[string]any, error) {
	rowCh, errCh := StreamCSV(ctx, r, opts)
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return toRecords(rows[0], rows[1:]), nil
}

// sniffDelimiter picks the candidate that occurs most often in the first
// line, defaulting to ','.
func sniffDelimiter(br *bufio.Reader) rune {
	peek, _ := br.Peek(4096)
	if i := bytes.IndexByte(peek, '\n'); i >= 0 {
		peek = peek[:i]
	}
	best, bestCount := ',', 0
	for _, d := range delimiters {
		if n := bytes.Count(peek, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}
