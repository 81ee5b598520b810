package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeJSONArray decodes a JSON array streaming, sending each element to a
// channel. Both channels are closed when processing completes.
func DecodeJSONArray[T any](ctx context.Context, dec *json.Decoder) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return
			}
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			errCh <- eris.Errorf("json: expected '[', got %v", tok)
			return
		}

		for dec.More() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}

			var item T
			if err := dec.Decode(&item); err != nil {
				errCh <- eris.Wrap(err, "json: decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		if _, err := dec.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return outCh, errCh
}

// ReadJSON reads either a single student object or an array of them; batch
// reports which. Numbers are kept as json.Number so integer codes survive
// unchanged.
func ReadJSON(ctx context.Context, r io.Reader) (recs []map[string]any, batch bool, err error) {
	br := bufio.NewReader(r)
	first, err := firstNonSpace(br)
	if err != nil {
		if err == io.EOF {
			return nil, false, nil
		}
		return nil, false, eris.Wrap(err, "json: read input")
	}

	dec := json.NewDecoder(br)
	dec.UseNumber()

	if first != '[' {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, false, eris.Wrap(err, "json: decode object")
		}
		return []map[string]any{obj}, false, nil
	}

	outCh, errCh := DecodeJSONArray[map[string]any](ctx, dec)
	for rec := range outCh {
		recs = append(recs, rec)
	}
	for err := range errCh {
		if err != nil {
			return nil, true, err
		}
	}
	return recs, true, nil
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
