package fetcher

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV decoder.
type CSVOptions struct {
	Delimiter  rune // default ','
	LazyQuotes bool
	Buffer     int // channel buffer, default 256
}

// Record is one decoded data row. Err is set when the row could not be
// decoded; the stream continues with the next row.
type Record[T any] struct {
	Line  int // 1-based data row number, header excluded
	Value T
	Err   error
}

func newCSVReader(r io.Reader, opts CSVOptions) *csv.Reader {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1 // row width is checked against the header by the decoder
	return reader
}

// readHeader reads the first row and normalizes its names: a UTF-8 byte
// order mark and surrounding whitespace are removed.
func readHeader(reader *csv.Reader) ([]string, error) {
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, eris.New("csv: empty input, no header row")
		}
		return nil, eris.Wrap(err, "csv: read header")
	}
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return out, nil
}

// StreamRecords decodes CSV rows into T using csvutil struct tags and sends
// them on the returned channel. Columns in the input without a matching tag
// are ignored; tagged fields without a column stay zero. Malformed rows are
// delivered with Err set. A fatal error (unreadable header, cancellation) is
// sent on the error channel. Both channels are closed when processing
// completes.
func StreamRecords[T any](ctx context.Context, r io.Reader, opts CSVOptions) (<-chan Record[T], <-chan error) {
	buf := opts.Buffer
	if buf <= 0 {
		buf = 256
	}
	recCh := make(chan Record[T], buf)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		reader := newCSVReader(r, opts)
		header, err := readHeader(reader)
		if err != nil {
			errCh <- err
			return
		}

		dec, err := csvutil.NewDecoder(reader, header...)
		if err != nil {
			errCh <- eris.Wrap(err, "csv: create decoder")
			return
		}

		line := 0
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			var v T
			err := dec.Decode(&v)
			if errors.Is(err, io.EOF) {
				return
			}
			line++

			rec := Record[T]{Line: line, Value: v}
			if err != nil {
				if !isRowError(err) {
					errCh <- eris.Wrapf(err, "csv: decode row %d", line)
					return
				}
				rec.Err = eris.Wrapf(err, "csv: row %d", line)
			}

			select {
			case recCh <- rec:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return recCh, errCh
}

// isRowError reports whether err affects only the current row.
func isRowError(err error) bool {
	var parseErr *csv.ParseError
	var typeErr *csvutil.UnmarshalTypeError
	return errors.Is(err, csvutil.ErrFieldCount) || errors.As(err, &parseErr) || errors.As(err, &typeErr)
}

// CountRecords returns the number of data rows (header excluded) in r. Rows
// that fail to parse are counted, matching what StreamRecords delivers.
func CountRecords(ctx context.Context, r io.Reader, opts CSVOptions) (int64, error) {
	reader := newCSVReader(r, opts)
	reader.ReuseRecord = true
	if _, err := readHeader(reader); err != nil {
		return 0, err
	}

	var n int64
	for {
		if n%4096 == 0 && ctx.Err() != nil {
			return n, eris.Wrap(ctx.Err(), "csv: context cancelled")
		}
		_, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		var parseErr *csv.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			return n, eris.Wrap(err, "csv: count rows")
		}
		n++
	}
}
