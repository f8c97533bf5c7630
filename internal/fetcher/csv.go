package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter rune // default ','
	Comment   rune // comment character (0 = none)
	TrimSpace bool
}

// StreamCSV reads the header row synchronously, then streams the data rows
// on the returned channel so large files never sit in memory whole. Both
// channels are closed when the stream ends; a read failure or context
// cancellation sends one error before closing. Rows with a different field
// count than the header are delivered as-is; the caller decides how strict
// to be.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) ([]string, <-chan []string, <-chan error, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, nil, eris.New("csv: empty input")
	}
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "csv: read header")
	}
	if opts.TrimSpace {
		trimRecord(header)
	}

	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		for {
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			if opts.TrimSpace {
				trimRecord(record)
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return header, rowCh, errCh, nil
}

func trimRecord(rec []string) {
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}
}
