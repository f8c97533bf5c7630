package dataset

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/spatial-research/gwr-cli/internal/fetcher"
	"github.com/spatial-research/gwr-cli/internal/model"
)

// rowParser maps the schema's columns to header positions and converts one
// raw row at a time.
type rowParser struct {
	s   Schema
	idx []int
}

func newRowParser(s Schema, header []string) (*rowParser, error) {
	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		colIdx[strings.TrimSpace(h)] = i
	}

	need := append([]string{s.XColumn, s.YColumn, s.Response}, s.Covariates...)
	idx := make([]int, len(need))
	for i, col := range need {
		j, ok := colIdx[col]
		if !ok {
			return nil, eris.Errorf("dataset: column %q not found in header", col)
		}
		idx[i] = j
	}
	return &rowParser{s: s, idx: idx}, nil
}

// parse returns ok=false for rows with missing or unparseable values,
// matching how the source datasets treat NA stations.
func (p *rowParser) parse(row []string) (model.Observation, bool) {
	vals := make([]float64, len(p.idx))
	for i, j := range p.idx {
		if j >= len(row) || p.s.isNA(row[j]) {
			return model.Observation{}, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[j]), 64)
		if err != nil {
			return model.Observation{}, false
		}
		vals[i] = v
	}
	return model.Observation{
		X:          vals[0],
		Y:          vals[1],
		Response:   vals[2],
		Covariates: vals[3:],
	}, true
}

// ParseRows converts raw string rows into observations per the schema.
func ParseRows(s Schema, header []string, rows [][]string) ([]model.Observation, int, error) {
	if err := s.Validate(); err != nil {
		return nil, 0, err
	}
	p, err := newRowParser(s, header)
	if err != nil {
		return nil, 0, err
	}

	var obs []model.Observation
	var skipped int
	for _, row := range rows {
		o, ok := p.parse(row)
		if !ok {
			skipped++
			continue
		}
		obs = append(obs, o)
	}
	return finishParse(s, obs, skipped)
}

func finishParse(s Schema, obs []model.Observation, skipped int) ([]model.Observation, int, error) {
	if skipped > 0 {
		zap.L().Info("dataset: skipped unparseable rows",
			zap.String("schema", s.Name),
			zap.Int("skipped", skipped),
			zap.Int("kept", len(obs)),
		)
	}
	if len(obs) == 0 {
		return nil, skipped, eris.New("dataset: no usable rows")
	}
	return obs, skipped, nil
}

// FromCSVFile streams and parses a CSV file per the schema, one row at a
// time, so station files larger than memory import cleanly.
func FromCSVFile(ctx context.Context, s Schema, path string) ([]model.Observation, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "dataset: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	if err := s.Validate(); err != nil {
		return nil, 0, err
	}
	header, rows, errs, err := fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{TrimSpace: true})
	if err != nil {
		return nil, 0, err
	}
	p, err := newRowParser(s, header)
	if err != nil {
		return nil, 0, err
	}

	var obs []model.Observation
	var skipped int
	for row := range rows {
		o, ok := p.parse(row)
		if !ok {
			skipped++
			continue
		}
		obs = append(obs, o)
	}
	if err := <-errs; err != nil {
		return nil, 0, err
	}
	return finishParse(s, obs, skipped)
}

// FromXLSXFile reads and parses the first sheet of an XLSX workbook.
func FromXLSXFile(s Schema, path string) ([]model.Observation, int, error) {
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
	if err != nil {
		return nil, 0, err
	}
	if len(rows) == 0 {
		return nil, 0, eris.New("dataset: empty workbook")
	}
	return ParseRows(s, rows[0], rows[1:])
}

// FromFile dispatches on the file extension.
func FromFile(ctx context.Context, s Schema, path string) ([]model.Observation, int, error) {
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return FromXLSXFile(s, path)
	}
	return FromCSVFile(ctx, s, path)
}
