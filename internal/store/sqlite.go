package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/spatial-research/gwr-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS datasets (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL UNIQUE,
	crs            TEXT NOT NULL,
	x_column       TEXT NOT NULL,
	y_column       TEXT NOT NULL,
	covariate_cols TEXT NOT NULL,
	response_col   TEXT NOT NULL,
	row_count      INTEGER NOT NULL DEFAULT 0,
	source_path    TEXT NOT NULL DEFAULT '',
	imported_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS observations (
	id         TEXT PRIMARY KEY,
	dataset_id TEXT NOT NULL REFERENCES datasets(id),
	x          REAL NOT NULL,
	y          REAL NOT NULL,
	covariates TEXT NOT NULL,
	response   REAL NOT NULL,
	region     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS regions (
	id         TEXT PRIMARY KEY,
	region_set TEXT NOT NULL,
	name       TEXT NOT NULL,
	geom       BLOB NOT NULL,
	area       REAL NOT NULL DEFAULT 0,
	UNIQUE (region_set, name)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	dataset_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	params     TEXT,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS coefficients (
	run_id    TEXT NOT NULL REFERENCES runs(id),
	part_key  TEXT NOT NULL,
	coeffs    TEXT,
	r2        REAL,
	n         INTEGER NOT NULL DEFAULT 0,
	missing   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, part_key)
);

CREATE TABLE IF NOT EXISTS surfaces (
	run_id TEXT NOT NULL REFERENCES runs(id),
	name   TEXT NOT NULL,
	spec   TEXT NOT NULL,
	cells  TEXT NOT NULL,
	PRIMARY KEY (run_id, name)
);

CREATE TABLE IF NOT EXISTS moran_results (
	run_id   TEXT PRIMARY KEY REFERENCES runs(id),
	i        REAL NOT NULL,
	expected REAL NOT NULL,
	p_value  REAL NOT NULL,
	perms    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_observations_dataset ON observations(dataset_id);
CREATE INDEX IF NOT EXISTS idx_regions_set ON regions(region_set);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_dataset ON runs(dataset_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateDataset(ctx context.Context, ds model.Dataset) (*model.Dataset, error) {
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	ds.ImportedAt = time.Now().UTC()

	colsJSON, err := json.Marshal(ds.CovariateCols)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal covariate columns")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO datasets (id, name, crs, x_column, y_column, covariate_cols, response_col, row_count, source_path, imported_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.Name, string(ds.CRS), ds.XColumn, ds.YColumn, string(colsJSON), ds.ResponseCol, ds.RowCount, ds.SourcePath, ds.ImportedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert dataset %s", ds.Name)
	}
	return &ds, nil
}

func (s *SQLiteStore) GetDataset(ctx context.Context, id string) (*model.Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, crs, x_column, y_column, covariate_cols, response_col, row_count, source_path, imported_at
		 FROM datasets WHERE id = ?`, id)
	return scanDataset(row)
}

func (s *SQLiteStore) GetDatasetByName(ctx context.Context, name string) (*model.Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, crs, x_column, y_column, covariate_cols, response_col, row_count, source_path, imported_at
		 FROM datasets WHERE name = ?`, name)
	return scanDataset(row)
}

func (s *SQLiteStore) ListDatasets(ctx context.Context) ([]model.Dataset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, crs, x_column, y_column, covariate_cols, response_col, row_count, source_path, imported_at
		 FROM datasets ORDER BY imported_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list datasets")
	}
	defer rows.Close()

	var out []model.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ds)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list datasets iterate")
}

func (s *SQLiteStore) InsertObservations(ctx context.Context, obs []model.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO observations (id, dataset_id, x, y, covariates, response, region) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert observation")
	}
	defer stmt.Close()

	for i := range obs {
		o := &obs[i]
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		covJSON, err := json.Marshal(o.Covariates)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal covariates")
		}
		if _, err := stmt.ExecContext(ctx, o.ID, o.DatasetID, o.X, o.Y, string(covJSON), o.Response, o.Region); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert observation %s", o.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit observations")
	}
	return len(obs), nil
}

func (s *SQLiteStore) ListObservations(ctx context.Context, datasetID string) ([]model.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dataset_id, x, y, covariates, response, region FROM observations WHERE dataset_id = ? ORDER BY id`,
		datasetID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list observations %s", datasetID)
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		var o model.Observation
		var covJSON string
		if err := rows.Scan(&o.ID, &o.DatasetID, &o.X, &o.Y, &covJSON, &o.Response, &o.Region); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan observation")
		}
		if err := json.Unmarshal([]byte(covJSON), &o.Covariates); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal covariates")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list observations iterate")
}

func (s *SQLiteStore) ReplaceRegions(ctx context.Context, set string, regions []model.Region) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM regions WHERE region_set = ?`, set); err != nil {
		return 0, eris.Wrapf(err, "sqlite: clear region set %s", set)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO regions (id, region_set, name, geom, area) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert region")
	}
	defer stmt.Close()

	for i := range regions {
		r := &regions[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx, r.ID, set, r.Name, r.GeomEWKB, r.Area); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert region %s", r.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit regions")
	}
	return len(regions), nil
}

func (s *SQLiteStore) ListRegions(ctx context.Context, set string) ([]model.Region, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, region_set, name, geom, area FROM regions WHERE region_set = ? ORDER BY name`, set)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list regions %s", set)
	}
	defer rows.Close()

	var out []model.Region
	for rows.Next() {
		var r model.Region
		if err := rows.Scan(&r.ID, &r.Set, &r.Name, &r.GeomEWKB, &r.Area); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan region")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list regions iterate")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, datasetID string, kind model.AnalysisKind, params string) (*model.AnalysisRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, dataset_id, kind, status, params, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, datasetID, string(kind), string(model.RunStatusQueued), params, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.AnalysisRun{
		ID:        id,
		DatasetID: datasetID,
		Kind:      kind,
		Status:    model.RunStatusQueued,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, dataset_id, kind, status, params, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.AnalysisRun, error) {
	query := `SELECT id, dataset_id, kind, status, params, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.DatasetID != "" {
		query += ` AND dataset_id = ?`
		args = append(args, filter.DatasetID)
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.AnalysisRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveCoefficients(ctx context.Context, sets []model.CoefficientSet) error {
	if len(sets) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO coefficients (run_id, part_key, coeffs, r2, n, missing) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, part_key) DO UPDATE SET coeffs = excluded.coeffs, r2 = excluded.r2, n = excluded.n, missing = excluded.missing`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert coefficients")
	}
	defer stmt.Close()

	for _, cs := range sets {
		var coeffsJSON sql.NullString
		var r2 sql.NullFloat64
		if !cs.Missing {
			b, err := json.Marshal(cs.Coeffs)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal coefficients")
			}
			coeffsJSON = sql.NullString{String: string(b), Valid: true}
			r2 = sql.NullFloat64{Float64: cs.R2, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, cs.RunID, cs.Partition, coeffsJSON, r2, cs.N, cs.Missing); err != nil {
			return eris.Wrapf(err, "sqlite: insert coefficients %s", cs.Partition)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit coefficients")
}

func (s *SQLiteStore) ListCoefficients(ctx context.Context, runID string) ([]model.CoefficientSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, part_key, coeffs, r2, n, missing FROM coefficients WHERE run_id = ? ORDER BY part_key`,
		runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list coefficients %s", runID)
	}
	defer rows.Close()

	var out []model.CoefficientSet
	for rows.Next() {
		var cs model.CoefficientSet
		var coeffsJSON sql.NullString
		var r2 sql.NullFloat64
		if err := rows.Scan(&cs.RunID, &cs.Partition, &coeffsJSON, &r2, &cs.N, &cs.Missing); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan coefficients")
		}
		if coeffsJSON.Valid {
			if err := json.Unmarshal([]byte(coeffsJSON.String), &cs.Coeffs); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal coefficients")
			}
		}
		if r2.Valid {
			cs.R2 = r2.Float64
		}
		out = append(out, cs)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list coefficients iterate")
}

func (s *SQLiteStore) SaveSurface(ctx context.Context, surface *model.Surface) error {
	specJSON, err := json.Marshal(surface.Spec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal grid spec")
	}
	cellsJSON, err := encodeRaster(surface.Values)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO surfaces (run_id, name, spec, cells) VALUES (?, ?, ?, ?)
		 ON CONFLICT (run_id, name) DO UPDATE SET spec = excluded.spec, cells = excluded.cells`,
		surface.RunID, surface.Name, string(specJSON), cellsJSON,
	)
	return eris.Wrapf(err, "sqlite: save surface %s", surface.Name)
}

func (s *SQLiteStore) GetSurface(ctx context.Context, runID, name string) (*model.Surface, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, name, spec, cells FROM surfaces WHERE run_id = ? AND name = ?`,
		runID, name)

	var sf model.Surface
	var specJSON, cellsJSON string
	err := row.Scan(&sf.RunID, &sf.Name, &specJSON, &cellsJSON)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("surface not found: %s/%s", runID, name)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get surface")
	}
	if err := json.Unmarshal([]byte(specJSON), &sf.Spec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal grid spec")
	}
	sf.Values, err = decodeRaster(cellsJSON)
	if err != nil {
		return nil, err
	}
	return &sf, nil
}

func (s *SQLiteStore) SaveMoran(ctx context.Context, res *model.MoranResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO moran_results (run_id, i, expected, p_value, perms) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET i = excluded.i, expected = excluded.expected, p_value = excluded.p_value, perms = excluded.perms`,
		res.RunID, res.I, res.Expected, res.PValue, res.Perms,
	)
	return eris.Wrapf(err, "sqlite: save moran result %s", res.RunID)
}

func (s *SQLiteStore) GetMoran(ctx context.Context, runID string) (*model.MoranResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, i, expected, p_value, perms FROM moran_results WHERE run_id = ?`, runID)

	var mr model.MoranResult
	err := row.Scan(&mr.RunID, &mr.I, &mr.Expected, &mr.PValue, &mr.Perms)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("moran result not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get moran result")
	}
	return &mr, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDataset(row scannable) (*model.Dataset, error) {
	var ds model.Dataset
	var colsJSON string

	err := row.Scan(&ds.ID, &ds.Name, &ds.CRS, &ds.XColumn, &ds.YColumn, &colsJSON, &ds.ResponseCol, &ds.RowCount, &ds.SourcePath, &ds.ImportedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("dataset not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan dataset")
	}
	if err := json.Unmarshal([]byte(colsJSON), &ds.CovariateCols); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal covariate columns")
	}
	return &ds, nil
}

func scanRun(row scannable) (*model.AnalysisRun, error) {
	var r model.AnalysisRun
	var params, errMsg sql.NullString

	err := row.Scan(&r.ID, &r.DatasetID, &r.Kind, &r.Status, &params, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Params = params.String
	r.Error = errMsg.String
	return &r, nil
}

// encodeRaster serializes a raster as a JSON array with nulls standing in for
// NaN, since JSON has no NaN literal.
func encodeRaster(values []float64) (string, error) {
	cells := make([]*float64, len(values))
	for i := range values {
		if !math.IsNaN(values[i]) {
			v := values[i]
			cells[i] = &v
		}
	}
	b, err := json.Marshal(cells)
	if err != nil {
		return "", eris.Wrap(err, "store: encode raster")
	}
	return string(b), nil
}

func decodeRaster(s string) ([]float64, error) {
	var cells []*float64
	if err := json.Unmarshal([]byte(s), &cells); err != nil {
		return nil, eris.Wrap(err, "store: decode raster")
	}
	values := make([]float64, len(cells))
	for i, c := range cells {
		if c == nil {
			values[i] = math.NaN()
		} else {
			values[i] = *c
		}
	}
	return values, nil
}
