package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/spatial-research/gwr-cli/internal/db"
	"github.com/spatial-research/gwr-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, dataset_id, kind, status, params, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"fail_run":          `UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, dataset_id, kind, status, params, error, created_at, updated_at FROM runs WHERE id = $1`,
	"get_dataset":       `SELECT id, name, crs, x_column, y_column, covariate_cols, response_col, row_count, source_path, imported_at FROM datasets WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS datasets (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name           TEXT NOT NULL UNIQUE,
	crs            TEXT NOT NULL,
	x_column       TEXT NOT NULL,
	y_column       TEXT NOT NULL,
	covariate_cols JSONB NOT NULL,
	response_col   TEXT NOT NULL,
	row_count      INTEGER NOT NULL DEFAULT 0,
	source_path    TEXT NOT NULL DEFAULT '',
	imported_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS observations (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	dataset_id TEXT NOT NULL REFERENCES datasets(id),
	x          DOUBLE PRECISION NOT NULL,
	y          DOUBLE PRECISION NOT NULL,
	covariates JSONB NOT NULL,
	response   DOUBLE PRECISION NOT NULL,
	region     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS regions (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	region_set TEXT NOT NULL,
	name       TEXT NOT NULL,
	geom       BYTEA NOT NULL,
	area       DOUBLE PRECISION NOT NULL DEFAULT 0,
	UNIQUE (region_set, name)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	dataset_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	params     TEXT,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS coefficients (
	run_id    TEXT NOT NULL REFERENCES runs(id),
	part_key  TEXT NOT NULL,
	coeffs    JSONB,
	r2        DOUBLE PRECISION,
	n         INTEGER NOT NULL DEFAULT 0,
	missing   BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (run_id, part_key)
);

CREATE TABLE IF NOT EXISTS surfaces (
	run_id TEXT NOT NULL REFERENCES runs(id),
	name   TEXT NOT NULL,
	spec   JSONB NOT NULL,
	cells  JSONB NOT NULL,
	PRIMARY KEY (run_id, name)
);

CREATE TABLE IF NOT EXISTS moran_results (
	run_id   TEXT PRIMARY KEY REFERENCES runs(id),
	i        DOUBLE PRECISION NOT NULL,
	expected DOUBLE PRECISION NOT NULL,
	p_value  DOUBLE PRECISION NOT NULL,
	perms    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_observations_dataset ON observations(dataset_id);
CREATE INDEX IF NOT EXISTS idx_regions_set ON regions(region_set);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_dataset ON runs(dataset_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateDataset(ctx context.Context, ds model.Dataset) (*model.Dataset, error) {
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	ds.ImportedAt = time.Now().UTC()

	colsJSON, err := json.Marshal(ds.CovariateCols)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal covariate columns")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO datasets (id, name, crs, x_column, y_column, covariate_cols, response_col, row_count, source_path, imported_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ds.ID, ds.Name, string(ds.CRS), ds.XColumn, ds.YColumn, colsJSON, ds.ResponseCol, ds.RowCount, ds.SourcePath, ds.ImportedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert dataset %s", ds.Name)
	}
	return &ds, nil
}

func (s *PostgresStore) GetDataset(ctx context.Context, id string) (*model.Dataset, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, crs, x_column, y_column, covariate_cols, response_col, row_count, source_path, imported_at FROM datasets WHERE id = $1`,
		id)
	return scanPgDataset(row)
}

func (s *PostgresStore) GetDatasetByName(ctx context.Context, name string) (*model.Dataset, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, crs, x_column, y_column, covariate_cols, response_col, row_count, source_path, imported_at FROM datasets WHERE name = $1`,
		name)
	return scanPgDataset(row)
}

func (s *PostgresStore) ListDatasets(ctx context.Context) ([]model.Dataset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, crs, x_column, y_column, covariate_cols, response_col, row_count, source_path, imported_at FROM datasets ORDER BY imported_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list datasets")
	}
	defer rows.Close()

	var out []model.Dataset
	for rows.Next() {
		ds, err := scanPgDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ds)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list datasets iterate")
}

func (s *PostgresStore) InsertObservations(ctx context.Context, obs []model.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(obs))
	for i := range obs {
		o := &obs[i]
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		covJSON, err := json.Marshal(o.Covariates)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal covariates")
		}
		rows = append(rows, []any{o.ID, o.DatasetID, o.X, o.Y, covJSON, o.Response, o.Region})
	}

	n, err := db.CopyFrom(ctx, s.pool, "observations",
		[]string{"id", "dataset_id", "x", "y", "covariates", "response", "region"}, rows)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *PostgresStore) ListObservations(ctx context.Context, datasetID string) ([]model.Observation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, dataset_id, x, y, covariates, response, region FROM observations WHERE dataset_id = $1 ORDER BY id`,
		datasetID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list observations %s", datasetID)
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		var o model.Observation
		var covJSON []byte
		if err := rows.Scan(&o.ID, &o.DatasetID, &o.X, &o.Y, &covJSON, &o.Response, &o.Region); err != nil {
			return nil, eris.Wrap(err, "postgres: scan observation")
		}
		if err := json.Unmarshal(covJSON, &o.Covariates); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal covariates")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list observations iterate")
}

func (s *PostgresStore) ReplaceRegions(ctx context.Context, set string, regions []model.Region) (int, error) {
	if _, err := s.pool.Exec(ctx, `DELETE FROM regions WHERE region_set = $1`, set); err != nil {
		return 0, eris.Wrapf(err, "postgres: clear region set %s", set)
	}

	rows := make([][]any, 0, len(regions))
	for i := range regions {
		r := &regions[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		rows = append(rows, []any{r.ID, set, r.Name, r.GeomEWKB, r.Area})
	}

	n, err := db.CopyFrom(ctx, s.pool, "regions",
		[]string{"id", "region_set", "name", "geom", "area"}, rows)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *PostgresStore) ListRegions(ctx context.Context, set string) ([]model.Region, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, region_set, name, geom, area FROM regions WHERE region_set = $1 ORDER BY name`, set)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list regions %s", set)
	}
	defer rows.Close()

	var out []model.Region
	for rows.Next() {
		var r model.Region
		if err := rows.Scan(&r.ID, &r.Set, &r.Name, &r.GeomEWKB, &r.Area); err != nil {
			return nil, eris.Wrap(err, "postgres: scan region")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list regions iterate")
}

func (s *PostgresStore) CreateRun(ctx context.Context, datasetID string, kind model.AnalysisKind, params string) (*model.AnalysisRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, dataset_id, kind, status, params, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, datasetID, string(kind), string(model.RunStatusQueued), params, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error) {
	var r model.AnalysisRun
	var params, errMsg *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, dataset_id, kind, status, params, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.DatasetID, &r.Kind, &r.Status, &params, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	if params != nil {
		r.Params = *params
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.AnalysisRun, error) {
	query := `SELECT id, dataset_id, kind, status, params, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.DatasetID != "" {
		query += ` AND dataset_id = ` + arg(filter.DatasetID)
	}
	if filter.Kind != "" {
		query += ` AND kind = ` + arg(string(filter.Kind))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.AnalysisRun
	for rows.Next() {
		var r model.AnalysisRun
		var params, errMsg *string
		if err := rows.Scan(&r.ID, &r.DatasetID, &r.Kind, &r.Status, &params, &errMsg, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if params != nil {
			r.Params = *params
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveCoefficients(ctx context.Context, sets []model.CoefficientSet) error {
	rows := make([][]any, 0, len(sets))
	for _, cs := range sets {
		var coeffsJSON []byte
		var r2 *float64
		if !cs.Missing {
			b, err := json.Marshal(cs.Coeffs)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal coefficients")
			}
			coeffsJSON = b
			v := cs.R2
			r2 = &v
		}
		rows = append(rows, []any{cs.RunID, cs.Partition, coeffsJSON, r2, cs.N, cs.Missing})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "coefficients",
		Columns:      []string{"run_id", "part_key", "coeffs", "r2", "n", "missing"},
		ConflictKeys: []string{"run_id", "part_key"},
	}, rows)
	return err
}

func (s *PostgresStore) ListCoefficients(ctx context.Context, runID string) ([]model.CoefficientSet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, part_key, coeffs, r2, n, missing FROM coefficients WHERE run_id = $1 ORDER BY part_key`,
		runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list coefficients %s", runID)
	}
	defer rows.Close()

	var out []model.CoefficientSet
	for rows.Next() {
		var cs model.CoefficientSet
		var coeffsJSON []byte
		var r2 *float64
		if err := rows.Scan(&cs.RunID, &cs.Partition, &coeffsJSON, &r2, &cs.N, &cs.Missing); err != nil {
			return nil, eris.Wrap(err, "postgres: scan coefficients")
		}
		if len(coeffsJSON) > 0 {
			if err := json.Unmarshal(coeffsJSON, &cs.Coeffs); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal coefficients")
			}
		}
		if r2 != nil {
			cs.R2 = *r2
		}
		out = append(out, cs)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list coefficients iterate")
}

func (s *PostgresStore) SaveSurface(ctx context.Context, surface *model.Surface) error {
	specJSON, err := json.Marshal(surface.Spec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal grid spec")
	}
	cellsJSON, err := encodeRaster(surface.Values)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO surfaces (run_id, name, spec, cells) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id, name) DO UPDATE SET spec = EXCLUDED.spec, cells = EXCLUDED.cells`,
		surface.RunID, surface.Name, specJSON, []byte(cellsJSON),
	)
	return eris.Wrapf(err, "postgres: save surface %s", surface.Name)
}

func (s *PostgresStore) GetSurface(ctx context.Context, runID, name string) (*model.Surface, error) {
	var sf model.Surface
	var specJSON, cellsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT run_id, name, spec, cells FROM surfaces WHERE run_id = $1 AND name = $2`,
		runID, name,
	).Scan(&sf.RunID, &sf.Name, &specJSON, &cellsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("surface not found: %s/%s", runID, name)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get surface")
	}
	if err := json.Unmarshal(specJSON, &sf.Spec); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal grid spec")
	}
	sf.Values, err = decodeRaster(string(cellsJSON))
	if err != nil {
		return nil, err
	}
	return &sf, nil
}

func (s *PostgresStore) SaveMoran(ctx context.Context, res *model.MoranResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO moran_results (run_id, i, expected, p_value, perms) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id) DO UPDATE SET i = EXCLUDED.i, expected = EXCLUDED.expected, p_value = EXCLUDED.p_value, perms = EXCLUDED.perms`,
		res.RunID, res.I, res.Expected, res.PValue, res.Perms,
	)
	return eris.Wrapf(err, "postgres: save moran result %s", res.RunID)
}

func (s *PostgresStore) GetMoran(ctx context.Context, runID string) (*model.MoranResult, error) {
	var mr model.MoranResult
	err := s.pool.QueryRow(ctx,
		`SELECT run_id, i, expected, p_value, perms FROM moran_results WHERE run_id = $1`, runID,
	).Scan(&mr.RunID, &mr.I, &mr.Expected, &mr.PValue, &mr.Perms)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("moran result not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get moran result")
	}
	return &mr, nil
}

func scanPgDataset(row pgx.Row) (*model.Dataset, error) {
	var ds model.Dataset
	var colsJSON []byte

	err := row.Scan(&ds.ID, &ds.Name, &ds.CRS, &ds.XColumn, &ds.YColumn, &colsJSON, &ds.ResponseCol, &ds.RowCount, &ds.SourcePath, &ds.ImportedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan dataset")
	}
	if err := json.Unmarshal(colsJSON, &ds.CovariateCols); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal covariate columns")
	}
	return &ds, nil
}
