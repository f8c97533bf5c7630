package model

import "time"

// RunStatus represents the current state of an analysis run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// AnalysisKind identifies which estimator produced a run's results.
type AnalysisKind string

const (
	AnalysisGlobalOLS   AnalysisKind = "global_ols"
	AnalysisRegionalOLS AnalysisKind = "regional_ols"
	AnalysisGridOLS     AnalysisKind = "grid_ols"
	AnalysisGWR         AnalysisKind = "gwr"
	AnalysisInterp      AnalysisKind = "interpolation"
	AnalysisMoran       AnalysisKind = "moran"
)

// AnalysisRun records one invocation of an estimator against a dataset.
type AnalysisRun struct {
	ID        string       `json:"id"`
	DatasetID string       `json:"dataset_id"`
	Kind      AnalysisKind `json:"kind"`
	Status    RunStatus    `json:"status"`
	Params    string       `json:"params,omitempty"` // JSON-encoded estimator options
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// CoefficientSet is the fitted result for one partition: the intercept plus
// one slope per covariate, in schema order. A partition that could not be fit
// (too few observations, degenerate design) is stored with Missing=true and
// no coefficients.
type CoefficientSet struct {
	RunID     string    `json:"run_id"`
	Partition string    `json:"partition"` // region name or grid cell key
	Coeffs    []float64 `json:"coeffs,omitempty"`
	R2        float64   `json:"r2,omitempty"`
	N         int       `json:"n"` // observations used
	Missing   bool      `json:"missing"`
}

// MoranResult holds a Moran's I statistic with its permutation reference
// distribution summary.
type MoranResult struct {
	RunID    string  `json:"run_id"`
	I        float64 `json:"i"`
	Expected float64 `json:"expected"`
	PValue   float64 `json:"p_value"`
	Perms    int     `json:"perms"`
}
