// Package store persists datasets, regions, and analysis results behind a
// backend-neutral interface with SQLite and PostgreSQL implementations.
package store

import (
	"context"

	"github.com/spatial-research/gwr-cli/internal/model"
)

// RunFilter specifies criteria for listing analysis runs.
type RunFilter struct {
	Status    model.RunStatus    `json:"status,omitempty"`
	DatasetID string             `json:"dataset_id,omitempty"`
	Kind      model.AnalysisKind `json:"kind,omitempty"`
	Limit     int                `json:"limit,omitempty"`
	Offset    int                `json:"offset,omitempty"`
}

// Store defines the persistence interface for the analysis pipeline.
type Store interface {
	// Datasets
	CreateDataset(ctx context.Context, ds model.Dataset) (*model.Dataset, error)
	GetDataset(ctx context.Context, id string) (*model.Dataset, error)
	GetDatasetByName(ctx context.Context, name string) (*model.Dataset, error)
	ListDatasets(ctx context.Context) ([]model.Dataset, error)
	InsertObservations(ctx context.Context, obs []model.Observation) (int, error)
	ListObservations(ctx context.Context, datasetID string) ([]model.Observation, error)

	// Regions
	ReplaceRegions(ctx context.Context, set string, regions []model.Region) (int, error)
	ListRegions(ctx context.Context, set string) ([]model.Region, error)

	// Runs
	CreateRun(ctx context.Context, datasetID string, kind model.AnalysisKind, params string) (*model.AnalysisRun, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.AnalysisRun, error)

	// Results
	SaveCoefficients(ctx context.Context, sets []model.CoefficientSet) error
	ListCoefficients(ctx context.Context, runID string) ([]model.CoefficientSet, error)
	SaveSurface(ctx context.Context, surface *model.Surface) error
	GetSurface(ctx context.Context, runID, name string) (*model.Surface, error)
	SaveMoran(ctx context.Context, res *model.MoranResult) error
	GetMoran(ctx context.Context, runID string) (*model.MoranResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
