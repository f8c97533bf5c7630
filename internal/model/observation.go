// Package model defines the domain types shared across the analysis pipeline.
package model

import "time"

// CRS identifies the coordinate reference frame of a dataset. No reprojection
// is performed; distance math follows the declared frame.
type CRS string

const (
	// CRSLonLat is geographic WGS84; distances use great-circle kilometers.
	CRSLonLat CRS = "lonlat"
	// CRSPlanar is a projected plane; distances are Euclidean in dataset units.
	CRSPlanar CRS = "planar"
)

// Observation is a single sample site: a coordinate pair, numeric covariates,
// and one response value. Covariates are ordered per the dataset schema.
type Observation struct {
	ID         string    `json:"id"`
	DatasetID  string    `json:"dataset_id"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Covariates []float64 `json:"covariates"`
	Response   float64   `json:"response"`

	// Region is the dissolved region name assigned by point-in-polygon
	// association. Empty until assigned; stays empty for points outside
	// every region.
	Region string `json:"region,omitempty"`
}

// Dataset describes an imported observation table and its column schema.
type Dataset struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CRS            CRS       `json:"crs"`
	XColumn        string    `json:"x_column"`
	YColumn        string    `json:"y_column"`
	CovariateCols  []string  `json:"covariate_cols"`
	ResponseCol    string    `json:"response_col"`
	RowCount       int       `json:"row_count"`
	SourcePath     string    `json:"source_path"`
	ImportedAt     time.Time `json:"imported_at"`
}

// Region is one dissolved administrative polygon, keyed by name. The geometry
// is stored as EWKB so both store backends round-trip it unchanged.
type Region struct {
	ID       string  `json:"id"`
	Set      string  `json:"set"`  // boundary set name, e.g. "ca-counties"
	Name     string  `json:"name"` // unique within the set after dissolve
	GeomEWKB []byte  `json:"-"`
	Area     float64 `json:"area,omitempty"` // squared dataset units
}
