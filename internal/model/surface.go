package model

// GridSpec defines a regular raster grid by its lower-left origin, cell size,
// and cell counts. Cells are addressed row-major from the origin.
type GridSpec struct {
	X0    float64 `json:"x0"`
	Y0    float64 `json:"y0"`
	CellX float64 `json:"cell_x"`
	CellY float64 `json:"cell_y"`
	NX    int     `json:"nx"`
	NY    int     `json:"ny"`
}

// CellCenter returns the center coordinate of cell (ix, iy).
func (g GridSpec) CellCenter(ix, iy int) (x, y float64) {
	return g.X0 + (float64(ix)+0.5)*g.CellX, g.Y0 + (float64(iy)+0.5)*g.CellY
}

// Cells returns the total number of cells.
func (g GridSpec) Cells() int { return g.NX * g.NY }

// Surface is a raster of values aligned to a GridSpec. NaN marks missing
// cells. Values are row-major: index = iy*NX + ix.
type Surface struct {
	RunID  string    `json:"run_id"`
	Name   string    `json:"name"`
	Spec   GridSpec  `json:"spec"`
	Values []float64 `json:"values"`
}
