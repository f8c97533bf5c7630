package partition

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spatial-research/gwr-cli/internal/model"
	"github.com/spatial-research/gwr-cli/internal/spatial"
)

// GridOptions configures the grid-cell scan.
type GridOptions struct {
	Spec            model.GridSpec
	Radius          float64 // neighbor search radius in dataset distance units
	MinObservations int     // cells with fewer neighbors are missing (default 50)
	Concurrency     int     // parallel cell fits (default 4)
}

func (o *GridOptions) defaults() {
	if o.MinObservations <= 0 {
		o.MinObservations = 50
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
}

// CellKey is the partition key for cell (ix, iy).
func CellKey(ix, iy int) string { return fmt.Sprintf("%d,%d", ix, iy) }

// GridSpecFor derives a grid covering the observations with the given cell
// size in coordinate units.
func GridSpecFor(obs []model.Observation, cellSize float64) (model.GridSpec, error) {
	if len(obs) == 0 {
		return model.GridSpec{}, eris.New("partition: no observations to grid")
	}
	if cellSize <= 0 {
		return model.GridSpec{}, eris.New("partition: cell size must be positive")
	}

	minX, minY := obs[0].X, obs[0].Y
	maxX, maxY := minX, minY
	for _, o := range obs {
		minX = math.Min(minX, o.X)
		minY = math.Min(minY, o.Y)
		maxX = math.Max(maxX, o.X)
		maxY = math.Max(maxY, o.Y)
	}

	return model.GridSpec{
		X0:    minX,
		Y0:    minY,
		CellX: cellSize,
		CellY: cellSize,
		NX:    int(math.Ceil((maxX-minX)/cellSize)) + 1,
		NY:    int(math.Ceil((maxY-minY)/cellSize)) + 1,
	}, nil
}

// FitByGrid scans every cell of the grid, collects the observations within
// Radius of the cell center, and fits OLS when the neighbor count meets the
// minimum. Results come back row-major, one CoefficientSet per cell.
func FitByGrid(ctx context.Context, crs model.CRS, obs []model.Observation, opts GridOptions) ([]model.CoefficientSet, error) {
	opts.defaults()
	if opts.Radius <= 0 {
		return nil, eris.New("partition: grid radius must be positive")
	}
	if opts.Spec.Cells() == 0 {
		return nil, eris.New("partition: empty grid spec")
	}

	pts := make([]spatial.Point, len(obs))
	for i, o := range obs {
		pts[i] = spatial.Point{X: o.X, Y: o.Y}
	}
	idx := spatial.NewIndex(crs, pts, opts.Radius)

	results := make([]model.CoefficientSet, opts.Spec.Cells())
	var mu sync.Mutex
	var fitted, missing int

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for iy := 0; iy < opts.Spec.NY; iy++ {
		g.Go(func() error {
			for ix := 0; ix < opts.Spec.NX; ix++ {
				if err := ctx.Err(); err != nil {
					return err
				}

				cx, cy := opts.Spec.CellCenter(ix, iy)
				neighbors := idx.Within(cx, cy, opts.Radius)
				cs := fitSubset(obs, neighbors, CellKey(ix, iy), opts.MinObservations)

				mu.Lock()
				results[iy*opts.Spec.NX+ix] = cs
				if cs.Missing {
					missing++
				} else {
					fitted++
				}
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Info("partition: grid scan complete",
		zap.Int("cells", opts.Spec.Cells()),
		zap.Int("fitted", fitted),
		zap.Int("missing", missing),
	)
	return results, nil
}

// CoefficientSurface rasters one coefficient (by index into Coeffs) from a
// row-major grid result. Missing cells become NaN.
func CoefficientSurface(spec model.GridSpec, sets []model.CoefficientSet, coefIdx int, name string) (*model.Surface, error) {
	if len(sets) != spec.Cells() {
		return nil, eris.Errorf("partition: %d coefficient sets for %d cells", len(sets), spec.Cells())
	}

	values := make([]float64, len(sets))
	for i, cs := range sets {
		if cs.Missing || coefIdx >= len(cs.Coeffs) {
			values[i] = math.NaN()
			continue
		}
		values[i] = cs.Coeffs[coefIdx]
	}

	return &model.Surface{Name: name, Spec: spec, Values: values}, nil
}
