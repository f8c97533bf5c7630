package spatial

import (
	"math"
	"sort"

	"github.com/spatial-research/gwr-cli/internal/model"
)

// Point is a coordinate pair in a dataset's reference frame.
type Point struct {
	X, Y float64
}

// Index buckets points into a uniform cell grid for fixed-radius neighbor
// queries. The grid-cell scan issues one query per raster cell, so lookups
// must not rescan the whole table each time.
type Index struct {
	crs   model.CRS
	pts   []Point
	cellW float64
	cellH float64
	cells map[[2]int][]int
}

// NewIndex builds an index sized for queries around the given radius. The
// radius must be in the dataset's distance units (km for lonlat).
func NewIndex(crs model.CRS, pts []Point, radius float64) *Index {
	// Cell dimensions follow the radius at the mid-latitude of the data so a
	// radius query touches a small fixed band of cells.
	midY := 0.0
	if len(pts) > 0 {
		minY, maxY := pts[0].Y, pts[0].Y
		for _, p := range pts {
			minY = math.Min(minY, p.Y)
			maxY = math.Max(maxY, p.Y)
		}
		midY = (minY + maxY) / 2
	}
	cellW, cellH := radiusSpan(crs, radius, midY)
	if cellW <= 0 {
		cellW = 1
	}
	if cellH <= 0 {
		cellH = 1
	}

	idx := &Index{
		crs:   crs,
		pts:   pts,
		cellW: cellW,
		cellH: cellH,
		cells: make(map[[2]int][]int),
	}
	for i, p := range pts {
		key := idx.cellOf(p.X, p.Y)
		idx.cells[key] = append(idx.cells[key], i)
	}
	return idx
}

func (idx *Index) cellOf(x, y float64) [2]int {
	return [2]int{int(math.Floor(x / idx.cellW)), int(math.Floor(y / idx.cellH))}
}

// Within returns the indices of all points within radius of (x, y),
// unordered.
func (idx *Index) Within(x, y, radius float64) []int {
	dx, dy := radiusSpan(idx.crs, radius, y)
	minC := idx.cellOf(x-dx, y-dy)
	maxC := idx.cellOf(x+dx, y+dy)

	var out []int
	for cx := minC[0]; cx <= maxC[0]; cx++ {
		for cy := minC[1]; cy <= maxC[1]; cy++ {
			for _, i := range idx.cells[[2]int{cx, cy}] {
				p := idx.pts[i]
				if Distance(idx.crs, x, y, p.X, p.Y) <= radius {
					out = append(out, i)
				}
			}
		}
	}
	return out
}

// KNearest returns the indices of the k points nearest to (x, y), closest
// first. A full scan is deliberate: k-NN weight matrices are built once per
// run, and the expanding-ring bookkeeping is not worth it at these sizes.
func (idx *Index) KNearest(x, y float64, k int) []int {
	if k <= 0 || len(idx.pts) == 0 {
		return nil
	}

	type cand struct {
		i int
		d float64
	}
	cands := make([]cand, len(idx.pts))
	for i, p := range idx.pts {
		cands[i] = cand{i: i, d: Distance(idx.crs, x, y, p.X, p.Y)}
	}
	sort.Slice(cands, func(a, b int) bool { return cands[a].d < cands[b].d })

	if k > len(cands) {
		k = len(cands)
	}
	out := make([]int, k)
	for i := range k {
		out[i] = cands[i].i
	}
	return out
}

// Extent returns the bounding box of the indexed points.
func (idx *Index) Extent() (minX, minY, maxX, maxY float64) {
	if len(idx.pts) == 0 {
		return 0, 0, 0, 0
	}
	minX, minY = idx.pts[0].X, idx.pts[0].Y
	maxX, maxY = minX, minY
	for _, p := range idx.pts {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return minX, minY, maxX, maxY
}
