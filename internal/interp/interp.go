// Package interp implements the precipitation-surface interpolators the
// analyses compare: a null model, polynomial trend surfaces, inverse distance
// weighting, and nearest-neighbor averaging, each rasterizable onto a grid
// and scoreable by k-fold cross-validation.
package interp

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"

	"github.com/spatial-research/gwr-cli/internal/model"
	"github.com/spatial-research/gwr-cli/internal/regress"
	"github.com/spatial-research/gwr-cli/internal/spatial"
)

// Sample is one observed value at a coordinate.
type Sample struct {
	X, Y, V float64
}

// Interpolator predicts a value at an arbitrary coordinate.
type Interpolator interface {
	Name() string
	Predict(x, y float64) float64
}

// Null predicts the global mean everywhere. It is the baseline every other
// interpolator has to beat.
type Null struct {
	mean float64
}

// NewNull builds the null model.
func NewNull(samples []Sample) (*Null, error) {
	if len(samples) == 0 {
		return nil, eris.New("interp: no samples")
	}
	vs := make([]float64, len(samples))
	for i, s := range samples {
		vs[i] = s.V
	}
	return &Null{mean: stat.Mean(vs, nil)}, nil
}

func (n *Null) Name() string                { return "null" }
func (n *Null) Predict(x, y float64) float64 { return n.mean }

// Trend is a polynomial trend surface: value regressed on powers of the
// coordinates up to the given degree.
type Trend struct {
	degree int
	coeffs []float64
}

// NewTrend fits a trend surface of the given degree (1 = plane).
func NewTrend(samples []Sample, degree int) (*Trend, error) {
	if degree < 1 {
		return nil, eris.New("interp: trend degree must be at least 1")
	}
	x := make([][]float64, len(samples))
	y := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = polyTerms(s.X, s.Y, degree)
		y[i] = s.V
	}
	fit, err := regress.OLS(x, y)
	if err != nil {
		return nil, eris.Wrap(err, "interp: fit trend surface")
	}
	return &Trend{degree: degree, coeffs: fit.Coeffs}, nil
}

func (t *Trend) Name() string { return "trend" }

func (t *Trend) Predict(x, y float64) float64 {
	return regress.Predict(t.coeffs, polyTerms(x, y, t.degree))
}

// polyTerms expands (x, y) into all monomials x^i y^j with 1 <= i+j <= degree.
func polyTerms(x, y float64, degree int) []float64 {
	var terms []float64
	for total := 1; total <= degree; total++ {
		for i := 0; i <= total; i++ {
			terms = append(terms, math.Pow(x, float64(total-i))*math.Pow(y, float64(i)))
		}
	}
	return terms
}

// IDW is inverse distance weighting over the k nearest samples (k = 0 uses
// all samples). An exact coordinate hit returns the sample value.
type IDW struct {
	crs     model.CRS
	samples []Sample
	idx     *spatial.Index
	power   float64
	k       int
}

// NewIDW builds an IDW interpolator with the given power (2 is customary).
func NewIDW(crs model.CRS, samples []Sample, power float64, k int) (*IDW, error) {
	if len(samples) == 0 {
		return nil, eris.New("interp: no samples")
	}
	if power <= 0 {
		return nil, eris.New("interp: IDW power must be positive")
	}
	pts := make([]spatial.Point, len(samples))
	for i, s := range samples {
		pts[i] = spatial.Point{X: s.X, Y: s.Y}
	}
	return &IDW{
		crs:     crs,
		samples: samples,
		idx:     spatial.NewIndex(crs, pts, 1),
		power:   power,
		k:       k,
	}, nil
}

func (w *IDW) Name() string { return "idw" }

func (w *IDW) Predict(x, y float64) float64 {
	idxs := w.neighborIdxs(x, y)
	var num, den float64
	for _, i := range idxs {
		s := w.samples[i]
		d := spatial.Distance(w.crs, x, y, s.X, s.Y)
		if d == 0 {
			return s.V
		}
		wt := 1 / math.Pow(d, w.power)
		num += wt * s.V
		den += wt
	}
	return num / den
}

func (w *IDW) neighborIdxs(x, y float64) []int {
	if w.k > 0 && w.k < len(w.samples) {
		return w.idx.KNearest(x, y, w.k)
	}
	all := make([]int, len(w.samples))
	for i := range all {
		all[i] = i
	}
	return all
}

// Nearest averages the k nearest sample values (a proximity polygon surface
// when k = 1).
type Nearest struct {
	crs     model.CRS
	samples []Sample
	idx     *spatial.Index
	k       int
}

// NewNearest builds a k-nearest-neighbor interpolator.
func NewNearest(crs model.CRS, samples []Sample, k int) (*Nearest, error) {
	if len(samples) == 0 {
		return nil, eris.New("interp: no samples")
	}
	if k < 1 {
		return nil, eris.New("interp: nearest needs k >= 1")
	}
	pts := make([]spatial.Point, len(samples))
	for i, s := range samples {
		pts[i] = spatial.Point{X: s.X, Y: s.Y}
	}
	return &Nearest{crs: crs, samples: samples, idx: spatial.NewIndex(crs, pts, 1), k: k}, nil
}

func (n *Nearest) Name() string { return "nearest" }

func (n *Nearest) Predict(x, y float64) float64 {
	idxs := n.idx.KNearest(x, y, n.k)
	var sum float64
	for _, i := range idxs {
		sum += n.samples[i].V
	}
	return sum / float64(len(idxs))
}

// Raster evaluates the interpolator at every cell center of the grid.
func Raster(itp Interpolator, spec model.GridSpec) *model.Surface {
	values := make([]float64, spec.Cells())
	for iy := 0; iy < spec.NY; iy++ {
		for ix := 0; ix < spec.NX; ix++ {
			x, y := spec.CellCenter(ix, iy)
			values[iy*spec.NX+ix] = itp.Predict(x, y)
		}
	}
	return &model.Surface{Name: itp.Name(), Spec: spec, Values: values}
}
