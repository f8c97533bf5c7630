package gwr

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/spatial-research/gwr-cli/internal/model"
	"github.com/spatial-research/gwr-cli/internal/regress"
	"github.com/spatial-research/gwr-cli/internal/spatial"
)

const goldenRatio = 0.6180339887498949

// SelectBandwidth picks the bandwidth minimizing the leave-one-out CV RMSE,
// searching by golden section between the first decile of pairwise distances
// and the diagonal of the data extent. Returns the bandwidth and its score.
func SelectBandwidth(crs model.CRS, obs []model.Observation, kernel Kernel) (float64, float64, error) {
	if len(obs) < 3 {
		return 0, 0, eris.New("gwr: need at least 3 observations to select a bandwidth")
	}

	lo, hi := searchInterval(crs, obs)
	if hi <= 0 {
		// All observations coincident: there is no spatial structure to
		// weight by, and any bandwidth would zero every kernel.
		return 0, 0, eris.New("gwr: observations are spatially coincident, cannot select a bandwidth")
	}
	if !(hi > lo) {
		// Degenerate spacing (every pairwise distance equals the extent
		// diagonal): use the diagonal so every observation keeps weight.
		return hi, math.Inf(1), nil
	}

	score := func(bw float64) float64 { return cvRMSE(crs, obs, kernel, bw) }

	a, b := lo, hi
	c := b - goldenRatio*(b-a)
	d := a + goldenRatio*(b-a)
	fc, fd := score(c), score(d)
	for range 40 {
		if b-a < (hi-lo)*1e-3 {
			break
		}
		if fc < fd {
			b, d, fd = d, c, fc
			c = b - goldenRatio*(b-a)
			fc = score(c)
		} else {
			a, c, fc = c, d, fd
			d = a + goldenRatio*(b-a)
			fd = score(d)
		}
	}

	bw := (a + b) / 2
	return bw, score(bw), nil
}

// cvRMSE is the leave-one-out cross-validation score for one bandwidth.
// Observations whose local model cannot be fit make the bandwidth infeasible.
func cvRMSE(crs model.CRS, obs []model.Observation, kernel Kernel, bw float64) float64 {
	x := make([][]float64, len(obs))
	y := make([]float64, len(obs))
	for i, o := range obs {
		x[i] = o.Covariates
		y[i] = o.Response
	}

	var sse float64
	for i, o := range obs {
		w := make([]float64, len(obs))
		for j, p := range obs {
			if j == i {
				continue // leave self out
			}
			d := spatial.Distance(crs, o.X, o.Y, p.X, p.Y)
			w[j] = kernel.Weight(d, bw)
		}

		fit, err := regress.WLS(x, y, w)
		if err != nil {
			return math.Inf(1)
		}
		r := o.Response - regress.Predict(fit.Coeffs, o.Covariates)
		sse += r * r
	}
	return math.Sqrt(sse / float64(len(obs)))
}

// searchInterval returns the bandwidth search bounds: the first decile of
// pairwise distances and the extent diagonal.
func searchInterval(crs model.CRS, obs []model.Observation) (lo, hi float64) {
	dists := make([]float64, 0, len(obs)*(len(obs)-1)/2)
	minX, minY := obs[0].X, obs[0].Y
	maxX, maxY := minX, minY
	for i := range obs {
		minX = math.Min(minX, obs[i].X)
		minY = math.Min(minY, obs[i].Y)
		maxX = math.Max(maxX, obs[i].X)
		maxY = math.Max(maxY, obs[i].Y)
		for j := i + 1; j < len(obs); j++ {
			d := spatial.Distance(crs, obs[i].X, obs[i].Y, obs[j].X, obs[j].Y)
			if d > 0 {
				dists = append(dists, d)
			}
		}
	}

	hi = spatial.Distance(crs, minX, minY, maxX, maxY)
	if len(dists) == 0 {
		return 0, hi
	}
	sort.Float64s(dists)
	lo = dists[len(dists)/10]
	return lo, hi
}
