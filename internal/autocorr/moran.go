// Package autocorr measures spatial autocorrelation. Moran's I over model
// residuals is the usual check that a regression has not left spatial
// structure on the table.
package autocorr

import (
	"math/rand/v2"

	"github.com/rotisserie/eris"

	"github.com/spatial-research/gwr-cli/internal/model"
	"github.com/spatial-research/gwr-cli/internal/spatial"
)

// Weights is a row-standardized spatial weights matrix in sparse form:
// nbr[i] lists the neighbor indices of observation i and w[i] their weights.
type Weights struct {
	nbr [][]int
	w   [][]float64
}

// DistanceBand builds weights where points within the band distance are
// neighbors with equal weight, row-standardized. Isolated points get an
// empty row.
func DistanceBand(crs model.CRS, pts []spatial.Point, band float64) (*Weights, error) {
	if band <= 0 {
		return nil, eris.New("autocorr: band must be positive")
	}
	idx := spatial.NewIndex(crs, pts, band)

	wts := &Weights{nbr: make([][]int, len(pts)), w: make([][]float64, len(pts))}
	for i, p := range pts {
		for _, j := range idx.Within(p.X, p.Y, band) {
			if j == i {
				continue
			}
			wts.nbr[i] = append(wts.nbr[i], j)
		}
		wts.standardizeRow(i)
	}
	return wts, nil
}

// KNN builds weights from the k nearest neighbors of each point,
// row-standardized.
func KNN(crs model.CRS, pts []spatial.Point, k int) (*Weights, error) {
	if k < 1 {
		return nil, eris.New("autocorr: k must be at least 1")
	}
	if k >= len(pts) {
		return nil, eris.Errorf("autocorr: k=%d with only %d points", k, len(pts))
	}
	idx := spatial.NewIndex(crs, pts, 1)

	wts := &Weights{nbr: make([][]int, len(pts)), w: make([][]float64, len(pts))}
	for i, p := range pts {
		// Query one extra and drop self, which sorts first at distance zero.
		for _, j := range idx.KNearest(p.X, p.Y, k+1) {
			if j == i {
				continue
			}
			wts.nbr[i] = append(wts.nbr[i], j)
			if len(wts.nbr[i]) == k {
				break
			}
		}
		wts.standardizeRow(i)
	}
	return wts, nil
}

func (wts *Weights) standardizeRow(i int) {
	n := len(wts.nbr[i])
	if n == 0 {
		return
	}
	wts.w[i] = make([]float64, n)
	for j := range wts.w[i] {
		wts.w[i][j] = 1 / float64(n)
	}
}

// MoranI computes Moran's I and its expectation under spatial randomness.
func MoranI(values []float64, wts *Weights) (i, expected float64, err error) {
	n := len(values)
	if n < 2 {
		return 0, 0, eris.New("autocorr: need at least 2 values")
	}
	if len(wts.nbr) != n {
		return 0, 0, eris.Errorf("autocorr: %d weight rows for %d values", len(wts.nbr), n)
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)

	var s0, cross, ss float64
	for a := 0; a < n; a++ {
		za := values[a] - mean
		ss += za * za
		for b, nb := range wts.nbr[a] {
			w := wts.w[a][b]
			s0 += w
			cross += w * za * (values[nb] - mean)
		}
	}
	if ss == 0 || s0 == 0 {
		return 0, 0, eris.New("autocorr: degenerate input (constant values or no neighbors)")
	}

	return (float64(n) / s0) * (cross / ss), -1 / float64(n-1), nil
}

// PermutationTest computes Moran's I with a pseudo p-value from seeded
// random permutations of the values over the fixed weight structure.
func PermutationTest(values []float64, wts *Weights, perms int, seed uint64) (*model.MoranResult, error) {
	if perms < 1 {
		return nil, eris.New("autocorr: need at least 1 permutation")
	}

	obs, expected, err := MoranI(values, wts)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(seed, 0))
	shuffled := make([]float64, len(values))
	copy(shuffled, values)

	extreme := 0
	for p := 0; p < perms; p++ {
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		pi, _, err := MoranI(shuffled, wts)
		if err != nil {
			return nil, eris.Wrapf(err, "autocorr: permutation %d", p)
		}
		// One-sided in the direction of the observed departure.
		if obs >= expected && pi >= obs {
			extreme++
		} else if obs < expected && pi <= obs {
			extreme++
		}
	}

	return &model.MoranResult{
		I:        obs,
		Expected: expected,
		PValue:   float64(extreme+1) / float64(perms+1),
		Perms:    perms,
	}, nil
}
