package autocorr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatial-research/gwr-cli/internal/model"
	"github.com/spatial-research/gwr-cli/internal/spatial"
)

// lattice returns points on an n x n unit lattice.
func lattice(n int) []spatial.Point {
	pts := make([]spatial.Point, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			pts = append(pts, spatial.Point{X: float64(i), Y: float64(j)})
		}
	}
	return pts
}

// gradientValues assigns a smooth west-to-east gradient, strongly
// positively autocorrelated.
func gradientValues(n int) []float64 {
	vals := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			vals = append(vals, float64(i))
		}
	}
	return vals
}

// checkerValues alternate signs between lattice neighbors, strongly
// negatively autocorrelated.
func checkerValues(n int) []float64 {
	vals := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if (i+j)%2 == 0 {
				vals = append(vals, 1)
			} else {
				vals = append(vals, -1)
			}
		}
	}
	return vals
}

func TestDistanceBandNeighbors(t *testing.T) {
	pts := lattice(3)
	wts, err := DistanceBand(model.CRSPlanar, pts, 1.01)
	require.NoError(t, err)

	// Corner point (0,0) has rook neighbors (1,0) and (0,1).
	assert.Len(t, wts.nbr[0], 2)
	// Center point (1,1) has 4 rook neighbors.
	assert.Len(t, wts.nbr[4], 4)
	// Rows are standardized.
	assert.InDelta(t, 0.25, wts.w[4][0], 1e-12)
}

func TestDistanceBandValidation(t *testing.T) {
	_, err := DistanceBand(model.CRSPlanar, lattice(2), 0)
	require.Error(t, err)
}

func TestKNNExcludesSelf(t *testing.T) {
	pts := lattice(3)
	wts, err := KNN(model.CRSPlanar, pts, 3)
	require.NoError(t, err)
	for i := range pts {
		require.Len(t, wts.nbr[i], 3)
		for _, j := range wts.nbr[i] {
			assert.NotEqual(t, i, j, "self must not be its own neighbor")
		}
	}
}

func TestKNNValidation(t *testing.T) {
	_, err := KNN(model.CRSPlanar, lattice(2), 0)
	require.Error(t, err)
	_, err = KNN(model.CRSPlanar, lattice(2), 4)
	require.Error(t, err)
}

func TestMoranIPositiveGradient(t *testing.T) {
	pts := lattice(6)
	wts, err := DistanceBand(model.CRSPlanar, pts, 1.01)
	require.NoError(t, err)

	i, expected, err := MoranI(gradientValues(6), wts)
	require.NoError(t, err)
	assert.InDelta(t, -1.0/35.0, expected, 1e-12)
	assert.Greater(t, i, 0.5, "smooth gradient is strongly positive")
}

func TestMoranINegativeCheckerboard(t *testing.T) {
	pts := lattice(6)
	wts, err := DistanceBand(model.CRSPlanar, pts, 1.01)
	require.NoError(t, err)

	i, _, err := MoranI(checkerValues(6), wts)
	require.NoError(t, err)
	assert.Less(t, i, -0.9, "checkerboard is strongly negative")
}

func TestMoranIConstantValues(t *testing.T) {
	pts := lattice(3)
	wts, err := DistanceBand(model.CRSPlanar, pts, 1.01)
	require.NoError(t, err)

	_, _, err = MoranI(make([]float64, 9), wts)
	require.Error(t, err)
}

func TestPermutationTestGradientSignificant(t *testing.T) {
	pts := lattice(6)
	wts, err := DistanceBand(model.CRSPlanar, pts, 1.01)
	require.NoError(t, err)

	res, err := PermutationTest(gradientValues(6), wts, 199, 7)
	require.NoError(t, err)
	assert.Greater(t, res.I, 0.5)
	assert.Less(t, res.PValue, 0.05, "gradient should reject randomness")
	assert.Equal(t, 199, res.Perms)
}

func TestPermutationTestDeterministic(t *testing.T) {
	pts := lattice(5)
	wts, err := KNN(model.CRSPlanar, pts, 4)
	require.NoError(t, err)

	a, err := PermutationTest(gradientValues(5), wts, 99, 3)
	require.NoError(t, err)
	b, err := PermutationTest(gradientValues(5), wts, 99, 3)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
