package gwr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatial-research/gwr-cli/internal/model"
	"github.com/spatial-research/gwr-cli/internal/spatial"
)

func TestParseKernel(t *testing.T) {
	k, err := ParseKernel("gauss")
	require.NoError(t, err)
	assert.Equal(t, KernelGauss, k)

	k, err = ParseKernel("bisquare")
	require.NoError(t, err)
	assert.Equal(t, KernelBisquare, k)

	_, err = ParseKernel("tricube")
	require.Error(t, err)
}

func TestKernelWeights(t *testing.T) {
	assert.InDelta(t, 1.0, KernelGauss.Weight(0, 10), 1e-12)
	assert.Greater(t, KernelGauss.Weight(1, 10), KernelGauss.Weight(5, 10))
	assert.Greater(t, KernelGauss.Weight(100, 10), 0.0, "gaussian tail stays positive")

	assert.InDelta(t, 1.0, KernelBisquare.Weight(0, 10), 1e-12)
	assert.Zero(t, KernelBisquare.Weight(10, 10))
	assert.Zero(t, KernelBisquare.Weight(50, 10))
	assert.Zero(t, KernelGauss.Weight(1, 0), "zero bandwidth gives zero weight")
}

// twoClusters builds observations in two distant clusters with different
// local slopes: y = 1 + 2x near the origin, y = 10 - 3x near (1000, 0).
func twoClusters() []model.Observation {
	var obs []model.Observation
	for i := 0; i < 10; i++ {
		v := float64(i)
		obs = append(obs, model.Observation{
			X: v * 0.5, Y: float64(i%3) * 0.5,
			Covariates: []float64{v},
			Response:   1 + 2*v,
		})
		obs = append(obs, model.Observation{
			X: 1000 + v*0.5, Y: float64(i%3) * 0.5,
			Covariates: []float64{v},
			Response:   10 - 3*v,
		})
	}
	return obs
}

func TestFitRecoversLocalSlopes(t *testing.T) {
	obs := twoClusters()
	evalPts := []spatial.Point{{X: 2, Y: 0}, {X: 1002, Y: 0}}

	res, err := Fit(model.CRSPlanar, obs, evalPts, Options{Kernel: KernelBisquare, Bandwidth: 50})
	require.NoError(t, err)
	require.Len(t, res.Points, 2)

	left, right := res.Points[0], res.Points[1]
	require.False(t, left.Missing)
	require.False(t, right.Missing)
	require.Len(t, left.Coeffs, 2)

	assert.InDelta(t, 1.0, left.Coeffs[0], 1e-6)
	assert.InDelta(t, 2.0, left.Coeffs[1], 1e-6)
	assert.InDelta(t, 10.0, right.Coeffs[0], 1e-6)
	assert.InDelta(t, -3.0, right.Coeffs[1], 1e-6)
}

func TestFitMarksUnreachablePointMissing(t *testing.T) {
	obs := twoClusters()
	// Far from every observation; bisquare weights are all zero there.
	evalPts := []spatial.Point{{X: 50000, Y: 50000}}

	res, err := Fit(model.CRSPlanar, obs, evalPts, Options{Kernel: KernelBisquare, Bandwidth: 50})
	require.NoError(t, err)
	require.Len(t, res.Points, 1)
	assert.True(t, res.Points[0].Missing)
	assert.Nil(t, res.Points[0].Coeffs)
}

func TestFitNoObservations(t *testing.T) {
	_, err := Fit(model.CRSPlanar, nil, nil, Options{})
	require.Error(t, err)
}

func TestSelectBandwidth(t *testing.T) {
	obs := twoClusters()

	bw, rmse, err := SelectBandwidth(model.CRSPlanar, obs, KernelGauss)
	require.NoError(t, err)
	assert.Greater(t, bw, 0.0)
	assert.False(t, math.IsInf(rmse, 1))

	// The two regimes are ~1000 units apart; a bandwidth mixing them would
	// blow up the CV error, so selection must stay well below that.
	assert.Less(t, bw, 500.0)

	// Selection is deterministic.
	bw2, _, err := SelectBandwidth(model.CRSPlanar, obs, KernelGauss)
	require.NoError(t, err)
	assert.Equal(t, bw, bw2)
}

func TestSelectBandwidthTooFew(t *testing.T) {
	_, _, err := SelectBandwidth(model.CRSPlanar, nil, KernelGauss)
	require.Error(t, err)
}

func TestSelectBandwidthCoincidentObservations(t *testing.T) {
	obs := make([]model.Observation, 5)
	for i := range obs {
		obs[i] = model.Observation{
			X: 3, Y: 7,
			Covariates: []float64{float64(i)},
			Response:   float64(i),
		}
	}

	_, _, err := SelectBandwidth(model.CRSPlanar, obs, KernelGauss)
	require.Error(t, err)

	// A fit that needs bandwidth selection must refuse the same input
	// rather than proceed with zero kernel weights everywhere.
	_, err = Fit(model.CRSPlanar, obs, []spatial.Point{{X: 3, Y: 7}}, Options{})
	require.Error(t, err)
}

func TestSelectBandwidthTwoSitesFallsBackToDiagonal(t *testing.T) {
	// All positive pairwise distances equal the extent diagonal, so the
	// golden-section interval is empty and the diagonal itself is used.
	var obs []model.Observation
	for i := 0; i < 3; i++ {
		v := float64(i)
		obs = append(obs,
			model.Observation{X: 0, Y: 0, Covariates: []float64{v}, Response: v},
			model.Observation{X: 10, Y: 0, Covariates: []float64{v}, Response: 2 * v},
		)
	}

	bw, _, err := SelectBandwidth(model.CRSPlanar, obs, KernelGauss)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, bw, 1e-12)
}

func TestAtObservations(t *testing.T) {
	obs := twoClusters()
	res, err := AtObservations(model.CRSPlanar, obs, Options{Kernel: KernelGauss, Bandwidth: 30})
	require.NoError(t, err)
	assert.Len(t, res.Points, len(obs))
	assert.Equal(t, 30.0, res.Bandwidth)
	assert.Zero(t, res.CVRMSE, "no CV ran for a fixed bandwidth")
}
