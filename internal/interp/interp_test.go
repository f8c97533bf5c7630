package interp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatial-research/gwr-cli/internal/model"
)

// planeSamples draws samples from v = 10 + 2x - y on a small lattice.
func planeSamples() []Sample {
	var out []Sample
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			x, y := float64(i), float64(j)
			out = append(out, Sample{X: x, Y: y, V: 10 + 2*x - y})
		}
	}
	return out
}

func TestNull(t *testing.T) {
	samples := []Sample{{0, 0, 2}, {1, 0, 4}, {2, 0, 6}}
	n, err := NewNull(samples)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, n.Predict(100, 100), 1e-12)
	assert.Equal(t, "null", n.Name())

	_, err = NewNull(nil)
	require.Error(t, err)
}

func TestTrendRecoversPlane(t *testing.T) {
	tr, err := NewTrend(planeSamples(), 1)
	require.NoError(t, err)

	assert.InDelta(t, 10.0, tr.Predict(0, 0), 1e-6)
	assert.InDelta(t, 10+2*8-3, tr.Predict(8, 3), 1e-6, "extrapolates the plane")
}

func TestTrendDegreeTwoFitsCurvature(t *testing.T) {
	var samples []Sample
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			x, y := float64(i), float64(j)
			samples = append(samples, Sample{X: x, Y: y, V: 1 + x*x - 0.5*x*y})
		}
	}
	tr, err := NewTrend(samples, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1+9-0.5*3*2, tr.Predict(3, 2), 1e-6)

	_, err = NewTrend(samples, 0)
	require.Error(t, err)
}

func TestPolyTermsCount(t *testing.T) {
	// degree 1: x, y. degree 2: + x², xy, y².
	assert.Len(t, polyTerms(1, 1, 1), 2)
	assert.Len(t, polyTerms(1, 1, 2), 5)
	assert.Len(t, polyTerms(1, 1, 3), 9)
}

func TestIDWExactHitAndBetweenness(t *testing.T) {
	samples := []Sample{{0, 0, 10}, {10, 0, 20}}
	w, err := NewIDW(model.CRSPlanar, samples, 2, 0)
	require.NoError(t, err)

	assert.Equal(t, 10.0, w.Predict(0, 0), "exact hit returns the sample")
	mid := w.Predict(5, 0)
	assert.InDelta(t, 15.0, mid, 1e-9, "midpoint of two equidistant samples")

	near := w.Predict(1, 0)
	assert.Greater(t, near, 10.0)
	assert.Less(t, near, 15.0, "skewed toward the closer sample")
}

func TestIDWKNearestSubset(t *testing.T) {
	samples := []Sample{{0, 0, 0}, {1, 0, 0}, {100, 0, 1000}}
	w, err := NewIDW(model.CRSPlanar, samples, 2, 2)
	require.NoError(t, err)
	// With k=2 the distant high-value sample is never consulted near origin.
	assert.InDelta(t, 0.0, w.Predict(0.5, 0), 1e-9)
}

func TestIDWValidation(t *testing.T) {
	_, err := NewIDW(model.CRSPlanar, nil, 2, 0)
	require.Error(t, err)
	_, err = NewIDW(model.CRSPlanar, []Sample{{0, 0, 1}}, 0, 0)
	require.Error(t, err)
}

func TestNearest(t *testing.T) {
	samples := []Sample{{0, 0, 5}, {10, 0, 9}, {20, 0, 100}}
	n1, err := NewNearest(model.CRSPlanar, samples, 1)
	require.NoError(t, err)
	assert.Equal(t, 5.0, n1.Predict(2, 0))
	assert.Equal(t, 9.0, n1.Predict(8, 0))

	n2, err := NewNearest(model.CRSPlanar, samples, 2)
	require.NoError(t, err)
	assert.InDelta(t, 7.0, n2.Predict(5, 0), 1e-12)

	_, err = NewNearest(model.CRSPlanar, samples, 0)
	require.Error(t, err)
}

func TestRaster(t *testing.T) {
	samples := planeSamples()
	tr, err := NewTrend(samples, 1)
	require.NoError(t, err)

	spec := model.GridSpec{X0: 0, Y0: 0, CellX: 1, CellY: 1, NX: 3, NY: 2}
	surf := Raster(tr, spec)
	require.Len(t, surf.Values, 6)
	assert.Equal(t, "trend", surf.Name)

	// Cell (1, 0) center is (1.5, 0.5): v = 10 + 3 - 0.5.
	assert.InDelta(t, 12.5, surf.Values[1], 1e-6)
}

func TestCrossValidateRanksTrendAboveNull(t *testing.T) {
	samples := planeSamples()

	nullRMSE, err := CrossValidate(samples, 5, 42, func(train []Sample) (Interpolator, error) {
		return NewNull(train)
	})
	require.NoError(t, err)

	trendRMSE, err := CrossValidate(samples, 5, 42, func(train []Sample) (Interpolator, error) {
		return NewTrend(train, 1)
	})
	require.NoError(t, err)

	assert.Less(t, trendRMSE, nullRMSE, "trend surface must beat the null model on planar data")
	assert.InDelta(t, 0, trendRMSE, 1e-6, "plane is exactly recoverable")
}

func TestCrossValidateDeterministic(t *testing.T) {
	samples := planeSamples()
	build := func(train []Sample) (Interpolator, error) { return NewIDW(model.CRSPlanar, train, 2, 0) }

	a, err := CrossValidate(samples, 4, 7, build)
	require.NoError(t, err)
	b, err := CrossValidate(samples, 4, 7, build)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.False(t, math.IsNaN(a))
}

func TestCrossValidateValidation(t *testing.T) {
	_, err := CrossValidate(planeSamples(), 1, 0, func([]Sample) (Interpolator, error) { return nil, nil })
	require.Error(t, err)

	_, err = CrossValidate([]Sample{{0, 0, 1}}, 2, 0, func([]Sample) (Interpolator, error) { return nil, nil })
	require.Error(t, err)
}
