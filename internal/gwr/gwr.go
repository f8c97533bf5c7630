package gwr

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/spatial-research/gwr-cli/internal/model"
	"github.com/spatial-research/gwr-cli/internal/regress"
	"github.com/spatial-research/gwr-cli/internal/spatial"
)

// Options configures a GWR fit.
type Options struct {
	Kernel    Kernel
	Bandwidth float64 // distance units of the dataset; 0 selects by CV
}

// PointFit is the local model at one evaluation point. Missing marks points
// whose local design was unsolvable (all weight on too few observations).
type PointFit struct {
	X       float64   `json:"x"`
	Y       float64   `json:"y"`
	Coeffs  []float64 `json:"coeffs,omitempty"`
	R2      float64   `json:"r2,omitempty"`
	Missing bool      `json:"missing"`
}

// Result is a complete GWR surface: one local fit per evaluation point plus
// the bandwidth actually used.
type Result struct {
	Bandwidth float64    `json:"bandwidth"`
	CVRMSE    float64    `json:"cv_rmse,omitempty"` // set when bandwidth was selected
	Points    []PointFit `json:"points"`
}

// Fit runs GWR over the observations, evaluating local models at evalPts.
// When opts.Bandwidth is zero a bandwidth is first selected by leave-one-out
// cross-validation at the observation points.
func Fit(crs model.CRS, obs []model.Observation, evalPts []spatial.Point, opts Options) (*Result, error) {
	if len(obs) == 0 {
		return nil, eris.New("gwr: no observations")
	}
	if opts.Kernel == "" {
		opts.Kernel = KernelGauss
	}

	res := &Result{Bandwidth: opts.Bandwidth}
	if opts.Bandwidth <= 0 {
		bw, rmse, err := SelectBandwidth(crs, obs, opts.Kernel)
		if err != nil {
			return nil, err
		}
		res.Bandwidth = bw
		res.CVRMSE = rmse
		zap.L().Info("gwr: bandwidth selected by cross-validation",
			zap.Float64("bandwidth", bw),
			zap.Float64("cv_rmse", rmse),
		)
	}

	x := make([][]float64, len(obs))
	y := make([]float64, len(obs))
	for i, o := range obs {
		x[i] = o.Covariates
		y[i] = o.Response
	}

	res.Points = make([]PointFit, len(evalPts))
	for i, pt := range evalPts {
		w := make([]float64, len(obs))
		for j, o := range obs {
			d := spatial.Distance(crs, pt.X, pt.Y, o.X, o.Y)
			w[j] = opts.Kernel.Weight(d, res.Bandwidth)
		}

		pf := PointFit{X: pt.X, Y: pt.Y}
		fit, err := regress.WLS(x, y, w)
		if err != nil {
			pf.Missing = true
		} else {
			pf.Coeffs = fit.Coeffs
			pf.R2 = fit.R2
		}
		res.Points[i] = pf
	}

	return res, nil
}

// AtObservations is a convenience wrapper evaluating the local models at the
// observation sites themselves.
func AtObservations(crs model.CRS, obs []model.Observation, opts Options) (*Result, error) {
	pts := make([]spatial.Point, len(obs))
	for i, o := range obs {
		pts[i] = spatial.Point{X: o.X, Y: o.Y}
	}
	return Fit(crs, obs, pts, opts)
}
