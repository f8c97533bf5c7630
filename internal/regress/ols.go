// Package regress implements the least-squares estimators the analyses share:
// ordinary and weighted fits with an intercept term.
package regress

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrTooFewObservations is returned when a partition has fewer rows than
// parameters. Callers record the partition as missing rather than failing
// the run.
var ErrTooFewObservations = eris.New("regress: too few observations")

// ErrDegenerate is returned when the design matrix is singular, e.g. a
// covariate constant within a partition.
var ErrDegenerate = eris.New("regress: degenerate design matrix")

// Fit holds a fitted linear model. Coeffs is the intercept followed by one
// slope per covariate, in schema order.
type Fit struct {
	Coeffs    []float64 `json:"coeffs"`
	Fitted    []float64 `json:"fitted,omitempty"`
	Residuals []float64 `json:"residuals,omitempty"`
	R2        float64   `json:"r2"`
	N         int       `json:"n"`
}

// OLS fits response ~ intercept + covariates by ordinary least squares.
// Each row of x holds the covariates for one observation.
func OLS(x [][]float64, y []float64) (*Fit, error) {
	return WLS(x, y, nil)
}

// WLS fits a weighted least-squares model. A nil weight slice means unit
// weights. Weights are applied as sqrt(w) row scaling, so zero-weight rows
// drop out of the normal equations.
func WLS(x [][]float64, y []float64, w []float64) (*Fit, error) {
	n := len(y)
	if n == 0 || len(x) != n {
		return nil, eris.Errorf("regress: mismatched rows: %d covariate rows, %d responses", len(x), n)
	}
	if w != nil && len(w) != n {
		return nil, eris.Errorf("regress: %d weights for %d observations", len(w), n)
	}
	p := len(x[0]) + 1 // intercept + slopes
	if n < p {
		return nil, ErrTooFewObservations
	}

	design := mat.NewDense(n, p, nil)
	resp := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		if len(x[i]) != p-1 {
			return nil, eris.Errorf("regress: row %d has %d covariates, want %d", i, len(x[i]), p-1)
		}
		s := 1.0
		if w != nil {
			if w[i] < 0 {
				return nil, eris.Errorf("regress: negative weight at row %d", i)
			}
			s = sqrtf(w[i])
		}
		design.Set(i, 0, s)
		for j, v := range x[i] {
			design.Set(i, j+1, s*v)
		}
		resp.SetVec(i, s*y[i])
	}

	var beta mat.VecDense
	if err := beta.SolveVec(design, resp); err != nil {
		return nil, eris.Wrap(ErrDegenerate, err.Error())
	}

	coeffs := make([]float64, p)
	for j := 0; j < p; j++ {
		coeffs[j] = beta.AtVec(j)
	}

	fit := &Fit{Coeffs: coeffs, N: n}
	fit.Fitted = make([]float64, n)
	fit.Residuals = make([]float64, n)
	for i := 0; i < n; i++ {
		fit.Fitted[i] = Predict(coeffs, x[i])
		fit.Residuals[i] = y[i] - fit.Fitted[i]
	}
	fit.R2 = rSquared(y, fit.Fitted, w)

	return fit, nil
}

// Predict evaluates the model at one covariate vector.
func Predict(coeffs []float64, covariates []float64) float64 {
	v := coeffs[0]
	for j, c := range covariates {
		v += coeffs[j+1] * c
	}
	return v
}

// rSquared computes the (weighted) coefficient of determination.
func rSquared(y, fitted, w []float64) float64 {
	mean := stat.Mean(y, w)
	var ssr, sst float64
	for i := range y {
		wi := 1.0
		if w != nil {
			wi = w[i]
		}
		r := y[i] - fitted[i]
		d := y[i] - mean
		ssr += wi * r * r
		sst += wi * d * d
	}
	if sst == 0 {
		return 0
	}
	return 1 - ssr/sst
}

func sqrtf(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
