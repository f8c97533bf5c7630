// Package gwr implements geographically weighted regression: a local model
// is fit at each evaluation point with observations weighted by a
// distance-decay kernel, with the bandwidth either fixed or chosen by
// leave-one-out cross-validation.
package gwr

import (
	"math"

	"github.com/rotisserie/eris"
)

// Kernel names a distance-decay weighting function.
type Kernel string

const (
	// KernelGauss weights by exp(-0.5 (d/bw)^2); every observation keeps a
	// positive weight.
	KernelGauss Kernel = "gauss"
	// KernelBisquare weights by (1-(d/bw)^2)^2 inside the bandwidth and zero
	// beyond it.
	KernelBisquare Kernel = "bisquare"
)

// ParseKernel validates a kernel name from config or flags.
func ParseKernel(s string) (Kernel, error) {
	switch Kernel(s) {
	case KernelGauss:
		return KernelGauss, nil
	case KernelBisquare:
		return KernelBisquare, nil
	default:
		return "", eris.Errorf("gwr: unknown kernel %q", s)
	}
}

// Weight evaluates the kernel at distance d for the given bandwidth.
func (k Kernel) Weight(d, bandwidth float64) float64 {
	if bandwidth <= 0 {
		return 0
	}
	u := d / bandwidth
	switch k {
	case KernelBisquare:
		if u >= 1 {
			return 0
		}
		v := 1 - u*u
		return v * v
	default:
		return math.Exp(-0.5 * u * u)
	}
}
