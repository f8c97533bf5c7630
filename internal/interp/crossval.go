package interp

import (
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
)

// Builder constructs an interpolator from a training subset.
type Builder func(train []Sample) (Interpolator, error)

// CrossValidate scores a builder by k-fold cross-validated RMSE. The fold
// assignment is a seeded shuffle so scores are reproducible.
func CrossValidate(samples []Sample, folds int, seed uint64, build Builder) (float64, error) {
	if folds < 2 {
		return 0, eris.New("interp: need at least 2 folds")
	}
	if len(samples) < folds {
		return 0, eris.Errorf("interp: %d samples cannot fill %d folds", len(samples), folds)
	}

	perm := rand.New(rand.NewPCG(seed, 0)).Perm(len(samples))

	var sse float64
	var n int
	for f := 0; f < folds; f++ {
		var train, test []Sample
		for i, p := range perm {
			if i%folds == f {
				test = append(test, samples[p])
			} else {
				train = append(train, samples[p])
			}
		}

		itp, err := build(train)
		if err != nil {
			return 0, eris.Wrapf(err, "interp: fold %d", f)
		}
		for _, s := range test {
			r := s.V - itp.Predict(s.X, s.Y)
			sse += r * r
			n++
		}
	}

	return math.Sqrt(sse / float64(n)), nil
}
