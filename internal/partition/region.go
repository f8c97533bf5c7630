// Package partition drives the "home-brew" local regression variants: one
// unweighted OLS fit per partition, where a partition is either a dissolved
// region or a fixed-radius neighborhood around a grid-cell center. Partitions
// below the minimum observation count are recorded as missing, never fitted.
package partition

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spatial-research/gwr-cli/internal/model"
	"github.com/spatial-research/gwr-cli/internal/regress"
)

// RegionOptions configures the per-region fit.
type RegionOptions struct {
	MinObservations int // partitions below this are missing (default 5)
	Concurrency     int // parallel fits (default 4)
}

func (o *RegionOptions) defaults() {
	if o.MinObservations <= 0 {
		o.MinObservations = 5
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
}

// GlobalFit fits one OLS model over all observations, keyed "global".
func GlobalFit(obs []model.Observation) (model.CoefficientSet, error) {
	x := make([][]float64, len(obs))
	y := make([]float64, len(obs))
	for i, o := range obs {
		x[i] = o.Covariates
		y[i] = o.Response
	}
	fit, err := regress.OLS(x, y)
	if err != nil {
		return model.CoefficientSet{}, err
	}
	return model.CoefficientSet{
		Partition: "global",
		Coeffs:    fit.Coeffs,
		R2:        fit.R2,
		N:         fit.N,
	}, nil
}

// FitByRegion fits one OLS model per assigned region. Unassigned
// observations (empty region name) are skipped. Results are sorted by
// region name, one entry per region that has any observations.
func FitByRegion(ctx context.Context, obs []model.Observation, opts RegionOptions) ([]model.CoefficientSet, error) {
	opts.defaults()

	byRegion := make(map[string][]int)
	for i, o := range obs {
		if o.Region == "" {
			continue
		}
		byRegion[o.Region] = append(byRegion[o.Region], i)
	}

	names := make([]string, 0, len(byRegion))
	for name := range byRegion {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]model.CoefficientSet, len(names))
	var mu sync.Mutex
	var missing int

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for slot, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			cs := fitSubset(obs, byRegion[name], name, opts.MinObservations)
			mu.Lock()
			results[slot] = cs
			if cs.Missing {
				missing++
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Info("partition: per-region fits complete",
		zap.Int("regions", len(names)),
		zap.Int("missing", missing),
	)
	return results, nil
}

// fitSubset fits OLS on the indexed subset. Too-few and degenerate designs
// become a missing partition; that is a modeling outcome, not a failure.
func fitSubset(obs []model.Observation, idx []int, key string, minObs int) model.CoefficientSet {
	cs := model.CoefficientSet{Partition: key, N: len(idx)}
	if len(idx) < minObs {
		cs.Missing = true
		return cs
	}

	x := make([][]float64, len(idx))
	y := make([]float64, len(idx))
	for i, j := range idx {
		x[i] = obs[j].Covariates
		y[i] = obs[j].Response
	}

	fit, err := regress.OLS(x, y)
	if err != nil {
		zap.L().Debug("partition: unfittable partition marked missing",
			zap.String("partition", key),
			zap.Int("n", len(idx)),
			zap.Error(err),
		)
		cs.Missing = true
		return cs
	}

	cs.Coeffs = fit.Coeffs
	cs.R2 = fit.R2
	return cs
}
