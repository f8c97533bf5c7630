package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatial-research/gwr-cli/internal/model"
)

func TestResidualValuesFromGlobalFit(t *testing.T) {
	st := newHandlerStore(t)
	ctx := context.Background()

	ds, err := st.CreateDataset(ctx, model.Dataset{
		Name: "precip", CRS: model.CRSPlanar,
		XColumn: "x", YColumn: "y", CovariateCols: []string{"alt"}, ResponseCol: "jan",
	})
	require.NoError(t, err)

	// Responses follow y = 2 + 3*alt except the last site, which sits one
	// unit above the line.
	obs := []model.Observation{
		{DatasetID: ds.ID, X: 0, Y: 0, Covariates: []float64{1}, Response: 5},
		{DatasetID: ds.ID, X: 1, Y: 0, Covariates: []float64{2}, Response: 8},
		{DatasetID: ds.ID, X: 2, Y: 0, Covariates: []float64{3}, Response: 12},
	}
	_, err = st.InsertObservations(ctx, obs)
	require.NoError(t, err)

	run, err := st.CreateRun(ctx, ds.ID, model.AnalysisGlobalOLS, "")
	require.NoError(t, err)
	require.NoError(t, st.SaveCoefficients(ctx, []model.CoefficientSet{{
		RunID:     run.ID,
		Partition: "global",
		Coeffs:    []float64{2, 3},
		R2:        0.99,
		N:         3,
	}}))

	values, err := residualValues(ctx, st, ds, obs, run.ID)
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.InDelta(t, 0.0, values[0], 1e-12)
	assert.InDelta(t, 0.0, values[1], 1e-12)
	assert.InDelta(t, 1.0, values[2], 1e-12)
}

func TestResidualValuesRejectsForeignRun(t *testing.T) {
	st := newHandlerStore(t)
	ctx := context.Background()

	ds1, err := st.CreateDataset(ctx, model.Dataset{
		Name: "a", CRS: model.CRSPlanar,
		XColumn: "x", YColumn: "y", CovariateCols: []string{"c"}, ResponseCol: "r",
	})
	require.NoError(t, err)
	ds2, err := st.CreateDataset(ctx, model.Dataset{
		Name: "b", CRS: model.CRSPlanar,
		XColumn: "x", YColumn: "y", CovariateCols: []string{"c"}, ResponseCol: "r",
	})
	require.NoError(t, err)

	run, err := st.CreateRun(ctx, ds2.ID, model.AnalysisGlobalOLS, "")
	require.NoError(t, err)

	_, err = residualValues(ctx, st, ds1, nil, run.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different dataset")
}

func TestResidualValuesRequiresGlobalSet(t *testing.T) {
	st := newHandlerStore(t)
	ctx := context.Background()

	ds, err := st.CreateDataset(ctx, model.Dataset{
		Name: "c", CRS: model.CRSPlanar,
		XColumn: "x", YColumn: "y", CovariateCols: []string{"c"}, ResponseCol: "r",
	})
	require.NoError(t, err)

	run, err := st.CreateRun(ctx, ds.ID, model.AnalysisRegionalOLS, "")
	require.NoError(t, err)
	require.NoError(t, st.SaveCoefficients(ctx, []model.CoefficientSet{{
		RunID:     run.ID,
		Partition: "Kern",
		Missing:   true,
	}}))

	_, err = residualValues(ctx, st, ds, nil, run.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no global coefficient set")
}
