package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spatial-research/gwr-cli/internal/model"
	"github.com/spatial-research/gwr-cli/internal/partition"
	"github.com/spatial-research/gwr-cli/internal/spatial"
	"github.com/spatial-research/gwr-cli/internal/store"
)

var fitCmd = &cobra.Command{
	Use:   "fit <dataset>",
	Short: "Fit OLS models globally or per region",
	Long: `Fits an ordinary least squares model of the dataset's response on its
covariates. With --by-region each observation is first assigned to its
enclosing dissolved region and one model is fit per region; regions with
fewer observations than the minimum are recorded as missing rather than fit.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		byRegion, _ := cmd.Flags().GetBool("by-region")
		regionSet, _ := cmd.Flags().GetString("region-set")
		minObs, _ := cmd.Flags().GetInt("min-obs")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		if regionSet == "" {
			regionSet = cfg.Boundaries.Set
		}
		if minObs == 0 {
			minObs = cfg.Fit.MinObservations
		}
		if concurrency == 0 {
			concurrency = cfg.Fit.Concurrency
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ds, obs, err := loadDataset(ctx, st, args[0])
		if err != nil {
			return err
		}

		kind := model.AnalysisGlobalOLS
		if byRegion {
			kind = model.AnalysisRegionalOLS
		}
		params, _ := json.Marshal(map[string]any{
			"min_observations": minObs,
			"region_set":       regionSet,
		})
		run, err := st.CreateRun(ctx, ds.ID, kind, string(params))
		if err != nil {
			return err
		}
		if err := st.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
			return err
		}

		sets, err := fitModels(ctx, st, ds, obs, run.ID, byRegion, regionSet, minObs, concurrency)
		if err != nil {
			_ = st.FailRun(ctx, run.ID, err.Error())
			return err
		}

		if err := st.SaveCoefficients(ctx, sets); err != nil {
			_ = st.FailRun(ctx, run.ID, err.Error())
			return err
		}
		if err := st.UpdateRunStatus(ctx, run.ID, model.RunStatusComplete); err != nil {
			return err
		}

		fmt.Printf("Run %s complete\n", run.ID)
		printCoefficients(os.Stdout, ds, sets)
		return nil
	},
}

func fitModels(ctx context.Context, st store.Store, ds *model.Dataset, obs []model.Observation, runID string, byRegion bool, regionSet string, minObs, concurrency int) ([]model.CoefficientSet, error) {
	if !byRegion {
		cs, err := partition.GlobalFit(obs)
		if err != nil {
			return nil, err
		}
		cs.RunID = runID
		return []model.CoefficientSet{cs}, nil
	}

	regions, err := st.ListRegions(ctx, regionSet)
	if err != nil {
		return nil, err
	}
	if len(regions) == 0 {
		return nil, eris.Errorf("boundary set %q is empty; run `gwr-cli boundaries load` first", regionSet)
	}
	ri, err := spatial.NewRegionIndex(regions)
	if err != nil {
		return nil, err
	}
	assigned, unassigned := spatial.Associate(obs, ri)
	zap.L().Info("observations associated",
		zap.String("region_set", regionSet),
		zap.Int("assigned", assigned),
		zap.Int("unassigned", unassigned),
	)

	sets, err := partition.FitByRegion(ctx, obs, partition.RegionOptions{
		MinObservations: minObs,
		Concurrency:     concurrency,
	})
	if err != nil {
		return nil, err
	}
	for i := range sets {
		sets[i].RunID = runID
	}
	return sets, nil
}

// loadDataset resolves a dataset by name or ID and loads its observations.
func loadDataset(ctx context.Context, st store.Store, nameOrID string) (*model.Dataset, []model.Observation, error) {
	ds, err := st.GetDatasetByName(ctx, nameOrID)
	if err != nil {
		ds, err = st.GetDataset(ctx, nameOrID)
		if err != nil {
			return nil, nil, eris.Errorf("dataset not found: %s", nameOrID)
		}
	}
	obs, err := st.ListObservations(ctx, ds.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(obs) == 0 {
		return nil, nil, eris.Errorf("dataset %q has no observations", ds.Name)
	}
	return ds, obs, nil
}

func printCoefficients(w *os.File, ds *model.Dataset, sets []model.CoefficientSet) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "PARTITION\tN\tR2\tINTERCEPT\t%s\n", strings.ToUpper(strings.Join(ds.CovariateCols, "\t")))
	for _, cs := range sets {
		if cs.Missing {
			fmt.Fprintf(tw, "%s\t%d\t-\t(missing)\n", cs.Partition, cs.N)
			continue
		}
		row := fmt.Sprintf("%s\t%d\t%.4f", cs.Partition, cs.N, cs.R2)
		for _, c := range cs.Coeffs {
			row += fmt.Sprintf("\t%.6g", c)
		}
		fmt.Fprintln(tw, row)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	fitCmd.Flags().Bool("by-region", false, "fit one model per dissolved region")
	fitCmd.Flags().String("region-set", "", "boundary set for --by-region (default from config)")
	fitCmd.Flags().Int("min-obs", 0, "minimum observations per region (default from config)")
	fitCmd.Flags().Int("concurrency", 0, "parallel region fits (default from config)")
	rootCmd.AddCommand(fitCmd)
}
