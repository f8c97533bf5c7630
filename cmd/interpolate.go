package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spatial-research/gwr-cli/internal/interp"
	"github.com/spatial-research/gwr-cli/internal/model"
	"github.com/spatial-research/gwr-cli/internal/partition"
)

var interpolateCmd = &cobra.Command{
	Use:   "interpolate <dataset>",
	Short: "Interpolate the response onto a raster surface",
	Long: `Builds a continuous surface of the dataset's response by null-model,
polynomial trend, inverse distance weighting, or nearest-neighbor
interpolation. --compare scores every method by k-fold cross-validated
RMSE and rasters the best one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		method, _ := cmd.Flags().GetString("method")
		cellSize, _ := cmd.Flags().GetFloat64("cell-size")
		compare, _ := cmd.Flags().GetBool("compare")
		power, _ := cmd.Flags().GetFloat64("power")
		neighbors, _ := cmd.Flags().GetInt("neighbors")
		degree, _ := cmd.Flags().GetInt("degree")
		folds, _ := cmd.Flags().GetInt("folds")

		if power == 0 {
			power = cfg.Interp.IDWPower
		}
		if neighbors == 0 {
			neighbors = cfg.Interp.Neighbors
		}
		if degree == 0 {
			degree = cfg.Interp.TrendDegree
		}
		if folds == 0 {
			folds = cfg.Interp.Folds
		}
		if cellSize <= 0 {
			return eris.New("interpolate: --cell-size is required (coordinate units)")
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

		samples := make([]interp.Sample, len(obs))
		for i, o := range obs {
			samples[i] = interp.Sample{X: o.X, Y: o.Y, V: o.Response}
		}

		builders := map[string]interp.Builder{
			"null": func(train []interp.Sample) (interp.Interpolator, error) {
				return interp.NewNull(train)
			},
			"trend": func(train []interp.Sample) (interp.Interpolator, error) {
				return interp.NewTrend(train, degree)
			},
			"idw": func(train []interp.Sample) (interp.Interpolator, error) {
				return interp.NewIDW(ds.CRS, train, power, neighbors)
			},
			"nearest": func(train []interp.Sample) (interp.Interpolator, error) {
				return interp.NewNearest(ds.CRS, train, neighbors)
			},
		}

		seed := uint64(cfg.Interp.Seed)
		scores := map[string]float64{}
		if compare {
			names := make([]string, 0, len(builders))
			for name := range builders {
				names = append(names, name)
			}
			sort.Strings(names)

			best, bestRMSE := "", 0.0
			for _, name := range names {
				rmse, err := interp.CrossValidate(samples, folds, seed, builders[name])
				if err != nil {
					return eris.Wrapf(err, "interpolate: cross-validate %s", name)
				}
				scores[name] = rmse
				if best == "" || rmse < bestRMSE {
					best, bestRMSE = name, rmse
				}
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "METHOD\tCV RMSE")
			for _, name := range names {
				fmt.Fprintf(tw, "%s\t%.4f\n", name, scores[name])
			}
			tw.Flush() //nolint:errcheck
			method = best
			fmt.Printf("Best method: %s\n", method)
		}

		build, ok := builders[method]
		if !ok {
			return eris.Errorf("interpolate: unknown method %q (null, trend, idw, nearest)", method)
		}
		itp, err := build(samples)
		if err != nil {
			return err
		}

		spec, err := partition.GridSpecFor(obs, cellSize)
		if err != nil {
			return err
		}

		params, _ := json.Marshal(map[string]any{
			"method":    method,
			"cell_size": cellSize,
			"power":     power,
			"neighbors": neighbors,
			"degree":    degree,
			"cv_scores": scores,
		})
		run, err := st.CreateRun(ctx, ds.ID, model.AnalysisInterp, string(params))
		if err != nil {
			return err
		}
		if err := st.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
			return err
		}

		sf := interp.Raster(itp, spec)
		sf.RunID = run.ID
		sf.Name = method
		if err := st.SaveSurface(ctx, sf); err != nil {
			_ = st.FailRun(ctx, run.ID, err.Error())
			return err
		}
		if err := st.UpdateRunStatus(ctx, run.ID, model.RunStatusComplete); err != nil {
			return err
		}

		zap.L().Info("interpolation complete",
			zap.String("run", run.ID),
			zap.String("method", method),
			zap.Int("cells", spec.Cells()),
		)
		fmt.Printf("Run %s complete: %q surface over %dx%d cells\n", run.ID, method, spec.NX, spec.NY)
		return nil
	},
}

func init() {
	interpolateCmd.Flags().String("method", "idw", "interpolation method: null, trend, idw, nearest")
	interpolateCmd.Flags().Float64("cell-size", 0, "raster cell size in coordinate units")
	interpolateCmd.Flags().Bool("compare", false, "cross-validate all methods and raster the best")
	interpolateCmd.Flags().Float64("power", 0, "IDW distance decay power (default from config)")
	interpolateCmd.Flags().Int("neighbors", 0, "neighbor count for idw/nearest (default from config)")
	interpolateCmd.Flags().Int("degree", 0, "trend surface polynomial degree (default from config)")
	interpolateCmd.Flags().Int("folds", 0, "cross-validation folds (default from config)")
	rootCmd.AddCommand(interpolateCmd)
}
