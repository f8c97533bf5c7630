package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/spatial-research/gwr-cli/internal/model"
	"github.com/spatial-research/gwr-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect analysis run history",
	Long:  "Commands for listing and viewing stored analysis runs and their results.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		dataset, _ := cmd.Flags().GetString("dataset")
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RunFilter{
			Status: model.RunStatus(status),
			Kind:   model.AnalysisKind(kind),
			Limit:  limit,
		}
		if dataset != "" {
			ds, err := st.GetDatasetByName(ctx, dataset)
			if err != nil {
				return eris.Wrapf(err, "runs list: dataset %s", dataset)
			}
			filter.DatasetID = ds.ID
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tSTATUS\tCREATED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Kind, r.Status, r.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		out := map[string]any{"run": run}
		if sets, err := st.ListCoefficients(ctx, run.ID); err == nil && len(sets) > 0 {
			out["coefficients"] = sets
		}
		if run.Kind == model.AnalysisMoran {
			if mr, err := st.GetMoran(ctx, run.ID); err == nil {
				out["moran"] = mr
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status (queued, running, complete, failed)")
	runsListCmd.Flags().String("dataset", "", "filter by dataset name")
	runsListCmd.Flags().String("kind", "", "filter by analysis kind")
	runsListCmd.Flags().Int("limit", 50, "max runs to list")
	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
