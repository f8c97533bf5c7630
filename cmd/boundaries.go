package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spatial-research/gwr-cli/internal/fetcher"
	"github.com/spatial-research/gwr-cli/internal/model"
	"github.com/spatial-research/gwr-cli/internal/shape"
)

var boundariesCmd = &cobra.Command{
	Use:   "boundaries",
	Short: "Manage administrative boundary sets",
}

var boundariesLoadCmd = &cobra.Command{
	Use:   "load <shapefile-zip-or-shp>",
	Short: "Load and dissolve a boundary shapefile",
	Long: `Reads polygons from a shapefile (or a ZIP archive containing one), merges
fragments that share a name into one multipolygon per name, and replaces the
stored boundary set. County shapefiles often carry islands and exclaves as
separate records; after the dissolve every name maps to exactly one geometry.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		set, _ := cmd.Flags().GetString("set")
		nameAttr, _ := cmd.Flags().GetString("name-attr")
		if set == "" {
			set = cfg.Boundaries.Set
		}
		if nameAttr == "" {
			nameAttr = cfg.Boundaries.NameAttr
		}

		path := args[0]
		var err error
		if isRemote(path) {
			path, err = downloadToTemp(ctx, path)
			if err != nil {
				return err
			}
		}

		if strings.EqualFold(filepath.Ext(path), ".zip") {
			extractDir := filepath.Join(cfg.Fetch.TempDir, "boundaries")
			if err := os.MkdirAll(extractDir, 0o755); err != nil {
				return eris.Wrap(err, "boundaries: create extract dir")
			}
			if err := fetcher.ExtractZIP(path, extractDir); err != nil {
				return err
			}
			path, err = fetcher.FindFileByExt(extractDir, ".shp")
			if err != nil {
				return err
			}
		}

		polys, err := shape.ReadPolygons(path, nameAttr)
		if err != nil {
			return eris.Wrap(err, "boundaries")
		}
		dissolved := shape.Dissolve(polys)

		regions := make([]model.Region, 0, len(dissolved))
		for _, p := range dissolved {
			ewkb, err := shape.EncodeEWKB(p.Geom)
			if err != nil {
				return eris.Wrapf(err, "boundaries: region %q", p.Name)
			}
			regions = append(regions, model.Region{
				Set:      set,
				Name:     p.Name,
				GeomEWKB: ewkb,
				Area:     p.Geom.Area(),
			})
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.ReplaceRegions(ctx, set, regions)
		if err != nil {
			return err
		}

		zap.L().Info("boundary set loaded",
			zap.String("set", set),
			zap.Int("records", len(polys)),
			zap.Int("regions", n),
		)
		fmt.Printf("Loaded %d regions into set %q (%d shapefile records)\n", n, set, len(polys))
		return nil
	},
}

var boundariesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List regions in a boundary set",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		set, _ := cmd.Flags().GetString("set")
		if set == "" {
			set = cfg.Boundaries.Set
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		regions, err := st.ListRegions(ctx, set)
		if err != nil {
			return err
		}
		if len(regions) == 0 {
			fmt.Fprintf(os.Stderr, "No regions in set %q.\n", set)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tAREA")
		for _, r := range regions {
			fmt.Fprintf(w, "%s\t%.4f\n", r.Name, r.Area)
		}
		return w.Flush()
	},
}

func init() {
	boundariesLoadCmd.Flags().String("set", "", "boundary set name (default from config)")
	boundariesLoadCmd.Flags().String("name-attr", "", "attribute holding the region name (default from config)")
	boundariesListCmd.Flags().String("set", "", "boundary set name (default from config)")
	boundariesCmd.AddCommand(boundariesLoadCmd, boundariesListCmd)
	rootCmd.AddCommand(boundariesCmd)
}
