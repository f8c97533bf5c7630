package main

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/spatial-research/gwr-cli/internal/model"
	"github.com/spatial-research/gwr-cli/internal/shape"
	"github.com/spatial-research/gwr-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored analysis results over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "OPTIONS"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Route("/api", func(r chi.Router) {
			r.Get("/datasets", handleListDatasets(st))
			r.Get("/runs", handleListRuns(st))
			r.Get("/runs/{id}", handleGetRun(st))
			r.Get("/runs/{id}/coefficients", handleCoefficients(st))
			r.Get("/runs/{id}/surfaces/{name}", handleSurface(st))
			r.Get("/regions/{set}", handleRegions(st))
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func handleListDatasets(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := st.ListDatasets(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleListRuns(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		filter := store.RunFilter{
			Status:    model.RunStatus(r.URL.Query().Get("status")),
			Kind:      model.AnalysisKind(r.URL.Query().Get("kind")),
			DatasetID: r.URL.Query().Get("dataset_id"),
			Limit:     limit,
		}
		runs, err := st.ListRuns(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func handleGetRun(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := st.GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func handleCoefficients(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sets, err := st.ListCoefficients(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sets)
	}
}

func handleSurface(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sf, err := st.GetSurface(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, err)
			return
		}
		// JSON has no NaN literal; missing cells go out as null.
		cells := make([]*float64, len(sf.Values))
		for i := range sf.Values {
			if !math.IsNaN(sf.Values[i]) {
				cells[i] = &sf.Values[i]
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"run_id": sf.RunID,
			"name":   sf.Name,
			"spec":   sf.Spec,
			"values": cells,
		})
	}
}

func handleRegions(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		regions, err := st.ListRegions(r.Context(), chi.URLParam(r, "set"))
		if err != nil {
			writeError(w, err)
			return
		}

		// ?run= joins a regional fit's coefficient sets onto the features,
		// matched by region name.
		var coeffs map[string]model.CoefficientSet
		if runID := r.URL.Query().Get("run"); runID != "" {
			sets, err := st.ListCoefficients(r.Context(), runID)
			if err != nil {
				writeError(w, err)
				return
			}
			coeffs = make(map[string]model.CoefficientSet, len(sets))
			for _, cs := range sets {
				coeffs[cs.Partition] = cs
			}
		}

		features := make([]map[string]any, 0, len(regions))
		for _, reg := range regions {
			mp, err := shape.DecodeEWKB(reg.GeomEWKB)
			if err != nil {
				writeError(w, err)
				return
			}
			g, err := geojson.Marshal(mp)
			if err != nil {
				writeError(w, err)
				return
			}
			props := map[string]any{"name": reg.Name, "area": reg.Area}
			if cs, ok := coeffs[reg.Name]; ok {
				props["n"] = cs.N
				props["missing"] = cs.Missing
				if !cs.Missing {
					props["coeffs"] = cs.Coeffs
					props["r2"] = cs.R2
				}
			}
			features = append(features, map[string]any{
				"type":       "Feature",
				"geometry":   json.RawMessage(g),
				"properties": props,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"type":     "FeatureCollection",
			"features": features,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	zap.L().Warn("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
