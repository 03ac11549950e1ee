package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cholette-research/tract-cli/internal/model"
	"github.com/cholette-research/tract-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve analysis results over a read-only JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "serve: migrate store")
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(st),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "serve: listen")
		}

		return nil
	},
}

// newRouter builds the read-only API over the store.
func newRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/tracts", func(w http.ResponseWriter, r *http.Request) {
		rows, err := st.ListTracts(r.Context())
		respond(w, rows, err)
	})

	r.Get("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		filter := store.RunFilter{
			Status: model.RunStatus(r.URL.Query().Get("status")),
			Scheme: r.URL.Query().Get("scheme"),
			Limit:  queryInt(r, "limit", 50),
			Offset: queryInt(r, "offset", 0),
		}
		rows, err := st.ListRuns(r.Context(), filter)
		respond(w, rows, err)
	})

	r.Route("/api/runs/{runID}", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			run, err := st.GetRun(r.Context(), chi.URLParam(r, "runID"))
			respond(w, run, err)
		})
		r.Get("/distances", func(w http.ResponseWriter, r *http.Request) {
			rows, err := st.ListDistances(r.Context(), chi.URLParam(r, "runID"))
			respond(w, rows, err)
		})
		r.Get("/classifications", func(w http.ResponseWriter, r *http.Request) {
			rows, err := st.ListClassifications(r.Context(), chi.URLParam(r, "runID"))
			respond(w, rows, err)
		})
		r.Get("/index", func(w http.ResponseWriter, r *http.Request) {
			rows, err := st.ListIndexRows(r.Context(), chi.URLParam(r, "runID"))
			respond(w, rows, err)
		})
		r.Get("/exclusions", func(w http.ResponseWriter, r *http.Request) {
			rows, err := st.ListExclusions(r.Context(), chi.URLParam(r, "runID"))
			respond(w, rows, err)
		})
	})

	return r
}

func respond(w http.ResponseWriter, v any, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, v)
	case eris.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
