package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openparl/evidence-cli/internal/evidence"
	"github.com/openparl/evidence-cli/internal/pipeline"
	"github.com/openparl/evidence-cli/internal/resilience"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve citation resolution over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		var index evidence.Index
		if env.Search != nil {
			index = env.Search
		}
		resolver := evidence.NewResolver(index, env.Store, pipeline.NewCacheDocuments(env.Cache))
		mux := newServeMux(resolver, index != nil)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newServeMux(resolver *evidence.Resolver, hasIndex bool) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /resolve", func(w http.ResponseWriter, r *http.Request) {
		if !hasIndex {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "search index not configured"})
			return
		}
		query := r.URL.Query().Get("q")
		if query == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		opts := evidence.ResolveOptions{
			Limit:        limit,
			Prefer:       evidence.SnippetTableRow,
			WithSnippets: r.URL.Query().Get("snippets") != "false",
		}

		persons, err := resolver.Resolve(r.Context(), query, opts)
		if err != nil {
			zap.L().Error("resolve failed", zap.String("query", query), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "resolution failed"})
			return
		}
		writeJSON(w, http.StatusOK, persons)
	})

	mux.HandleFunc("GET /evidence/{id}", func(w http.ResponseWriter, r *http.Request) {
		citations, err := resolver.ResolveIDs(r.Context(), []string{r.PathValue("id")}, evidence.ResolveOptions{
			WithSnippets: true,
		})
		switch {
		case resilience.IsNotFound(err):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "evidence not found"})
			return
		case err != nil:
			zap.L().Error("evidence lookup failed", zap.String("id", r.PathValue("id")), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
			return
		}
		writeJSON(w, http.StatusOK, citations)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
