// Package router assembles the public HTTP surface: health probes, model
// listing, the metrics endpoint, and the proxy routes.
package router

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/als-ai/gateway/internal/config"
	"github.com/als-ai/gateway/internal/middleware"
	"github.com/als-ai/gateway/internal/pipeline"
	"github.com/als-ai/gateway/internal/providers"
	"github.com/als-ai/gateway/internal/proxyerr"
	"github.com/als-ai/gateway/internal/ratelimit"
	"github.com/als-ai/gateway/internal/registry"
)

type Options struct {
	Config   *config.Config
	Pipeline *pipeline.Pipeline
	Registry *registry.Registry
	Driver   *providers.Driver
	Limiter  *ratelimit.Limiter
	Redis    *redis.Client
	Logger   *zap.Logger
	Version  string
}

// New builds the gateway router.
func New(opts Options) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(opts.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.MaxBodySize(opts.Config.Server.MaxRequestSize))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.Config.CORS.AllowedOrigins,
		AllowedMethods:   opts.Config.CORS.AllowedMethods,
		AllowedHeaders:   opts.Config.CORS.AllowedHeaders,
		ExposedHeaders:   opts.Config.CORS.ExposedHeaders,
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handleHealth(opts.Config, opts.Version))
	r.Get("/status", handleStatus(opts.Redis, opts.Limiter))
	r.Get("/models", handleModels(opts.Registry))
	r.Get("/health/vendors", handleVendors(opts.Driver, opts.Registry))
	r.Handle("/metrics", promhttp.Handler())

	r.HandleFunc("/proxy/{provider}/*", func(w http.ResponseWriter, req *http.Request) {
		provider := chi.URLParam(req, "provider")
		rest := strings.TrimPrefix(chi.URLParam(req, "*"), "/")
		opts.Pipeline.Handle(w, req, provider, rest)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusNotFound, proxyerr.Envelope{
			Error:     "NotFound",
			Message:   "no route for " + req.URL.Path,
			Code:      http.StatusNotFound,
			RequestID: chimiddleware.GetReqID(req.Context()),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})

	return r
}

func handleHealth(cfg *config.Config, version string) http.HandlerFunc {
	if version == "" {
		version = "dev"
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"version":     version,
			"environment": cfg.Environment,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// handleStatus reports the gateway's view of its dependencies. The gateway
// stays up when the distributed tier is down; the probe just says so.
func handleStatus(client *redis.Client, limiter *ratelimit.Limiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := map[string]interface{}{"status": "ok"}

		redisStatus := "disabled"
		if client != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			start := time.Now()
			if err := client.Ping(ctx).Err(); err != nil {
				redisStatus = "unreachable"
			} else {
				redisStatus = "ok"
				out["redis_latency_ms"] = time.Since(start).Milliseconds()
			}
		}
		out["redis"] = redisStatus
		if limiter != nil {
			out["limiter_fallback"] = limiter.FallbackActive()
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleModels(reg *registry.Registry) http.HandlerFunc {
	type entry struct {
		ID       string `json:"id"`
		Provider string `json:"provider"`
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		models := make([]entry, 0)
		for _, provider := range reg.Providers() {
			for _, model := range reg.ModelsByProvider(provider) {
				models = append(models, entry{ID: model, Provider: provider})
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"models": models,
			"total":  len(models),
		})
	}
}

// handleVendors probes every configured provider host in parallel. Any HTTP
// answer counts as reachable.
func handleVendors(driver *providers.Driver, reg *registry.Registry) http.HandlerFunc {
	type vendorStatus struct {
		Reachable bool   `json:"reachable"`
		LatencyMS int64  `json:"latency_ms"`
		Models    int    `json:"models"`
		Error     string `json:"error,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		var mu sync.Mutex
		vendors := map[string]vendorStatus{}
		var g errgroup.Group
		for _, name := range driver.Providers() {
			name := name
			g.Go(func() error {
				latency, err := driver.Probe(ctx, name)
				status := vendorStatus{
					Reachable: err == nil,
					LatencyMS: latency.Milliseconds(),
					Models:    len(reg.ModelsByProvider(name)),
				}
				if err != nil {
					status.Error = "unreachable"
				}
				mu.Lock()
				vendors[name] = status
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		writeJSON(w, http.StatusOK, map[string]interface{}{"vendors": vendors})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
