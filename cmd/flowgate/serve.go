package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	fghttp "github.com/Strob0t/flowgate/internal/adapter/http"
	"github.com/Strob0t/flowgate/internal/adapter/mcp"
	fgotel "github.com/Strob0t/flowgate/internal/adapter/otel"
	"github.com/Strob0t/flowgate/internal/adapter/supabase"
	"github.com/Strob0t/flowgate/internal/config"
	"github.com/Strob0t/flowgate/internal/middleware"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and MCP server, the expiry sweeper and the resume pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, flush, err := load()
			if err != nil {
				return err
			}
			defer flush()
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"notifier", cfg.HITL.Notifier,
		"hitl_enabled", cfg.HITL.Enabled,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	shutdownOTEL, err := fgotel.Init(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()

	// --- Services ---
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.sweeper.Start(ctx); err != nil {
		return err
	}
	defer a.sweeper.Stop()

	// --- HTTP ---
	handlers := &fghttp.Handlers{
		Tools:     a.dispatcher,
		Decisions: a.resolver,
		Approvals: a.approvals,
		Sweeper:   a.sweeper,
		Channel:   a.channel,
		Version:   version,
	}
	if a.queue != nil {
		handlers.Queue = a.queue
	}

	routes := fghttp.RouteConfig{
		APIKey:         cfg.Server.APIKey,
		TelegramSecret: cfg.Telegram.WebhookSecret,
	}
	if cfg.Server.MCPEnabled {
		srv := mcp.NewServer(mcp.ServerConfig{Name: "flowgate", Version: version}, mcp.ServerDeps{
			Dispatcher: a.dispatcher,
			Approvals:  a.approvals,
		})
		routes.MCP = srv.Handler()
		slog.Info("mcp endpoint enabled", "path", mcp.EndpointPath)
	}
	if cfg.Supabase.Enabled() {
		if cfg.Server.APIKey == "" {
			slog.Warn("supabase mcp passthrough needs server.api_key, requests will be refused")
		}
		proxy, err := supabase.NewProxy(cfg.Supabase, a.httpClient.Transport)
		if err != nil {
			return err
		}
		routes.SupabaseMCP = proxy
		slog.Info("supabase mcp passthrough enabled", "upstream", cfg.Supabase.MCPURL, "project_ref", cfg.Supabase.ProjectRef)
	}
	if cfg.Server.RateLimit > 0 {
		rl := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
		go rl.Cleanup(ctx, time.Minute, 10*time.Minute)
		routes.RateLimiter = rl
	}

	r := chi.NewRouter()
	r.Use(fgotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID)
	r.Use(fghttp.CORS(cfg.Server.CORSOrigin))
	r.Use(fghttp.SecurityHeaders)
	r.Use(fghttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	fghttp.MountRoutes(r, handlers, routes)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Workflows may wait on the document backend.
		WriteTimeout: cfg.Backends.DocumentTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	slog.Info("shutting down server")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}
