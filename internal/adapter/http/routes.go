package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/flowgate/internal/middleware"
)

// RouteConfig holds the secrets guarding each route group.
type RouteConfig struct {
	// APIKey guards the tool and admin routes. Tool routes are open when it
	// is empty; admin routes are disabled.
	APIKey string
	// TelegramSecret is the secret_token registered with setWebhook.
	TelegramSecret string
	// MCP, when set, is mounted at /mcp behind the API key.
	MCP http.Handler
	// SupabaseMCP, when set, serves /mcp/* behind the API key.
	SupabaseMCP http.Handler
	// RateLimiter, when set, throttles tool calls and decision webhooks.
	RateLimiter *middleware.RateLimiter
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, cfg RouteConfig) {
	r.Get("/health", h.Health)

	// Decision webhooks authenticate with their own secrets.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(limit(cfg.RateLimiter)...).Post("/hitl", h.HandleDecisionWebhook)
		r.With(middleware.WebhookToken(cfg.TelegramSecret, "X-Telegram-Bot-Api-Secret-Token")).
			Post("/telegram", h.HandleTelegramWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(limit(cfg.RateLimiter)...)
		if cfg.APIKey != "" {
			r.Use(middleware.APIKey(cfg.APIKey))
		}
		r.Get("/api/v1/tools", h.ListTools)
		r.Post("/api/v1/tools/call", h.CallTool)
		if cfg.MCP != nil {
			r.Handle("/mcp", cfg.MCP)
		}
	})

	if cfg.SupabaseMCP != nil {
		r.Group(func(r chi.Router) {
			r.Use(limit(cfg.RateLimiter)...)
			r.Use(middleware.APIKey(cfg.APIKey))
			r.Handle("/mcp/*", cfg.SupabaseMCP)
		})
	}

	r.Route("/api/v1/approvals", func(r chi.Router) {
		r.Use(middleware.APIKey(cfg.APIKey))
		r.Get("/", h.ListApprovals)
		r.Post("/sweep", h.SweepApprovals)
		r.Get("/{id}", h.GetApproval)
	})
}

func limit(rl *middleware.RateLimiter) []func(http.Handler) http.Handler {
	if rl == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{rl.Handler}
}
