// Package supabase forwards MCP traffic to the hosted Supabase MCP server,
// authenticating with a personal access token and pinning the project.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/Strob0t/flowgate/internal/config"
	"github.com/Strob0t/flowgate/internal/logger"
)

// Headers that must not reach the upstream: the caller's own credentials.
var strippedHeaders = []string{"Authorization", "X-API-Key", "X-Proxy-Key", "Cookie"}

// Proxy is an http.Handler serving /mcp/* by reverse proxying it to the
// configured Supabase MCP base URL.
type Proxy struct {
	target  *url.URL
	pat     string
	project string
	timeout time.Duration
	rp      *httputil.ReverseProxy
}

// NewProxy builds the passthrough. transport is the shared pooled transport;
// nil falls back to http.DefaultTransport.
func NewProxy(cfg config.Supabase, transport http.RoundTripper) (*Proxy, error) {
	target, err := url.Parse(cfg.MCPURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("supabase: invalid mcp url %q", cfg.MCPURL)
	}
	if cfg.PAT == "" || cfg.ProjectRef == "" {
		return nil, errors.New("supabase: pat and project_ref are required")
	}
	p := &Proxy{
		target:  target,
		pat:     cfg.PAT,
		project: cfg.ProjectRef,
		timeout: cfg.Timeout,
	}
	p.rp = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		Transport:      transport,
		FlushInterval:  -1,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.handleError,
	}
	return p, nil
}

// ServeHTTP forwards one request. Event streams run without a deadline;
// everything else is bounded by the configured timeout.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isEventStream(r) {
		// The server-wide write timeout would cut long-lived streams.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	} else if p.timeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
		defer cancel()
		r = r.WithContext(ctx)
	}
	p.rp.ServeHTTP(w, r)
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(p.target)
	for _, h := range strippedHeaders {
		pr.Out.Header.Del(h)
	}
	pr.Out.Header.Set("Authorization", "Bearer "+p.pat)
	if pr.Out.Header.Get("Content-Type") == "" {
		pr.Out.Header.Set("Content-Type", "application/json")
	}
	if id := logger.RequestID(pr.In.Context()); id != "" {
		pr.Out.Header.Set("X-Request-ID", id)
	}
	if !strings.Contains(pr.Out.URL.Path, "project_ref") {
		q := pr.Out.URL.Query()
		if q.Get("project_ref") == "" {
			q.Set("project_ref", p.project)
			pr.Out.URL.RawQuery = q.Encode()
		}
	}
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") || isEventStream(resp.Request) {
		resp.Header.Set("Cache-Control", "no-cache")
		resp.Header.Set("X-Accel-Buffering", "no")
	}
	slog.InfoContext(resp.Request.Context(), "supabase mcp",
		"method", resp.Request.Method,
		"path", resp.Request.URL.Path,
		"status", resp.StatusCode,
	)
	return nil
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusBadGateway, "Supabase MCP unreachable"
	if isTimeout(err) || errors.Is(r.Context().Err(), context.DeadlineExceeded) {
		status, msg = http.StatusGatewayTimeout, "Supabase MCP timeout"
	}
	slog.WarnContext(r.Context(), "supabase mcp failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "path": r.URL.Path})
}

func isEventStream(r *http.Request) bool {
	return r != nil && strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
