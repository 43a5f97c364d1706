// Package worker provides the HTTP client for the backend worker services.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/flowgate/internal/config"
	"github.com/Strob0t/flowgate/internal/port/backend"
	"github.com/Strob0t/flowgate/internal/resilience"
)

// Headers sent on worker calls. The header names are part of the workers'
// wire contract.
const (
	HeaderWorkerAuth = "X-FlowChat-Worker-Auth"
	HeaderRequestID  = "X-Request-ID"
	rpcPathPrefix    = "/rest/v1/rpc/"
	maxErrorBody     = 2048
)

// NewHTTPClient builds the process-wide pooled client. Timeouts are applied
// per call through the context, so the client itself has none.
func NewHTTPClient(cfg config.Backends) *http.Client {
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 100
	}
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = 10 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          maxConns,
		MaxIdleConnsPerHost:   maxConns,
		MaxConnsPerHost:       maxConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connect,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Transport: otelhttp.NewTransport(transport)}
}

// Client implements backend.Client over HTTP, with one circuit breaker per
// backend.
type Client struct {
	http     *http.Client
	cfg      config.Backends
	bases    map[backend.Name]string
	breakers map[backend.Name]*resilience.Breaker
}

// NewClient creates a worker client. onBreakerChange may be nil.
func NewClient(httpClient *http.Client, cfg config.Backends, br config.Breaker, onBreakerChange func(name string, from, to resilience.State)) *Client {
	c := &Client{
		http: httpClient,
		cfg:  cfg,
		bases: map[backend.Name]string{
			backend.RPC:      cfg.RPCURL,
			backend.Database: cfg.DatabaseURL,
			backend.Document: cfg.DocumentURL,
			backend.Storage:  cfg.StorageURL,
			backend.Email:    cfg.EmailURL,
		},
		breakers: make(map[backend.Name]*resilience.Breaker),
	}
	opts := []resilience.BreakerOption{resilience.WithFailurePredicate(backend.IsTransient)}
	if onBreakerChange != nil {
		opts = append(opts, resilience.WithStateChange(onBreakerChange))
	}
	for name := range c.bases {
		c.breakers[name] = resilience.NewBreaker(string(name), br.MaxFailures, br.Timeout, opts...)
	}
	return c
}

// Breaker returns the circuit breaker guarding name.
func (c *Client) Breaker(name backend.Name) *resilience.Breaker { return c.breakers[name] }

// Do performs one call. Every error is a *backend.Failure naming the backend.
func (c *Client) Do(ctx context.Context, req backend.Request) (json.RawMessage, error) {
	raw, err := c.do(ctx, req)
	if err != nil {
		return nil, &backend.Failure{Backend: req.Backend, Err: err}
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, req backend.Request) (json.RawMessage, error) {
	base := strings.TrimRight(c.bases[req.Backend], "/")
	if base == "" {
		return nil, backend.ErrNotConfigured
	}
	br, ok := c.breakers[req.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", req.Backend)
	}

	url := base + req.Path
	if req.Backend == backend.RPC {
		url = base + rpcPathPrefix + strings.TrimPrefix(req.Path, "/")
	}
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = b
	}

	var result json.RawMessage
	err := br.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout(req.Backend))
		defer cancel()

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		c.setHeaders(httpReq, req)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return &backend.CallError{Backend: req.Backend, Status: resp.StatusCode, Body: truncate(data)}
		}
		result = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(result)) == 0 {
		result = json.RawMessage("null")
	}
	if req.RequireValidation && req.Backend == backend.Database {
		if err := checkValidated(result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (c *Client) setHeaders(r *http.Request, req backend.Request) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "application/json")
	if req.RequestID != "" {
		r.Header.Set(HeaderRequestID, req.RequestID)
	}
	if req.Backend == backend.RPC {
		if c.cfg.RPCKey != "" {
			r.Header.Set("Authorization", "Bearer "+c.cfg.RPCKey)
			r.Header.Set("apikey", c.cfg.RPCKey)
		}
		return
	}
	if c.cfg.WorkerAuthToken != "" {
		r.Header.Set(HeaderWorkerAuth, c.cfg.WorkerAuthToken)
	}
}

func (c *Client) timeout(name backend.Name) time.Duration {
	if name == backend.Document && c.cfg.DocumentTimeout > 0 {
		return c.cfg.DocumentTimeout
	}
	if c.cfg.Timeout > 0 {
		return c.cfg.Timeout
	}
	return 30 * time.Second
}

// checkValidated enforces the database worker's validation envelope: the
// answer must carry "validated": true, otherwise its discrepancies become a
// 422.
func checkValidated(raw json.RawMessage) error {
	var env struct {
		Validated     bool            `json:"validated"`
		Discrepancies json.RawMessage `json:"discrepancies"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || !env.Validated {
		detail := "response was not validated by the database worker"
		if len(env.Discrepancies) > 0 && string(env.Discrepancies) != "null" {
			detail = "validation discrepancies: " + string(env.Discrepancies)
		}
		return &backend.CallError{Backend: backend.Database, Status: http.StatusUnprocessableEntity, Body: detail}
	}
	return nil
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= maxErrorBody {
		return s
	}
	n := maxErrorBody
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
