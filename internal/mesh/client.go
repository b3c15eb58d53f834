// Package mesh is a read-only client for the mesh control-plane (Kiali) API.
package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/meshspectre/internal/metrics"
)

// DefaultAPIPrefix is prepended to every endpoint.
const DefaultAPIPrefix = "/kiali/api"

// Endpoint kinds used for metrics labels
const (
	KindNamespaces = "namespaces"
	KindApps       = "apps"
	KindHealth     = "health"
	KindGraph      = "graph"
	KindOther      = "other"
)

const maxErrorBody = 512

// API is the subset of the mesh API the collectors depend on.
type API interface {
	Namespaces(ctx context.Context) ([]NamespaceInfo, error)
	Apps(ctx context.Context, namespace string) (*AppList, error)
	AppHealth(ctx context.Context, namespace, app string) (*AppHealth, error)
	AppGraph(ctx context.Context, namespace, app string) (*Graph, error)
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	APIPrefix string
	Timeout   time.Duration
	RateLimit int
	// HTTPClient overrides the default transport, mainly for tests.
	HTTPClient *http.Client
}

// Client issues GET requests against the mesh API and decodes JSON bodies.
// It never retries; retry policy belongs to the caller.
type Client struct {
	baseURL string
	prefix  string
	http    *http.Client
	limiter *RateLimiter
}

// NewClient validates opts and returns a Client.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("mesh base url is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid mesh base url %q", opts.BaseURL)
	}

	prefix := opts.APIPrefix
	if prefix == "" {
		prefix = DefaultAPIPrefix
	}
	prefix = "/" + strings.Trim(prefix, "/")

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		baseURL: base,
		prefix:  prefix,
		http:    httpClient,
		limiter: NewRateLimiter(opts.RateLimit),
	}, nil
}

// BaseURL returns the configured base URL without trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Fetch GETs endpoint (relative to the API prefix) and decodes the JSON body
// into out. Every failure is returned as a *RemoteFetchError.
func (c *Client) Fetch(ctx context.Context, endpoint string, out interface{}) error {
	return c.fetch(ctx, KindOther, endpoint, out)
}

func (c *Client) fetch(ctx context.Context, kind, endpoint string, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordMeshRequest(kind, err == nil, time.Since(start).Seconds())
	}()

	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return &RemoteFetchError{Endpoint: endpoint, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.prefix+endpoint, nil)
	if err != nil {
		return &RemoteFetchError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &RemoteFetchError{Endpoint: endpoint, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &RemoteFetchError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Err:        errors.New(msg),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RemoteFetchError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}

	slog.Debug("mesh api call",
		slog.String("endpoint", endpoint),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Namespaces lists all namespaces visible to the mesh API.
func (c *Client) Namespaces(ctx context.Context) ([]NamespaceInfo, error) {
	var out []NamespaceInfo
	if err := c.fetch(ctx, KindNamespaces, "/namespaces", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Apps lists the applications of namespace.
func (c *Client) Apps(ctx context.Context, namespace string) (*AppList, error) {
	out := &AppList{}
	endpoint := "/namespaces/" + url.PathEscape(namespace) + "/apps"
	if err := c.fetch(ctx, KindApps, endpoint, out); err != nil {
		return nil, err
	}
	return out, nil
}

// AppHealth fetches workload statuses and request histograms for one app.
func (c *Client) AppHealth(ctx context.Context, namespace, app string) (*AppHealth, error) {
	out := &AppHealth{}
	endpoint := "/namespaces/" + url.PathEscape(namespace) + "/apps/" + url.PathEscape(app) + "/health"
	if err := c.fetch(ctx, KindHealth, endpoint, out); err != nil {
		return nil, err
	}
	return out, nil
}

// AppGraph fetches the app-level dependency graph scoped to one app.
func (c *Client) AppGraph(ctx context.Context, namespace, app string) (*Graph, error) {
	out := &Graph{}
	endpoint := "/namespaces/" + url.PathEscape(namespace) + "/applications/" + url.PathEscape(app) + "/graph?graphType=app"
	if err := c.fetch(ctx, KindGraph, endpoint, out); err != nil {
		return nil, err
	}
	return out, nil
}
