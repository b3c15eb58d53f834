package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ppiankov/meshspectre/internal/mesh"
	"github.com/ppiankov/meshspectre/internal/models"
	"github.com/ppiankov/meshspectre/internal/snapshot"
	"github.com/ppiankov/meshspectre/pkg/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeDetails struct {
	detail *models.AppHealthDetail
	err    error
	calls  []string
}

func (f *fakeDetails) DetailedHealth(_ context.Context, ns, app string) (*models.AppHealthDetail, error) {
	f.calls = append(f.calls, ns+"/"+app)
	if f.err != nil {
		return nil, f.err
	}
	return f.detail, nil
}

func newTestStore(t *testing.T) *snapshot.Store {
	t.Helper()
	b, err := snapshot.NewFileBackend(t.TempDir(), "json")
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	return snapshot.New(b, snapshot.JSONCodec{})
}

func seed(t *testing.T, store *snapshot.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	inv := &models.Inventory{GeneratedAt: now, Namespaces: []models.Namespace{
		{Name: "shop", Apps: []string{"web", "cart", "api"}},
		{Name: "ops", Apps: []string{}},
	}}
	if err := store.WriteInventory(ctx, inv); err != nil {
		t.Fatalf("WriteInventory failed: %v", err)
	}

	health := models.NewHealthReport(now)
	health.Healthy = []models.AppRef{{Namespace: "shop", App: "web"}}
	health.Unhealthy = []models.UnhealthyApp{
		{Namespace: "shop", App: "cart", Reason: models.ReasonInboundRequests},
		{Namespace: "shop", App: "api", Reason: models.ReasonWorkload},
	}
	if err := store.WriteHealth(ctx, health); err != nil {
		t.Fatalf("WriteHealth failed: %v", err)
	}

	red := models.NewREDReport(now, 10)
	red.Duration = []models.DurationEntry{{Namespace: "shop", App: "cart", Duration: 42.5}}
	if err := store.WriteRED(ctx, red); err != nil {
		t.Fatalf("WriteRED failed: %v", err)
	}
}

func newTestServer(t *testing.T, store SnapshotReader, details DetailProvider) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.MeshExternalURL = "https://kiali.example.com"
	s, err := New(cfg, store, details)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func do(s *Server, method, target string, body url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(body.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestPagesWithoutInventory(t *testing.T) {
	s := newTestServer(t, newTestStore(t), nil)

	cases := []struct {
		name   string
		method string
		path   string
		code   int
		body   string
	}{
		{name: "index", method: http.MethodGet, path: "/", code: http.StatusServiceUnavailable, body: InitializingMessage},
		{name: "apphealth", method: http.MethodGet, path: "/apphealth", code: http.StatusServiceUnavailable, body: InitializingMessage},
		{name: "getapp", method: http.MethodGet, path: "/getapp?ns=shop", code: http.StatusServiceUnavailable, body: "initializing"},
		{name: "red", method: http.MethodGet, path: "/red", code: http.StatusOK, body: "not yet available"},
		{name: "api_summary", method: http.MethodGet, path: "/api/summary", code: http.StatusServiceUnavailable, body: "initializing"},
		{name: "api_health", method: http.MethodGet, path: "/api/health", code: http.StatusNotFound, body: "not available"},
		{name: "api_red", method: http.MethodGet, path: "/api/red", code: http.StatusNotFound, body: "not available"},
		{name: "readyz", method: http.MethodGet, path: "/readyz", code: http.StatusServiceUnavailable, body: "initializing"},
		{name: "healthz", method: http.MethodGet, path: "/healthz", code: http.StatusOK, body: "ok"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(s, tc.method, tc.path, nil)
			if w.Code != tc.code {
				t.Fatalf("expected status %d, got %d: %s", tc.code, w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tc.body) {
				t.Fatalf("expected body to contain %q, got %s", tc.body, w.Body.String())
			}
		})
	}
}

func TestIndexRendersSummary(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	s := newTestServer(t, store, nil)

	w := do(s, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	for _, want := range []string{
		"HTTP Request Issue (Inbound)",
		"Workload Issue",
		"https://kiali.example.com",
		"2 namespaces, 3 applications",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected index to contain %q", want)
		}
	}
}

func TestAPISummary(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	s := newTestServer(t, store, nil)

	w := do(s, http.MethodGet, "/api/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got models.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.Healthy != 1 || got.Unhealthy != 2 || got.HTTPIssues != 1 || got.WorkloadIssues != 1 {
		t.Fatalf("unexpected health counts: %+v", got)
	}
	if got.SlowResponses != 1 || got.RateZero != 0 || got.Errors != 0 {
		t.Fatalf("unexpected RED counts: %+v", got)
	}
}

func TestGetAppSorted(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	s := newTestServer(t, store, nil)

	cases := []struct {
		ns   string
		want []string
	}{
		{ns: "shop", want: []string{"api", "cart", "web"}},
		{ns: "ops", want: []string{}},
		{ns: "missing", want: []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.ns, func(t *testing.T) {
			w := do(s, http.MethodGet, "/getapp?ns="+tc.ns, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
			var got []string
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestAppHealthDrillDown(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	details := &fakeDetails{detail: &models.AppHealthDetail{
		Namespace: "shop",
		App:       "cart",
		Workloads: []models.WorkloadRow{{Name: "cart-v1", DesiredReplicas: 2, CurrentReplicas: 2, AvailableReplicas: 1, SyncedProxies: 2}},
		Inbound:   models.StatusRollup{Status2xx: 12.34, Status5xx: 0.5},
	}}
	s := newTestServer(t, store, details)

	w := do(s, http.MethodGet, "/apphealth", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `value="shop"`) {
		t.Fatalf("expected namespace selector, got %d: %s", w.Code, w.Body.String())
	}
	if len(details.calls) != 0 {
		t.Fatal("namespace list must not fetch details")
	}

	w = do(s, http.MethodGet, "/apphealth?ns=shop&app=cart", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	for _, want := range []string{"cart-v1", "12.34", "0.50"} {
		if !strings.Contains(w.Body.String(), want) {
			t.Fatalf("expected drill-down to contain %q", want)
		}
	}

	w = do(s, http.MethodPost, "/apphealth", url.Values{"namespace": {"shop"}, "app_name": {"cart"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for form post, got %d", w.Code)
	}
	if want := []string{"shop/cart", "shop/cart"}; !reflect.DeepEqual(details.calls, want) {
		t.Fatalf("expected calls %v, got %v", want, details.calls)
	}
}

func TestAppHealthFetchErrors(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)

	cases := []struct {
		name    string
		details DetailProvider
		code    int
	}{
		{name: "no_provider", details: nil, code: http.StatusServiceUnavailable},
		{
			name:    "remote_failure",
			details: &fakeDetails{err: &mesh.RemoteFetchError{Endpoint: "/health", StatusCode: 404, Err: errors.New("not found")}},
			code:    http.StatusBadGateway,
		},
		{name: "other_failure", details: &fakeDetails{err: errors.New("boom")}, code: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, store, tc.details)
			w := do(s, http.MethodGet, "/apphealth?ns=shop&app=cart", nil)
			if w.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, w.Code)
			}
		})
	}
}

func TestAppHealthRejectsUnknownApps(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	details := &fakeDetails{detail: &models.AppHealthDetail{Namespace: "shop", App: "cart"}}
	s := newTestServer(t, store, details)

	cases := []struct {
		name string
		path string
	}{
		{name: "unknown_app", path: "/apphealth?ns=shop&app=ghost"},
		{name: "unknown_namespace", path: "/apphealth?ns=billing&app=cart"},
		{name: "app_from_other_namespace", path: "/apphealth?ns=ops&app=cart"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(s, http.MethodGet, tc.path, nil)
			if w.Code != http.StatusNotFound {
				t.Fatalf("expected 404, got %d", w.Code)
			}
			if !strings.Contains(w.Body.String(), "is not in inventory") {
				t.Fatalf("expected inventory message, got %s", w.Body.String())
			}
		})
	}
	if len(details.calls) != 0 {
		t.Fatalf("unknown apps must not reach the mesh, got calls %v", details.calls)
	}
}

func TestREDPageAndAPI(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	s := newTestServer(t, store, nil)

	w := do(s, http.MethodGet, "/red", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "42.50") {
		t.Fatalf("expected RED page with slow app, got %d: %s", w.Code, w.Body.String())
	}

	w = do(s, http.MethodGet, "/api/red", nil)
	var report models.REDReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if report.Threshold != 10 || len(report.Duration) != 1 || report.Rate == nil {
		t.Fatalf("unexpected RED report: %+v", report)
	}
}

func TestRequestIDAndReadiness(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	s := newTestServer(t, store, nil)

	w := do(s, http.MethodGet, "/readyz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", w.Code)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("expected propagated request id, got %q", got)
	}

	w = do(s, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "meshspectre_dashboard_requests_total") {
		t.Fatalf("expected metrics exposition, got %d", w.Code)
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, newTestStore(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
