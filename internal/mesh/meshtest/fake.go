// Package meshtest provides an in-memory mesh API for tests.
package meshtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/ppiankov/meshspectre/internal/mesh"
)

// API is a programmable mesh.API. Unset entries answer with 404.
type API struct {
	mu sync.Mutex

	NamespaceList []mesh.NamespaceInfo
	AppsByNS      map[string][]string
	Health        map[string]*mesh.AppHealth
	Graphs        map[string]*mesh.Graph
	// Errors forces a failure for a key: "namespaces", "apps:<ns>",
	// "health:<ns>/<app>" or "graph:<ns>/<app>".
	Errors map[string]error

	calls map[string]int
}

// New returns an empty fake.
func New() *API {
	return &API{
		AppsByNS: map[string][]string{},
		Health:   map[string]*mesh.AppHealth{},
		Graphs:   map[string]*mesh.Graph{},
		Errors:   map[string]error{},
		calls:    map[string]int{},
	}
}

// AddNamespace registers a namespace with the given labels and apps.
func (f *API) AddNamespace(name string, labels map[string]string, apps ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var raw json.RawMessage
	if labels != nil {
		raw, _ = json.Marshal(labels)
	}
	f.NamespaceList = append(f.NamespaceList, mesh.NamespaceInfo{Name: name, Labels: raw})
	f.AppsByNS[name] = append(f.AppsByNS[name], apps...)
}

// AddMeshNamespace registers a namespace labeled istio-injection=enabled.
func (f *API) AddMeshNamespace(name string, apps ...string) {
	f.AddNamespace(name, map[string]string{"istio-injection": "enabled"}, apps...)
}

// SetHealth sets the health payload for ns/app.
func (f *API) SetHealth(ns, app string, h *mesh.AppHealth) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Health[ns+"/"+app] = h
}

// SetGraph sets the graph payload for ns/app.
func (f *API) SetGraph(ns, app string, g *mesh.Graph) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Graphs[ns+"/"+app] = g
}

// Fail forces key to return err until cleared with Fail(key, nil).
func (f *API) Fail(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Errors, key)
		return
	}
	f.Errors[key] = err
}

// Calls returns how many times key was requested.
func (f *API) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *API) begin(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	if err, ok := f.Errors[key]; ok {
		return err
	}
	return nil
}

func notFound(endpoint string) error {
	return &mesh.RemoteFetchError{
		Endpoint:   endpoint,
		StatusCode: http.StatusNotFound,
		Err:        fmt.Errorf("not found"),
	}
}

// Namespaces implements mesh.API.
func (f *API) Namespaces(ctx context.Context) ([]mesh.NamespaceInfo, error) {
	if err := f.begin("namespaces"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mesh.NamespaceInfo(nil), f.NamespaceList...), nil
}

// Apps implements mesh.API.
func (f *API) Apps(ctx context.Context, namespace string) (*mesh.AppList, error) {
	if err := f.begin("apps:" + namespace); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	apps, ok := f.AppsByNS[namespace]
	if !ok {
		return nil, notFound("/namespaces/" + namespace + "/apps")
	}
	list := &mesh.AppList{Applications: make([]mesh.AppInfo, 0, len(apps))}
	for _, name := range apps {
		list.Applications = append(list.Applications, mesh.AppInfo{Name: name})
	}
	return list, nil
}

// AppHealth implements mesh.API.
func (f *API) AppHealth(ctx context.Context, namespace, app string) (*mesh.AppHealth, error) {
	key := namespace + "/" + app
	if err := f.begin("health:" + key); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.Health[key]
	if !ok {
		return nil, notFound("/namespaces/" + namespace + "/apps/" + app + "/health")
	}
	return h, nil
}

// AppGraph implements mesh.API.
func (f *API) AppGraph(ctx context.Context, namespace, app string) (*mesh.Graph, error) {
	key := namespace + "/" + app
	if err := f.begin("graph:" + key); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.Graphs[key]
	if !ok {
		return nil, notFound("/namespaces/" + namespace + "/applications/" + app + "/graph")
	}
	return g, nil
}

// Workload builds a workload status record.
func Workload(name string, desired, current, available, synced int) mesh.WorkloadStatus {
	return mesh.WorkloadStatus{
		Name:              name,
		DesiredReplicas:   desired,
		CurrentReplicas:   current,
		AvailableReplicas: available,
		SyncedProxies:     synced,
	}
}

// Histogram converts a plain map into a request histogram.
func Histogram(rates map[string]float64) map[string]mesh.Number {
	out := make(map[string]mesh.Number, len(rates))
	for k, v := range rates {
		out[k] = mesh.Number(v)
	}
	return out
}

// N returns a pointer to a Number.
func N(v float64) *mesh.Number {
	n := mesh.Number(v)
	return &n
}

// Handler serves the fake over HTTP using the mesh API routes, for tests
// that exercise a real mesh.Client.
func (f *API) Handler(prefix string) http.Handler {
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, v interface{}, err error) {
		if err != nil {
			code := mesh.StatusCode(err)
			if code == 0 {
				code = http.StatusBadGateway
			}
			http.Error(w, err.Error(), code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("GET "+prefix+"/namespaces", func(w http.ResponseWriter, r *http.Request) {
		v, err := f.Namespaces(r.Context())
		write(w, v, err)
	})
	mux.HandleFunc("GET "+prefix+"/namespaces/{ns}/apps", func(w http.ResponseWriter, r *http.Request) {
		v, err := f.Apps(r.Context(), r.PathValue("ns"))
		write(w, v, err)
	})
	mux.HandleFunc("GET "+prefix+"/namespaces/{ns}/apps/{app}/health", func(w http.ResponseWriter, r *http.Request) {
		v, err := f.AppHealth(r.Context(), r.PathValue("ns"), r.PathValue("app"))
		write(w, v, err)
	})
	mux.HandleFunc("GET "+prefix+"/namespaces/{ns}/applications/{app}/graph", func(w http.ResponseWriter, r *http.Request) {
		v, err := f.AppGraph(r.Context(), r.PathValue("ns"), r.PathValue("app"))
		write(w, v, err)
	})
	return mux
}
