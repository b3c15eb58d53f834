package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/ppiankov/meshspectre/internal/mesh"
	"github.com/ppiankov/meshspectre/internal/mesh/meshtest"
	"github.com/ppiankov/meshspectre/internal/models"
	"github.com/ppiankov/meshspectre/internal/snapshot"
	"github.com/ppiankov/meshspectre/pkg/config"
)

func node(id, app string) mesh.GraphNode {
	return mesh.GraphNode{Data: mesh.NodeData{ID: id, App: app}}
}

func edge(target string, rate, errPct, duration *mesh.Number) mesh.GraphEdge {
	e := mesh.GraphEdge{Data: mesh.EdgeData{Source: "src", Target: target, ResponseTime: duration}}
	e.Data.Traffic.Rates.HTTP = rate
	e.Data.Traffic.Rates.HTTPPercentErr = errPct
	return e
}

func graph(nodes []mesh.GraphNode, edges ...mesh.GraphEdge) *mesh.Graph {
	g := &mesh.Graph{}
	g.Elements.Nodes = nodes
	g.Elements.Edges = edges
	return g
}

func TestExtractRED(t *testing.T) {
	n := meshtest.N
	cases := []struct {
		name  string
		graph *mesh.Graph
		want  REDMetrics
	}{
		{
			name:  "nil_graph",
			graph: nil,
			want:  REDMetrics{},
		},
		{
			name:  "no_matching_node",
			graph: graph([]mesh.GraphNode{node("n1", "other")}, edge("n1", n(5), n(1), n(3))),
			want:  REDMetrics{},
		},
		{
			name:  "single_edge",
			graph: graph([]mesh.GraphNode{node("n1", "web")}, edge("n1", n(5), n(2.5), n(12))),
			want:  REDMetrics{Rate: 5, Error: 2.5, Duration: 12},
		},
		{
			name:  "edge_to_other_node_ignored",
			graph: graph([]mesh.GraphNode{node("n1", "web"), node("n2", "db")}, edge("n2", n(5), n(2.5), n(12))),
			want:  REDMetrics{},
		},
		{
			name: "last_edge_wins_error_kept_when_absent",
			graph: graph([]mesh.GraphNode{node("n1", "web")},
				edge("n1", n(5), n(2.5), n(12)),
				edge("n1", n(1), nil, n(4)),
			),
			want: REDMetrics{Rate: 1, Error: 2.5, Duration: 4},
		},
		{
			name: "last_node_wins",
			graph: graph([]mesh.GraphNode{node("n1", "web"), node("n2", "web")},
				edge("n1", n(9), n(9), n(9)),
				edge("n2", n(1), nil, n(2)),
			),
			want: REDMetrics{Rate: 1, Duration: 2},
		},
		{
			name:  "non_finite_values_read_as_zero",
			graph: graph([]mesh.GraphNode{node("n1", "web")}, edge("n1", n(math.Inf(1)), n(math.NaN()), n(math.NaN()))),
			want:  REDMetrics{},
		},
		{
			name:  "missing_fields_default_to_zero",
			graph: graph([]mesh.GraphNode{node("n1", "web")}, edge("n1", nil, nil, nil)),
			want:  REDMetrics{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractRED(tc.graph, "web"); got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestREDEvaluateFlags(t *testing.T) {
	n := meshtest.N
	store := newTestStore(t)
	writeInventory(t, store, models.Namespace{Name: "ns", Apps: []string{"idle", "failing", "slow", "edge", "fine"}})

	api := meshtest.New()
	api.SetGraph("ns", "idle", graph([]mesh.GraphNode{node("i", "idle")}))
	api.SetGraph("ns", "failing", graph([]mesh.GraphNode{node("f", "failing")}, edge("f", n(3), n(12.5), n(1))))
	api.SetGraph("ns", "slow", graph([]mesh.GraphNode{node("s", "slow")}, edge("s", n(3), nil, n(10.0001))))
	api.SetGraph("ns", "edge", graph([]mesh.GraphNode{node("e", "edge")}, edge("e", n(3), n(0), n(10))))
	api.SetGraph("ns", "fine", graph([]mesh.GraphNode{node("o", "fine")}, edge("o", n(3), nil, n(2))))

	cfg := config.DefaultConfig()
	cfg.DurationThreshold = 10
	report, err := NewREDEvaluator(cfg, api, store).Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if want := []models.RateEntry{{Namespace: "ns", App: "idle", Rate: 0}}; !reflect.DeepEqual(report.Rate, want) {
		t.Fatalf("expected rate %v, got %v", want, report.Rate)
	}
	if want := []models.ErrorEntry{{Namespace: "ns", App: "failing", Error: 12.5}}; !reflect.DeepEqual(report.Error, want) {
		t.Fatalf("expected error %v, got %v", want, report.Error)
	}
	if want := []models.DurationEntry{{Namespace: "ns", App: "slow", Duration: 10.0001}}; !reflect.DeepEqual(report.Duration, want) {
		t.Fatalf("expected duration %v, got %v", want, report.Duration)
	}
	if report.Threshold != 10 {
		t.Fatalf("expected threshold 10 recorded, got %v", report.Threshold)
	}

	stored, err := store.ReadRED(context.Background())
	if err != nil {
		t.Fatalf("ReadRED failed: %v", err)
	}
	if len(stored.Rate) != 1 || len(stored.Error) != 1 || len(stored.Duration) != 1 {
		t.Fatalf("unexpected stored report: %+v", stored)
	}
}

func TestREDEvaluateWithoutInventoryIsNoop(t *testing.T) {
	store := newTestStore(t)
	report, err := NewREDEvaluator(config.DefaultConfig(), meshtest.New(), store).Evaluate(context.Background())
	if err != nil || report != nil {
		t.Fatalf("expected nil report and error, got %v, %v", report, err)
	}
	if _, err := store.ReadRED(context.Background()); !snapshot.IsMissing(err) {
		t.Fatalf("expected RED snapshot to stay absent, got %v", err)
	}
}

func TestREDEvaluateAbortsOnFetchFailure(t *testing.T) {
	store := newTestStore(t)
	writeInventory(t, store, models.Namespace{Name: "ns", Apps: []string{"a", "b"}})

	api := meshtest.New()
	api.SetGraph("ns", "a", graph([]mesh.GraphNode{node("a", "a")}))
	api.Fail("graph:ns/b", &mesh.RemoteFetchError{Endpoint: "/graph", Err: errors.New("timeout")})

	cfg := config.DefaultConfig()
	cfg.UnknownOnFetchError = true
	if _, err := NewREDEvaluator(cfg, api, store).Evaluate(context.Background()); err == nil {
		t.Fatal("expected fetch failure to abort the run")
	}
	if _, err := store.ReadRED(context.Background()); !snapshot.IsMissing(err) {
		t.Fatalf("expected no RED snapshot after failure, got %v", err)
	}
}

func TestREDEvaluateStoresNaNGraphs(t *testing.T) {
	store := newTestStore(t)
	writeInventory(t, store, models.Namespace{Name: "ns", Apps: []string{"web"}})

	payload := `{"elements":{"nodes":[{"data":{"id":"w","app":"web"}}],
		"edges":[{"data":{"source":"src","target":"w","responseTime":"NaN",
		"traffic":{"rates":{"http":"NaN","httpPercentErr":"NaN"}}}}]}}`
	var g mesh.Graph
	if err := json.Unmarshal([]byte(payload), &g); err != nil {
		t.Fatalf("failed to decode graph: %v", err)
	}
	api := meshtest.New()
	api.SetGraph("ns", "web", &g)

	report, err := NewREDEvaluator(config.DefaultConfig(), api, store).Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(report.Error) != 0 || len(report.Duration) != 0 {
		t.Fatalf("expected NaN values to read as 0, got %+v", report)
	}
	if want := []models.RateEntry{{Namespace: "ns", App: "web", Rate: 0}}; !reflect.DeepEqual(report.Rate, want) {
		t.Fatalf("expected zero rate entry %v, got %v", want, report.Rate)
	}
	if _, err := store.ReadRED(context.Background()); err != nil {
		t.Fatalf("expected RED snapshot to be written, got %v", err)
	}
}
