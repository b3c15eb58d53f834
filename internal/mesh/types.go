package mesh

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Number is a float that decodes from a JSON number or a decimal string.
// The graph API reports rates and response times as strings.
type Number float64

// UnmarshalJSON accepts 1.5, "1.5", "" and null. Non-finite values such as
// "NaN" decode as 0 since they cannot be stored as JSON.
func (n *Number) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*n = 0
		return nil
	}

	raw := string(trimmed)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*n = 0
			return nil
		}
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", string(trimmed), err)
	}
	*n = Number(finiteOrZero(value))
	return nil
}

// Float64 returns n as a float64, or 0 when n is not finite.
func (n Number) Float64() float64 {
	return finiteOrZero(float64(n))
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// NamespaceInfo is one element of the namespace list. Labels are kept raw
// because their shape is not guaranteed.
type NamespaceInfo struct {
	Name   string          `json:"name"`
	Labels json.RawMessage `json:"labels"`
}

// AppList is the response of the per-namespace application listing.
type AppList struct {
	Namespace    json.RawMessage `json:"namespace,omitempty"`
	Applications []AppInfo       `json:"applications"`
}

// AppInfo names one application.
type AppInfo struct {
	Name         string `json:"name"`
	IstioSidecar bool   `json:"istioSidecar"`
}

// AppHealth is the combined workload and request telemetry for one application.
type AppHealth struct {
	WorkloadStatuses []WorkloadStatus `json:"workloadStatuses"`
	Requests         RequestHealth    `json:"requests"`
}

// WorkloadStatus carries replica and proxy counts for one workload.
type WorkloadStatus struct {
	Name              string `json:"name"`
	DesiredReplicas   int    `json:"desiredReplicas"`
	CurrentReplicas   int    `json:"currentReplicas"`
	AvailableReplicas int    `json:"availableReplicas"`
	SyncedProxies     int    `json:"syncedProxies"`
}

// RequestHealth splits request histograms by direction.
type RequestHealth struct {
	Inbound  ProtocolRequests `json:"inbound"`
	Outbound ProtocolRequests `json:"outbound"`
}

// ProtocolRequests maps status code keys to request rates per protocol.
type ProtocolRequests struct {
	HTTP map[string]Number `json:"http"`
	GRPC map[string]Number `json:"grpc,omitempty"`
}

// Graph is the application dependency graph.
type Graph struct {
	Elements GraphElements `json:"elements"`
}

// GraphElements holds nodes and edges.
type GraphElements struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// GraphNode wraps node data.
type GraphNode struct {
	Data NodeData `json:"data"`
}

// NodeData identifies a graph node.
type NodeData struct {
	ID        string `json:"id"`
	NodeType  string `json:"nodeType,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	App       string `json:"app"`
}

// GraphEdge wraps edge data.
type GraphEdge struct {
	Data EdgeData `json:"data"`
}

// EdgeData carries the traffic between two nodes.
type EdgeData struct {
	ID           string  `json:"id,omitempty"`
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	ResponseTime *Number `json:"responseTime"`
	Traffic      Traffic `json:"traffic"`
}

// Traffic holds the per-protocol rates of an edge.
type Traffic struct {
	Protocol string `json:"protocol,omitempty"`
	Rates    Rates  `json:"rates"`
}

// Rates holds edge rates. HTTPPercentErr is nil when the edge reported no errors.
type Rates struct {
	HTTP           *Number `json:"http"`
	HTTPPercentErr *Number `json:"httpPercentErr"`
}
