package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRun(t *testing.T) {
	before := testutil.ToFloat64(runsTotal.WithLabelValues("discovery", StatusSuccess))
	RecordRun("discovery", StatusSuccess, 0.5)
	after := testutil.ToFloat64(runsTotal.WithLabelValues("discovery", StatusSuccess))
	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestGaugesReflectLatestValues(t *testing.T) {
	cases := []struct {
		name  string
		apply func()
		read  func() float64
		want  float64
	}{
		{
			name:  "inventory_apps",
			apply: func() { SetInventory(2, 7) },
			read:  func() float64 { return testutil.ToFloat64(inventoryApps) },
			want:  7,
		},
		{
			name:  "unhealthy",
			apply: func() { SetHealth(4, 3, 0) },
			read:  func() float64 { return testutil.ToFloat64(appsByHealth.WithLabelValues("unhealthy")) },
			want:  3,
		},
		{
			name:  "red_duration",
			apply: func() { SetRED(1, 0, 5) },
			read:  func() float64 { return testutil.ToFloat64(redAnomalies.WithLabelValues("duration")) },
			want:  5,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.apply()
			if got := tc.read(); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordMeshRequest("graph", false, 0.2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "meshspectre_mesh_requests_total") {
		t.Fatalf("expected mesh request counter in output, got %s", body)
	}
}
