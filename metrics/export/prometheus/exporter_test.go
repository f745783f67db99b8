package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/linkauth"
	prom "github.com/prometheus/client_golang/prometheus"
)

type fakeSource struct {
	snapshot linkauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() linkauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func sampleSource() fakeSource {
	return fakeSource{
		snapshot: linkauth.MetricsSnapshot{
			Counters: map[linkauth.MetricID]uint64{
				linkauth.MetricMagicLinkSent: 7,
				linkauth.MetricSignOut:       2,
			},
			Histograms: map[linkauth.MetricID][]uint64{
				linkauth.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	}
}

func TestCollectorGathers(t *testing.T) {
	c, err := NewCollector(sampleSource())
	if err != nil {
		t.Fatalf("NewCollector failed: %v", err)
	}
	reg := prom.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	byName := make(map[string]float64)
	var histCount uint64
	var firstBucket uint64
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				byName[mf.GetName()] = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				histCount = m.GetHistogram().GetSampleCount()
				firstBucket = m.GetHistogram().GetBucket()[0].GetCumulativeCount()
			}
		}
	}

	if byName["linkauth_magic_link_sent_total"] != 7 || byName["linkauth_sign_out_total"] != 2 {
		t.Fatalf("unexpected counters %v", byName)
	}
	if byName["linkauth_audit_dropped_total"] != 2 {
		t.Fatalf("expected audit dropped 2, got %v", byName["linkauth_audit_dropped_total"])
	}
	if v, ok := byName["linkauth_refresh_success_total"]; !ok || v != 0 {
		t.Fatalf("missing counters must still be exported as zero")
	}
	if histCount != 36 || firstBucket != 1 {
		t.Fatalf("unexpected histogram count=%d first=%d", histCount, firstBucket)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	h, err := Handler(sampleSource())
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"linkauth_magic_link_sent_total 7",
		`linkauth_validate_latency_seconds_bucket{le="0.005"} 1`,
		"linkauth_validate_latency_seconds_count 36",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in output:\n%s", want, body)
		}
	}
}

func TestNilSource(t *testing.T) {
	if _, err := NewCollector(nil); err == nil {
		t.Fatalf("expected error for nil source")
	}
}
