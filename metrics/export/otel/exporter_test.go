package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/linkauth"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot linkauth.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() linkauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := linkauth.MetricsSnapshot{
		Counters:   make(map[linkauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[linkauth.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, b := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), b...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if len(data.DataPoints) > 0 {
					out[m.Name] = data.DataPoints[0].Value
				}
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) > 0 {
					out[m.Name] = data.DataPoints[0].Value
				}
			}
		}
	}
	return out
}

func TestExporterObservesSnapshot(t *testing.T) {
	reader, provider := newReader(t)
	src := &fakeSource{
		snapshot: linkauth.MetricsSnapshot{
			Counters: map[linkauth.MetricID]uint64{linkauth.MetricMagicLinkSent: 3},
			Histograms: map[linkauth.MetricID][]uint64{
				linkauth.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewExporter(provider.Meter("linkauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	got := collect(t, reader)
	if got["linkauth_magic_link_sent_total"] != 3 {
		t.Fatalf("expected magic_link_sent 3, got %v", got)
	}
	if got["linkauth_validate_latency_seconds_bucket_le_5ms"] != 1 || got["linkauth_validate_latency_seconds_bucket_le_inf"] != 8 {
		t.Fatalf("unexpected buckets %v", got)
	}
	if got["linkauth_validate_latency_seconds_count"] != 8 || got["linkauth_audit_dropped_total"] != 1 {
		t.Fatalf("unexpected count or dropped %v", got)
	}
}

func TestExporterRejectsNil(t *testing.T) {
	_, provider := newReader(t)
	if _, err := NewExporter(provider.Meter("linkauth-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporter(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newReader(t)
	src := &fakeSource{
		snapshot: linkauth.MetricsSnapshot{
			Counters:   map[linkauth.MetricID]uint64{linkauth.MetricSignOut: 1},
			Histograms: map[linkauth.MetricID][]uint64{},
		},
	}
	exp, err := NewExporter(provider.Meter("linkauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[linkauth.MetricSignOut] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}

func TestExporterWithEngine(t *testing.T) {
	var _ MetricsSource = (*linkauth.Engine)(nil)
}
