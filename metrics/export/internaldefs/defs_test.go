package internaldefs

import (
	"testing"

	"github.com/MrEthical07/linkauth"
)

func TestEveryCounterHasADefinition(t *testing.T) {
	defined := make(map[linkauth.MetricID]bool)
	for _, d := range CounterDefs {
		defined[d.ID] = true
	}
	for _, d := range HistogramDefs {
		defined[d.ID] = true
	}
	for _, id := range linkauth.MetricIDs() {
		if !defined[id] {
			t.Fatalf("metric %s has no exporter definition", id)
		}
	}
}

func TestBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if BucketSuffix(0) != "5ms" || BucketSuffix(7) != "inf" {
		t.Fatalf("unexpected suffixes %q %q", BucketSuffix(0), BucketSuffix(7))
	}
	if len(HistogramBounds) != 7 || HistogramBounds[0] != 0.005 {
		t.Fatalf("unexpected bounds %v", HistogramBounds)
	}
}
