package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveBuild(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.ObserveBuild("hello", "ok", 2*time.Second)

	if got := testutil.ToFloat64(m.BuildsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("BuildsTotal = %v, want 1", got)
	}
}

func TestObserveCacheLookup(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.ObserveCacheLookup(true)
	m.ObserveCacheLookup(false)

	if got := testutil.ToFloat64(m.CacheLookupTotal.WithLabelValues("hit")); got != 1 {
		t.Errorf("hit count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheLookupTotal.WithLabelValues("miss")); got != 1 {
		t.Errorf("miss count = %v, want 1", got)
	}
}

func TestObserveInstallAndRemove(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.ObserveInstall("ok")
	m.ObserveRemove("failed")

	if got := testutil.ToFloat64(m.InstallsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("InstallsTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RemovalsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("RemovalsTotal = %v, want 1", got)
	}
}
