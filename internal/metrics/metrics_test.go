package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should be ignored: %v", err)
	}
}

func TestObserversExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	ObserveProbe(true)
	ObserveDiscovery(false)
	ObserveBackendCall("/search", -time.Second, true)
	ObserveSearch(true)
	ObserveSummary("weird")
	SetActiveSessions(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"helpbot_health_probes_total",
		"helpbot_discoveries_total",
		"helpbot_backend_calls_total",
		"helpbot_backend_call_seconds",
		"helpbot_searches_total",
		"helpbot_summaries_total",
		"helpbot_active_sessions",
	} {
		if !names[want] {
			t.Fatalf("metric %s not exported", want)
		}
	}
}
