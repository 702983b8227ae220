package metrics

import (
	"testing"
	"time"
)

func TestRecordAndSnapshot(t *testing.T) {
	Init(func() bool { return true }, "test", "now")

	Record(RequestMetrics{
		Endpoint:      "GET /api/v1/templates/{name}/rendered",
		Template:      "router",
		TotalDuration: 20 * time.Millisecond,
		StatusCode:    200,
	})
	Record(RequestMetrics{
		Endpoint:      "GET /api/v1/templates/{name}/rendered",
		Template:      "router",
		TotalDuration: 10 * time.Millisecond,
		StatusCode:    200,
		CacheHit:      true,
	})
	Record(RequestMetrics{
		Endpoint:      "GET /api/v1/templates/{name}/rendered",
		Template:      "router",
		TotalDuration: 30 * time.Millisecond,
		StatusCode:    504,
		Error:         "command queue timeout",
	})

	snap := GetSnapshot()
	if snap == nil {
		t.Fatal("nil snapshot")
	}
	if snap.TotalRequests != 3 || snap.TotalErrors != 1 || snap.TotalTimeouts != 1 {
		t.Fatalf("totals = %d/%d/%d", snap.TotalRequests, snap.TotalErrors, snap.TotalTimeouts)
	}
	if !snap.DBHealthy {
		t.Error("db reported unhealthy")
	}

	ep, ok := snap.Endpoints["GET /api/v1/templates/{name}/rendered"]
	if !ok {
		t.Fatalf("endpoints = %v", snap.Endpoints)
	}
	if ep.RequestCount != 3 || ep.ErrorCount != 1 || ep.TimeoutCount != 1 || ep.CacheHits != 1 {
		t.Fatalf("endpoint = %+v", ep)
	}
	if ep.MinDurationMs != 10 || ep.MaxDurationMs != 30 || ep.AvgDurationMs != 20 {
		t.Fatalf("durations = min %v max %v avg %v", ep.MinDurationMs, ep.MaxDurationMs, ep.AvgDurationMs)
	}
}

func TestReset(t *testing.T) {
	Init(nil, "", "")
	Record(RequestMetrics{Endpoint: "GET /health", TotalDuration: time.Millisecond, StatusCode: 200})

	Reset()

	snap := GetSnapshot()
	if snap.TotalRequests != 0 || len(snap.Endpoints) != 0 {
		t.Fatalf("snapshot after reset = %+v", snap)
	}
}

func TestRecordBeforeInit(t *testing.T) {
	defaultCollector = nil
	Record(RequestMetrics{Endpoint: "GET /health"})
	if GetSnapshot() != nil {
		t.Fatal("expected nil snapshot before Init")
	}
}

func TestProviders(t *testing.T) {
	Init(nil, "", "")
	SetCacheSnapshotProvider(func() any { return map[string]int{"hits": 7} })
	SetRateLimitSnapshotProvider(func() any { return map[string]int{"clients": 2} })

	snap := GetSnapshot()
	if snap.Cache == nil || snap.RateLimits == nil {
		t.Fatalf("providers missing: %+v", snap)
	}
}
