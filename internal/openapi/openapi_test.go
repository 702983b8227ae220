package openapi

import (
	"encoding/json"
	"testing"
)

func TestSpecSerializes(t *testing.T) {
	spec := Spec()
	if _, err := json.Marshal(spec); err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if spec["openapi"] != "3.0.3" {
		t.Fatalf("openapi = %v", spec["openapi"])
	}
}

func TestSpecCoversRoutes(t *testing.T) {
	paths, ok := Spec()["paths"].(map[string]any)
	if !ok {
		t.Fatal("paths missing")
	}

	want := []string{
		"/api/v1/template/{name}",
		"/api/v1/template/{name}/values",
		"/api/v1/config/{name}",
		"/api/v1/rendered/{name}",
		"/api/v1/rendered/{name}/{id_value}",
		"/health",
		"/metrics",
		"/config/loglevel",
	}
	for _, p := range want {
		if _, ok := paths[p]; !ok {
			t.Errorf("path %s missing", p)
		}
	}
}
