package e2e

import (
	"net/http"
	"testing"
)

func TestHealthCheck(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/health", nil, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)
	result := parseJSON(t, resp)
	if result["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got %v", result["status"])
	}
	// Mock engine: no accelerator.
	if result["gpu_available"] != false {
		t.Errorf("expected gpu_available false, got %v", result["gpu_available"])
	}
	if result["gpu_name"] != "N/A" {
		t.Errorf("expected gpu_name N/A, got %v", result["gpu_name"])
	}

	services := result["services"].(map[string]interface{})
	if services["engine"] != false {
		t.Errorf("mock engine must report unconfigured, got %v", services["engine"])
	}
}

func TestRootTimestamp(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/", nil, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)
	result := parseJSON(t, resp)
	if result["timestamp"] == nil {
		t.Error("expected 'timestamp' in response")
	}
}

func TestHealthRequiresNoAuth(t *testing.T) {
	ta := setupApp(t)

	// No Authorization header on purpose.
	resp, err := doRequest(ta.app, http.MethodGet, "/health", nil, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
}
