package e2e

import (
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestProcessStart_Success(t *testing.T) {
	ta := setupApp(t)

	body, ct := uploadBody(t, "recording.mp3", map[string]string{"language": "en", "priority": "5"})
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/process", body, ct)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusAccepted)
	result := parseJSON(t, resp)
	if result["jobId"] == nil || result["jobId"] == "" {
		t.Error("expected 'jobId' in response")
	}
	if result["status"] != "queued" {
		t.Errorf("expected status 'queued', got %v", result["status"])
	}
	if result["priority"] != float64(5) {
		t.Errorf("expected priority 5, got %v", result["priority"])
	}
}

func TestProcessStart_NoAuth(t *testing.T) {
	ta := setupApp(t)

	body, ct := uploadBody(t, "recording.wav", nil)
	resp, err := doRequest(ta.app, http.MethodPost, "/api/process", body, map[string]string{"Content-Type": ct})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestProcessStart_NoFile(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/process", strings.NewReader(""), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)
}

func TestProcessStart_UnsupportedExtension(t *testing.T) {
	ta := setupApp(t)

	body, ct := uploadBody(t, "notes.txt", nil)
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/process", body, ct)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)
	result := parseJSON(t, resp)
	detail := result["error"].(map[string]interface{})
	if detail["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %v", detail["code"])
	}
}

func TestProcessStart_BadPriority(t *testing.T) {
	ta := setupApp(t)

	body, ct := uploadBody(t, "recording.wav", map[string]string{"priority": "not-a-number"})
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/process", body, ct)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)

	body, ct = uploadBody(t, "recording.wav", map[string]string{"priority": "42"})
	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/process", body, ct)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestProcessStatus_Success(t *testing.T) {
	ta := setupApp(t)
	jobID := startJob(t, ta)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/process/status/"+jobID, nil, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)
	result := parseJSON(t, resp)
	if result["jobId"] != jobID {
		t.Errorf("expected jobId %s, got %v", jobID, result["jobId"])
	}
	if result["status"] != "queued" {
		t.Errorf("expected status 'queued', got %v", result["status"])
	}
	if result["attemptCount"] != float64(0) {
		t.Errorf("expected attemptCount 0, got %v", result["attemptCount"])
	}
}

func TestProcessStatus_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/process/status/"+uuid.New().String(), nil, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
}

func TestProcessResult_NotReady(t *testing.T) {
	ta := setupApp(t)
	jobID := startJob(t, ta)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/process/result/"+jobID, nil, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusConflict)
	result := parseJSON(t, resp)
	detail := result["error"].(map[string]interface{})
	if detail["code"] != "JOB_NOT_READY" {
		t.Errorf("expected JOB_NOT_READY, got %v", detail["code"])
	}
}

func TestProcessResult_CancelledJob(t *testing.T) {
	ta := setupApp(t)
	jobID := startJob(t, ta)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/process/cancel/"+jobID, nil, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	// A terminal job will never become ready; the code must say so.
	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/process/result/"+jobID, nil, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusConflict)
	result := parseJSON(t, resp)
	detail := result["error"].(map[string]interface{})
	if detail["code"] != "JOB_NOT_SUCCEEDED" {
		t.Errorf("expected JOB_NOT_SUCCEEDED, got %v", detail["code"])
	}
	details := detail["details"].(map[string]interface{})
	if details["status"] != "cancelled" {
		t.Errorf("expected status 'cancelled' in details, got %v", details["status"])
	}
}

func TestProcessCancel_QueuedJob(t *testing.T) {
	ta := setupApp(t)
	jobID := startJob(t, ta)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/process/cancel/"+jobID, nil, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)
	result := parseJSON(t, resp)
	if result["status"] != "cancelled" {
		t.Errorf("expected status 'cancelled', got %v", result["status"])
	}

	// Cancel is idempotent on terminal jobs.
	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/process/cancel/"+jobID, nil, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	result = parseJSON(t, resp)
	if result["status"] != "cancelled" {
		t.Errorf("second cancel changed status: %v", result["status"])
	}
}

func TestProcessCancel_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/process/cancel/"+uuid.New().String(), nil, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
}
