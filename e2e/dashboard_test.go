package e2e

import (
	"net/http"
	"testing"
)

func TestDashboardOverview(t *testing.T) {
	ta := setupApp(t)
	startJob(t, ta)
	startJob(t, ta)

	resp, err := doRequest(ta.dash, http.MethodGet, "/", nil, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)
	result := parseJSON(t, resp)
	if result["totalJobs"] != float64(2) {
		t.Errorf("expected 2 jobs, got %v", result["totalJobs"])
	}
	counts := result["counts"].(map[string]interface{})
	if counts["queued"] != float64(2) {
		t.Errorf("expected 2 queued, got %v", counts["queued"])
	}
	if result["leasesTotal"] != float64(1) {
		t.Errorf("expected 1 total lease, got %v", result["leasesTotal"])
	}
}

func TestDashboardJobsList(t *testing.T) {
	ta := setupApp(t)
	jobID := startJob(t, ta)

	resp, err := doRequest(ta.dash, http.MethodGet, "/jobs", nil, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)
	result := parseJSON(t, resp)
	jobs := result["jobs"].([]interface{})
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].(map[string]interface{})["jobId"] != jobID {
		t.Errorf("wrong job in list: %v", jobs[0])
	}

	// Status filter with no matches.
	resp, err = doRequest(ta.dash, http.MethodGet, "/jobs?status=failed", nil, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	result = parseJSON(t, resp)
	if len(result["jobs"].([]interface{})) != 0 {
		t.Error("status filter returned non-matching jobs")
	}
}

func TestDashboardJobDetail(t *testing.T) {
	ta := setupApp(t)
	jobID := startJob(t, ta)

	resp, err := doRequest(ta.dash, http.MethodGet, "/jobs/"+jobID, nil, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	result := parseJSON(t, resp)
	if result["id"] != jobID {
		t.Errorf("expected id %s, got %v", jobID, result["id"])
	}

	resp, err = doRequest(ta.dash, http.MethodGet, "/jobs/does-not-exist", nil, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestDashboardQueueSnapshot(t *testing.T) {
	ta := setupApp(t)
	startJob(t, ta)

	resp, err := doRequest(ta.dash, http.MethodGet, "/queue", nil, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)
	result := parseJSON(t, resp)
	queued := result["queued"].([]interface{})
	if len(queued) != 1 {
		t.Errorf("expected 1 queued entry, got %d", len(queued))
	}
	if result["leasesHeld"] != float64(0) {
		t.Errorf("expected 0 leases held, got %v", result["leasesHeld"])
	}
}

func TestDashboardLogsMissingFile(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.dash, http.MethodGet, "/logs", nil, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)
	result := parseJSON(t, resp)
	lines := result["lines"].([]interface{})
	if len(lines) != 0 {
		t.Errorf("expected no lines for missing log file, got %d", len(lines))
	}

	resp, err = doRequest(ta.dash, http.MethodGet, "/logs?lines=0", nil, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}
