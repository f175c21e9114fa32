package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/voxpipe/api/internal/config"
)

// HTTPEngine talks to the model-serving sidecar that owns the accelerator.
// The sidecar exposes /diarize, /transcribe and /health; it is the only
// process that loads weights or touches the device.
type HTTPEngine struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewHTTPEngine creates an engine client from config.
func NewHTTPEngine(cfg *config.EngineConfig) *HTTPEngine {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPEngine{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}
}

// IsConfigured returns true if an endpoint is set.
func (e *HTTPEngine) IsConfigured() bool {
	return e.baseURL != ""
}

// Diarize uploads the normalized recording and returns speaker turns.
func (e *HTTPEngine) Diarize(ctx context.Context, audioPath string) ([]Turn, error) {
	var out struct {
		Turns []Turn `json:"turns"`
	}
	if err := e.postFile(ctx, "/diarize", audioPath, nil, &out); err != nil {
		return nil, err
	}
	return out.Turns, nil
}

// Transcribe uploads one extracted chunk and returns its transcript.
func (e *HTTPEngine) Transcribe(ctx context.Context, chunkPath, language string) (string, error) {
	var out struct {
		Transcript string `json:"transcript"`
	}
	fields := map[string]string{"language": language}
	if err := e.postFile(ctx, "/transcribe", chunkPath, fields, &out); err != nil {
		return "", err
	}
	return out.Transcript, nil
}

// Health probes the sidecar for accelerator availability.
func (e *HTTPEngine) Health(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return Health{}, err
	}
	e.setAuth(req)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("engine health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Health{}, fmt.Errorf("engine health check returned %d", resp.StatusCode)
	}

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, fmt.Errorf("failed to decode health response: %w", err)
	}
	return h, nil
}

func (e *HTTPEngine) postFile(ctx context.Context, path, filePath string, fields map[string]string, out interface{}) error {
	f, err := os.Open(filePath)
	if err != nil {
		return &Error{Kind: KindModelFailure, Msg: fmt.Sprintf("cannot open %s", filePath), Err: err}
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	e.setAuth(req)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		// Connection-level failures look like device trouble to the retry
		// policy; the sidecar may be restarting after an OOM kill.
		return &Error{Kind: KindOutOfMemory, Msg: "engine unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classifyHTTP(resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindModelFailure, Msg: "failed to decode engine response", Err: err}
	}
	return nil
}

func (e *HTTPEngine) setAuth(req *http.Request) {
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
}

// classifyHTTP maps sidecar failures to the error taxonomy. CUDA memory
// exhaustion is the one thing worth retrying after backoff; everything else
// means the model or input is broken.
func classifyHTTP(status int, body string) error {
	lower := strings.ToLower(body)
	oom := status == http.StatusInsufficientStorage ||
		strings.Contains(lower, "out of memory") ||
		strings.Contains(lower, "cuda oom")
	if oom {
		return &Error{
			Kind: KindOutOfMemory,
			Msg:  fmt.Sprintf("device memory exhausted (status %d)", status),
		}
	}
	return &Error{
		Kind: KindModelFailure,
		Msg:  fmt.Sprintf("engine returned %d: %s", status, truncate(body, 256)),
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
