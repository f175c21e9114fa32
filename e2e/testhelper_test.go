package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/voxpipe/api/internal/auth"
	"github.com/voxpipe/api/internal/dashboard"
	"github.com/voxpipe/api/internal/handler"
	"github.com/voxpipe/api/internal/inference"
	"github.com/voxpipe/api/internal/middleware"
	"github.com/voxpipe/api/internal/model"
	"github.com/voxpipe/api/internal/scheduler"
	"github.com/voxpipe/api/internal/storage"
	"github.com/voxpipe/api/internal/transform"
	ws "github.com/voxpipe/api/internal/websocket"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing.
type testApp struct {
	app   *fiber.App
	dash  *fiber.App
	sched *scheduler.Scheduler
	store scheduler.Store
}

// setupApp wires a Fiber app like main.go does, but with an in-memory job
// store and the mock inference engine so no Redis, GPU or ffmpeg is needed.
// The scheduler's Run loop is not started: submitted jobs stay queued, which
// keeps the gateway behavior deterministic.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	log := zerolog.Nop()
	validate := validator.New()

	jobStore := scheduler.NewMemoryStore()

	blobs, err := storage.NewLocalStore(t.TempDir(), log)
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}

	engine := inference.NewMockEngine()
	runner := transform.NewRunner("ffmpeg", time.Minute, blobs, log)
	stage := inference.NewStage(engine, runner, blobs, 0.5, log)

	hub := ws.NewHub(log)
	go hub.Run()

	sched := scheduler.New(runner, stage, jobStore, blobs, nil, nil, hub, scheduler.Options{}, log)

	spec := model.DefaultTransformSpec()
	processHandler := handler.NewProcessHandler(sched, blobs, validate, spec, "ur")
	healthHandler := handler.NewHealthHandler(stage, engine, nil, false)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)

	// Unreachable Redis: the limiter degrades to pass-through.
	limiterRedis := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	rateLimiter := middleware.NewRateLimiter(limiterRedis)

	app := fiber.New(fiber.Config{
		BodyLimit: 200 * 1024 * 1024,
	})

	app.Get("/", healthHandler.Root)
	app.Get("/health", healthHandler.Check)

	api := app.Group("/api", authMiddleware.Authenticate())
	process := api.Group("/process")
	process.Post("/", rateLimiter.ProcessLimit(10000), processHandler.Start)
	process.Get("/status/:jobId", rateLimiter.StatusLimit(10000), processHandler.Status)
	process.Get("/result/:jobId", processHandler.Result)
	process.Post("/cancel/:jobId", processHandler.Cancel)

	dash := dashboard.NewServer(sched, jobStore, "/nonexistent/pipeline.log", log)

	return &testApp{app: app, dash: dash.App(), sched: sched, store: jobStore}
}

// generateToken creates an HMAC JWT for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := auth.Claims{
		UserID: "test-user-123",
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "voxpipe-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// uploadBody builds a multipart form with an audio file and optional fields.
func uploadBody(t *testing.T, filename string, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	part.Write([]byte("fake audio bytes"))
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

// doRequest performs an HTTP request against the test app.
func doRequest(app *fiber.App, method, path string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequest(method, path, body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	t.Helper()
	headers := map[string]string{
		"Authorization": "Bearer " + generateToken(t),
	}
	if contentType != "" {
		headers["Content-Type"] = contentType
	}
	return doRequest(app, method, path, body, headers)
}

// startJob uploads a file and returns the new job id.
func startJob(t *testing.T, ta *testApp) string {
	t.Helper()
	body, ct := uploadBody(t, "call.wav", nil)
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/process", body, ct)
	if err != nil {
		t.Fatalf("upload request: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	result := parseJSON(t, resp)
	jobID, _ := result["jobId"].(string)
	if jobID == "" {
		t.Fatalf("no jobId in response: %v", result)
	}
	return jobID
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses the response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
