// Package dashboard serves the operator view on a separate port. It is
// strictly read-only: every route observes job and queue state, none of
// them mutates it.
package dashboard

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
	"github.com/voxpipe/api/internal/model"
	"github.com/voxpipe/api/internal/scheduler"
	"github.com/voxpipe/api/pkg/response"
)

const defaultLogTail = 200

type Server struct {
	sched   *scheduler.Scheduler
	store   scheduler.Store
	logPath string
	log     zerolog.Logger
}

func NewServer(sched *scheduler.Scheduler, store scheduler.Store, logPath string, log zerolog.Logger) *Server {
	return &Server{
		sched:   sched,
		store:   store,
		logPath: logPath,
		log:     log,
	}
}

// App builds the dashboard fiber application.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "voxpipe-dashboard",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/", s.overview)
	app.Get("/jobs", s.listJobs)
	app.Get("/jobs/:jobId", s.getJob)
	app.Get("/queue", s.queue)
	app.Get("/logs", s.logs)

	return app
}

func (s *Server) overview(c *fiber.Ctx) error {
	jobs, err := s.store.ListJobs(c.Context())
	if err != nil {
		return response.ServiceError(c, "Failed to list jobs")
	}

	counts := map[model.JobStatus]int{}
	for _, job := range jobs {
		counts[job.Status]++
	}
	snap := s.sched.Snapshot()

	return response.OK(c, fiber.Map{
		"totalJobs": len(jobs),
		"counts": fiber.Map{
			"queued":    counts[model.JobStatusQueued],
			"running":   counts[model.JobStatusRunning],
			"succeeded": counts[model.JobStatusSucceeded],
			"failed":    counts[model.JobStatusFailed],
			"cancelled": counts[model.JobStatusCancelled],
		},
		"leasesHeld":  snap.LeasesHeld,
		"leasesTotal": snap.LeasesTotal,
	})
}

func (s *Server) listJobs(c *fiber.Ctx) error {
	jobs, err := s.store.ListJobs(c.Context())
	if err != nil {
		return response.ServiceError(c, "Failed to list jobs")
	}

	if status := c.Query("status"); status != "" {
		filtered := jobs[:0]
		for _, job := range jobs {
			if string(job.Status) == status {
				filtered = append(filtered, job)
			}
		}
		jobs = filtered
	}

	out := make([]model.ProcessStatusResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, model.ProcessStatusResponse{
			JobID:        job.ID,
			Status:       job.Status,
			Priority:     job.Priority,
			Progress:     job.Progress,
			CurrentStep:  job.CurrentStep,
			AttemptCount: job.AttemptCount,
			Error:        job.Error,
			CreatedAt:    job.CreatedAt,
			StartedAt:    job.StartedAt,
			FinishedAt:   job.FinishedAt,
		})
	}
	return response.OK(c, fiber.Map{"jobs": out})
}

func (s *Server) getJob(c *fiber.Ctx) error {
	job, err := s.store.GetJob(c.Context(), c.Params("jobId"))
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to fetch job")
	}
	return response.OK(c, job)
}

func (s *Server) queue(c *fiber.Ctx) error {
	return response.OK(c, s.sched.Snapshot())
}

// logs tails the pipeline log file. This backs the live log panel and
// intentionally reads the whole file; log rotation keeps it bounded.
func (s *Server) logs(c *fiber.Ctx) error {
	n := defaultLogTail
	if raw := c.Query("lines"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 5000 {
			return response.ValidationError(c, "lines must be between 1 and 5000", nil)
		}
		n = v
	}

	data, err := os.ReadFile(s.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return response.OK(c, fiber.Map{"lines": []string{}})
		}
		return response.ServiceError(c, "Failed to read log file")
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return response.OK(c, fiber.Map{"lines": lines})
}
