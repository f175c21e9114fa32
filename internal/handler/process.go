package handler

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/voxpipe/api/internal/model"
	"github.com/voxpipe/api/internal/scheduler"
	"github.com/voxpipe/api/internal/storage"
	"github.com/voxpipe/api/pkg/response"
)

const maxUploadSize = 200 * 1024 * 1024 // 200MB

// allowedExtensions mirrors what the transform stage can actually decode.
var allowedExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".flac": true,
}

type ProcessHandler struct {
	sched     *scheduler.Scheduler
	store     *storage.LocalStore
	validator *validator.Validate
	defaults  model.TransformSpec
	language  string
}

func NewProcessHandler(sched *scheduler.Scheduler, store *storage.LocalStore, v *validator.Validate, defaults model.TransformSpec, language string) *ProcessHandler {
	return &ProcessHandler{
		sched:     sched,
		store:     store,
		validator: v,
		defaults:  defaults,
		language:  language,
	}
}

// Start handles POST /api/process
func (h *ProcessHandler) Start(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	if file.Size > maxUploadSize {
		return response.ValidationError(c, "File size exceeds 200MB limit", map[string]interface{}{
			"maxSize":  maxUploadSize,
			"fileSize": file.Size,
		})
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		return response.ValidationError(c, "Invalid file type. Supported: WAV, MP3, M4A, FLAC", map[string]interface{}{
			"extension": ext,
		})
	}

	opts := model.ProcessFormOptions{
		Language: c.FormValue("language", h.language),
	}
	if raw := c.FormValue("priority"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return response.ValidationError(c, "priority must be an integer", nil)
		}
		opts.Priority = p
	}
	if err := h.validator.Struct(&opts); err != nil {
		return response.ValidationError(c, "Invalid form options", err.Error())
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	jobID := uuid.New().String()
	name := fmt.Sprintf("%s_%s", jobID, filepath.Base(file.Filename))
	ref, err := h.store.Put(storage.KindUpload, name, f)
	if err != nil {
		return response.ServiceError(c, "Failed to store upload")
	}

	job, err := h.sched.Submit(c.Context(), scheduler.SubmitRequest{
		ID:        jobID,
		InputRef:  ref,
		Filename:  file.Filename,
		Language:  opts.Language,
		Transform: h.defaults,
		Priority:  opts.Priority,
	})
	if err != nil {
		return response.ServiceError(c, "Failed to queue job")
	}

	return response.Accepted(c, model.ProcessStartResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Priority:  job.Priority,
		CreatedAt: job.CreatedAt,
	})
}

// Status handles GET /api/process/status/:jobId
func (h *ProcessHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.sched.Status(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to fetch job")
	}

	return response.OK(c, model.ProcessStatusResponse{
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

// Result handles GET /api/process/result/:jobId
func (h *ProcessHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.sched.Result(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if errors.Is(err, scheduler.ErrJobNotReady) {
			// Failed and cancelled jobs will never produce a result;
			// tell the client to stop polling.
			if job, serr := h.sched.Status(c.Context(), jobID); serr == nil && job.Status.IsTerminal() {
				return response.Error(c, fiber.StatusConflict, "JOB_NOT_SUCCEEDED",
					fmt.Sprintf("Job is %s and will not produce a result", job.Status),
					map[string]interface{}{"status": job.Status})
			}
			return response.Error(c, fiber.StatusConflict, "JOB_NOT_READY", "Job has not succeeded yet", nil)
		}
		return response.ServiceError(c, "Failed to fetch result")
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/process/cancel/:jobId
func (h *ProcessHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.sched.Cancel(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to cancel job")
	}

	return response.OK(c, model.ProcessCancelResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}
