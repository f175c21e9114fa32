package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/voxpipe/api/internal/inference"
)

type HealthHandler struct {
	stage  *inference.Stage
	engine inference.Engine
	redis  *redis.Client
	mirror bool
}

func NewHealthHandler(stage *inference.Stage, engine inference.Engine, rdb *redis.Client, mirrorEnabled bool) *HealthHandler {
	return &HealthHandler{
		stage:  stage,
		engine: engine,
		redis:  rdb,
		mirror: mirrorEnabled,
	}
}

// Check handles GET /health
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	gpuAvailable := false
	gpuName := "N/A"
	if hc, err := h.stage.Health(ctx); err == nil {
		gpuAvailable = hc.GPUAvailable
		gpuName = hc.GPUName
	}

	redisUp := false
	if h.redis != nil {
		redisUp = h.redis.Ping(ctx).Err() == nil
	}

	return c.JSON(fiber.Map{
		"status":        "healthy",
		"gpu_available": gpuAvailable,
		"gpu_name":      gpuName,
		"services": fiber.Map{
			"engine": h.engine.IsConfigured(),
			"redis":  redisUp,
			"mirror": h.mirror,
		},
	})
}

// Root handles GET /
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service":   "voxpipe-api",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
