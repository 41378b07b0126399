package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tradesafe-app/paygate/internal/pkg/cache"
	"github.com/tradesafe-app/paygate/internal/pkg/database"
	"github.com/tradesafe-app/paygate/internal/pkg/resilience"
	"github.com/tradesafe-app/paygate/internal/pkg/webhookqueue"
)

// HandleLiveness is the cheap liveness probe.
func HandleLiveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// HandleHealth reports dependency reachability, queue depths and
// breaker states. Degraded dependencies flip the overall status but the
// endpoint still answers 200 so dashboards can read the details.
func HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	overall := "ok"

	dbStatus := "ok"
	if sqlDB, err := database.GetDB().DB(); err != nil {
		dbStatus = err.Error()
		overall = "degraded"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = err.Error()
		overall = "degraded"
	}

	cacheStatus := "ok"
	if err := cache.Ping(ctx); err != nil {
		cacheStatus = err.Error()
		overall = "degraded"
	}

	queue := fiber.Map{}
	if cacheStatus == "ok" {
		q := webhookqueue.GetManager().GetQueue()
		if pending, err := q.GetQueueSize(ctx); err == nil {
			queue["pending"] = pending
		}
		if processing, err := q.GetProcessingSize(ctx); err == nil {
			queue["processing"] = processing
		}
	}

	breakers := fiber.Map{}
	for _, snap := range resilience.GetRegistry().Snapshots() {
		breakers[snap.Category] = snap
		if snap.State == resilience.StateOpen.String() {
			overall = "degraded"
		}
	}

	return c.JSON(fiber.Map{
		"status":   overall,
		"database": dbStatus,
		"cache":    cacheStatus,
		"queue":    queue,
		"breakers": breakers,
	})
}
