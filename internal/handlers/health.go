package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/database"
	"github.com/hotspotbill/backend/internal/provision"
)

// HealthHandler reports database, Redis and provisioning queue state
type HealthHandler struct {
	queue *provision.Queue
}

func NewHealthHandler(queue *provision.Queue) *HealthHandler {
	return &HealthHandler{queue: queue}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	st := database.Health(ctx)
	resp := fiber.Map{
		"status":   "healthy",
		"service":  "hotspotbill-api",
		"database": st.Database,
		"redis":    st.Redis,
	}
	if h.queue != nil {
		resp["queue_depth"] = h.queue.Len()
	}
	if !st.Healthy() {
		resp["status"] = "unhealthy"
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}
