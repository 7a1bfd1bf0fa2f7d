package handlers

import (
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/provision"
	"github.com/hotspotbill/backend/internal/services"
)

// RouterHandler exposes RouterOS devices, their health and sync
type RouterHandler struct {
	routers  *services.RouterService
	profiles *services.ProfileService
	queue    *provision.Queue
}

func NewRouterHandler(routers *services.RouterService, profiles *services.ProfileService, queue *provision.Queue) *RouterHandler {
	return &RouterHandler{routers: routers, profiles: profiles, queue: queue}
}

func (h *RouterHandler) List(c *fiber.Ctx) error {
	routers, err := h.routers.List(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	return ok(c, routers)
}

func (h *RouterHandler) Get(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	r, err := h.routers.Get(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, r)
}

func (h *RouterHandler) Create(c *fiber.Ctx) error {
	var in services.RouterInput
	if err := parseBody(c, &in); err != nil {
		return err
	}
	r, err := h.routers.Create(c.UserContext(), in)
	if err != nil {
		return fail(c, err)
	}
	return created(c, r, "Router created successfully")
}

func (h *RouterHandler) Update(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var in services.RouterInput
	if err := parseBody(c, &in); err != nil {
		return err
	}
	r, err := h.routers.Update(c.UserContext(), id, in)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, r)
}

func (h *RouterHandler) Delete(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.routers.Delete(c.UserContext(), id); err != nil {
		return fail(c, err)
	}
	return message(c, "Router deleted successfully")
}

// Test probes a saved router
func (h *RouterHandler) Test(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	status, err := h.routers.Test(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, status)
}

// TestConnection tries unsaved connection settings
func (h *RouterHandler) TestConnection(c *fiber.Ctx) error {
	var in services.RouterInput
	if err := parseBody(c, &in); err != nil {
		return err
	}
	status, err := h.routers.TestConnection(c.UserContext(), in)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, status)
}

func (h *RouterHandler) Status(c *fiber.Ctx) error {
	return ok(c, h.routers.Status())
}

func (h *RouterHandler) PoolStats(c *fiber.Ctx) error {
	return ok(c, h.routers.PoolStats())
}

// SyncAll pushes everything a router should hold. Partial failures are
// reported next to the counts.
func (h *RouterHandler) SyncAll(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	report, err := h.routers.SyncAll(c.UserContext(), id)
	if report == nil {
		return fail(c, err)
	}
	resp := fiber.Map{"success": true, "data": report}
	if err != nil {
		resp["message"] = err.Error()
	}
	return c.JSON(resp)
}

// ImportProfiles creates the router's hotspot and PPP profiles locally
func (h *RouterHandler) ImportProfiles(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	n, err := h.profiles.ImportFromRouter(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"imported": n})
}

// Queue lists provisioning jobs waiting for retry
func (h *RouterHandler) Queue(c *fiber.Ctx) error {
	if h.queue == nil {
		return ok(c, []provision.Job{})
	}
	jobs, err := h.queue.List()
	if err != nil {
		return fail(c, err)
	}
	return ok(c, jobs)
}

// DropJob removes one queued job by key
func (h *RouterHandler) DropJob(c *fiber.Ctx) error {
	if h.queue == nil {
		return fiber.ErrNotFound
	}
	key, err := url.PathUnescape(c.Params("key"))
	if err != nil || key == "" {
		return badRequest(c, "Invalid job key")
	}
	if err := h.queue.Remove(key); err != nil {
		return fail(c, err)
	}
	return message(c, "Job removed")
}
