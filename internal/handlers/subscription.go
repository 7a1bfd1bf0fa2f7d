package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/provision"
	"github.com/hotspotbill/backend/internal/services"
)

// SubscriptionHandler serves PPPoE subscriptions and live sessions
type SubscriptionHandler struct {
	subs *services.SubscriptionService
}

func NewSubscriptionHandler(subs *services.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs}
}

func (h *SubscriptionHandler) List(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "25"))
	subs, total, err := h.subs.List(c.UserContext(), services.SubscriptionFilter{
		CustomerID: queryUint(c, "customer_id"),
		RouterID:   queryUint(c, "router_id"),
		Status:     models.SubscriptionStatus(c.Query("status")),
		Search:     c.Query("search"),
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		return fail(c, err)
	}
	return paginated(c, subs, total, page, limit)
}

func (h *SubscriptionHandler) Get(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	sub, err := h.subs.Get(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, sub)
}

func (h *SubscriptionHandler) Create(c *fiber.Ctx) error {
	var in services.SubscriptionInput
	if err := parseBody(c, &in); err != nil {
		return err
	}
	sub, err := h.subs.Create(c.UserContext(), in)
	if err != nil {
		return fail(c, err)
	}
	return created(c, sub, "Subscription created successfully")
}

func (h *SubscriptionHandler) Update(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var in services.SubscriptionUpdate
	if err := parseBody(c, &in); err != nil {
		return err
	}
	sub, err := h.subs.Update(c.UserContext(), id, in)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, sub)
}

func (h *SubscriptionHandler) Delete(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.subs.Delete(c.UserContext(), id); err != nil {
		return fail(c, err)
	}
	return message(c, "Subscription deleted successfully")
}

func (h *SubscriptionHandler) Suspend(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}
	sub, err := h.subs.Suspend(c.UserContext(), id, req.Reason)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, sub)
}

func (h *SubscriptionHandler) Resume(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	sub, err := h.subs.Resume(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, sub)
}

func (h *SubscriptionHandler) Renew(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Months int `json:"months"`
	}
	if err := parseBody(c, &req); err != nil {
		return err
	}
	sub, err := h.subs.Renew(c.UserContext(), id, req.Months)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, sub)
}

func (h *SubscriptionHandler) Sync(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	sub, err := h.subs.Sync(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, sub)
}

// Sessions lists the active PPP and hotspot sessions of ?router_id=
func (h *SubscriptionHandler) Sessions(c *fiber.Ctx) error {
	routerID := queryUint(c, "router_id")
	if routerID == 0 {
		return badRequest(c, "router_id is required")
	}
	sessions, err := h.subs.ListSessions(c.UserContext(), routerID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, sessions)
}

// Kick disconnects one session
func (h *SubscriptionHandler) Kick(c *fiber.Ctx) error {
	var req struct {
		RouterID uint                  `json:"router_id"`
		Kind     provision.SessionKind `json:"kind"`
		Username string                `json:"username"`
	}
	if err := parseBody(c, &req); err != nil {
		return err
	}
	n, err := h.subs.Kick(c.UserContext(), req.RouterID, req.Kind, req.Username)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"disconnected": n})
}
