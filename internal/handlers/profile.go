package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/services"
)

type ProfileHandler struct {
	profiles *services.ProfileService
}

func NewProfileHandler(profiles *services.ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// List returns profiles, optionally for one router and type
func (h *ProfileHandler) List(c *fiber.Ctx) error {
	profiles, err := h.profiles.List(c.UserContext(), services.ProfileFilter{
		RouterID: queryUint(c, "router_id"),
		Type:     models.ProfileType(c.Query("type")),
	})
	if err != nil {
		return fail(c, err)
	}
	return ok(c, profiles)
}

func (h *ProfileHandler) Get(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	p, err := h.profiles.Get(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, p)
}

func (h *ProfileHandler) Create(c *fiber.Ctx) error {
	var in services.ProfileInput
	if err := parseBody(c, &in); err != nil {
		return err
	}
	p, err := h.profiles.Create(c.UserContext(), in)
	if err != nil {
		return fail(c, err)
	}
	return created(c, p, "Profile created successfully")
}

func (h *ProfileHandler) Update(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var in services.ProfileInput
	if err := parseBody(c, &in); err != nil {
		return err
	}
	p, err := h.profiles.Update(c.UserContext(), id, in)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, p)
}

func (h *ProfileHandler) Delete(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.profiles.Delete(c.UserContext(), id); err != nil {
		return fail(c, err)
	}
	return message(c, "Profile deleted successfully")
}

// Sync pushes the profile to its router again
func (h *ProfileHandler) Sync(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	p, err := h.profiles.Sync(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, p)
}
