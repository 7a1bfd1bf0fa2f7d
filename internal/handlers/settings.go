package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/services"
)

type SettingsHandler struct {
	settings *services.SettingsService
}

func NewSettingsHandler(settings *services.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

func (h *SettingsHandler) List(c *fiber.Ctx) error {
	settings, err := h.settings.List(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	return ok(c, settings)
}

func (h *SettingsHandler) Get(c *fiber.Ctx) error {
	st, err := h.settings.Get(c.UserContext(), c.Params("key"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, st)
}

// Update writes one setting from {"value": ...}
func (h *SettingsHandler) Update(c *fiber.Ctx) error {
	var req struct {
		Value string `json:"value"`
	}
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := h.settings.Set(c.UserContext(), c.Params("key"), req.Value); err != nil {
		return fail(c, err)
	}
	return message(c, "Setting saved")
}

// BulkUpdate writes a {"key": "value"} map in one transaction
func (h *SettingsHandler) BulkUpdate(c *fiber.Ctx) error {
	var req map[string]string
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := h.settings.SetMany(c.UserContext(), req); err != nil {
		return fail(c, err)
	}
	return message(c, "Settings saved")
}
