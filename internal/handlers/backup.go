package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/services"
)

type BackupHandler struct {
	backups *services.BackupService
}

func NewBackupHandler(backups *services.BackupService) *BackupHandler {
	return &BackupHandler{backups: backups}
}

func (h *BackupHandler) List(c *fiber.Ctx) error {
	files, err := h.backups.List()
	if err != nil {
		return fail(c, err)
	}
	return ok(c, files)
}

// Create writes a backup now and ships it to the configured targets
func (h *BackupHandler) Create(c *fiber.Ctx) error {
	res, err := h.backups.Create(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	msg := "Backup created"
	if res.Error != "" {
		msg += " with upload errors: " + res.Error
	}
	return created(c, res, msg)
}

func (h *BackupHandler) Download(c *fiber.Ctx) error {
	path, err := h.backups.Path(c.Params("name"))
	if err != nil {
		return fail(c, err)
	}
	return c.Download(path)
}

func (h *BackupHandler) Delete(c *fiber.Ctx) error {
	if err := h.backups.Delete(c.Params("name")); err != nil {
		return fail(c, err)
	}
	return message(c, "Backup deleted")
}
