package handlers

import (
	"bytes"
	"encoding/base64"
	"image/png"

	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/middleware"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/services"
)

type TwoFAHandler struct {
	users    *services.UserService
	settings *services.SettingsService
}

func NewTwoFAHandler(users *services.UserService, settings *services.SettingsService) *TwoFAHandler {
	return &TwoFAHandler{users: users, settings: settings}
}

// Setup generates a new 2FA secret and returns QR code
func (h *TwoFAHandler) Setup(c *fiber.Ctx) error {
	issuer := h.settings.String(c.UserContext(), models.SettingCompanyName, "WiFi Hotspot")
	key, err := h.users.SetupTwoFactor(c.UserContext(), middleware.GetCurrentUserID(c), issuer)
	if err != nil {
		return fail(c, err)
	}

	img, err := key.Image(200, 200)
	if err != nil {
		return fail(c, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fail(c, err)
	}

	return ok(c, fiber.Map{
		"secret":  key.Secret(),
		"qr_code": "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		"otpauth": key.URL(),
	})
}

// Verify verifies the 2FA code and enables 2FA
func (h *TwoFAHandler) Verify(c *fiber.Ctx) error {
	var req struct {
		Code string `json:"code"`
	}
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Code == "" {
		return badRequest(c, "Code is required")
	}
	if err := h.users.EnableTwoFactor(c.UserContext(), middleware.GetCurrentUserID(c), req.Code); err != nil {
		return fail(c, err)
	}
	return message(c, "2FA enabled successfully")
}

// Disable turns 2FA off; needs the password and a current code
func (h *TwoFAHandler) Disable(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password"`
		Code     string `json:"code"`
	}
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := h.users.DisableTwoFactor(c.UserContext(), middleware.GetCurrentUserID(c), req.Password, req.Code); err != nil {
		return fail(c, err)
	}
	return message(c, "2FA disabled successfully")
}

// Status reports whether 2FA is enabled for the current user
func (h *TwoFAHandler) Status(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return fiber.ErrUnauthorized
	}
	return ok(c, fiber.Map{"enabled": user.TwoFactorEnabled})
}
