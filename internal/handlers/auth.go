package handlers

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/database"
	"github.com/hotspotbill/backend/internal/middleware"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/services"
	log "github.com/sirupsen/logrus"
)

const loginBlockDuration = 15 * time.Minute

// loginAttempt tracks failed login attempts of one IP
type loginAttempt struct {
	count     int
	lastTry   time.Time
	blockedAt *time.Time
}

// LoginGuard blocks an IP for 15 minutes after too many failed logins
type LoginGuard struct {
	mu       sync.Mutex
	attempts map[string]*loginAttempt
	now      func() time.Time
}

func NewLoginGuard() *LoginGuard {
	return &LoginGuard{attempts: make(map[string]*loginAttempt), now: time.Now}
}

// Blocked reports whether ip is blocked and for how many minutes more
func (g *LoginGuard) Blocked(ip string) (bool, int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.attempts[ip]
	if !ok {
		return false, 0
	}
	now := g.now()
	if a.blockedAt != nil {
		left := loginBlockDuration - now.Sub(*a.blockedAt)
		if left > 0 {
			return true, int((left + time.Minute - 1) / time.Minute)
		}
		delete(g.attempts, ip)
		return false, 0
	}
	// reset after 15 minutes without attempts
	if now.Sub(a.lastTry) > loginBlockDuration {
		delete(g.attempts, ip)
	}
	return false, 0
}

// Fail records a failed attempt and returns how many are left
func (g *LoginGuard) Fail(ip string, max int) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.attempts[ip]
	if !ok {
		a = &loginAttempt{}
		g.attempts[ip] = a
	}
	now := g.now()
	a.count++
	a.lastTry = now
	if a.count >= max {
		a.blockedAt = &now
	}
	return max - a.count
}

// Clear forgets ip after a successful login
func (g *LoginGuard) Clear(ip string) {
	g.mu.Lock()
	delete(g.attempts, ip)
	g.mu.Unlock()
}

// LoginRequest represents login request
type LoginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	TwoFACode string `json:"two_fa_code"`
}

// UserInfo represents user info in responses
type UserInfo struct {
	ID                  uint            `json:"id"`
	Username            string          `json:"username"`
	Email               string          `json:"email"`
	FullName            string          `json:"full_name"`
	Role                models.UserRole `json:"role"`
	TwoFactorEnabled    bool            `json:"two_factor_enabled"`
	ForcePasswordChange bool            `json:"force_password_change"`
}

func userInfo(u *models.User) *UserInfo {
	return &UserInfo{
		ID:                  u.ID,
		Username:            u.Username,
		Email:               u.Email,
		FullName:            u.FullName,
		Role:                u.Role,
		TwoFactorEnabled:    u.TwoFactorEnabled,
		ForcePasswordChange: u.ForcePasswordChange,
	}
}

type AuthHandler struct {
	users    *services.UserService
	settings *services.SettingsService
	secret   string
	ttl      time.Duration
	guard    *LoginGuard
}

func NewAuthHandler(users *services.UserService, settings *services.SettingsService, secret string, expireHours int) *AuthHandler {
	if expireHours <= 0 {
		expireHours = 24
	}
	return &AuthHandler{
		users:    users,
		settings: settings,
		secret:   secret,
		ttl:      time.Duration(expireHours) * time.Hour,
		guard:    NewLoginGuard(),
	}
}

func (h *AuthHandler) failed(c *fiber.Ctx, msg string) error {
	max := h.settings.Int(c.UserContext(), models.SettingMaxLoginAttempts, 5)
	if remaining := h.guard.Fail(c.IP(), max); remaining > 0 {
		msg += ". " + strconv.Itoa(remaining) + " attempts remaining"
	}
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"message": msg,
	})
}

// Login handles user login
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	clientIP := c.IP()
	if blocked, minutes := h.guard.Blocked(clientIP); blocked {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"success": false,
			"message": "Too many failed login attempts. Please try again in " + strconv.Itoa(minutes) + " minutes",
		})
	}

	var req LoginRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Username == "" || req.Password == "" {
		return badRequest(c, "Username and password are required")
	}

	user, err := h.users.Authenticate(c.UserContext(), req.Username, req.Password, req.TwoFACode)
	switch {
	case errors.Is(err, services.ErrTwoFactorRequired):
		// Password is correct, but need 2FA code
		return c.JSON(fiber.Map{
			"success":      false,
			"requires_2fa": true,
			"message":      "2FA code required",
		})
	case errors.Is(err, services.ErrBadCredentials):
		return h.failed(c, "Invalid username or password")
	case errors.Is(err, services.ErrBadTwoFactorCode):
		return h.failed(c, "Invalid 2FA code")
	case errors.Is(err, services.ErrAccountDisabled):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Account is disabled",
		})
	case err != nil:
		return fail(c, err)
	}

	if user.Role == models.RoleAdmin && !h.adminIPAllowed(c.UserContext(), clientIP) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"message": "Access denied from this IP address",
		})
	}

	h.guard.Clear(clientIP)

	token, expires, err := middleware.GenerateToken(user, h.secret, h.ttl)
	if err != nil {
		return fail(c, err)
	}

	log.WithFields(log.Fields{"username": user.Username, "ip": clientIP}).Info("User logged in")
	return c.JSON(fiber.Map{
		"success":               true,
		"token":                 token,
		"expires_at":            expires,
		"user":                  userInfo(user),
		"force_password_change": user.ForcePasswordChange,
	})
}

// adminIPAllowed checks the comma separated allow-list of IPs and CIDRs
func (h *AuthHandler) adminIPAllowed(ctx context.Context, ip string) bool {
	allowed := h.settings.String(ctx, models.SettingAllowedAdminIPs, "")
	if allowed == "" {
		return true
	}
	addr := net.ParseIP(ip)
	for _, entry := range strings.Split(allowed, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == ip {
			return true
		}
		if _, network, err := net.ParseCIDR(entry); err == nil && addr != nil && network.Contains(addr) {
			return true
		}
	}
	return false
}

// Logout revokes the current token
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	token, expires := middleware.CurrentToken(c)
	if token != "" {
		if err := database.BlacklistToken(token, expires); err != nil {
			log.WithError(err).Warn("Failed to blacklist token")
		}
	}
	return message(c, "Logged out successfully")
}

// Me returns the current user
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return fiber.ErrUnauthorized
	}
	return ok(c, userInfo(user))
}

// RefreshToken issues a new token and revokes the current one
func (h *AuthHandler) RefreshToken(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return fiber.ErrUnauthorized
	}
	token, expires, err := middleware.GenerateToken(user, h.secret, h.ttl)
	if err != nil {
		return fail(c, err)
	}
	if old, oldExpires := middleware.CurrentToken(c); old != "" && old != token {
		database.BlacklistToken(old, oldExpires)
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"token":      token,
		"expires_at": expires,
	})
}

// ChangePassword changes the current user's password
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := parseBody(c, &req); err != nil {
		return err
	}
	id := middleware.GetCurrentUserID(c)
	if err := h.users.ChangePassword(c.UserContext(), id, req.CurrentPassword, req.NewPassword); err != nil {
		return fail(c, err)
	}
	return message(c, "Password changed successfully")
}
