package handlers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/mikrotik"
	"github.com/hotspotbill/backend/internal/provision"
	"github.com/hotspotbill/backend/internal/services"
	log "github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

func ok(c *fiber.Ctx, data interface{}) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

func created(c *fiber.Ctx, data interface{}, message string) error {
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    data,
		"message": message,
	})
}

func message(c *fiber.Ctx, msg string) error {
	return c.JSON(fiber.Map{
		"success": true,
		"message": msg,
	})
}

func paginated(c *fiber.Ctx, data interface{}, total int64, page, limit int) error {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 25
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
		"meta": fiber.Map{
			"page":       page,
			"limit":      limit,
			"total":      total,
			"totalPages": (total + int64(limit) - 1) / int64(limit),
		},
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"message": msg,
	})
}

// fail maps service errors to status codes
func fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var trap *mikrotik.TrapError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrInvalidInput):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrConflict), errors.Is(err, services.ErrInUse), errors.Is(err, provision.ErrRouterDisabled),
		errors.Is(err, services.ErrVoucherUsed), errors.Is(err, services.ErrVoucherBlocked):
		status = fiber.StatusConflict
	case errors.Is(err, services.ErrVoucherExpired):
		status = fiber.StatusGone
	case errors.Is(err, services.ErrNotAllowed):
		status = fiber.StatusForbidden
	case errors.Is(err, services.ErrBadCredentials), errors.Is(err, services.ErrAccountDisabled),
		errors.Is(err, services.ErrBadTwoFactorCode):
		status = fiber.StatusUnauthorized
	case errors.As(err, &trap), errors.Is(err, mikrotik.ErrPoolClosed):
		status = fiber.StatusBadGateway
	}

	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		log.WithError(err).WithField("path", c.Path()).Error("Request failed")
		msg = "Internal server error"
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": msg,
	})
}

func paramID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid ID")
	}
	return uint(id), nil
}

func queryUint(c *fiber.Ctx, key string) uint {
	v, _ := strconv.ParseUint(c.Query(key), 10, 32)
	return uint(v)
}

// queryDate parses a YYYY-MM-DD query value; end dates include the whole day
func queryDate(c *fiber.Ctx, key string, end bool) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, fiber.NewError(fiber.StatusBadRequest, "Invalid "+key+", expected YYYY-MM-DD")
	}
	if end {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

func parseBody(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	return nil
}

// ErrorHandler renders errors that escape handlers in the API envelope
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	} else {
		log.WithError(err).WithField("path", c.Path()).Error("Unhandled error")
	}
	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"message": msg,
	})
}
