package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/middleware"
	"github.com/hotspotbill/backend/internal/services"
)

// UserHandler manages panel users; admin only
type UserHandler struct {
	users *services.UserService
}

func NewUserHandler(users *services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

func (h *UserHandler) List(c *fiber.Ctx) error {
	users, err := h.users.List(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	out := make([]*UserInfo, 0, len(users))
	for i := range users {
		info := userInfo(&users[i])
		out = append(out, info)
	}
	return ok(c, fiber.Map{"users": out, "total": len(out)})
}

func (h *UserHandler) Get(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	u, err := h.users.Get(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, u)
}

func (h *UserHandler) Create(c *fiber.Ctx) error {
	var in services.UserInput
	if err := parseBody(c, &in); err != nil {
		return err
	}
	u, err := h.users.Create(c.UserContext(), in)
	if err != nil {
		return fail(c, err)
	}
	return created(c, userInfo(u), "User created successfully")
}

func (h *UserHandler) Update(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var in services.UserInput
	if err := parseBody(c, &in); err != nil {
		return err
	}
	u, err := h.users.Update(c.UserContext(), middleware.GetCurrentUserID(c), id, in)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, userInfo(u))
}

func (h *UserHandler) Delete(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.users.Delete(c.UserContext(), middleware.GetCurrentUserID(c), id); err != nil {
		return fail(c, err)
	}
	return message(c, "User deleted successfully")
}
