package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/services"
)

type CustomerHandler struct {
	customers *services.CustomerService
}

func NewCustomerHandler(customers *services.CustomerService) *CustomerHandler {
	return &CustomerHandler{customers: customers}
}

// List returns customers matching ?search= and ?status=
func (h *CustomerHandler) List(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "25"))
	customers, total, err := h.customers.List(c.UserContext(), services.CustomerFilter{
		Search: c.Query("search"),
		Status: models.CustomerStatus(c.Query("status")),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		return fail(c, err)
	}
	return paginated(c, customers, total, page, limit)
}

func (h *CustomerHandler) Get(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	cust, err := h.customers.Get(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, cust)
}

func (h *CustomerHandler) Create(c *fiber.Ctx) error {
	var in services.CustomerInput
	if err := parseBody(c, &in); err != nil {
		return err
	}
	cust, err := h.customers.Create(c.UserContext(), in)
	if err != nil {
		return fail(c, err)
	}
	return created(c, cust, "Customer created successfully")
}

func (h *CustomerHandler) Update(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var in services.CustomerInput
	if err := parseBody(c, &in); err != nil {
		return err
	}
	cust, err := h.customers.Update(c.UserContext(), id, in)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, cust)
}

// Delete removes a customer; ?force=true also terminates its subscriptions
func (h *CustomerHandler) Delete(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.customers.Delete(c.UserContext(), id, c.QueryBool("force")); err != nil {
		return fail(c, err)
	}
	return message(c, "Customer deleted successfully")
}
