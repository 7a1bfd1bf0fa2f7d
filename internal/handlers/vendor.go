package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/middleware"
	"github.com/hotspotbill/backend/internal/services"
)

type VendorHandler struct {
	vendors *services.VendorService
}

func NewVendorHandler(vendors *services.VendorService) *VendorHandler {
	return &VendorHandler{vendors: vendors}
}

func (h *VendorHandler) List(c *fiber.Ctx) error {
	vendors, err := h.vendors.List(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	return ok(c, vendors)
}

func (h *VendorHandler) Get(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	v, err := h.vendors.Get(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, v)
}

func (h *VendorHandler) Create(c *fiber.Ctx) error {
	var in services.VendorInput
	if err := parseBody(c, &in); err != nil {
		return err
	}
	v, err := h.vendors.Create(c.UserContext(), in)
	if err != nil {
		return fail(c, err)
	}
	return created(c, v, "Vendor created successfully")
}

func (h *VendorHandler) Update(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var in services.VendorInput
	if err := parseBody(c, &in); err != nil {
		return err
	}
	v, err := h.vendors.Update(c.UserContext(), id, in)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, v)
}

func (h *VendorHandler) Delete(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.vendors.Delete(c.UserContext(), id); err != nil {
		return fail(c, err)
	}
	return message(c, "Vendor deleted successfully")
}

// Settlement reports what a vendor owes; defaults to the current month
func (h *VendorHandler) Settlement(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	from, err := queryDate(c, "from", false)
	if err != nil {
		return err
	}
	to, err := queryDate(c, "to", true)
	if err != nil {
		return err
	}
	if from.IsZero() {
		now := time.Now()
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	}
	s, err := h.vendors.Settlement(c.UserContext(), id, from, to)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, s)
}

// RecordSettlement stores money received from a vendor
func (h *VendorHandler) RecordSettlement(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var in services.SettlementPayment
	if err := parseBody(c, &in); err != nil {
		return err
	}
	in.ReceivedBy = middleware.GetCurrentUserID(c)
	p, err := h.vendors.RecordSettlement(c.UserContext(), id, in)
	if err != nil {
		return fail(c, err)
	}
	return created(c, p, "Settlement recorded")
}
