package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/middleware"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/services"
)

// InvoiceHandler serves invoices and payments
type InvoiceHandler struct {
	billing *services.BillingService
}

func NewInvoiceHandler(billing *services.BillingService) *InvoiceHandler {
	return &InvoiceHandler{billing: billing}
}

func (h *InvoiceHandler) List(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "25"))
	invoices, total, err := h.billing.ListInvoices(c.UserContext(), services.InvoiceFilter{
		CustomerID:     queryUint(c, "customer_id"),
		SubscriptionID: queryUint(c, "subscription_id"),
		Status:         models.InvoiceStatus(c.Query("status")),
		Period:         c.Query("period"),
		Overdue:        c.QueryBool("overdue"),
		Page:           page,
		Limit:          limit,
	})
	if err != nil {
		return fail(c, err)
	}
	return paginated(c, invoices, total, page, limit)
}

// Get returns an invoice with its payments
func (h *InvoiceHandler) Get(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	inv, payments, err := h.billing.GetInvoice(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"invoice": inv, "payments": payments})
}

// Generate issues the invoices of a period (YYYY-MM, default current)
func (h *InvoiceHandler) Generate(c *fiber.Ctx) error {
	var req struct {
		Period string `json:"period"`
	}
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}
	n, err := h.billing.GenerateMonthlyInvoices(c.UserContext(), req.Period)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"created": n})
}

func (h *InvoiceHandler) Void(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := parseBody(c, &req); err != nil {
		return err
	}
	inv, err := h.billing.VoidInvoice(c.UserContext(), id, req.Reason)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, inv)
}

// SuspendOverdue isolates subscribers with overdue invoices now
func (h *InvoiceHandler) SuspendOverdue(c *fiber.Ctx) error {
	n, err := h.billing.SuspendOverdue(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"suspended": n})
}

func (h *InvoiceHandler) ListPayments(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "25"))
	from, err := queryDate(c, "from", false)
	if err != nil {
		return err
	}
	to, err := queryDate(c, "to", true)
	if err != nil {
		return err
	}
	payments, total, err := h.billing.ListPayments(c.UserContext(), services.PaymentFilter{
		CustomerID: queryUint(c, "customer_id"),
		InvoiceID:  queryUint(c, "invoice_id"),
		VendorID:   queryUint(c, "vendor_id"),
		From:       from,
		To:         to,
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		return fail(c, err)
	}
	return paginated(c, payments, total, page, limit)
}

// RecordPayment applies a payment to an invoice
func (h *InvoiceHandler) RecordPayment(c *fiber.Ctx) error {
	var req services.PaymentRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	req.ReceivedBy = middleware.GetCurrentUserID(c)
	payment, inv, err := h.billing.RecordPayment(c.UserContext(), req)
	if err != nil {
		return fail(c, err)
	}
	return created(c, fiber.Map{"payment": payment, "invoice": inv}, "Payment recorded")
}
