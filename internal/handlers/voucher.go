package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/middleware"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/services"
)

// VoucherHandler serves vouchers and voucher batches
type VoucherHandler struct {
	vouchers *services.VoucherService
}

func NewVoucherHandler(vouchers *services.VoucherService) *VoucherHandler {
	return &VoucherHandler{vouchers: vouchers}
}

// List returns vouchers with filters and pagination
func (h *VoucherHandler) List(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "25"))
	f := services.VoucherFilter{
		BatchID:   c.Query("batch_id"),
		Status:    models.VoucherStatus(c.Query("status")),
		ProfileID: queryUint(c, "profile_id"),
		RouterID:  queryUint(c, "router_id"),
		VendorID:  queryUint(c, "vendor_id"),
		Search:    c.Query("search"),
		Page:      page,
		Limit:     limit,
	}
	vouchers, total, err := h.vouchers.List(c.UserContext(), f)
	if err != nil {
		return fail(c, err)
	}
	return paginated(c, vouchers, total, page, limit)
}

func (h *VoucherHandler) Get(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	v, err := h.vouchers.Get(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, v)
}

// Generate creates a batch of vouchers
func (h *VoucherHandler) Generate(c *fiber.Ctx) error {
	var req services.GenerateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	req.CreatedBy = middleware.GetCurrentUserID(c)

	res, err := h.vouchers.GenerateBatch(c.UserContext(), req)
	if err != nil {
		return fail(c, err)
	}
	msg := strconv.Itoa(len(res.Vouchers)) + " vouchers generated"
	if res.SyncError != "" {
		msg += ", router sync pending: " + res.SyncError
	}
	return created(c, res, msg)
}

// Redeem activates a voucher by code
func (h *VoucherHandler) Redeem(c *fiber.Ctx) error {
	var req struct {
		Code string `json:"code"`
	}
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Code == "" {
		return badRequest(c, "Code is required")
	}
	v, err := h.vouchers.Redeem(c.UserContext(), req.Code)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, v)
}

func (h *VoucherHandler) Disable(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	v, err := h.vouchers.Disable(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, v)
}

func (h *VoucherHandler) Enable(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	v, err := h.vouchers.Enable(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, v)
}

func (h *VoucherHandler) Delete(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.vouchers.Delete(c.UserContext(), id); err != nil {
		return fail(c, err)
	}
	return message(c, "Voucher deleted successfully")
}

// BulkDelete removes the vouchers listed in the body
func (h *VoucherHandler) BulkDelete(c *fiber.Ctx) error {
	var req struct {
		IDs []uint `json:"ids"`
	}
	if err := parseBody(c, &req); err != nil {
		return err
	}
	n, err := h.vouchers.DeleteMany(c.UserContext(), req.IDs)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"deleted": n})
}

// ListBatches returns batch summaries
func (h *VoucherHandler) ListBatches(c *fiber.Ctx) error {
	batches, err := h.vouchers.ListBatches(c.UserContext(), queryUint(c, "profile_id"), queryUint(c, "vendor_id"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, batches)
}

func (h *VoucherHandler) GetBatch(c *fiber.Ctx) error {
	sum, err := h.vouchers.BatchSummary(c.UserContext(), c.Params("batch"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, sum)
}

// DeleteBatch removes a batch; ?force=true also removes used vouchers
func (h *VoucherHandler) DeleteBatch(c *fiber.Ctx) error {
	n, err := h.vouchers.DeleteBatch(c.UserContext(), c.Params("batch"), c.QueryBool("force"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"deleted": n})
}
