package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/services"
)

type ReportHandler struct {
	reports *services.ReportService
}

func NewReportHandler(reports *services.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Dashboard returns the dashboard counters
func (h *ReportHandler) Dashboard(c *fiber.Ctx) error {
	stats, err := h.reports.Dashboard(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	return ok(c, stats)
}

// Revenue reports income per ?group_by=day|month between ?from= and ?to=
func (h *ReportHandler) Revenue(c *fiber.Ctx) error {
	from, err := queryDate(c, "from", false)
	if err != nil {
		return err
	}
	to, err := queryDate(c, "to", true)
	if err != nil {
		return err
	}
	rows, err := h.reports.Revenue(c.UserContext(), from, to, c.Query("group_by"))
	if err != nil {
		return fail(c, err)
	}
	var total float64
	for _, r := range rows {
		total += r.Total
	}
	return ok(c, fiber.Map{"rows": rows, "total": total})
}

func (h *ReportHandler) VoucherSales(c *fiber.Ctx) error {
	from, err := queryDate(c, "from", false)
	if err != nil {
		return err
	}
	to, err := queryDate(c, "to", true)
	if err != nil {
		return err
	}
	rows, err := h.reports.VoucherSales(c.UserContext(), from, to)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, rows)
}

func (h *ReportHandler) Outstanding(c *fiber.Ctx) error {
	rep, err := h.reports.Outstanding(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	return ok(c, rep)
}
