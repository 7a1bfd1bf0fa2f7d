package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/services"
)

// PrintHandler renders printable voucher pages and manages their templates
type PrintHandler struct {
	printer *services.PrintService
}

func NewPrintHandler(printer *services.PrintService) *PrintHandler {
	return &PrintHandler{printer: printer}
}

func printOptions(c *fiber.Ctx) (services.PrintOptions, error) {
	var opts services.PrintOptions
	if err := c.QueryParser(&opts); err != nil {
		return opts, fiber.NewError(fiber.StatusBadRequest, "Invalid print options")
	}
	return opts, nil
}

func sendHTML(c *fiber.Ctx, html string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.SendString(html)
}

// Batch prints every voucher of a batch
func (h *PrintHandler) Batch(c *fiber.Ctx) error {
	opts, err := printOptions(c)
	if err != nil {
		return err
	}
	html, err := h.printer.PrintBatch(c.UserContext(), c.Params("batch"), opts)
	if err != nil {
		return fail(c, err)
	}
	return sendHTML(c, html)
}

// Vouchers prints the vouchers in ?ids=1,2,3
func (h *PrintHandler) Vouchers(c *fiber.Ctx) error {
	opts, err := printOptions(c)
	if err != nil {
		return err
	}
	ids, err := services.ParseIDs(c.Query("ids"))
	if err != nil {
		return fail(c, err)
	}
	html, err := h.printer.PrintVouchers(c.UserContext(), ids, opts)
	if err != nil {
		return fail(c, err)
	}
	return sendHTML(c, html)
}

func (h *PrintHandler) ListTemplates(c *fiber.Ctx) error {
	return ok(c, h.printer.ListTemplates())
}

func (h *PrintHandler) GetTemplate(c *fiber.Ctx) error {
	name := c.Params("name")
	content, err := h.printer.ReadTemplate(name)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"name": name, "content": content})
}

func (h *PrintHandler) UpdateTemplate(c *fiber.Ctx) error {
	var req struct {
		Content string `json:"content"`
	}
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := h.printer.UpdateTemplate(c.Params("name"), req.Content); err != nil {
		return fail(c, err)
	}
	return message(c, "Template saved")
}

// PreviewTemplate renders a template with a sample voucher
func (h *PrintHandler) PreviewTemplate(c *fiber.Ctx) error {
	html, err := h.printer.Preview(c.UserContext(), c.Params("name"))
	if err != nil {
		return fail(c, err)
	}
	return sendHTML(c, html)
}
