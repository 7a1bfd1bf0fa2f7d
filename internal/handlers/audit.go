package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/models"
	"gorm.io/gorm"
)

type AuditHandler struct {
	db *gorm.DB
}

func NewAuditHandler(db *gorm.DB) *AuditHandler {
	return &AuditHandler{db: db}
}

// List returns audit logs
func (h *AuditHandler) List(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	from, err := queryDate(c, "date_from", false)
	if err != nil {
		return err
	}
	to, err := queryDate(c, "date_to", true)
	if err != nil {
		return err
	}

	query := h.db.WithContext(c.UserContext()).Model(&models.AuditLog{})
	if action := c.Query("action"); action != "" {
		query = query.Where("action = ?", action)
	}
	if entityType := c.Query("entity_type"); entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}
	if userID := queryUint(c, "user_id"); userID > 0 {
		query = query.Where("user_id = ?", userID)
	}
	if !from.IsZero() {
		query = query.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		query = query.Where("created_at < ?", to)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return fail(c, err)
	}
	var logs []models.AuditLog
	if err := query.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&logs).Error; err != nil {
		return fail(c, err)
	}
	return paginated(c, logs, total, page, limit)
}
