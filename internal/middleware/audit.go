package middleware

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/models"
	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var idRegex = regexp.MustCompile(`/(\d+)(?:/|$)`)

// entityTypes maps the first segment after /api/ to the audited entity
var entityTypes = map[string]string{
	"routers":       "router",
	"profiles":      "profile",
	"vouchers":      "voucher",
	"batches":       "batch",
	"vendors":       "vendor",
	"customers":     "customer",
	"subscriptions": "subscription",
	"sessions":      "session",
	"invoices":      "invoice",
	"payments":      "payment",
	"users":         "user",
	"settings":      "settings",
	"backups":       "backup",
	"templates":     "template",
}

// named are the entities whose name is looked up for the description
var named = map[string]struct {
	model  interface{}
	column string
}{
	"router":       {&models.Router{}, "name"},
	"profile":      {&models.Profile{}, "name"},
	"vendor":       {&models.Vendor{}, "name"},
	"customer":     {&models.Customer{}, "name"},
	"subscription": {&models.Subscription{}, "username"},
	"user":         {&models.User{}, "username"},
	"voucher":      {&models.Voucher{}, "code"},
	"invoice":      {&models.Invoice{}, "invoice_number"},
}

// AuditLogger middleware logs mutating API calls of authenticated users
func AuditLogger(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		method := c.Method()
		if method == fiber.MethodGet || method == fiber.MethodHead || method == fiber.MethodOptions {
			return c.Next()
		}

		path := c.Path()
		entityType := entityTypeFromPath(path)
		entityID := extractIDFromPath(path)

		// For DELETE, capture entity name BEFORE deletion
		var name string
		if method == fiber.MethodDelete {
			name = entityName(db, entityType, entityID)
		}
		var body []byte
		if method == fiber.MethodPost && entityID == "" {
			body = append(body, c.Body()...)
		}

		err := c.Next()

		user := GetCurrentUser(c)
		status := c.Response().StatusCode()
		if err != nil || user == nil || status < 200 || status >= 400 || entityType == "" {
			return err
		}

		action := auditAction(method, path)
		switch {
		case name != "":
		case len(body) > 0:
			name = nameFromBody(body)
		default:
			name = entityName(db, entityType, entityID)
		}

		entry := models.AuditLog{
			UserID:      user.ID,
			Username:    user.Username,
			Role:        user.Role,
			Action:      action,
			EntityType:  entityType,
			EntityID:    entityID,
			EntityName:  name,
			Description: describe(action, entityType, name),
			IPAddress:   c.IP(),
			UserAgent:   truncate(c.Get(fiber.HeaderUserAgent), 255),
		}
		if dbErr := db.Create(&entry).Error; dbErr != nil {
			log.WithError(dbErr).Warn("Failed to write audit log")
		}
		return err
	}
}

func auditAction(method, path string) models.AuditAction {
	switch {
	case strings.HasSuffix(path, "/suspend"):
		return models.AuditActionSuspend
	case strings.HasSuffix(path, "/resume"):
		return models.AuditActionResume
	case strings.HasSuffix(path, "/kick"):
		return models.AuditActionKick
	case strings.HasSuffix(path, "/sync"), strings.HasSuffix(path, "/sync-all"):
		return models.AuditActionSync
	case strings.HasSuffix(path, "/generate"):
		return models.AuditActionGenerate
	case strings.HasPrefix(path, "/api/payments") && method == fiber.MethodPost:
		return models.AuditActionPayment
	}
	switch method {
	case fiber.MethodPost:
		if idRegex.MatchString(path) {
			return models.AuditActionUpdate
		}
		return models.AuditActionCreate
	case fiber.MethodDelete:
		return models.AuditActionDelete
	default:
		return models.AuditActionUpdate
	}
}

// extractIDFromPath gets the numeric ID from URL path
func extractIDFromPath(path string) string {
	matches := idRegex.FindStringSubmatch(path)
	if len(matches) > 1 {
		return matches[1]
	}
	return ""
}

func entityTypeFromPath(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/api/"), "/")
	if len(parts) == 0 {
		return ""
	}
	if parts[0] == "vouchers" && len(parts) > 1 && parts[1] == "batches" {
		return "batch"
	}
	if parts[0] == "print" && len(parts) > 1 && parts[1] == "templates" {
		return "template"
	}
	return entityTypes[parts[0]]
}

// nameFromBody extracts name/username from JSON request body
func nameFromBody(body []byte) string {
	var data map[string]interface{}
	if err := jsoniter.Unmarshal(body, &data); err != nil {
		return ""
	}
	for _, field := range []string{"name", "username", "code", "full_name"} {
		if s, ok := data[field].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// entityName looks up the entity name from database
func entityName(db *gorm.DB, entityType, entityID string) string {
	if entityID == "" {
		return ""
	}
	n, ok := named[entityType]
	if !ok {
		return "#" + entityID
	}
	var name string
	err := db.Unscoped().Model(n.model).Where("id = ?", entityID).Limit(1).Pluck(n.column, &name).Error
	if err != nil || name == "" {
		return "#" + entityID
	}
	return name
}

func describe(action models.AuditAction, entityType, name string) string {
	verb := map[models.AuditAction]string{
		models.AuditActionCreate:   "Created",
		models.AuditActionUpdate:   "Updated",
		models.AuditActionDelete:   "Deleted",
		models.AuditActionSuspend:  "Suspended",
		models.AuditActionResume:   "Resumed",
		models.AuditActionKick:     "Disconnected",
		models.AuditActionSync:     "Synced",
		models.AuditActionGenerate: "Generated",
		models.AuditActionPayment:  "Recorded payment for",
	}[action]
	if name == "" || strings.HasPrefix(name, "#") {
		return strings.TrimSpace(verb + " " + entityType + " " + name)
	}
	return verb + " " + entityType + " \"" + name + "\""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
