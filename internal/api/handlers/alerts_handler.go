package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/mlguard/backend/internal/alerts"
	"github.com/mlguard/backend/internal/notify"
	"github.com/mlguard/backend/internal/storage/sqlite"
	"github.com/mlguard/backend/pkg/logger"
)

type AlertsHandler struct {
	store *sqlite.Client
	hub   *alerts.Hub
	slack *notify.SlackNotifier // nil when slack is disabled
}

func NewAlertsHandler(store *sqlite.Client, hub *alerts.Hub, slack *notify.SlackNotifier) *AlertsHandler {
	return &AlertsHandler{store: store, hub: hub, slack: slack}
}

// List returns stored alerts, newest first, with optional filters.
func (h *AlertsHandler) List(c *fiber.Ctx) error {
	filter := sqlite.AlertFilter{
		ProjectID: c.Query("project_id"),
		ModelID:   c.Query("model_id"),
		Endpoint:  c.Query("endpoint"),
		Kind:      c.Query("kind"),
		Limit:     c.QueryInt("limit", 100),
	}

	alertRows, err := h.store.ListAlerts(c.Context(), filter)
	if err != nil {
		logger.Error("Failed to list alerts", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list alerts",
		})
	}

	return c.JSON(fiber.Map{"alerts": alertRows})
}

// SlackTest sends a plain message through the configured webhook so operators
// can verify connectivity without waiting for a real alert.
func (h *AlertsHandler) SlackTest(c *fiber.Ctx) error {
	if h.slack == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Slack is not configured",
		})
	}

	if err := h.slack.NotifyText(c.Context(), "ML Guard test alert (webhook connected)"); err != nil {
		logger.Warn("Slack test message failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Slack webhook rejected the test message",
		})
	}

	return c.JSON(fiber.Map{"ok": true})
}

// Stream pushes newly created alerts to a websocket client as they fire.
func (h *AlertsHandler) Stream() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ch := h.hub.Subscribe()
		defer h.hub.Unsubscribe(ch)

		for alert := range ch {
			payload, err := json.Marshal(alert)
			if err != nil {
				logger.Warn("Failed to marshal alert for stream", zap.Error(err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	})
}

// StreamUpgrade rejects plain HTTP requests on the websocket route.
func (h *AlertsHandler) StreamUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
