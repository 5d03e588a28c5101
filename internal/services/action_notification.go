package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"autoflow/internal/datastore"
	"autoflow/internal/models"
)

const notificationsTable = "notifications"

type NotificationResult struct {
	NotificationsCreated int `json:"notifications_created"`
}

// NotificationHandler renders a message template and queues one pending
// notification per recipient. Delivery happens elsewhere.
type NotificationHandler struct {
	store      datastore.Store
	clock      Clock
	replaceAll bool
}

func NewNotificationHandler(store datastore.Store, clock Clock, replaceAll bool) *NotificationHandler {
	if clock == nil {
		clock = SystemClock()
	}
	return &NotificationHandler{store: store, clock: clock, replaceAll: replaceAll}
}

func (h *NotificationHandler) Execute(ctx context.Context, cfg NotificationConfig, ac ActionContext) (*NotificationResult, error) {
	message := RenderTemplate(cfg.MessageTemplate, ac.TriggerData, h.replaceAll)

	created := 0
	for _, r := range cfg.Recipients {
		row := datastore.Row{
			"execution_id": ac.ExecutionID,
			"user_id":      nil,
			"type":         cfg.NotificationType,
			"title":        cfg.Title,
			"message":      message,
			"status":       models.NotificationStatusPending,
			"created_at":   h.clock.Now(),
		}
		if r.UserID != "" {
			row["user_id"] = r.UserID
		}
		if err := h.store.Insert(ctx, notificationsTable, row); err != nil {
			return nil, err
		}
		created++
	}
	return &NotificationResult{NotificationsCreated: created}, nil
}

// RenderTemplate substitutes {{key}} tokens from data. Unless replaceAll is
// set only the first occurrence of each token is replaced.
func RenderTemplate(template string, data map[string]interface{}, replaceAll bool) string {
	if template == "" || len(data) == 0 {
		return template
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n := 1
	if replaceAll {
		n = -1
	}
	out := template
	for _, k := range keys {
		out = strings.Replace(out, "{{"+k+"}}", formatValue(data[k]), n)
	}
	return out
}

// formatValue prints floats in plain decimal notation.
func formatValue(v interface{}) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}
