// Package realtime broadcasts platform events to connected dashboard
// clients over WebSocket, isolated per organization so one tenant never
// sees another's traffic.
package realtime

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/singura/singura/internal/telemetry"
)

// MessageType discriminates the payload carried by an Envelope. This set is
// exhaustive: every outbound broadcast must use one of these six types, and
// its payload must validate against the matching schema below.
type MessageType string

const (
	MessageConnectionUpdate     MessageType = "connection.update"
	MessageDiscoveryProgress    MessageType = "discovery.progress"
	MessageAutomationDiscovered MessageType = "automation.discovered"
	MessageRiskScoreUpdated     MessageType = "risk.score_updated"
	MessageRiskHighAlert        MessageType = "risk.high_alert"
	MessageSystemNotification   MessageType = "system.notification"
)

// ConnectionUpdatePayload is the schema for MessageConnectionUpdate.
type ConnectionUpdatePayload struct {
	ConnectionID uuid.UUID `json:"connectionId" validate:"required"`
	Status       string    `json:"status" validate:"required"`
	Platform     string    `json:"platform" validate:"required"`
}

// DiscoveryProgressPayload is the schema for MessageDiscoveryProgress.
type DiscoveryProgressPayload struct {
	ConnectionID uuid.UUID `json:"connectionId" validate:"required"`
	Progress     float64   `json:"progress" validate:"gte=0,lte=100"`
	Status       string    `json:"status" validate:"required"`
	ItemsFound   int       `json:"itemsFound"`
}

// AutomationDiscoveredPayload is the schema for MessageAutomationDiscovered.
type AutomationDiscoveredPayload struct {
	AutomationID      uuid.UUID `json:"automationId" validate:"required"`
	Name              string    `json:"name" validate:"required"`
	Platform          string    `json:"platform" validate:"required"`
	RiskLevel         string    `json:"riskLevel" validate:"required"`
	DetectionMetadata any       `json:"detection_metadata,omitempty"`
}

// RiskScoreUpdatedPayload is the schema for MessageRiskScoreUpdated.
type RiskScoreUpdatedPayload struct {
	AutomationID uuid.UUID `json:"automationId" validate:"required"`
	OldScore     float64   `json:"oldScore"`
	NewScore     float64   `json:"newScore"`
	Reason       string    `json:"reason" validate:"required"`
}

// RiskHighAlertPayload is the schema for MessageRiskHighAlert.
type RiskHighAlertPayload struct {
	AutomationID      uuid.UUID `json:"automationId" validate:"required"`
	RiskScore         float64   `json:"riskScore"`
	RiskLevel         string    `json:"riskLevel" validate:"required"`
	DetectionPatterns []string  `json:"detectionPatterns"`
}

// SystemNotificationPayload is the schema for MessageSystemNotification.
type SystemNotificationPayload struct {
	Level   string `json:"level" validate:"required,oneof=info warning error"`
	Message string `json:"message" validate:"required"`
}

// validatePayload decodes raw into the struct matching msgType's schema and
// runs struct-tag validation against it. Broadcast drops any message that
// fails this check rather than let a malformed envelope reach a client.
func validatePayload(msgType MessageType, raw []byte) error {
	var target any
	switch msgType {
	case MessageConnectionUpdate:
		target = &ConnectionUpdatePayload{}
	case MessageDiscoveryProgress:
		target = &DiscoveryProgressPayload{}
	case MessageAutomationDiscovered:
		target = &AutomationDiscoveredPayload{}
	case MessageRiskScoreUpdated:
		target = &RiskScoreUpdatedPayload{}
	case MessageRiskHighAlert:
		target = &RiskHighAlertPayload{}
	case MessageSystemNotification:
		target = &SystemNotificationPayload{}
	default:
		return fmt.Errorf("unrecognized message type %q", msgType)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return validate.Struct(target)
}

// Envelope wraps every outbound message in a discriminated union so clients
// can dispatch on Type without needing a schema per connection.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Client is one authenticated WebSocket subscriber, scoped to a single
// organization's event stream.
type Client struct {
	hub            *Hub
	conn           *websocket.Conn
	organizationID uuid.UUID
	send           chan []byte
}

// Hub fans events out to every client subscribed to an organization. A
// client's send channel is buffered and never blocks the broadcaster: a
// full buffer means the subscriber is too slow and its message is dropped,
// at-most-once delivery rather than risking the whole hub stalling on one
// slow reader.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[uuid.UUID]map[*Client]struct{}
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[uuid.UUID]map[*Client]struct{}),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.organizationID] == nil {
		h.clients[c.organizationID] = make(map[*Client]struct{})
	}
	h.clients[c.organizationID][c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.clients[c.organizationID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.organizationID)
		}
	}
	close(c.send)
}

// Broadcast publishes a message to every client subscribed to orgID. The
// payload is validated against msgType's schema before anything is sent;
// an invalid payload is dropped, logged, and counted rather than reaching a
// client or panicking the caller.
func (h *Hub) Broadcast(orgID uuid.UUID, msgType MessageType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("realtime: marshaling broadcast payload", "error", err, "type", msgType)
		return
	}
	if err := validatePayload(msgType, raw); err != nil {
		h.logger.Warn("realtime: dropping broadcast with invalid schema", "type", msgType, "error", err)
		telemetry.BusMessagesTotal.WithLabelValues("dropped_schema_invalid").Inc()
		return
	}
	envelope := Envelope{Type: msgType, Payload: raw, Timestamp: time.Now()}
	body, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Error("realtime: marshaling envelope", "error", err, "type", msgType)
		return
	}

	h.mu.RLock()
	clients := h.clients[orgID]
	if len(clients) == 0 {
		h.mu.RUnlock()
		telemetry.BusMessagesTotal.WithLabelValues("dropped_no_subscribers").Inc()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- body:
			telemetry.BusMessagesTotal.WithLabelValues("delivered").Inc()
		default:
			telemetry.BusMessagesTotal.WithLabelValues("dropped_slow_subscriber").Inc()
		}
	}
}

// BroadcastAll publishes a message to every connected client across every
// organization, for platform-wide signals that aren't scoped to one
// tenant's data.
func (h *Hub) BroadcastAll(msgType MessageType, payload any) {
	h.mu.RLock()
	orgIDs := make([]uuid.UUID, 0, len(h.clients))
	for orgID := range h.clients {
		orgIDs = append(orgIDs, orgID)
	}
	h.mu.RUnlock()

	for _, orgID := range orgIDs {
		h.Broadcast(orgID, msgType, payload)
	}
}

// VerifyAuthToken checks a connecting client's bearer token against an
// HMAC-SHA256 of its claimed organization ID, keyed by secret. This is the
// only authentication the realtime bus performs; it trusts the same
// upstream issuer as orgcontext's unverified JWT path.
func VerifyAuthToken(secret []byte, orgID uuid.UUID, token string) bool {
	expected := authToken(secret, orgID)
	return hmac.Equal([]byte(expected), []byte(token))
}

func authToken(secret []byte, orgID uuid.UUID) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(orgID.String()))
	return hex.EncodeToString(mac.Sum(nil))
}
