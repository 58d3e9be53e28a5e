package realtime

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/singura/singura/internal/orgcontext"
)

var (
	upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	validate = validator.New()
)

// authFrame is the first message a client must send after the upgrade
// completes. The connection is closed if it is missing or invalid.
type authFrame struct {
	Type  string `json:"type" validate:"required,eq=auth"`
	Token string `json:"token" validate:"required"`
}

// Handler upgrades HTTP connections to WebSocket and binds them into the
// Hub, scoped to the organization resolved by orgcontext.
type Handler struct {
	hub         *Hub
	authSecret  []byte
	sendBuffer  int
	logger      *slog.Logger
}

// NewHandler creates a realtime connection Handler. sendBuffer sets each
// client's outbound channel capacity — the slack available before Broadcast
// starts dropping messages to that subscriber.
func NewHandler(hub *Hub, authSecret []byte, sendBuffer int, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, authSecret: authSecret, sendBuffer: sendBuffer, logger: logger}
}

// ServeHTTP upgrades the request, waits for a valid auth frame carrying a
// token for the resolved organization, then hands the connection to the
// hub's read/write pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgcontext.FromContext(r.Context())
	if !ok {
		http.Error(w, "organization context required", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("realtime: upgrade failed", "error", err)
		return
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	var frame authFrame
	if err := conn.ReadJSON(&frame); err != nil {
		h.logger.Warn("realtime: malformed auth frame", "error", err)
		conn.Close()
		return
	}
	if err := validate.Struct(frame); err != nil {
		h.logger.Warn("realtime: invalid auth frame", "error", err)
		conn.Close()
		return
	}
	if !VerifyAuthToken(h.authSecret, orgID, frame.Token) {
		h.logger.Warn("realtime: auth token rejected", "organization_id", orgID)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token"))
		conn.Close()
		return
	}

	client := &Client{
		hub:            h.hub,
		conn:           conn,
		organizationID: orgID,
		send:           make(chan []byte, h.sendBuffer),
	}
	h.hub.register(client)

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Inbound messages beyond the initial auth frame are not part of
		// the protocol; the loop only exists to detect disconnects and
		// keep the read deadline alive via pong frames.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// IssueAuthToken produces the token a client must present in its auth frame
// to subscribe to orgID's event stream, for handlers that provision a
// dashboard session to hand off to a client.
func IssueAuthToken(secret []byte, orgID uuid.UUID) string {
	return authToken(secret, orgID)
}
