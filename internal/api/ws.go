package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsMaxMessage   = 64 * 1024
)

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsClientMessage struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

type wsServerMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleChatWebsocket runs exchanges one after another over a single
// connection. Each fragment is its own frame, so frame order is the prefix
// order.
func (h *Handler) handleChatWebsocket(c *gin.Context) {
	userID, ok := h.authenticate(c, true)
	if !ok {
		return
	}

	conn, err := chatUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnf("chat websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessage)

	logger := h.logger.With("user_id", userID, "transport", "websocket")
	ctx := c.Request.Context()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("chat websocket read error: %v", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg wsClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			if writeErr := writeFrame(conn, wsServerMessage{Type: "error", Error: "invalid message"}); writeErr != nil {
				return
			}
			continue
		}

		switch strings.ToLower(msg.Type) {
		case "ping":
			if err := writeFrame(conn, wsServerMessage{Type: "pong"}); err != nil {
				return
			}
		case "prompt":
			if strings.TrimSpace(msg.Prompt) == "" {
				if err := writeFrame(conn, wsServerMessage{Type: "error", Error: "prompt is required"}); err != nil {
					return
				}
				continue
			}

			channel := &wsChannel{conn: conn}
			result, err := h.relay.HandleExchange(ctx, userID, msg.Prompt, channel)
			if err != nil {
				logger.Errorw("chat exchange failed", "error", err)
				if writeErr := writeFrame(conn, wsServerMessage{Type: "error", Error: "Failed to process chat request"}); writeErr != nil {
					return
				}
				continue
			}
			if result.ClientGone {
				return
			}
		default:
			if err := writeFrame(conn, wsServerMessage{Type: "error", Error: "unknown message type"}); err != nil {
				return
			}
		}
	}
}

type wsChannel struct {
	conn   *websocket.Conn
	failed bool
}

// Begin is a no-op: the upgrade already committed the connection.
func (ch *wsChannel) Begin() error {
	return nil
}

func (ch *wsChannel) Write(fragment string) error {
	return writeFrame(ch.conn, wsServerMessage{Type: "fragment", Text: fragment})
}

func (ch *wsChannel) Fail(marker string) error {
	ch.failed = true
	return writeFrame(ch.conn, wsServerMessage{Type: "error", Error: strings.TrimSpace(marker)})
}

func (ch *wsChannel) Close() error {
	if ch.failed {
		return nil
	}
	return writeFrame(ch.conn, wsServerMessage{Type: "done"})
}

func writeFrame(conn *websocket.Conn, msg wsServerMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}
