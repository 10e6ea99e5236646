package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"team-collab-backend/pkg/apperr"
	"team-collab-backend/pkg/chat"
	"team-collab-backend/pkg/middleware"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 16 * 1024
	defaultSendBuf = 64
)

// WebSocketHandler 聊天WebSocket入口
type WebSocketHandler struct {
	chat           *chat.Service
	allowedOrigins []string
	sendBuffer     int
	logger         *slog.Logger
	upgrader       websocket.Upgrader
}

func NewWebSocketHandler(svc *chat.Service, allowedOrigins []string, sendBuffer int, logger *slog.Logger) *WebSocketHandler {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuf
	}
	h := &WebSocketHandler{
		chat:           svc,
		allowedOrigins: allowedOrigins,
		sendBuffer:     sendBuffer,
		logger:         logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.OriginAllowed(r.Header.Get("Origin"), h.allowedOrigins)
		},
	}
	return h
}

// GET /api/ws
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Debug("websocket upgrade failed", "user_id", user.ID, "error", err)
		return
	}

	conn := newWSConn(ws, user.ID, h.sendBuffer)
	h.logger.Info("websocket connected", "conn_id", conn.id, "user_id", user.ID)

	// the request context ends with the handler, so frames get their own
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go conn.writeLoop(h.logger)
	h.readLoop(ctx, conn)

	h.chat.Disconnect(conn)
	conn.Close()
	h.logger.Info("websocket disconnected", "conn_id", conn.id, "user_id", user.ID)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, conn *wsConn) {
	conn.ws.SetReadLimit(maxFrameSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd chat.Command
		if err := conn.ws.ReadJSON(&cmd); err != nil {
			if isDecodeError(err) {
				h.chat.ReplyError(conn, "", apperr.Invalid(apperr.CodeValidation, "malformed frame"))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "conn_id", conn.id, "error", err)
			}
			return
		}
		h.chat.Handle(ctx, conn, cmd)
		if conn.isClosed() {
			return
		}
	}
}

// wsConn adapts a websocket to chat.Conn. All writes happen on the write loop.
type wsConn struct {
	id     string
	userID string
	ws     *websocket.Conn
	send   chan chat.Event

	closeOnce sync.Once
	done      chan struct{}
}

func newWSConn(ws *websocket.Conn, userID string, buffer int) *wsConn {
	return &wsConn{
		id:     uuid.New().String(),
		userID: userID,
		ws:     ws,
		send:   make(chan chat.Event, buffer),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) ID() string     { return c.id }
func (c *wsConn) UserID() string { return c.userID }

// Deliver queues ev without blocking; false means the queue is full or the conn is closed
func (c *wsConn) Deliver(ev chat.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Close signals the write loop to send a close frame and shut the socket
func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *wsConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *wsConn) writeLoop(logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(ev); err != nil {
				logger.Debug("websocket write failed", "conn_id", c.id, "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// isDecodeError reports a frame that arrived intact but is not a valid command
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
