package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-gateway/internal/directory"
	"chat-gateway/internal/models"
	"chat-gateway/internal/observability"
	"chat-gateway/internal/session"
	"chat-gateway/internal/ws"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// PassIssuer issues one-time websocket connection passes.
type PassIssuer interface {
	IssuePass() (string, error)
}

// MessagesHandler serves the connection-pass endpoint and the websocket
// endpoint that turns inbound frames into broker publishes.
type MessagesHandler struct {
	gateway   *session.Gateway
	hub       *ws.Hub
	directory directory.Directory
	issuer    PassIssuer
	passTTL   time.Duration
	closeCode int
	log       zerolog.Logger
}

// NewMessagesHandler constructs the handler.
func NewMessagesHandler(
	gateway *session.Gateway,
	hub *ws.Hub,
	dir directory.Directory,
	issuer PassIssuer,
	passTTL time.Duration,
	closeCode int,
	log zerolog.Logger,
) *MessagesHandler {
	return &MessagesHandler{
		gateway:   gateway,
		hub:       hub,
		directory: dir,
		issuer:    issuer,
		passTTL:   passTTL,
		closeCode: closeCode,
		log:       log,
	}
}

// GetConnectionPass issues a single-use pass for the authenticated user and
// stores it in the directory with a TTL.
func (h *MessagesHandler) GetConnectionPass(c *gin.Context) {
	userID := c.GetInt("userID")

	pass, err := h.issuer.IssuePass()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue connection pass"})
		return
	}

	if err := h.directory.StorePass(c.Request.Context(), pass, userID, h.passTTL); err != nil {
		h.log.Error().Err(err).Msg("failed to store connection pass")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue connection pass"})
		return
	}

	c.JSON(http.StatusOK, models.ConnectionPassResponse{ConnectionPass: pass})
}

// Connect upgrades the websocket, redeems the connection pass and runs the
// read loop until the client goes away.
func (h *MessagesHandler) Connect(c *gin.Context) {
	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	pass := c.Query("connection_pass")
	userID, err := h.redeemPass(c, pass)
	if err != nil {
		h.closeUnauthenticated(socket)
		return
	}

	conn, err := h.gateway.Connect(c.Request.Context(), userID, socket)
	if err != nil {
		h.log.Error().Err(err).Int("user_id", userID).Msg("failed to connect user")
		_ = socket.Close()
		return
	}

	h.readLoop(c, userID, conn)
}

func (h *MessagesHandler) redeemPass(c *gin.Context, pass string) (int, error) {
	if pass == "" {
		return 0, directory.ErrPassNotFound
	}
	return h.directory.RedeemPass(c.Request.Context(), pass)
}

func (h *MessagesHandler) readLoop(c *gin.Context, userID int, conn *ws.Conn) {
	defer func() {
		// Cleanup uses a detached context: it must run to completion even
		// when triggered by an abrupt client close.
		if err := h.gateway.Disconnect(context.Background(), userID, conn); err != nil {
			h.log.Error().Err(err).Int("user_id", userID).Msg("disconnect cleanup failed")
		}
		_ = conn.Socket.Close()
	}()

	for {
		frame, err := h.hub.Receive(conn)
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, net.ErrClosed) {
				h.log.Debug().Err(err).Int("user_id", userID).Msg("websocket read ended")
			}
			return
		}
		if frame == nil {
			// Malformed frame, already answered with an error frame.
			continue
		}

		if err := frame.Validate(); err != nil {
			_ = conn.WriteJSON(models.ErrorFrame{
				Title:   "Data consistency error.",
				Details: err.Error(),
			})
			continue
		}

		if err := h.gateway.SendMessage(c.Request.Context(), userID, *frame); err != nil {
			h.log.Error().Err(err).Int("user_id", userID).Msg("failed to publish message")
			_ = conn.WriteJSON(models.ErrorFrame{
				Title:   "Delivery error.",
				Details: "The message could not be accepted.",
			})
		}
	}
}

func (h *MessagesHandler) closeUnauthenticated(socket *websocket.Conn) {
	observability.IncWSEvent("ws_unauthenticated")
	deadline := time.Now().Add(time.Second)
	_ = socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(h.closeCode, "unauthenticated"), deadline)
	_ = socket.Close()
}
