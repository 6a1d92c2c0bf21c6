package ws

import (
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-gateway/internal/models"
	"chat-gateway/internal/observability"
)

// Hub maintains the process-local registry of live websocket connections
// per user. It exclusively owns the sockets it holds.
type Hub struct {
	connections map[int]map[string]*Conn
	mu          sync.RWMutex
	log         zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		connections: make(map[int]map[string]*Conn),
		log:         log,
	}
}

// Add registers a socket under the user id and assigns it a fresh
// connection identity.
func (h *Hub) Add(userID int, socket Socket) *Conn {
	conn := &Conn{ID: uuid.NewString(), UserID: userID, Socket: socket}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[userID]; !ok {
		h.connections[userID] = make(map[string]*Conn)
	}
	h.connections[userID][conn.ID] = conn

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	return conn
}

// Remove drops the specific connection from the user's set. The user entry
// disappears when its last connection is removed; removing an absent
// connection is a no-op.
func (h *Hub) Remove(userID int, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.connections[userID]
	if !ok {
		return
	}
	if _, ok := conns[conn.ID]; !ok {
		return
	}
	delete(conns, conn.ID)
	if len(conns) == 0 {
		delete(h.connections, userID)
	}

	observability.DecWSActive()
	observability.IncWSEvent("ws_disconnect")
}

// Receive reads one inbound frame. A malformed frame is answered with an
// error frame on the same connection and yields a nil payload, leaving the
// connection open. Any non-decoding error is terminal for the read loop.
func (h *Hub) Receive(conn *Conn) (*models.IncomingMessage, error) {
	var frame models.IncomingMessage
	if err := conn.Socket.ReadJSON(&frame); err != nil {
		if isDecodeError(err) {
			writeErr := conn.WriteJSON(models.ErrorFrame{
				Title:   "Data integrity error.",
				Details: "Invalid JSON was provided.",
			})
			if writeErr != nil {
				return nil, writeErr
			}
			return nil, nil
		}
		return nil, err
	}
	return &frame, nil
}

// Send delivers the payload to every local connection of every addressed
// user. Users with no connection on this process are skipped; they are
// either connected elsewhere or offline.
func (h *Hub) Send(msg models.Message, userIDs []int) {
	h.mu.RLock()
	targets := make([]*Conn, 0)
	for _, userID := range userIDs {
		for _, conn := range h.connections[userID] {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.WriteJSON(msg); err != nil {
			h.log.Warn().Err(err).Str("conn_id", conn.ID).Int("user_id", conn.UserID).
				Msg("websocket write failed, dropping connection")
			_ = conn.Socket.Close()
			h.Remove(conn.UserID, conn)
			observability.IncWSEvent("ws_error")
		}
	}
}

// Connections reports how many live connections the user has on this process.
func (h *Hub) Connections(userID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID])
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	// io.ErrUnexpectedEOF is what the decoder reports for a truncated frame.
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF)
}
