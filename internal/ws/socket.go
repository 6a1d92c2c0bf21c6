package ws

import "sync"

// Socket is the capability the hub needs from an underlying websocket
// connection: exchange one JSON frame at a time and close. Satisfied by
// *websocket.Conn and by test fakes.
type Socket interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Conn is one live registered connection. A user may hold several at once,
// so removal is keyed by the connection id rather than by user id alone.
type Conn struct {
	ID     string
	UserID int
	Socket Socket

	writeMu sync.Mutex
}

// WriteJSON writes one frame, serializing writers: the dispatch task and the
// connection's own read loop may both target this socket, and the underlying
// connection supports a single concurrent writer.
func (c *Conn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Socket.WriteJSON(v)
}
