package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chat-gateway/internal/directory"
	"chat-gateway/internal/dispatch"
	"chat-gateway/internal/models"
	"chat-gateway/internal/rabbitmq"
	"chat-gateway/internal/ws"
)

// Broker is the fan-out manager surface the gateway depends on.
type Broker interface {
	Consume(ctx context.Context, sink rabbitmq.Sink) error
	Publish(ctx context.Context, msg models.Message) error
	Close() error
}

// Options tune the long-running consumption loop.
type Options struct {
	// ConsumerReconnect restarts consumption with a backoff after a broker
	// failure. When false the process accepts fail-stop consumption: the
	// loop ends and no further deliveries reach this shard.
	ConsumerReconnect bool
	ConsumerBackoff   time.Duration
}

// Gateway sequences the per-process and per-connection lifecycle, keeping
// the hub, the directory and broker consumption consistent.
type Gateway struct {
	processID string
	hub       *ws.Hub
	directory directory.Directory
	broker    Broker
	queue     *dispatch.Queue
	opts      Options
	log       zerolog.Logger
}

// NewGateway wires the gateway around its collaborators.
func NewGateway(
	processID string,
	hub *ws.Hub,
	dir directory.Directory,
	broker Broker,
	queue *dispatch.Queue,
	opts Options,
	log zerolog.Logger,
) *Gateway {
	return &Gateway{
		processID: processID,
		hub:       hub,
		directory: dir,
		broker:    broker,
		queue:     queue,
		opts:      opts,
		log:       log,
	}
}

// ProcessID reports this shard's identity.
func (g *Gateway) ProcessID() string {
	return g.processID
}

// Connect registers the socket in the hub and records this process under
// the user's directory entry. On directory failure the hub registration is
// rolled back so the two stay consistent.
func (g *Gateway) Connect(ctx context.Context, userID int, socket ws.Socket) (*ws.Conn, error) {
	conn := g.hub.Add(userID, socket)
	if err := g.directory.AddShard(ctx, userID, g.processID); err != nil {
		g.hub.Remove(userID, conn)
		return nil, fmt.Errorf("register shard: %w", err)
	}
	return conn, nil
}

// Disconnect unregisters the specific connection from the hub and removes
// this process from the user's directory entry. Both cleanups always run;
// a directory failure never skips the hub removal.
func (g *Gateway) Disconnect(ctx context.Context, userID int, conn *ws.Conn) error {
	g.hub.Remove(userID, conn)
	if err := g.directory.RemoveShard(ctx, userID, g.processID); err != nil {
		return fmt.Errorf("deregister shard: %w", err)
	}
	return nil
}

// SendMessage wraps a validated inbound frame into a freshly sent message
// and hands it to the broker toward the persistence exchange.
func (g *Gateway) SendMessage(ctx context.Context, senderID int, in models.IncomingMessage) error {
	return g.broker.Publish(ctx, models.NewMessage(senderID, in))
}

// RunConsumer runs the single long-lived consumption loop for this shard's
// queue. Depending on configuration a broker failure either restarts the
// loop after a backoff or ends it for the rest of the process lifetime.
func (g *Gateway) RunConsumer(ctx context.Context) {
	for {
		err := g.broker.Consume(ctx, g.queue)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}

		if !g.opts.ConsumerReconnect {
			g.log.Error().Err(err).Msg("broker consumption ended, reconnect disabled")
			return
		}

		g.log.Warn().Err(err).Dur("backoff", g.opts.ConsumerBackoff).
			Msg("broker consumption failed, restarting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(g.opts.ConsumerBackoff):
		}
	}
}

// RunDispatcher drains the dispatch queue and multicasts each message to
// the recipient's local connections until the context is cancelled.
func (g *Gateway) RunDispatcher(ctx context.Context) {
	for {
		msg, err := g.queue.Get(ctx)
		if err != nil {
			return
		}

		// A payload without a recipient cannot be routed; drop it here
		// rather than let it reach the hub.
		if msg.RecipientID == 0 {
			g.log.Warn().Str("client_message_id", msg.ClientMessageID).
				Msg("dropping dispatchable message without recipient")
			continue
		}

		g.hub.Send(msg, []int{msg.RecipientID})
	}
}

// Shutdown closes the broker connection. The consumption and dispatch loops
// are stopped by cancelling the context they were started with.
func (g *Gateway) Shutdown() error {
	return g.broker.Close()
}
