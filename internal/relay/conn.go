package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/BioHazard786/warpmeet/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP with many candidates fits comfortably.
	maxMessageSize = 64 * 1024
)

// ConnOptions tunes a single relay connection.
type ConnOptions struct {
	// MessagesPerSecond throttles reads from the peer; zero disables the limit.
	// Messages over the rate are delayed, never dropped.
	MessagesPerSecond float64
	// QueueSize is the outbound buffer length. Overflow closes the connection.
	QueueSize int
}

// DefaultConnOptions returns the options used when the server is not configured.
func DefaultConnOptions() ConnOptions {
	return ConnOptions{MessagesPerSecond: 50, QueueSize: 256}
}

// Conn wraps a single websocket connection and acts as its participant's transport.
type Conn struct {
	registry *Registry
	conn     *websocket.Conn
	limiter  *rate.Limiter
	logger   *slog.Logger

	send      chan *protocol.Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn binds ws to the registry. Call Serve to start its pumps.
func NewConn(registry *Registry, ws *websocket.Conn, opts ConnOptions, logger *slog.Logger) *Conn {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultConnOptions().QueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if opts.MessagesPerSecond > 0 {
		burst := int(opts.MessagesPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), burst)
	}

	return &Conn{
		registry: registry,
		conn:     ws,
		limiter:  limiter,
		logger:   logger.With("remote_addr", ws.RemoteAddr().String()),
		send:     make(chan *protocol.Message, opts.QueueSize),
		done:     make(chan struct{}),
	}
}

// Send queues msg for the write pump without blocking. A full queue means the
// peer is not keeping up; the connection is closed so the registry drops it.
func (c *Conn) Send(msg *protocol.Message) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		c.logger.Warn("Send queue full, closing connection")
		c.Close()
		return ErrSlowConsumer
	}
}

// Close stops both pumps. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed once the connection has been shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Serve runs the write pump in its own goroutine and the read pump on the caller's.
// It returns after the participant has been removed from the registry.
func (c *Conn) Serve() {
	go c.writePump()
	c.readPump()
}

// readPump pumps messages from the websocket connection to the registry.
//
// There is at most one reader on a connection; all reads happen on this goroutine.
func (c *Conn) readPump() {
	defer func() {
		c.Close()
		c.conn.Close()
		if c.registry.Disconnect(c) {
			c.logger.Debug("Transport severed, participant removed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Debug("Read failed", "err", err)
			}
			return
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Debug("Malformed message dropped", "err", err)
			continue
		}

		c.registry.Handle(c, msg)
	}
}

// writePump pumps queued messages to the websocket connection and keeps it alive
// with pings. There is at most one writer; all writes happen on this goroutine.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.logger.Debug("Write failed", "err", err)
				}
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
