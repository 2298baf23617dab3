package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/warpmeet/internal/dns"
	"github.com/BioHazard786/warpmeet/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	handshakeWait  = 10 * time.Second

	outgoingQueue = 256
	incomingQueue = 64
)

var (
	ErrConnectionClosed = errors.New("signaling connection closed")
	ErrQueueFull        = errors.New("signaling send queue full")
	ErrJoinFailed       = errors.New("join rejected by server")
)

// Client manages the WebSocket connection to the relay.
type Client struct {
	serverURL string
	logger    *slog.Logger

	conn      *websocket.Conn
	incoming  chan *protocol.Message
	outgoing  chan *protocol.Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client for the relay at serverURL (ws:// or wss://).
func NewClient(serverURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		serverURL: serverURL,
		logger:    logger,
		incoming:  make(chan *protocol.Message, incomingQueue),
		outgoing:  make(chan *protocol.Message, outgoingQueue),
		done:      make(chan struct{}),
	}
}

// Connect dials the relay and starts the read and write pumps.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := websocket.Dialer{
		NetDialContext:   dns.DialContext,
		HandshakeTimeout: handshakeWait,
		Proxy:            websocket.DefaultDialer.Proxy,
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return nil
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.Close()
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("Signaling read failed", "err", err)
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Debug("Malformed message from server", "err", err)
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
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
			// A leave is usually still queued.
			c.drain()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) drain() {
	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues a message for the server without blocking.
func (c *Client) Send(msg *protocol.Message) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrQueueFull
	}
}

func (c *Client) SendOffer(to, sdp string) error {
	return c.Send(&protocol.Message{Type: protocol.TypeOffer, To: to, SDP: sdp})
}

func (c *Client) SendAnswer(to, sdp string) error {
	return c.Send(&protocol.Message{Type: protocol.TypeAnswer, To: to, SDP: sdp})
}

func (c *Client) SendCandidate(to string, candidate json.RawMessage) error {
	return c.Send(&protocol.Message{Type: protocol.TypeCandidate, To: to, Candidate: candidate})
}

// Leave tells the relay we are leaving the current room.
func (c *Client) Leave() error {
	return c.Send(&protocol.Message{Type: protocol.TypeLeave})
}

// Incoming returns the channel of messages from the server. It is closed when
// the connection drops.
func (c *Client) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Done is closed once the client has shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Connected reports whether the connection is still up.
func (c *Client) Connected() bool {
	select {
	case <-c.done:
		return false
	default:
		return c.conn != nil
	}
}

// Close shuts down the connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
