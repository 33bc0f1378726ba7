package signal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"studyroom/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	clientWriteWait  = 10 * time.Second
	clientPongWait   = 60 * time.Second
	clientPingPeriod = (clientPongWait * 9) / 10
	clientMaxMessage = 64 * 1024
)

var ErrClientClosed = errors.New("signaling client closed")

// Client is a participant's connection to the coordinator. Frames are
// written by a single writer goroutine; inbound frames arrive in order on
// Incoming, which is closed when the connection ends.
type Client struct {
	conn     *websocket.Conn
	incoming chan domain.Message
	outgoing chan domain.Message
	done     chan struct{}
	once     sync.Once
	logger   *zap.SugaredLogger
}

// Dial connects to the signaling endpoint. userID is passed as the
// membership hint for channel subscriptions.
func Dial(ctx context.Context, serverURL string, userID domain.UserID, logger *zap.SugaredLogger) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if userID != "" {
		q := u.Query()
		q.Set("userId", string(userID))
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:     conn,
		incoming: make(chan domain.Message, 64),
		outgoing: make(chan domain.Message, 64),
		done:     make(chan struct{}),
		logger:   logger,
	}
	c.conn.SetReadLimit(clientMaxMessage)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(clientPongWait))
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(clientPongWait))
	for {
		var msg domain.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Infow("Signaling connection lost", "error", err)
			}
			return
		}
		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(clientPingPeriod)
	defer func() {
		ticker.Stop()
		// a dead writer must not leave Send waiting on a full queue
		c.Close()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Infow("Signaling write failed", "event", msg.Event, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			c.flush()
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes frames queued before Close, such as a final leave.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.outgoing:
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues one frame. It blocks only while the outbound queue is full.
func (c *Client) Send(ctx context.Context, event string, payload interface{}) error {
	msg, err := domain.NewMessage(event, payload)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Incoming() <-chan domain.Message {
	return c.incoming
}

func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
