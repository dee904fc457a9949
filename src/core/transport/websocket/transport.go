// Package websocket implements the transport.Connection collaborator over
// a gorilla/websocket client connection.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"speechlink-go/src/core/events"
	"speechlink-go/src/core/protocol"
	"speechlink-go/src/core/transport"
	"speechlink-go/src/core/utils"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	dialRetries      = 2
)

// Config carries everything needed to dial the service endpoint.
type Config struct {
	URL          string
	Token        string
	ConnectionID string
	Headers      http.Header
}

// Connection is a websocket-backed transport.Connection.
type Connection struct {
	cfg    Config
	logger *utils.Logger
	bus    *events.Bus

	mu    sync.Mutex
	conn  *websocket.Conn
	state transport.State
}

var _ transport.Connection = (*Connection)(nil)

func NewConnection(cfg Config, logger *utils.Logger, bus *events.Bus) *Connection {
	return &Connection{cfg: cfg, logger: logger, bus: bus, state: transport.StateNone}
}

// NewFactory builds a transport.Factory dialing the given endpoint.
func NewFactory(url string, headers http.Header, logger *utils.Logger, bus *events.Bus) transport.Factory {
	return func(ctx context.Context, token string, connectionID string) (transport.Connection, error) {
		return NewConnection(Config{
			URL:          url,
			Token:        token,
			ConnectionID: connectionID,
			Headers:      headers,
		}, logger, bus), nil
	}
}

// Open dials the endpoint with bounded retries and returns the HTTP-style
// status of the handshake. Auth failures (401/403) are not retried here;
// the adapter owns the one documented token-refresh retry.
func (c *Connection) Open(ctx context.Context) (int, error) {
	c.mu.Lock()
	if c.state == transport.StateConnected {
		c.mu.Unlock()
		return http.StatusOK, nil
	}
	c.state = transport.StateConnecting
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	headers := http.Header{}
	for name, values := range c.cfg.Headers {
		for _, v := range values {
			headers.Add(name, v)
		}
	}
	if c.cfg.Token != "" {
		headers.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.cfg.ConnectionID != "" {
		headers.Set("X-ConnectionId", c.cfg.ConnectionID)
	}

	var (
		conn *websocket.Conn
		resp *http.Response
		err  error
	)
	for i := 0; i <= dialRetries; i++ {
		conn, resp, err = dialer.DialContext(ctx, c.cfg.URL, headers)
		if err == nil {
			break
		}
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			// Credential rejection is terminal for this dial.
			c.setState(transport.StateDisconnected)
			return resp.StatusCode, nil
		}
		if i < dialRetries {
			backoff := time.Duration(500*(i+1)) * time.Millisecond
			c.logger.DebugTag("CONN", "dial failed (attempt %d/%d): %v, retrying in %v",
				i+1, dialRetries+1, err, backoff)
			select {
			case <-ctx.Done():
				c.setState(transport.StateDisconnected)
				return 0, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	if err != nil {
		c.setState(transport.StateDisconnected)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return status, utils.WrapError(utils.KindConnection, "websocket.Open", "dial failed", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = transport.StateConnected
	c.mu.Unlock()

	c.bus.Publish(events.TopicConnectionEstablished, events.ConnectionEvent{
		SessionID:  c.cfg.ConnectionID,
		StatusCode: http.StatusOK,
		Timestamp:  time.Now(),
	})
	return http.StatusOK, nil
}

func (c *Connection) setState(s transport.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send serializes and writes one framed message. Writes are serialized by
// the connection mutex; gorilla allows one concurrent writer only.
func (c *Connection) Send(ctx context.Context, msg *protocol.Message) error {
	mt, payload, err := msg.Serialize()
	if err != nil {
		return err
	}

	wsType := websocket.TextMessage
	if mt == protocol.MessageTypeBinary {
		wsType = websocket.BinaryMessage
	}

	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()
	if state != transport.StateConnected || conn == nil {
		return utils.NewError(utils.KindConnection, "websocket.Send", "connection is not open")
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}

	c.mu.Lock()
	err = conn.WriteMessage(wsType, payload)
	c.mu.Unlock()
	if err != nil {
		c.markDisconnected("write failed")
		return utils.WrapError(utils.KindConnection, "websocket.Send", "write failed", err)
	}

	c.bus.Publish(events.TopicMessageSent, events.MessageEvent{
		SessionID: c.cfg.ConnectionID,
		RequestID: msg.RequestID(),
		Path:      msg.Path(),
		Binary:    mt == protocol.MessageTypeBinary,
		Size:      len(payload),
		Timestamp: time.Now(),
	})
	return nil
}

// Read blocks for the next frame and parses it into a RawMessage.
func (c *Connection) Read(ctx context.Context) (*protocol.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()
	if state != transport.StateConnected || conn == nil {
		return nil, utils.NewError(utils.KindConnection, "websocket.Read", "connection is not open")
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	wsType, payload, err := conn.ReadMessage()
	if err != nil {
		c.markDisconnected("read failed")
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, nil
		}
		return nil, utils.WrapError(utils.KindConnection, "websocket.Read", "read failed", err)
	}

	var mt protocol.MessageType
	switch wsType {
	case websocket.TextMessage:
		mt = protocol.MessageTypeText
	case websocket.BinaryMessage:
		mt = protocol.MessageTypeBinary
	default:
		// Control frames are handled by gorilla internally; skip others.
		return nil, nil
	}

	raw, err := protocol.Deserialize(mt, payload)
	if err != nil {
		return nil, err
	}

	c.bus.Publish(events.TopicMessageReceived, events.MessageEvent{
		SessionID: c.cfg.ConnectionID,
		RequestID: raw.Headers[protocol.HeaderRequestID],
		Path:      raw.Headers[protocol.HeaderPath],
		Binary:    mt == protocol.MessageTypeBinary,
		Size:      len(payload),
		Timestamp: time.Now(),
	})
	return raw, nil
}

func (c *Connection) markDisconnected(reason string) {
	c.mu.Lock()
	alreadyDown := c.state == transport.StateDisconnected
	c.state = transport.StateDisconnected
	c.mu.Unlock()
	if !alreadyDown {
		c.bus.Publish(events.TopicConnectionClosed, events.ConnectionEvent{
			SessionID: c.cfg.ConnectionID,
			Reason:    reason,
			Timestamp: time.Now(),
		})
	}
}

// Dispose closes the socket and marks the connection disconnected.
func (c *Connection) Dispose(reason string) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(2*time.Second))
		_ = conn.Close()
	}
	c.markDisconnected(reason)
	return nil
}
