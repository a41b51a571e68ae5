// Package cdp is a minimal Chrome DevTools Protocol client over a single
// websocket using flattened target sessions.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/chatpilot/internal/automation"
)

// request is satisfied by every typed command in go-rod's lib/proto
type request interface {
	ProtoReq() string
}

type message struct {
	ID        int64           `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    any             `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *protocolError  `json:"error,omitempty"`
}

type protocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *protocolError) Error() string {
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

type reply struct {
	result json.RawMessage
	err    error
}

// Client multiplexes CDP commands over one browser-level websocket
type Client struct {
	conn   *websocket.Conn
	log    *zap.Logger
	nextID atomic.Int64

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[int64]chan reply
	closed   chan struct{}
	closeErr error
}

// Dial connects to a browser websocket debugger URL
func Dial(ctx context.Context, wsURL string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, automation.Errorf(automation.StageConnect, err, "dial %s", wsURL)
	}
	c := &Client{
		conn:    conn,
		log:     log,
		pending: make(map[int64]chan reply),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("Dropping undecodable CDP frame", zap.Error(err))
			continue
		}
		if msg.ID == 0 {
			// Events are not consumed.
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if !ok {
			continue
		}
		if msg.Error != nil {
			ch <- reply{err: msg.Error}
		} else {
			ch <- reply{result: msg.Result}
		}
	}
}

func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return
	default:
	}
	if cause == nil {
		cause = errors.New("connection closed")
	}
	c.closeErr = cause
	close(c.closed)
	for id, ch := range c.pending {
		ch <- reply{err: cause}
		delete(c.pending, id)
	}
	c.log.Debug("CDP connection closed", zap.Error(cause))
}

// Call sends one command and decodes its result into out (if non-nil).
// Transport failures are classified as connection-lost.
func (c *Client) Call(ctx context.Context, sessionID string, req request, out any) error {
	method := req.ProtoReq()
	id := c.nextID.Add(1)
	ch := make(chan reply, 1)

	c.mu.Lock()
	select {
	case <-c.closed:
		err := c.closeErr
		c.mu.Unlock()
		return connectionLost(method, err)
	default:
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(message{ID: id, SessionID: sessionID, Method: method, Params: req})
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return connectionLost(method, err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			var pe *protocolError
			if errors.As(r.err, &pe) {
				if isConnectionError(pe) {
					return connectionLost(method, pe)
				}
				return pe
			}
			return connectionLost(method, r.err)
		}
		if out == nil || len(r.result) == 0 {
			return nil
		}
		if err := json.Unmarshal(r.result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Done is closed once the websocket is gone
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Close tears down the websocket
func (c *Client) Close() error {
	err := c.conn.Close()
	c.shutdown(errors.New("client closed"))
	return err
}

func connectionLost(method string, err error) error {
	return automation.Errorf(automation.StageConnectionLost, err, "%s: browser connection lost", method)
}

// isConnectionError reports protocol errors that mean the target or its
// session went away underneath us
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"session with given id not found",
		"target closed",
		"no target with given id",
		"broken pipe",
		"connection reset",
		"connection refused",
		"eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
