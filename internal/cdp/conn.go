// Package cdp is a minimal DevTools protocol client: one WebSocket to one
// page target, JSON-RPC commands, and an ordered stream of everything the
// browser sends back.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// messageBuffer bounds how far the read loop may run ahead of the consumer.
const messageBuffer = 1024

// Message is one inbound protocol frame: a command reply when ID is set and
// Method is empty, otherwise an event.
type Message struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ProtocolError  `json:"error,omitempty"`
}

// IsEvent reports whether the message carries a method name.
func (m Message) IsEvent() bool { return m.Method != "" }

// ProtocolError is the error object of a failed command reply.
type ProtocolError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *ProtocolError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("%s (%d): %s", e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// Conn is a connection to a single page target.
type Conn struct {
	httpBase string
	target   Target

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	pending   map[int64]chan Message
	pendingMu sync.Mutex
	// gone is set once the read loop has exited.
	gone bool

	messages  chan Message
	closed    chan struct{}
	closeOnce sync.Once
}

// Dial attaches to the first page target of the browser at httpBase (for
// example "http://127.0.0.1:9222"), opening a new tab when none exists.
func Dial(ctx context.Context, httpBase string) (*Conn, error) {
	httpBase = strings.TrimRight(httpBase, "/")

	t, err := pageTarget(ctx, httpBase)
	if err != nil {
		return nil, fmt.Errorf("cdp: page target: %w", err)
	}

	slog.Debug("cdp connecting", "target_id", t.ID, "ws_url", t.WebSocketDebuggerURL)
	conn, _, _, err := ws.Dial(ctx, t.WebSocketDebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("cdp: dial: %w", err)
	}

	c := &Conn{
		httpBase: httpBase,
		target:   t,
		conn:     conn,
		pending:  make(map[int64]chan Message),
		messages: make(chan Message, messageBuffer),
		closed:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Target is the page this connection is attached to.
func (c *Conn) Target() Target { return c.target }

// Messages delivers every inbound message, replies included, in arrival
// order. The channel is closed when the connection ends.
func (c *Conn) Messages() <-chan Message { return c.messages }

// Close terminates the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		err = c.conn.Close()
		c.mu.Unlock()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.messages)
	defer c.closeAllPending()

	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.closed:
			default:
				slog.Debug("cdp read loop exit", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("cdp dropping malformed message", "error", err)
			continue
		}

		if msg.ID > 0 && msg.Method == "" {
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- msg
			}
		}

		select {
		case c.messages <- msg:
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) closeAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.gone = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Conn) deletePending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// Send issues a command and waits for its reply. A protocol-level failure is
// returned as *ProtocolError.
func (c *Conn) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	select {
	case <-c.closed:
		return nil, fmt.Errorf("cdp: %s: connection closed", method)
	default:
	}

	id := c.seq.Add(1)
	req := struct {
		ID     int64  `json:"id"`
		Method string `json:"method"`
		Params any    `json:"params,omitempty"`
	}{ID: id, Method: method, Params: params}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("cdp: marshal %s: %w", method, err)
	}

	ch := make(chan Message, 1)
	c.pendingMu.Lock()
	if c.gone {
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("cdp: %s: connection closed", method)
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()

	c.mu.Lock()
	err = wsutil.WriteClientText(c.conn, data)
	c.mu.Unlock()
	if err != nil {
		c.deletePending(id)
		return nil, fmt.Errorf("cdp: send %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("cdp: %s: connection closed", method)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("cdp: %s: %w", method, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.deletePending(id)
		return nil, ctx.Err()
	}
}
