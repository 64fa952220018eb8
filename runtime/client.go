package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/opssat/sidloc"
)

// Client maintains a JSON-RPC channel to an NMF service exposed through a
// websocket gateway. Requests carry a uuid id and are matched with their
// response; messages without id are notifications dispatched by method.
// A read failure triggers a single reconnect attempt.
//
// Errors returned by Call wrap sidloc.ErrTransportFailure, except local
// encoding failures which wrap sidloc.ErrIOFailure.
type Client struct {
	uri     string
	auth    sidloc.AuthStrategy
	framing framer
	timeout time.Duration
	logger  *log.Logger

	dialer  *websocket.Dialer
	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan rpcMessage

	handlersMu sync.RWMutex
	handlers   map[string][]NotificationFunc

	closeOnce sync.Once
	closed    chan struct{}

	retryDelay time.Duration
}

// NotificationFunc handles the params of a notification. It runs on the
// client's read goroutine.
type NotificationFunc func(params json.RawMessage)

// RPCError models standard JSON-RPC error.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// rpcMessage is any inbound message: a response has an id, a notification a method.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// NewClient creates a client for the service at uri. Framing, timeouts and
// auth come from opts.
func NewClient(uri string, opts sidloc.Options, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	handshake := opts.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}
	return &Client{
		uri:      uri,
		auth:     opts.Auth,
		framing:  newFramer(opts.Framing, opts.AppName, uri),
		timeout:  timeout,
		logger:   logger,
		dialer:   &websocket.Dialer{HandshakeTimeout: handshake},
		pending:  make(map[string]chan rpcMessage),
		handlers: make(map[string][]NotificationFunc),
		closed:   make(chan struct{}),

		retryDelay: 300 * time.Millisecond,
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.auth != nil {
		if v, e := c.auth.AuthorizationValue(); e == nil && v != "" {
			header.Set("Authorization", v)
		}
	}
	conn, _, err := c.dialer.DialContext(ctx, c.uri, header)
	return conn, err
}

// Connect establishes the websocket and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", sidloc.ErrTransportFailure, c.uri, err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	go c.readLoop(conn)
	return nil
}

// reconnect attempts a single reconnect using the same parameters. A conn
// dialed after Close is dropped.
func (c *Client) reconnect(ctx context.Context) (*websocket.Conn, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.connMu.Lock()
	if c.isClosed() {
		c.connMu.Unlock()
		_ = conn.Close()
		return nil, sidloc.ErrConnectionClosed
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.connMu.Unlock()
	return conn, nil
}

// Close terminates the connection and fails all pending calls. It is safe to
// call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.connMu.Lock()
		conn := c.conn
		c.conn = nil
		c.connMu.Unlock()
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			c.writeMu.Unlock()
			err = conn.Close()
		}
		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
	})
	return err
}

// OnNotification registers fn for notifications named method.
func (c *Client) OnNotification(method string, fn NotificationFunc) {
	c.handlersMu.Lock()
	c.handlers[method] = append(c.handlers[method], fn)
	c.handlersMu.Unlock()
}

// Call issues a JSON-RPC request and waits for its response.
func (c *Client) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if method == "" {
		return nil, fmt.Errorf("%w: method required", sidloc.ErrIOFailure)
	}
	id := uuid.NewString()
	payload, err := json.Marshal(jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", sidloc.ErrIOFailure, method, err)
	}
	msgType, frame, err := c.framing.encodeRequest(id, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: frame %s: %v", sidloc.ErrIOFailure, method, err)
	}

	ch := make(chan rpcMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		c.forget(id)
		return nil, fmt.Errorf("%w: %w", sidloc.ErrTransportFailure, sidloc.ErrNotConnected)
	}
	c.writeMu.Lock()
	err = conn.WriteMessage(msgType, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("%w: write %s: %v", sidloc.ErrTransportFailure, method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case <-ctx.Done():
		c.forget(id)
		return nil, fmt.Errorf("%w: %s: %w", sidloc.ErrTransportFailure, method, ctx.Err())
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: %w", sidloc.ErrTransportFailure, sidloc.ErrConnectionClosed)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%w: %s: %w", sidloc.ErrTransportFailure, method, resp.Error)
		}
		return resp.Result, nil
	}
}

func (c *Client) forget(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	retried := false
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			if !retried {
				retried = true
				c.logger.Printf("warning: %s read error, retrying once: %v", c.uri, err)
				select {
				case <-c.closed:
					return
				case <-time.After(c.retryDelay):
				}
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				next, recErr := c.reconnect(ctx)
				cancel()
				if recErr == nil {
					conn = next
					continue
				}
				if errors.Is(recErr, sidloc.ErrConnectionClosed) {
					return
				}
			}
			c.logger.Printf("error: %s connection lost: %v", c.uri, err)
			_ = c.Close()
			return
		}
		payload, err := c.framing.decode(msgType, data)
		if err != nil {
			c.logger.Printf("warning: %s dropping undecodable frame: %v", c.uri, err)
			continue
		}
		var msg rpcMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Printf("warning: %s dropping malformed message: %v", c.uri, err)
			continue
		}
		if msg.ID != "" && (msg.Result != nil || msg.Error != nil) {
			c.pendingMu.Lock()
			ch, found := c.pending[msg.ID]
			if found {
				delete(c.pending, msg.ID)
			}
			c.pendingMu.Unlock()
			if found {
				ch <- msg
				close(ch)
			}
			continue
		}
		if msg.Method == "" {
			continue
		}
		c.dispatch(msg.Method, msg.Params)
	}
}

func (c *Client) dispatch(method string, params json.RawMessage) {
	c.handlersMu.RLock()
	fns := append([]NotificationFunc(nil), c.handlers[method]...)
	c.handlersMu.RUnlock()
	if len(fns) == 0 {
		c.logger.Printf("%s: no handler for notification %s", c.uri, method)
		return
	}
	for _, fn := range fns {
		fn(params)
	}
}
