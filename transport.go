package truenas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const handshakeTimeout = 10 * time.Second

// MessageHandler receives every well-formed inbound frame as
// (key, payload, isError). Handlers run in registration order on the
// transport's listen goroutine.
type MessageHandler func(key string, payload json.RawMessage, isError bool)

// ConnectionHandler receives connectivity transitions. reason is empty
// on successful connects and describes the failure otherwise.
type ConnectionHandler func(connected bool, reason string)

// Transport owns the physical WebSocket connection to a TrueNAS
// system and keeps it alive with exponential backoff. At most one
// live socket exists at any time; every inbound frame and every
// connectivity transition is delivered to the registered handlers.
type Transport struct {
	cfg     Config
	url     string
	onError ErrorHandler

	mu        sync.Mutex // guards conn, flags, handler slices
	conn      *websocket.Conn
	connected bool
	closed    bool
	running   bool

	msgHandlers  []MessageHandler
	connHandlers []ConnectionHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTransport creates a transport for the given configuration. The
// onError handler is called for errors that cannot be returned to a
// direct caller (malformed frames, handler panics). No connection is
// made until Connect() is called.
func NewTransport(cfg Config, onError ErrorHandler) (*Transport, error) {
	resolved, err := resolveConfig(cfg)
	if err != nil {
		return nil, err
	}
	if onError == nil {
		return nil, errors.New("ErrorHandler must not be nil")
	}

	return &Transport{
		cfg:     resolved,
		url:     endpointURL(resolved.Address),
		onError: onError,
	}, nil
}

// endpointURL derives the WebSocket endpoint from a configured
// address. Addresses with an explicit scheme pass through verbatim.
func endpointURL(address string) string {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return address
	}
	return fmt.Sprintf("wss://%s/api/current", address)
}

// Connect starts the reconnect loop as a background goroutine. It is
// idempotent and returns without waiting for a connection; progress
// is reported through the connection handlers. After the retry cap
// has been exhausted, Connect starts the loop over.
func (t *Transport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClientClosed
	}
	if t.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.running = true

	t.wg.Add(1)
	go t.run(ctx)
	return nil
}

// run is the reconnect state machine: dial, listen until the
// connection dies, back off, dial again. It exits when the transport
// is closed or the retry cap is exhausted.
func (t *Transport) run(ctx context.Context) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
	}()

	bo := newBackoff(
		t.cfg.InitialRetryDelay,
		t.cfg.MaxRetryDelay,
		t.cfg.BackoffFactor,
		t.cfg.MaxRetries,
	)

	for ctx.Err() == nil {
		if bo.exhausted() {
			t.notifyConnection(ctx, false, fmt.Sprintf("max retries (%d) exceeded", t.cfg.MaxRetries))
			return
		}

		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, _, err := dialer.DialContext(ctx, t.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			cerr := &ConnectionError{URL: t.url, Reason: err.Error()}
			t.notifyConnection(ctx, false, cerr.Error())

			delay := bo.next()
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		bo.reset()
		t.mu.Lock()
		if ctx.Err() != nil {
			// Closed while the dial was completing; Close never saw
			// this socket, so it is ours to clean up.
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.conn = conn
		t.connected = true
		t.mu.Unlock()

		t.notifyConnection(ctx, true, "")

		err = t.listen(ctx, conn)

		t.mu.Lock()
		t.connected = false
		t.conn = nil
		t.mu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		reason := "connection closed"
		if err != nil {
			reason = err.Error()
		}
		t.onError(ClientError{Kind: ErrTransportClosed, Cause: err, Timestamp: time.Now()})
		t.notifyConnection(ctx, false, reason)
		// Reconnect immediately; backoff applies only to failed dials.
	}
}

// listen reads frames until the connection dies. Malformed frames are
// reported and dropped; well-formed frames fan out to every message
// handler in registration order.
func (t *Transport) listen(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}

		f, err := decodeFrame(data)
		if err != nil {
			kind := ErrDecodeFailure
			if errors.Is(err, errMalformedFrame) {
				kind = ErrProtocolViolation
			}
			t.onError(ClientError{Kind: kind, Cause: err, Raw: data, Timestamp: time.Now()})
			continue
		}

		t.mu.Lock()
		handlers := make([]MessageHandler, len(t.msgHandlers))
		copy(handlers, t.msgHandlers)
		t.mu.Unlock()

		for _, h := range handlers {
			t.invoke(h, f)
		}
	}
}

// invoke runs one message handler, containing any panic so the
// remaining handlers and the listen loop keep going.
func (t *Transport) invoke(h MessageHandler, f frame) {
	defer func() {
		if r := recover(); r != nil {
			t.onError(ClientError{
				Kind:      ErrHandlerPanic,
				Key:       f.Key,
				Cause:     fmt.Errorf("message handler panic: %v", r),
				Timestamp: time.Now(),
			})
		}
	}()
	h(f.Key, f.Payload, f.IsError)
}

// notifyConnection fans a connectivity transition out to every
// connection handler in registration order. Nothing is delivered
// once the transport is closed.
func (t *Transport) notifyConnection(ctx context.Context, connected bool, reason string) {
	if ctx.Err() != nil {
		return
	}

	t.mu.Lock()
	handlers := make([]ConnectionHandler, len(t.connHandlers))
	copy(handlers, t.connHandlers)
	t.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.onError(ClientError{
						Kind:      ErrHandlerPanic,
						Cause:     fmt.Errorf("connection handler panic: %v", r),
						Timestamp: time.Now(),
					})
				}
			}()
			h(connected, reason)
		}()
	}
}

// Send serializes a JSON-RPC call {"jsonrpc":"2.0","id":key,
// "method":method,"params":params} and writes it as a text frame.
// It fails synchronously with ErrNotConnected when no live socket
// exists; establishing the connection is the reconnect loop's job,
// never Send's.
func (t *Transport) Send(key, method string, params []any) error {
	data, err := encodeRequest(key, method, params)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || !t.connected {
		return ErrNotConnected
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// SendLogin issues the authentication call with the configured API
// key under the given request key.
func (t *Transport) SendLogin(key string) error {
	return t.Send(key, "auth.login_with_api_key", []any{t.cfg.APIKey})
}

// AddMessageHandler registers a callback for inbound frames. The
// registry is append-only; handlers run in registration order.
func (t *Transport) AddMessageHandler(h MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgHandlers = append(t.msgHandlers, h)
}

// AddConnectionHandler registers a callback for connectivity
// transitions. The registry is append-only; handlers run in
// registration order.
func (t *Transport) AddConnectionHandler(h ConnectionHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connHandlers = append(t.connHandlers, h)
}

// IsConnected reports whether a live socket currently exists.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected && t.conn != nil
}

// Close stops the reconnect loop, closes the socket, and waits for
// all background work to finish. No connection-state notification is
// delivered after Close returns. Safe to call multiple times.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	t.wg.Wait()
	return nil
}

// ForceReconnect closes the current socket without stopping the
// reconnect loop, which immediately dials a fresh connection.
func (t *Transport) ForceReconnect() {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}
