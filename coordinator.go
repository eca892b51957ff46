package truenas

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// UpdateHandler receives push updates: the logical key whose cache
// slot changed and its new payload.
type UpdateHandler func(key string, payload json.RawMessage)

// Call names one member of the refresh batch: a caller-chosen logical
// key, the remote method, and its parameters. Keys must be distinct
// from every other in-flight request key.
type Call struct {
	Key    string
	Method string
	Params []any
}

// DefaultCalls is the standard monitoring batch issued by Refresh
// when no custom batch is configured.
func DefaultCalls() []Call {
	return []Call{
		{Key: "system.info", Method: "system.info"},
		{Key: "reporting.graph.cputemp", Method: "reporting.graph.cputemp"},
	}
}

// session is the subset of the Transport the Coordinator drives.
type session interface {
	Send(key, method string, params []any) error
	SendLogin(key string) error
	AddMessageHandler(MessageHandler)
	AddConnectionHandler(ConnectionHandler)
}

// pendingResult resolves one outstanding request: either a matching
// frame or a terminal error (connection lost before a response).
type pendingResult struct {
	frame frame
	err   error
}

// Coordinator correlates requests to responses over a Transport,
// drives the login handshake after every connect, and maintains a
// cache of the last-known payload per logical key. The cache survives
// failed refresh cycles: an error response or a timed-out batch
// member leaves the previous value in place.
type Coordinator struct {
	transport session
	onError   ErrorHandler

	calls          []Call
	refreshTimeout time.Duration
	readyInterval  time.Duration
	readyAttempts  int

	mu             sync.Mutex
	connected      bool
	authenticated  bool
	pending        map[string]chan pendingResult
	data           map[string]json.RawMessage
	updateHandlers []UpdateHandler
}

// NewCoordinator creates a coordinator on top of the given transport,
// registering its message and connection handlers. The onError
// handler is called for errors that cannot be returned to a direct
// caller (login failures, refresh-member errors).
func NewCoordinator(t *Transport, onError ErrorHandler, opts ...CoordinatorOption) (*Coordinator, error) {
	return newCoordinator(t, onError, opts...)
}

func newCoordinator(s session, onError ErrorHandler, opts ...CoordinatorOption) (*Coordinator, error) {
	if onError == nil {
		return nil, errors.New("ErrorHandler must not be nil")
	}

	c := &Coordinator{
		transport:      s,
		onError:        onError,
		calls:          DefaultCalls(),
		refreshTimeout: 30 * time.Second,
		readyInterval:  100 * time.Millisecond,
		readyAttempts:  50,
		pending:        make(map[string]chan pendingResult),
		data:           make(map[string]json.RawMessage),
	}
	for _, opt := range opts {
		opt(c)
	}

	s.AddMessageHandler(c.handleMessage)
	s.AddConnectionHandler(c.handleConnection)
	return c, nil
}

// handleConnection tracks connectivity and drives the login
// handshake. Any disconnect clears the authenticated flag and fails
// every in-flight request, so a response arriving on a later
// connection can never satisfy a pre-reconnect key.
func (c *Coordinator) handleConnection(connected bool, reason string) {
	c.mu.Lock()
	c.connected = connected
	c.authenticated = false

	var stale []chan pendingResult
	if !connected {
		for key, ch := range c.pending {
			stale = append(stale, ch)
			delete(c.pending, key)
		}
	}
	c.mu.Unlock()

	for _, ch := range stale {
		select {
		case ch <- pendingResult{err: ErrConnectionLost}:
		default:
		}
	}

	if connected {
		if err := c.transport.SendLogin(LoginKey); err != nil {
			c.onError(ClientError{Kind: ErrLoginFailure, Key: LoginKey, Cause: err, Timestamp: time.Now()})
		}
	}
}

// handleMessage resolves correlated responses and caches unsolicited
// pushes. The login response only flips the authenticated flag; it
// never reaches the cache.
func (c *Coordinator) handleMessage(key string, payload json.RawMessage, isError bool) {
	if key == LoginKey {
		if isError {
			c.onError(ClientError{
				Kind:      ErrLoginFailure,
				Key:       key,
				Cause:     &RPCError{Key: key, Payload: payload},
				Timestamp: time.Now(),
			})
			return
		}
		c.mu.Lock()
		c.authenticated = c.connected
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
		c.mu.Unlock()
		select {
		case ch <- pendingResult{frame: frame{Key: key, Payload: payload, IsError: isError}}:
		default:
		}
		return
	}

	// No pending entry: an unsolicited push update.
	if isError {
		c.mu.Unlock()
		c.onError(ClientError{
			Kind:      ErrRPCFailure,
			Key:       key,
			Cause:     &RPCError{Key: key, Payload: payload},
			Timestamp: time.Now(),
		})
		return
	}
	c.data[key] = payload
	handlers := make([]UpdateHandler, len(c.updateHandlers))
	copy(handlers, c.updateHandlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h(key, payload)
	}
}

// Request issues a single correlated call and waits for its response
// or the context. An empty key gets a generated one. The pending
// entry is removed on every exit path; a duplicate in-flight key is
// rejected before anything hits the wire.
func (c *Coordinator) Request(ctx context.Context, key, method string, params []any) (json.RawMessage, error) {
	if key == "" {
		key = generateKey()
	}

	ch, err := c.addPending(key)
	if err != nil {
		return nil, err
	}

	if err := c.transport.Send(key, method, params); err != nil {
		c.removePending(key)
		return nil, err
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.frame.IsError {
			return nil, &RPCError{Key: key, Payload: r.frame.Payload}
		}
		return r.frame.Payload, nil
	case <-ctx.Done():
		c.removePending(key)
		return nil, ctx.Err()
	}
}

// Refresh waits for the session to become ready, issues the
// configured batch of calls, and collects their responses under one
// aggregate timeout. Each member resolves independently: a result
// updates its cache slot, an error response or a timeout leaves the
// previous value untouched. Refresh returns a snapshot of the full
// cache; a timed-out cycle degrades to stale data instead of failing.
func (c *Coordinator) Refresh(ctx context.Context) (map[string]json.RawMessage, error) {
	if err := c.waitReady(ctx); err != nil {
		return nil, err
	}

	type member struct {
		call Call
		ch   chan pendingResult
	}

	members := make([]member, 0, len(c.calls))
	for _, call := range c.calls {
		ch, err := c.addPending(call.Key)
		if err != nil {
			c.onError(ClientError{Kind: ErrRPCFailure, Key: call.Key, Cause: err, Timestamp: time.Now()})
			continue
		}
		if err := c.transport.Send(call.Key, call.Method, call.Params); err != nil {
			c.removePending(call.Key)
			c.onError(ClientError{Kind: ErrRPCFailure, Key: call.Key, Cause: err, Timestamp: time.Now()})
			continue
		}
		members = append(members, member{call: call, ch: ch})
	}

	timer := time.NewTimer(c.refreshTimeout)
	defer timer.Stop()

	timedOut := false
	for _, m := range members {
		if timedOut {
			c.removePending(m.call.Key)
			continue
		}

		select {
		case r := <-m.ch:
			switch {
			case r.err != nil:
				c.onError(ClientError{Kind: ErrRPCFailure, Key: m.call.Key, Cause: r.err, Timestamp: time.Now()})
			case r.frame.IsError:
				c.onError(ClientError{
					Kind:      ErrRPCFailure,
					Key:       m.call.Key,
					Cause:     &RPCError{Key: m.call.Key, Payload: r.frame.Payload},
					Timestamp: time.Now(),
				})
			default:
				c.setData(m.call.Key, r.frame.Payload)
			}
		case <-timer.C:
			timedOut = true
			c.removePending(m.call.Key)
		case <-ctx.Done():
			for _, rest := range members {
				c.removePending(rest.call.Key)
			}
			return nil, ctx.Err()
		}
	}

	return c.Data(), nil
}

// waitReady polls for connected && authenticated at a short fixed
// interval, up to a bounded number of attempts. Exceeding the bound
// means "no update this cycle", not a fatal fault.
func (c *Coordinator) waitReady(ctx context.Context) error {
	for i := 0; i < c.readyAttempts; i++ {
		if c.IsReady() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.readyInterval):
		}
	}
	if c.IsReady() {
		return nil
	}
	return ErrNotReady
}

// IsReady reports whether the session is connected and authenticated.
func (c *Coordinator) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.authenticated
}

// Data returns a snapshot of the cache: the last-known payload per
// logical key.
func (c *Coordinator) Data() map[string]json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[string]json.RawMessage, len(c.data))
	for k, v := range c.data {
		snapshot[k] = v
	}
	return snapshot
}

// OnUpdate registers a callback for unsolicited push updates. The
// registry is append-only; callbacks run in registration order.
func (c *Coordinator) OnUpdate(h UpdateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateHandlers = append(c.updateHandlers, h)
}

func (c *Coordinator) addPending(key string) (chan pendingResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[key]; exists {
		return nil, ErrDuplicateKey
	}
	ch := make(chan pendingResult, 1)
	c.pending[key] = ch
	return ch, nil
}

func (c *Coordinator) removePending(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, key)
}

func (c *Coordinator) setData(key string, payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = payload
}
