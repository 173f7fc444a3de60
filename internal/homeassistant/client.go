package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/patrickmn/go-cache"

	domain "github.com/oshokin/alarm-relay/internal/domain/alarm"
	"github.com/oshokin/alarm-relay/internal/logger"
)

const (
	// defaultTimeout bounds the handshake and every request awaiting a reply.
	defaultTimeout = 5 * time.Second
	// defaultServiceCacheTTL is how long a fetched service list is trusted.
	defaultServiceCacheTTL = 30 * time.Second
	// defaultHeartbeatInterval is the period between application-level pings.
	defaultHeartbeatInterval = 30 * time.Second
	// servicesKey is the cache key of the flattened service set.
	servicesKey = "services"
)

var (
	// ErrAuthInvalid is returned when the server rejects the access token.
	ErrAuthInvalid = errors.New("home assistant rejected the access token")
	// ErrClosed is returned for requests on a closed connection.
	ErrClosed = errors.New("connection closed")
	// errUnexpectedMessage is returned when the handshake sees an unknown frame.
	errUnexpectedMessage = errors.New("unexpected message")
	// errRequestFailed wraps an unsuccessful result.
	errRequestFailed = errors.New("request failed")
)

// StateHandler receives state_changed notifications.
type StateHandler func(change *domain.StateChange)

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the handshake and request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithServiceCacheTTL sets how long the registered service list is cached.
func WithServiceCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.serviceTTL = ttl
		}
	}
}

// WithHeartbeatInterval sets the ping period, zero or less disables pings.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *Client) {
		c.heartbeat = interval
	}
}

// WithStateHandler registers a handler for every state_changed event.
func WithStateHandler(handler StateHandler) Option {
	return func(c *Client) {
		c.stateHandlers = append(c.stateHandlers, handler)
	}
}

// Client is an authenticated connection to the Home Assistant WebSocket API.
type Client struct {
	// conn is the underlying WebSocket connection.
	conn *websocket.Conn
	// writeMu serializes writes, the connection allows one writer at a time.
	writeMu sync.Mutex
	// nextID is the last used command id.
	nextID atomic.Int64

	// pending maps command ids to callers awaiting the reply.
	pending map[int64]chan *message
	// detached maps ids of fire-and-forget calls to their service name for failure logging.
	detached map[int64]string
	// subscriptions maps subscription ids to event handlers.
	subscriptions map[int64]func(*Event)
	// mu guards pending, detached and subscriptions.
	mu sync.Mutex

	// states mirrors the latest known state of every entity.
	states map[string]*domain.EntityState
	// statesMu guards states.
	statesMu sync.RWMutex

	// services caches the set of registered "domain.service" names.
	services *cache.Cache
	// stateHandlers receive state_changed events after the mirror is updated.
	stateHandlers []StateHandler

	// haVersion is the server version reported during authentication.
	haVersion string
	// timeout bounds handshake and requests.
	timeout time.Duration
	// serviceTTL is the lifetime of the cached service set.
	serviceTTL time.Duration
	// heartbeat is the ping period.
	heartbeat time.Duration

	// logCtx carries the logger used by background loops.
	logCtx context.Context //nolint:containedctx // Only used for logging from goroutines.
	// done is closed when the connection is gone.
	done chan struct{}
	// closeOnce guards shutdown.
	closeOnce sync.Once
	// err is the reason the connection ended.
	err error
}

// Dial connects to url, authenticates with token, loads the current states
// and subscribes to the events the client relies on.
func Dial(ctx context.Context, url, token string, opts ...Option) (*Client, error) {
	c := &Client{
		pending:       make(map[int64]chan *message),
		detached:      make(map[int64]string),
		subscriptions: make(map[int64]func(*Event)),
		states:        make(map[string]*domain.EntityState),
		timeout:       defaultTimeout,
		serviceTTL:    defaultServiceCacheTTL,
		heartbeat:     defaultHeartbeatInterval,
		logCtx:        logger.WithName(context.WithoutCancel(ctx), "home-assistant"),
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.services = cache.New(c.serviceTTL, 2*c.serviceTTL)

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %w", ErrAuthInvalid, err)
		}

		return nil, fmt.Errorf("dial home assistant: %w", err)
	}

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c.conn = conn

	if err = c.authenticate(token); err != nil {
		_ = conn.Close()

		return nil, err
	}

	go c.readLoop()

	if err = c.bootstrap(ctx); err != nil {
		c.shutdown(err)

		return nil, err
	}

	if c.heartbeat > 0 {
		go c.heartbeatLoop()
	}

	logger.InfoKV(c.logCtx, "Connected to Home Assistant", "version", c.haVersion, "entities", c.stateCount())

	return c, nil
}

// Done is closed when the connection terminates.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection terminated, nil while it is alive.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close terminates the connection.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)

	return nil
}

// Version returns the Home Assistant version reported during authentication.
func (c *Client) Version() string {
	return c.haVersion
}

// State returns the last known state of an entity.
func (c *Client) State(entityID string) (*domain.EntityState, bool) {
	c.statesMu.RLock()
	defer c.statesMu.RUnlock()

	state, ok := c.states[entityID]

	return state, ok
}

// FriendlyName returns an entity's display name: its friendly_name attribute
// or a name derived from the entity id. It reports false for unknown entities.
func (c *Client) FriendlyName(entityID string) (string, bool) {
	state, ok := c.State(entityID)
	if !ok {
		return "", false
	}

	name := state.DisplayName()

	return name, name != ""
}

// HasService reports whether domain.service is registered.
// Lookup failures are logged and reported as "not registered".
func (c *Client) HasService(ctx context.Context, serviceDomain, service string) bool {
	services, err := c.serviceSet(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Unable to list services", "error", err)

		return false
	}

	_, ok := services[serviceDomain+"."+service]

	return ok
}

// CallService sends a call_service command without waiting for the result.
// A failed result is only logged. The returned error covers sending alone.
func (c *Client) CallService(_ context.Context, serviceDomain, service string, data map[string]any) error {
	id := c.nextID.Add(1)

	c.mu.Lock()
	c.detached[id] = serviceDomain + "." + service
	c.mu.Unlock()

	err := c.write(&command{
		ID:          id,
		Type:        typeCallService,
		Domain:      serviceDomain,
		Service:     service,
		ServiceData: data,
	})
	if err != nil {
		c.mu.Lock()
		delete(c.detached, id)
		c.mu.Unlock()

		return fmt.Errorf("call %s.%s: %w", serviceDomain, service, err)
	}

	return nil
}

// Ping sends an application-level ping and waits for the pong.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, &command{Type: typePing})

	return err
}

// FlushServices drops the cached service list.
func (c *Client) FlushServices() {
	c.services.Flush()
}

// authenticate performs the auth_required/auth/auth_ok exchange.
func (c *Client) authenticate(token string) error {
	deadline := time.Now().Add(c.timeout)

	_ = c.conn.SetReadDeadline(deadline)
	defer func() {
		_ = c.conn.SetReadDeadline(time.Time{})
	}()

	var greeting message
	if err := c.conn.ReadJSON(&greeting); err != nil {
		return fmt.Errorf("read auth greeting: %w", err)
	}

	if greeting.Type != typeAuthRequired {
		return fmt.Errorf("%w: %q during handshake", errUnexpectedMessage, greeting.Type)
	}

	if err := c.write(&authMessage{Type: typeAuth, AccessToken: token}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	var reply message
	if err := c.conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("read auth reply: %w", err)
	}

	switch reply.Type {
	case typeAuthOK:
		c.haVersion = reply.HAVersion

		return nil
	case typeAuthInvalid:
		return fmt.Errorf("%w: %s", ErrAuthInvalid, reply.Message)
	default:
		return fmt.Errorf("%w: %q during handshake", errUnexpectedMessage, reply.Type)
	}
}

// bootstrap subscribes to state changes and loads the initial state mirror.
// Subscribing first guarantees no change is lost between the two steps.
func (c *Client) bootstrap(ctx context.Context) error {
	if err := c.subscribe(ctx, EventStateChanged, c.handleStateChanged); err != nil {
		return err
	}

	flush := func(*Event) { c.FlushServices() }

	for _, eventType := range []string{EventServiceRegistered, EventServiceRemoved} {
		if err := c.subscribe(ctx, eventType, flush); err != nil {
			return err
		}
	}

	raw, err := c.request(ctx, &command{Type: typeGetStates})
	if err != nil {
		return fmt.Errorf("get states: %w", err)
	}

	var states []*stateObject
	if err = json.Unmarshal(raw, &states); err != nil {
		return fmt.Errorf("decode states: %w", err)
	}

	c.statesMu.Lock()
	defer c.statesMu.Unlock()

	for _, state := range states {
		if state == nil || state.EntityID == "" {
			continue
		}

		// Events that already arrived are newer than the snapshot.
		if _, seen := c.states[state.EntityID]; seen {
			continue
		}

		c.states[state.EntityID] = state.toDomain()
	}

	return nil
}

// subscribe registers handler for eventType and waits for the confirmation.
func (c *Client) subscribe(ctx context.Context, eventType string, handler func(*Event)) error {
	id := c.nextID.Add(1)

	c.mu.Lock()
	c.subscriptions[id] = handler
	c.mu.Unlock()

	if _, err := c.await(ctx, id, &command{ID: id, Type: typeSubscribeEvents, EventType: eventType}); err != nil {
		c.mu.Lock()
		delete(c.subscriptions, id)
		c.mu.Unlock()

		return fmt.Errorf("subscribe to %s: %w", eventType, err)
	}

	return nil
}

// serviceSet returns the cached or freshly fetched set of registered services.
func (c *Client) serviceSet(ctx context.Context) (map[string]struct{}, error) {
	if cached, found := c.services.Get(servicesKey); found {
		if services, ok := cached.(map[string]struct{}); ok {
			return services, nil
		}
	}

	raw, err := c.request(ctx, &command{Type: typeGetServices})
	if err != nil {
		return nil, fmt.Errorf("get services: %w", err)
	}

	var byDomain map[string]map[string]json.RawMessage
	if err = json.Unmarshal(raw, &byDomain); err != nil {
		return nil, fmt.Errorf("decode services: %w", err)
	}

	services := make(map[string]struct{})

	for serviceDomain, entries := range byDomain {
		for service := range entries {
			services[serviceDomain+"."+service] = struct{}{}
		}
	}

	c.services.SetDefault(servicesKey, services)

	return services, nil
}

// request sends a command with a fresh id and waits for its reply.
func (c *Client) request(ctx context.Context, cmd *command) (json.RawMessage, error) {
	cmd.ID = c.nextID.Add(1)

	return c.await(ctx, cmd.ID, cmd)
}

// await sends cmd and waits for the reply carrying id.
func (c *Client) await(ctx context.Context, id int64, cmd *command) (json.RawMessage, error) {
	reply := make(chan *message, 1)

	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(cmd); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case msg := <-reply:
		if msg.Type == typeResult && !msg.Success {
			return nil, resultError(msg)
		}

		return msg.Result, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// write sends one JSON frame.
func (c *Client) write(v any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))

	return c.conn.WriteJSON(v)
}

// readLoop routes incoming frames until the connection fails.
func (c *Client) readLoop() {
	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.shutdown(fmt.Errorf("read: %w", err))

			return
		}

		c.route(&msg)
	}
}

// route dispatches one frame to a waiting request, a subscription or the failure log.
func (c *Client) route(msg *message) {
	c.mu.Lock()
	reply, isPending := c.pending[msg.ID]
	handler, isEvent := c.subscriptions[msg.ID]

	service, isDetached := c.detached[msg.ID]
	if isDetached {
		delete(c.detached, msg.ID)
	}
	c.mu.Unlock()

	switch {
	case msg.Type == typeEvent && isEvent && msg.Event != nil:
		handler(msg.Event)
	case isPending && (msg.Type == typeResult || msg.Type == typePong):
		reply <- msg
	case isDetached && !msg.Success:
		logger.WarnKV(c.logCtx, "Service call failed", "service", service, "error", resultError(msg))
	}
}

// handleStateChanged updates the state mirror and notifies the state handlers.
func (c *Client) handleStateChanged(event *Event) {
	var data stateChangedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		logger.DebugKV(c.logCtx, "Malformed state_changed event", "error", err)

		return
	}

	change := data.toDomain()

	c.statesMu.Lock()
	if change.NewState != nil {
		c.states[change.EntityID] = change.NewState
	} else {
		delete(c.states, change.EntityID)
	}
	c.statesMu.Unlock()

	for _, handler := range c.stateHandlers {
		handler(change)
	}
}

// heartbeatLoop pings the server and drops the connection when it stops answering.
func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Ping(c.logCtx); err != nil {
				c.shutdown(fmt.Errorf("heartbeat: %w", err))

				return
			}
		}
	}
}

// shutdown closes the connection once and records the reason.
func (c *Client) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.err = reason
		close(c.done)

		if c.conn != nil {
			_ = c.conn.Close()
		}

		if !errors.Is(reason, ErrClosed) {
			logger.WarnKV(c.logCtx, "Home Assistant connection lost", "error", reason)
		}
	})
}

// stateCount returns the number of mirrored entities.
func (c *Client) stateCount() int {
	c.statesMu.RLock()
	defer c.statesMu.RUnlock()

	return len(c.states)
}

// resultError converts an unsuccessful result into an error.
func resultError(msg *message) error {
	if msg.Error == nil {
		return errRequestFailed
	}

	return fmt.Errorf("%w: %s: %s", errRequestFailed, msg.Error.Code, msg.Error.Message)
}
