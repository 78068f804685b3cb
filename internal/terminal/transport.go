// Package terminal implements the RPC transport to the trade terminal
// bridge: a fixed pool of websocket connections used round-robin, with
// request/reply correlation, per-request timeouts and background
// reconnection.
package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/logger"
	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

// Config configures the transport.
type Config struct {
	URL               string
	PoolSize          int
	RequestTimeout    time.Duration // default for trade requests
	ReadTimeout       time.Duration // default for lightweight reads
	PingTimeout       time.Duration
	WriteTimeout      time.Duration
	ReconnectInterval time.Duration // fixed interval of the background retry loop
	// MaxConnectAttempts bounds the first-connect backoff loop.
	// Zero means retry forever.
	MaxConnectAttempts int
}

func (c *Config) applyDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = 3
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 10 * time.Second
	}
}

// Status is a connection snapshot for heartbeats and status queries.
type Status struct {
	Connected       bool `json:"connected"`
	PoolSize        int  `json:"poolSize"`
	ActiveConns     int  `json:"activeConns"`
	PendingRequests int  `json:"pendingRequests"`
	ConnectAttempts int  `json:"connectAttempts"`
}

type rpcResult struct {
	resp types.RPCResponse
	err  error
}

type pendingRequest struct {
	ch       chan rpcResult
	issuedAt time.Time
}

type poolConn struct {
	id int
	ws *websocket.Conn

	writeMu sync.Mutex
	dead    uint32
}

func (pc *poolConn) write(msg []byte, deadline time.Duration) error {
	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	_ = pc.ws.SetWriteDeadline(time.Now().Add(deadline))
	return pc.ws.WriteMessage(websocket.TextMessage, msg)
}

// Transport is the pooled request/reply client. Safe for concurrent use;
// the round-robin index gives bounded request parallelism equal to the
// pool size.
type Transport struct {
	cfg    Config
	dialer *websocket.Dialer

	mu        sync.Mutex
	conns     []*poolConn
	connected bool
	attempts  int

	rr uint64

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	retrying uint32

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTransport creates a transport for the given terminal endpoint. Call
// Connect before sending.
func NewTransport(cfg Config) *Transport {
	cfg.applyDefaults()
	return &Transport{
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		pending: make(map[string]*pendingRequest),
	}
}

// Connect establishes the pool, retrying with exponential backoff (1s
// doubling, capped at 30s) until it succeeds, the attempt cap is reached,
// or the context is canceled.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.mu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		t.mu.Lock()
		t.attempts++
		attempt := t.attempts
		t.mu.Unlock()

		err := t.buildPool(ctx)
		if err == nil {
			logger.Info(ctx, "Terminal connected",
				"url", t.cfg.URL, "pool_size", t.cfg.PoolSize, "attempt", attempt)
			return nil
		}

		if t.cfg.MaxConnectAttempts > 0 && attempt >= t.cfg.MaxConnectAttempts {
			return fmt.Errorf("connect to terminal after %d attempts: %w", attempt, err)
		}

		wait := bo.NextBackOff()
		logger.Warn(ctx, "Terminal connect failed, backing off",
			"attempt", attempt, "retry_in", wait.String(), "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// buildPool dials every pool slot concurrently. Any slot failing tears
// the whole attempt down.
func (t *Transport) buildPool(ctx context.Context) error {
	conns := make([]*poolConn, t.cfg.PoolSize)
	errs := make([]error, t.cfg.PoolSize)

	var wg sync.WaitGroup
	for i := 0; i < t.cfg.PoolSize; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ws, _, err := t.dialer.DialContext(ctx, t.cfg.URL, nil)
			if err != nil {
				errs[i] = err
				return
			}
			conns[i] = &poolConn{id: i, ws: ws}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			for _, pc := range conns {
				if pc != nil {
					pc.ws.Close()
				}
			}
			return fmt.Errorf("dial pool slot %d: %w", i, err)
		}
	}

	t.mu.Lock()
	t.conns = conns
	t.connected = true
	t.mu.Unlock()

	for _, pc := range conns {
		go t.readLoop(pc)
	}
	return nil
}

// readLoop pumps replies off one pool connection and settles the matching
// pending requests.
func (t *Transport) readLoop(pc *poolConn) {
	for {
		_, msg, err := pc.ws.ReadMessage()
		if err != nil {
			atomic.StoreUint32(&pc.dead, 1)
			t.handleConnLoss(pc, err)
			return
		}

		var resp types.RPCResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			logger.Warn(context.Background(), "Discarding malformed terminal reply",
				"conn", pc.id, "error", err)
			continue
		}
		t.settle(resp)
	}
}

func (t *Transport) settle(resp types.RPCResponse) {
	t.pendingMu.Lock()
	pr, ok := t.pending[resp.RequestID]
	if ok {
		delete(t.pending, resp.RequestID)
	}
	t.pendingMu.Unlock()
	if !ok {
		// Reply raced a timeout that already removed the entry.
		return
	}
	pr.ch <- rpcResult{resp: resp}
}

// handleConnLoss marks the pool disconnected once every member is dead,
// rejects in-flight requests and starts the background retry loop.
func (t *Transport) handleConnLoss(pc *poolConn, cause error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return
	}
	allDead := true
	for _, c := range t.conns {
		if atomic.LoadUint32(&c.dead) == 0 {
			allDead = false
			break
		}
	}
	if !allDead {
		t.mu.Unlock()
		return
	}
	t.connected = false
	conns := t.conns
	t.conns = nil
	ctx := t.ctx
	t.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
	t.rejectAllPending(types.ErrConnectionClosed)

	logger.Error(context.Background(), "Terminal connection lost", "cause", cause)
	if ctx != nil && ctx.Err() == nil {
		t.startRetryLoop(ctx)
	}
}

// startRetryLoop rebuilds the pool on a fixed interval until a rebuild
// plus ping succeeds. Idempotent: a second call while one loop runs is a
// no-op.
func (t *Transport) startRetryLoop(ctx context.Context) {
	if !atomic.CompareAndSwapUint32(&t.retrying, 0, 1) {
		return
	}
	go func() {
		defer atomic.StoreUint32(&t.retrying, 0)
		ticker := time.NewTicker(t.cfg.ReconnectInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := t.buildPool(ctx); err != nil {
					logger.Warn(ctx, "Terminal reconnect attempt failed", "error", err)
					continue
				}
				if !t.Ping(ctx) {
					t.teardownPool()
					continue
				}
				logger.Info(ctx, "Terminal reconnected")
				return
			}
		}
	}()
}

// SendRequest sends one RPC over the next pool connection and waits for
// the correlated reply. A zero timeout uses the configured default.
// skipConnectivityCheck lets reconnect probes bypass the connected flag.
func (t *Transport) SendRequest(ctx context.Context, req types.RPCRequest, timeout time.Duration, skipConnectivityCheck bool) (types.RPCResponse, error) {
	if timeout <= 0 {
		timeout = t.cfg.RequestTimeout
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	t.mu.Lock()
	connected := t.connected
	conns := t.conns
	t.mu.Unlock()
	if !connected && !skipConnectivityCheck {
		return types.RPCResponse{}, types.ErrNotConnected
	}
	if len(conns) == 0 {
		return types.RPCResponse{}, types.ErrNotConnected
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return types.RPCResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	pr := &pendingRequest{ch: make(chan rpcResult, 1), issuedAt: time.Now()}
	t.pendingMu.Lock()
	t.pending[req.RequestID] = pr
	t.pendingMu.Unlock()

	pc := conns[atomic.AddUint64(&t.rr, 1)%uint64(len(conns))]
	if err := pc.write(payload, t.cfg.WriteTimeout); err != nil {
		t.removePending(req.RequestID)
		atomic.StoreUint32(&pc.dead, 1)
		t.handleConnLoss(pc, err)
		return types.RPCResponse{}, types.ErrNotConnected
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-pr.ch:
		return res.resp, res.err
	case <-timer.C:
		t.removePending(req.RequestID)
		return types.RPCResponse{}, fmt.Errorf("%w after %s (request %s)",
			types.ErrRequestTimeout, timeout, req.RequestID)
	case <-ctx.Done():
		t.removePending(req.RequestID)
		return types.RPCResponse{}, ctx.Err()
	}
}

func (t *Transport) removePending(id string) {
	t.pendingMu.Lock()
	delete(t.pending, id)
	t.pendingMu.Unlock()
}

func (t *Transport) rejectAllPending(cause error) {
	t.pendingMu.Lock()
	pending := t.pending
	t.pending = make(map[string]*pendingRequest)
	t.pendingMu.Unlock()

	for _, pr := range pending {
		pr.ch <- rpcResult{err: cause}
	}
}

// Ping round-trips a lightweight probe over the pool.
func (t *Transport) Ping(ctx context.Context) bool {
	resp, err := t.SendRequest(ctx, types.RPCRequest{Command: "ping"}, t.cfg.PingTimeout, true)
	return err == nil && resp.OK()
}

// Disconnect tears the pool down, rejects every pending request and
// resets the connect counters.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.ctx = nil
	t.attempts = 0
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	t.teardownPool()
	t.rejectAllPending(types.ErrConnectionClosed)
}

func (t *Transport) teardownPool() {
	t.mu.Lock()
	conns := t.conns
	t.conns = nil
	t.connected = false
	t.mu.Unlock()
	for _, pc := range conns {
		pc.ws.Close()
	}
}

// ForceReconnect drops the current pool and dials a fresh one.
func (t *Transport) ForceReconnect(ctx context.Context) error {
	logger.Info(ctx, "Forcing terminal reconnect")
	t.teardownPool()
	t.rejectAllPending(types.ErrConnectionClosed)
	return t.buildPool(ctx)
}

// IsConnected reports current pool state.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// GetStatus snapshots the connection state.
func (t *Transport) GetStatus() Status {
	t.mu.Lock()
	connected := t.connected
	active := len(t.conns)
	attempts := t.attempts
	t.mu.Unlock()

	t.pendingMu.Lock()
	pending := len(t.pending)
	t.pendingMu.Unlock()

	return Status{
		Connected:       connected,
		PoolSize:        t.cfg.PoolSize,
		ActiveConns:     active,
		PendingRequests: pending,
		ConnectAttempts: attempts,
	}
}
