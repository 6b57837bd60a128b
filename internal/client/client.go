// Package client owns the connection to the moderation server: the
// connect/disconnect state machine, the read loop that dispatches
// responses and pushes, and the correlator that matches responses to
// requests.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
	"github.com/Secineralyr/Cotonestrum/internal/journal"
	"github.com/Secineralyr/Cotonestrum/internal/metrics"
	"github.com/Secineralyr/Cotonestrum/internal/protocol"
	"github.com/Secineralyr/Cotonestrum/internal/reducer"
	"github.com/Secineralyr/Cotonestrum/internal/registry"
)

const tracerName = "github.com/Secineralyr/Cotonestrum/internal/client"

// Options configures a Client.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingPeriod       time.Duration
	// ReadLimit caps inbound frame size in bytes. Zero means no limit.
	ReadLimit int64
	// AutoFetch requests every emoji, user, risk and reason after a
	// moderator logs in.
	AutoFetch bool
	// SendBuffer is the number of outbound frames that can be queued.
	SendBuffer int
	// TracerProvider receives request spans. Nil uses the global provider.
	TracerProvider trace.TracerProvider
}

// DefaultOptions returns the default client options.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingPeriod:       30 * time.Second,
		AutoFetch:        true,
		SendBuffer:       256,
	}
}

// Client is the connection manager and request correlator. It is safe for
// concurrent use.
type Client struct {
	opts       Options
	reducer    *reducer.Reducer
	sink       journal.Sink
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	logger     *zap.Logger
	dialer     *websocket.Dialer
	correlator *correlator

	mu       sync.Mutex
	state    State
	sess     *session
	address  Address
	auth     domain.AuthLevel
	username string

	obsMu     sync.Mutex
	nextObs   uint64
	observers map[uint64]func(State, error)

	// beforeRegister runs in send between reading the session and
	// registering the request. Tests only.
	beforeRegister func()
}

// session is one open connection. done is closed when it ends.
type session struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) close(writeTimeout time.Duration) {
	s.closeOnce.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		_ = s.ws.Close()
	})
}

// New creates a new Client. Pushes are applied through red; sink and m may
// be nil.
func New(red *reducer.Reducer, sink journal.Sink, m *metrics.Metrics, opts Options, logger *zap.Logger) *Client {
	if sink == nil {
		sink = journal.Discard{}
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Client{
		opts:    opts,
		reducer: red,
		sink:    sink,
		metrics: m,
		tracer:  tp.Tracer(tracerName),
		logger:  logger.Named("client"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		correlator: newCorrelator(),
		observers:  make(map[uint64]func(State, error)),
	}
}

// Registry returns the registry kept in sync by this client.
func (c *Client) Registry() *registry.Registry {
	return c.reducer.Registry()
}

// Reducer returns the reducer applying pushes.
func (c *Client) Reducer() *reducer.Reducer {
	return c.reducer
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Address returns the address of the current or last connection.
func (c *Client) Address() Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	return c.correlator.len()
}

// OnStateChange registers fn to be called on every state transition. err
// is set when the transition was caused by a failure. The returned
// function removes the observer.
func (c *Client) OnStateChange(fn func(State, error)) func() {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()

	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn

	return func() {
		c.obsMu.Lock()
		defer c.obsMu.Unlock()
		delete(c.observers, id)
	}
}

func (c *Client) notify(state State, err error) {
	c.metrics.ConnectionState(int(state))

	c.obsMu.Lock()
	observers := make([]func(State, error), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.obsMu.Unlock()

	for _, fn := range observers {
		fn(state, err)
	}
}

// Connect opens the connection to address. It is a no-op when a connection
// is open or being opened. On failure the client returns to Disconnected,
// observers see the error, and it is returned.
func (c *Client) Connect(ctx context.Context, address string) error {
	addr, err := ParseAddress(address)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.address = addr
	c.mu.Unlock()
	c.notify(StateConnecting, nil)

	c.logger.Info("Connecting", zap.String("url", addr.URL()))

	ws, _, err := c.dialer.DialContext(ctx, addr.URL(), nil)
	if err != nil {
		c.metrics.ConnectAttempt("failure")
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()

		err = fmt.Errorf("failed to connect to %s: %w", addr, err)
		c.logger.Warn("Connection could not be opened", zap.Error(err))
		c.notify(StateDisconnected, err)
		return err
	}
	c.metrics.ConnectAttempt("success")

	if c.opts.ReadLimit > 0 {
		ws.SetReadLimit(c.opts.ReadLimit)
	}

	s := &session{
		ws:   ws,
		send: make(chan []byte, c.opts.SendBuffer),
		done: make(chan struct{}),
	}

	// A new session starts from an empty cache.
	c.reducer.Reset()

	c.mu.Lock()
	c.sess = s
	c.state = StateConnected
	c.auth = domain.AuthLevelNone
	c.username = ""
	c.mu.Unlock()

	go c.writePump(s)
	go c.readLoop(s)

	c.logger.Info("Connection opened", zap.String("address", addr.String()))
	c.notify(StateConnected, nil)
	return nil
}

// Disconnect closes the connection. Pending requests are failed with
// domain.ErrDisconnected. It never waits for in-flight sends.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return nil
	}
	c.sess = nil
	c.state = StateDisconnected
	c.auth = domain.AuthLevelNone
	c.username = ""
	c.mu.Unlock()

	s.close(c.opts.WriteTimeout)
	c.failPending()

	c.logger.Info("Connection closed")
	c.notify(StateDisconnected, nil)
	return nil
}

// connectionLost handles the end of the read loop. It does nothing when
// the session was already closed by Disconnect.
func (c *Client) connectionLost(s *session, cause error) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.state = StateDisconnected
	c.auth = domain.AuthLevelNone
	c.username = ""
	c.mu.Unlock()

	s.close(c.opts.WriteTimeout)
	c.failPending()

	var reported error
	if websocket.IsUnexpectedCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		reported = cause
		c.logger.Warn("Connection lost", zap.Error(cause))
	} else {
		c.logger.Info("Connection closed by server")
	}
	c.notify(StateDisconnected, reported)
}

func (c *Client) failPending() {
	pending := c.correlator.drain()
	if len(pending) == 0 {
		return
	}
	c.metrics.RequestsAbandoned(len(pending))
	c.logger.Debug("Failing pending requests", zap.Int("count", len(pending)))

	for reqID, p := range pending {
		err := fmt.Errorf("%s: %w", p.op, domain.ErrDisconnected)
		p.span.RecordError(err)
		p.span.SetStatus(codes.Error, "disconnected")
		p.span.End()
		p.deliver(Result{ReqID: reqID, Op: p.op, Err: err})
	}
}

// Send queues req and returns a channel that receives exactly one Result.
// It returns once the frame is queued, not when it is written.
func (c *Client) Send(ctx context.Context, req protocol.Request) (<-chan Result, error) {
	return c.send(ctx, req, nil, nil)
}

// SendFunc queues req like Send and calls onSuccess or onFailure with the
// result. Callbacks run on the read loop goroutine, or on the goroutine
// that closed the connection; they must not block. Nil callbacks are
// allowed.
func (c *Client) SendFunc(ctx context.Context, req protocol.Request, onSuccess, onFailure func(Result)) error {
	_, err := c.send(ctx, req, onSuccess, onFailure)
	return err
}

// Request sends req and waits for its result. A non-ok response is
// returned as the error too. If ctx ends first the request is forgotten
// and a late response is dropped.
func (c *Client) Request(ctx context.Context, req protocol.Request) (Result, error) {
	ch, err := c.Send(ctx, req)
	if err != nil {
		return Result{}, err
	}

	select {
	case res := <-ch:
		return res, res.Err
	case <-ctx.Done():
		c.forget(req.ReqID, ctx.Err())
		return Result{}, ctx.Err()
	}
}

func (c *Client) send(ctx context.Context, req protocol.Request, onSuccess, onFailure func(Result)) (<-chan Result, error) {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return nil, fmt.Errorf("%s: %w", req.Op, domain.ErrNotConnected)
	}

	data, err := req.Encode()
	if err != nil {
		return nil, err
	}

	_, span := c.tracer.Start(ctx, "cotonestrum.request "+req.Op.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cotonestrum.op", req.Op.String()),
			attribute.String("cotonestrum.reqid", req.ReqID),
		),
	)

	if c.beforeRegister != nil {
		c.beforeRegister()
	}

	ch := make(chan Result, 1)
	c.correlator.add(req.ReqID, &pendingRequest{
		op:        req.Op,
		ch:        ch,
		sentAt:    time.Now(),
		span:      span,
		onSuccess: onSuccess,
		onFailure: onFailure,
	})
	c.metrics.RequestSent(req.Op.String())

	// done is closed before pending requests are drained, so a request
	// registered after the drain is caught here.
	select {
	case <-s.done:
		if c.forget(req.ReqID, domain.ErrNotConnected) {
			return nil, fmt.Errorf("%s: %w", req.Op, domain.ErrNotConnected)
		}
		return ch, nil
	default:
	}

	select {
	case s.send <- data:
		c.logger.Debug("Request queued",
			zap.String("op", req.Op.String()),
			zap.String("reqid", req.ReqID),
		)
		return ch, nil
	case <-s.done:
		if c.forget(req.ReqID, domain.ErrNotConnected) {
			return nil, fmt.Errorf("%s: %w", req.Op, domain.ErrNotConnected)
		}
		// The disconnect already failed the request.
		return ch, nil
	case <-ctx.Done():
		if c.forget(req.ReqID, ctx.Err()) {
			return nil, ctx.Err()
		}
		return ch, nil
	}
}

// forget drops a pending request without delivering a result. It reports
// whether the request was still pending.
func (c *Client) forget(reqID string, cause error) bool {
	p, ok := c.correlator.take(reqID)
	if !ok {
		return false
	}
	c.metrics.RequestUnsent()
	p.span.RecordError(cause)
	p.span.SetStatus(codes.Error, cause.Error())
	p.span.End()
	return true
}

// writePump writes queued frames one per websocket message and pings the
// server periodically.
func (c *Client) writePump(s *session) {
	var tick <-chan time.Time
	if c.opts.PingPeriod > 0 {
		ticker := time.NewTicker(c.opts.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.done:
			return

		case message := <-s.send:
			if c.opts.WriteTimeout > 0 {
				_ = s.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			}
			if err := s.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("Failed to write frame", zap.Error(err))
				// Unblock the read loop; it reports the loss.
				_ = s.ws.Close()
				return
			}

		case <-tick:
			if err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Debug("Failed to send ping", zap.Error(err))
				_ = s.ws.Close()
				return
			}
		}
	}
}

// readLoop reads frames until the connection ends. A frame that cannot be
// decoded is logged and skipped.
func (c *Client) readLoop(s *session) {
	var cause error
	defer func() {
		c.connectionLost(s, cause)
	}()

	ctx := context.Background()
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			cause = err
			return
		}
		c.handleFrame(ctx, data)
	}
}

func (c *Client) handleFrame(ctx context.Context, data []byte) {
	f, err := protocol.Decode(data)
	if err != nil {
		c.metrics.DecodeError()
		c.logger.Warn("Dropping malformed frame",
			zap.Error(err),
			zap.Int("size", len(data)),
		)
		c.sink.Write(ctx, domain.NewJournalEntry("", "Received a malformed frame", err.Error(), nil, true))
		return
	}
	c.metrics.FrameReceived(f.Kind.String())

	switch f.Kind {
	case protocol.FrameResponse:
		c.complete(ctx, f)
	case protocol.FramePush:
		c.reducer.Apply(ctx, f)
	}
}

// complete resolves the pending request matching a response frame.
// Responses without a pending request are dropped.
func (c *Client) complete(ctx context.Context, f *protocol.Frame) {
	p, ok := c.correlator.take(f.ReqID)
	if !ok {
		c.metrics.OrphanResponse()
		c.logger.Debug("Dropping response without pending request",
			zap.String("op", f.Op.String()),
			zap.String("reqid", f.ReqID),
		)
		return
	}

	res := Result{
		ReqID:  f.ReqID,
		Op:     p.op,
		Status: f.Op,
		Body:   f.Body,
	}
	status := f.Status()

	var subject, text string
	switch f.Op {
	case protocol.OpOK:
		subject = "Operation completed"
		text = "Operation: " + p.op.String()
	case protocol.OpDenied:
		subject = "Operation denied"
		text = "Operation: " + p.op.String() + "\nDetail: " + status.Message +
			"\nYou may not have the required permission."
	case protocol.OpInternalError:
		subject = "An internal error occurred"
		text = "Operation: " + p.op.String() + "\nDetail: " + status.Message +
			"\nThis is a problem on the server side. Please report it if it persists."
	default:
		subject = "An error occurred"
		text = "Operation: " + p.op.String() + "\nDetail: " + status.Message
	}

	elapsed := time.Since(p.sentAt)
	c.metrics.ResponseReceived(p.op.String(), f.Op.String(), elapsed)
	p.span.SetAttributes(attribute.String("cotonestrum.status", f.Op.String()))

	if f.Op.IsOK() {
		p.span.SetStatus(codes.Ok, "")
		c.logger.Debug("Request completed",
			zap.String("op", p.op.String()),
			zap.Duration("elapsed", elapsed),
		)
	} else {
		res.Err = domain.RequestError{
			Op:      p.op.String(),
			Status:  f.Op.String(),
			Message: status.Message,
		}
		p.span.RecordError(res.Err)
		p.span.SetStatus(codes.Error, f.Op.String())

		if errors.Is(res.Err, domain.ErrDenied) {
			c.logger.Warn("Request denied",
				zap.String("op", p.op.String()),
				zap.String("message", status.Message),
			)
		} else {
			c.logger.Error("Request failed",
				zap.String("op", p.op.String()),
				zap.String("status", f.Op.String()),
				zap.String("message", status.Message),
			)
		}
	}
	p.span.End()

	c.sink.Write(ctx, domain.NewJournalEntry(f.Op.String(), subject, text, f.Raw, !f.Op.IsOK()))
	p.deliver(res)
}
