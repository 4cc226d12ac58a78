package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/envlink/accumulator"
	"github.com/c360/envlink/component"
	"github.com/c360/envlink/errors"
	"github.com/c360/envlink/metric"
	"github.com/c360/envlink/pkg/retry"
	"github.com/c360/envlink/pkg/timestamp"
	"github.com/c360/envlink/protocol"
	"github.com/c360/envlink/sink"
)

// ConnState is the connection state of one data client. Transitions are
// owned solely by the read loop goroutine; other goroutines only observe.
type ConnState int32

const (
	// StateIdle means the client has not connected yet, or was reset.
	StateIdle ConnState = iota
	// StateConnecting means the initial connect is in flight.
	StateConnecting
	// StateConnected means the socket is up but reading has not begun.
	StateConnected
	// StateReading means the read loop is consuming messages.
	StateReading
	// StateReconnecting means the client lost the connection and is
	// retrying below the hard threshold.
	StateReconnecting
	// StateFaulted means the hard threshold was crossed. Terminal until
	// an explicit Reset.
	StateFaulted
)

// maxClockSkew is how far a sensor-reported sample time may drift from
// the local clock before it is worth logging.
const maxClockSkew = 30 * time.Second

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReading:
		return "reading"
	case StateReconnecting:
		return "reconnecting"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Deps carries the dependencies for constructing a Client.
type Deps struct {
	Config  Config
	Logger  *slog.Logger
	Sink    sink.Sink
	Metrics *metric.MetricsRegistry // nil disables metrics
}

// Client ingests telemetry from one remote sensor server. A single
// goroutine owns the connection and drives the state machine
//
//	Idle -> Connecting -> Connected -> Reading <-> Reconnecting -> Faulted
//
// Failures below the hard threshold are handled internally; only fault
// notifications and flushed summaries cross the sink boundary.
type Client struct {
	id     string
	config Config
	logger *slog.Logger
	sink   sink.Sink

	dial         Dialer
	dispatcher   *dispatcher
	policy       *failurePolicy
	accumulators *accumulator.Set
	metrics      *clientMetrics
	warnLimiter  *rate.Limiter

	state atomic.Int32

	connMu sync.Mutex
	conn   Transport

	mu        sync.Mutex // guards lifecycle fields below
	lifecycle component.State
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	startTime time.Time
	lastError string

	wg sync.WaitGroup

	msgCount     atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Int64 // UnixNano
}

// New constructs a Client from its dependencies. Initialize must be
// called before Start.
func New(deps Deps) (*Client, error) {
	if deps.Sink == nil {
		return nil, errors.WrapInvalid(
			errors.New("nil sink"), "client", "New", "dependency check")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		id:     uuid.NewString(),
		config: deps.Config,
		sink:   deps.Sink,
	}
	c.logger = logger.With("client", c.config.Host, "client_id", c.id)
	c.lifecycle = component.StateCreated

	m, err := newClientMetrics(deps.Metrics, c.config.Host)
	if err != nil {
		return nil, err
	}
	c.metrics = m
	return c, nil
}

// ID returns the unique instance id carried in fault notifications.
func (c *Client) ID() string { return c.id }

// State returns the current connection state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Client) setState(s ConnState) {
	old := ConnState(c.state.Swap(int32(s)))
	if old != s {
		c.logger.Debug("connection state changed", "from", old, "to", s)
		c.metrics.SetConnectionState(s)
	}
}

// Initialize validates configuration and builds internal state. No I/O.
func (c *Client) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lifecycle != component.StateCreated {
		return errors.Wrap(errors.ErrAlreadyStarted, "client", "Initialize", "lifecycle check")
	}
	if err := c.config.Validate(); err != nil {
		return err
	}

	dial, err := dialerFor(c.config.Transport)
	if err != nil {
		return err
	}
	c.dial = dial
	c.dispatcher = newDispatcher(c.logger)
	c.policy = newFailurePolicy(c.config.SoftThreshold, c.config.HardThreshold)
	c.accumulators = accumulator.NewSet(c.config.AccumulatorKind, c.config.AccumulatorInterval.Std())
	c.warnLimiter = rate.NewLimiter(rate.Every(5*time.Second), 1)
	c.lifecycle = component.StateInitialized
	return nil
}

// Start launches the read loop goroutine and returns immediately.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.lifecycle {
	case component.StateCreated:
		return errors.Wrap(errors.ErrNotStarted, "client", "Start", "lifecycle check")
	case component.StateStarted:
		return errors.Wrap(errors.ErrAlreadyStarted, "client", "Start", "lifecycle check")
	}
	if c.State() == StateFaulted {
		return errors.Wrap(errors.ErrFaulted, "client", "Start", "state check")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	c.lifecycle = component.StateStarted
	c.startTime = time.Now()

	go c.run(runCtx)
	c.logger.Info("client started", "addr", c.config.Addr(), "transport", c.config.Transport)
	return nil
}

// Stop requests shutdown, forces any in-flight read to return by
// closing the socket, and waits up to timeout for the loop to exit.
func (c *Client) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return errors.Wrap(errors.ErrNotStarted, "client", "Stop", "lifecycle check")
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	c.closeConn()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.Wrap(errors.ErrConnectionTimeout, "client", "Stop", "loop shutdown wait")
	}

	c.mu.Lock()
	c.running = false
	if c.lifecycle == component.StateStarted {
		c.lifecycle = component.StateStopped
	}
	c.mu.Unlock()
	c.logger.Info("client stopped")
	return nil
}

// Reset clears a fault so the client can be started again. Only valid
// once the client is faulted and its loop has exited.
func (c *Client) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateFaulted {
		return errors.WrapInvalid(
			fmt.Errorf("reset in state %s", c.State()), "client", "Reset", "state check")
	}
	if c.done != nil {
		select {
		case <-c.done:
		default:
			return errors.Wrap(errors.ErrShuttingDown, "client", "Reset", "loop still running")
		}
	}

	c.policy.Reset()
	c.metrics.SetFailureCount(0)
	c.setState(StateIdle)
	c.running = false
	c.lifecycle = component.StateInitialized
	c.logger.Info("client reset after fault")
	return nil
}

// SendCommand transmits a command and waits for the correlated
// response. The returned response is valid whenever err is nil or wraps
// ErrCommandFailed; callers inspect Status for the server's verdict.
func (c *Client) SendCommand(ctx context.Context, name string, parameters map[string]any, timeout time.Duration) (protocol.Response, error) {
	switch c.State() {
	case StateConnected, StateReading:
	case StateFaulted:
		return protocol.Response{}, errors.Wrap(errors.ErrFaulted, "client", "SendCommand", "state check")
	default:
		return protocol.Response{}, errors.Wrap(errors.ErrNotConnected, "client", "SendCommand", "state check")
	}

	start := time.Now()
	resp, err := c.dispatcher.Send(ctx, c.writeConn, name, parameters, timeout)
	if err != nil {
		return protocol.Response{}, err
	}
	c.metrics.ObserveCommandLatency(time.Since(start).Seconds())

	if resp.Status != protocol.StatusAck {
		return resp, errors.Wrap(errors.ErrCommandFailed, "client", "SendCommand",
			fmt.Sprintf("%s returned %s", name, resp.Status))
	}
	return resp, nil
}

// run drives the state machine until stop, or until a fault.
func (c *Client) run(ctx context.Context) {
	defer func() {
		c.closeConn()
		c.mu.Lock()
		done := c.done
		c.mu.Unlock()
		close(done)
	}()

	if c.State() != StateIdle {
		c.setState(StateIdle)
	}

	for {
		if ctx.Err() != nil {
			c.flushAll()
			return
		}

		switch c.State() {
		case StateIdle:
			c.setState(StateConnecting)

		case StateConnecting:
			if err := c.connectOnce(ctx); err != nil {
				c.handleFailure(ctx, err)
			} else {
				c.setState(StateConnected)
			}

		case StateConnected:
			c.setState(StateReading)
			c.sendConfigure(ctx)

		case StateReading:
			c.readIteration(ctx)

		case StateReconnecting:
			c.reconnect(ctx)

		case StateFaulted:
			c.wg.Wait()
			return
		}
	}
}

// connectOnce dials the endpoint with the configured connect timeout
// and installs the new transport.
func (c *Client) connectOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout.Std())
	defer cancel()
	return c.connect(dialCtx)
}

// connect dials within ctx's deadline.
func (c *Client) connect(ctx context.Context) error {
	conn, err := c.dial(ctx, c.config.Addr())
	if err != nil {
		return err
	}

	c.connMu.Lock()
	old := c.conn
	c.conn = conn
	c.connMu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// reconnect retries the connection with capped exponential backoff.
// Every attempt is bounded by safe_interval so one slow attempt cannot
// eat the escalation window. Success resumes reading but does not reset
// the failure counter; only a successful receive does that.
func (c *Client) reconnect(ctx context.Context) {
	err := retry.Do(ctx, c.config.RetryConfig(), func(attemptCtx context.Context) error {
		return c.connect(attemptCtx)
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		c.handleFailure(ctx, errors.WrapTransient(err, "client", "reconnect", "retry cycle"))
		return
	}

	c.metrics.Reconnected()
	c.logger.Info("reconnected", "addr", c.config.Addr(), "consecutive_failures", c.policy.Count())
	c.setState(StateReading)
	c.sendConfigure(ctx)
}

// sendConfigure pushes the device configuration after a (re)connect.
// It runs in a short-lived goroutine because the response travels
// through the read loop that is calling us.
func (c *Client) sendConfigure(ctx context.Context) {
	if len(c.config.Devices) == 0 {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		resp, err := c.SendCommand(ctx, "configure", c.config.ConfigureParameters(), c.config.CommandTimeout.Std())
		switch {
		case err != nil && errors.Is(err, errors.ErrCommandFailed):
			c.logger.Error("configure rejected", "cmd_status", resp.Status)
		case err != nil:
			c.logger.Warn("configure failed", "error", err)
		default:
			c.logger.Info("devices configured", "devices", len(c.config.Devices))
		}
	}()
}

// readIteration performs one cycle of the reading state: flush due
// windows, then one bounded receive, then routing.
func (c *Client) readIteration(ctx context.Context) {
	c.flushDue(ctx)

	conn := c.transport()
	if conn == nil {
		c.handleFailure(ctx, errors.Wrap(errors.ErrNotConnected, "client", "readIteration", "transport check"))
		return
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout.Std())); err != nil {
		c.handleFailure(ctx, errors.WrapTransient(err, "client", "readIteration", "deadline set"))
		return
	}

	data, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.handleFailure(ctx, c.classifyReadError(err))
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		// Structural protocol violations count toward escalation the
		// same as I/O failures.
		if c.warnLimiter.Allow() {
			c.logger.Warn("protocol violation", "error", err)
		}
		c.handleFailure(ctx, err)
		return
	}

	c.policy.Reset()
	c.metrics.SetFailureCount(0)
	c.msgCount.Add(1)
	c.lastActivity.Store(time.Now().UnixNano())
	c.metrics.MessageReceived(string(msg.Type))

	switch msg.Type {
	case protocol.MsgTypeTelemetry:
		c.handleTelemetry(msg.Telemetry.Payload)
	case protocol.MsgTypeResponse:
		c.dispatcher.Deliver(*msg.Response)
	case protocol.MsgTypeCommand:
		// Servers do not send commands to clients.
		if c.warnLimiter.Allow() {
			c.logger.Warn("ignoring unexpected command from server", "cmd_name", msg.Command.Name)
		}
	}
}

// handleTelemetry parses one payload and feeds the accumulators. A
// payload that fails sensor-specific parsing is a bad reading, not a
// protocol failure: it is logged and skipped without touching the
// escalation counter.
func (c *Client) handleTelemetry(payload string) {
	reading, err := protocol.ParseTelemetry(payload)
	if err != nil {
		if c.warnLimiter.Allow() {
			c.logger.Warn("unparseable telemetry payload", "error", err)
		}
		return
	}

	now := time.Now()
	if skew := timestamp.Skew(reading.Timestamp, now); skew > maxClockSkew || skew < -maxClockSkew {
		if c.warnLimiter.Allow() {
			c.logger.Warn("sensor clock skew", "sensor", reading.SensorName, "skew", skew)
		}
	}
	for i, v := range reading.Values {
		channel := fmt.Sprintf("%s.ch%d", reading.SensorName, i)
		if err := c.accumulators.Add(channel, v, reading.Status, now); err != nil {
			c.logger.Warn("sample rejected", "channel", channel, "error", err)
		}
	}
}

// classifyReadError maps raw socket errors into the failure taxonomy.
func (c *Client) classifyReadError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		// A silent server is indistinguishable from a dead connection.
		return errors.WrapTransient(errors.ErrReadTimeout, "client", "readIteration", "receive")
	}
	return errors.WrapTransient(err, "client", "readIteration", "receive")
}

// handleFailure records one failure and applies the escalation verdict.
func (c *Client) handleFailure(ctx context.Context, cause error) {
	if ctx.Err() != nil {
		return
	}

	c.errorCount.Add(1)
	c.metrics.ReadFailure()
	c.mu.Lock()
	c.lastError = cause.Error()
	c.mu.Unlock()

	verdict := c.policy.Record()
	c.metrics.SetFailureCount(c.policy.Count())

	switch verdict {
	case escalateRetry:
		c.logger.Debug("failure recorded, retrying",
			"consecutive_failures", c.policy.Count(), "error", cause)
		c.dropConn()
		c.setState(StateReconnecting)

	case escalateWarn:
		c.logger.Warn("repeated failures, still retrying",
			"consecutive_failures", c.policy.Count(),
			"hard_threshold", c.config.HardThreshold, "error", cause)
		c.dropConn()
		c.setState(StateReconnecting)

	case escalateFault:
		c.fault(cause)
	}
}

// fault crosses the hard threshold: terminal until Reset, notified to
// the sink exactly once.
func (c *Client) fault(cause error) {
	c.dropConn()
	c.setState(StateFaulted)
	c.metrics.Faulted()
	c.logger.Error("hard failure threshold crossed, client faulted",
		"consecutive_failures", c.policy.Count(), "cause", cause)

	notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fault := sink.Fault{
		ClientID:  c.id,
		Reason:    cause.Error(),
		Failures:  c.policy.Count(),
		Timestamp: time.Now(),
	}
	if err := c.sink.PublishFault(notifyCtx, fault); err != nil {
		c.logger.Error("fault notification failed", "error", err)
	}
}

// flushDue publishes summaries for windows whose interval elapsed.
func (c *Client) flushDue(ctx context.Context) {
	for _, s := range c.accumulators.FlushDue(time.Now()) {
		c.publishSummary(ctx, s)
	}
}

// flushAll publishes all partial windows at clean shutdown.
func (c *Client) flushAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range c.accumulators.FlushAll(time.Now()) {
		c.publishSummary(ctx, s)
	}
}

func (c *Client) publishSummary(ctx context.Context, s accumulator.Summary) {
	if err := c.sink.PublishSummary(ctx, s); err != nil {
		c.logger.Warn("summary publish failed", "channel", s.Channel, "error", err)
		return
	}
	c.metrics.SummaryFlushed()
}

func (c *Client) transport() Transport {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// writeConn writes one encoded message on the current connection.
func (c *Client) writeConn(data []byte) error {
	conn := c.transport()
	if conn == nil {
		return errors.ErrNotConnected
	}
	return conn.WriteMessage(data)
}

// dropConn closes and forgets the current connection. Idempotent.
func (c *Client) dropConn() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// closeConn closes the socket without forgetting it, used by Stop to
// force an in-flight read to return.
func (c *Client) closeConn() {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Meta implements component.Component.
func (c *Client) Meta() component.Metadata {
	return component.Metadata{
		Name:        fmt.Sprintf("client-%s", c.config.Host),
		Type:        "client",
		Description: fmt.Sprintf("sensor data client for %s", c.config.Addr()),
		Version:     "1.0.0",
	}
}

// Health implements component.Component.
func (c *Client) Health() component.HealthStatus {
	c.mu.Lock()
	lastError := c.lastError
	startTime := c.startTime
	running := c.running
	c.mu.Unlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(startTime)
	}
	state := c.State()
	return component.HealthStatus{
		Healthy:    running && state != StateFaulted,
		LastCheck:  time.Now(),
		ErrorCount: int(c.errorCount.Load()),
		LastError:  lastError,
		Uptime:     uptime,
	}
}

// DataFlow implements component.Component.
func (c *Client) DataFlow() component.FlowMetrics {
	c.mu.Lock()
	startTime := c.startTime
	running := c.running
	c.mu.Unlock()

	var msgRate float64
	if running {
		if secs := time.Since(startTime).Seconds(); secs > 0 {
			msgRate = float64(c.msgCount.Load()) / secs
		}
	}

	var last time.Time
	if ns := c.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return component.FlowMetrics{
		MessagesPerSecond: msgRate,
		LastActivity:      last,
	}
}
