package zk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// dialTimeout bounds a single connection attempt against one
	// ensemble member.
	dialTimeout = 5 * time.Second

	// redialBackoff is the pause after each failed dial before the next
	// endpoint in the rotation is tried. The session protocol itself applies
	// no backoff policy (per §4.1, "the next attempt still proceeds
	// without backoff from this layer"); this is a thin guard against a
	// busy loop hammering an unreachable ensemble, not a retry policy.
	redialBackoff = 200 * time.Millisecond

	// dispatchQueueSize bounds the number of pending completion
	// callbacks buffered between the I/O goroutines and the dedicated
	// completion-dispatch goroutine.
	dispatchQueueSize = 4096

	// replyHeaderLen is the encoded size of ReplyHeader (xid int32 +
	// zxid int64 + err int32): fixed, so the reply body always starts at
	// this offset into the frame.
	replyHeaderLen = 4 + 8 + 4
)

// SessionCredential is the exported (id, password) pair a caller may
// persist across process restarts and hand back to NewSession to resume
// a prior session instead of starting a fresh one.
type SessionCredential struct {
	ID       int64
	Password []byte
}

type pendingAuth struct {
	scheme string
	cert   []byte
}

// SessionOption configures optional Session parameters.
type SessionOption func(*Session)

// WithDialer overrides the network dial step. Tests substitute an
// in-memory transport; production callers may wrap the default to add
// TLS or custom resolution.
func WithDialer(d Dialer) SessionOption {
	return func(s *Session) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithCodec overrides the request/reply body codec.
func WithCodec(c Codec) SessionOption {
	return func(s *Session) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithMetrics attaches a MetricsReporter. A nil mr is ignored and the
// no-op reporter remains installed.
func WithMetrics(mr MetricsReporter) SessionOption {
	return func(s *Session) {
		if mr != nil {
			s.metrics = mr
		}
	}
}

// WithLogger overrides the default discard logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithShuffle controls whether the endpoint list is shuffled once at
// construction. Defaults to true. Per-Session, never process-global.
func WithShuffle(enabled bool) SessionOption {
	return func(s *Session) {
		s.shuffleHosts = enabled
	}
}

// Session is the session protocol engine: one long-lived TCP connection
// to a replicated ensemble, multiplexing requests, tracking watches, and
// reconnecting transparently across disconnects while preserving session
// identity. Construct with NewSession; the connection loop starts
// immediately and runs until Close.
type Session struct {
	endpoints        *endpointRotation
	dialer           Dialer
	codec            Codec
	defaultWatcher   Watcher
	requestedTimeout time.Duration
	shuffleHosts     bool
	logger           *slog.Logger
	metrics          MetricsReporter

	xids    *xidAllocator
	watches *watchRegistry

	state             atomic.Int32
	sessionID         atomic.Int64
	priorSessionID    atomic.Int64
	negotiatedTimeout atomic.Int64 // nanoseconds
	lastZxid          atomic.Int64
	lastSend          atomic.Int64 // unix nanos
	lastRecv          atomic.Int64 // unix nanos
	lastPingSent      atomic.Int64 // unix nanos

	mu             sync.Mutex
	password       []byte
	sentRequests   []*completion
	outbox         [][]byte
	authCompletion *completion
	pendingCred    *pendingAuth
	conn           net.Conn

	wake       chan struct{}
	dispatchCh chan func()
	stopped    chan struct{}
	closeOnce  sync.Once

	runCancel context.CancelFunc
}

// NewSession constructs a Session against hosts and starts its
// connection loop in the background. defaultWatcher (may be nil) is
// bound to every watch registered via the plain watch=true overloads and
// also receives every synthetic EventSession notification. prior may be
// nil for a fresh session, or a SessionCredential previously obtained
// from SessionID/Password-style persistence to attempt resumption.
func NewSession(
	hosts []string,
	defaultWatcher Watcher,
	sessionTimeout time.Duration,
	prior *SessionCredential,
	opts ...SessionOption,
) (*Session, error) {
	if sessionTimeout <= 0 {
		return nil, ErrInvalidTimeout
	}

	s := &Session{
		dialer:           defaultDialer,
		codec:            newJuteCodec(),
		defaultWatcher:   defaultWatcher,
		requestedTimeout: sessionTimeout,
		shuffleHosts:     true,
		logger:           slog.New(slog.DiscardHandler),
		metrics:          noopMetrics{},
		xids:             newXIDAllocator(),
		watches:          newWatchRegistry(),
		wake:             make(chan struct{}, 1),
		dispatchCh:       make(chan func(), dispatchQueueSize),
		stopped:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	endpoints, err := newEndpointRotation(hosts, s.shuffleHosts)
	if err != nil {
		return nil, err
	}
	s.endpoints = endpoints

	if prior != nil {
		s.priorSessionID.Store(prior.ID)
		s.password = prior.Password
	}

	s.logger = s.logger.With(slog.String("component", "zk.session"))

	ctx, cancel := context.WithCancel(context.Background())
	s.runCancel = cancel

	go s.dispatchLoop()
	go s.connectLoop(ctx)

	return s, nil
}

// State returns the current session state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// SessionID returns the negotiated session id, or zero before the first
// CONNECTED transition.
func (s *Session) SessionID() int64 {
	return s.sessionID.Load()
}

// Credential returns the (id, password) pair suitable for persisting and
// later passing to NewSession as prior, for session resumption across
// process restarts.
func (s *Session) Credential() SessionCredential {
	s.mu.Lock()
	defer s.mu.Unlock()
	pw := make([]byte, len(s.password))
	copy(pw, s.password)
	return SessionCredential{ID: s.sessionID.Load(), Password: pw}
}

// LastZxid returns the highest zxid observed in any reply so far.
func (s *Session) LastZxid() int64 {
	return s.lastZxid.Load()
}

// Close cancels the connection loop, closes the socket, and cancels
// every pending completion with ErrClosing exactly once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.runCancel()
		<-s.stopped
		close(s.dispatchCh)
	})
	return nil
}

// dispatchLoop is the dedicated completion thread: every resolved or
// cancelled completion's callback runs here, in delivery order, never on
// the I/O goroutines.
func (s *Session) dispatchLoop() {
	for fn := range s.dispatchCh {
		fn()
	}
}

// dispatch hands fn to the completion thread. Blocking (rather than
// dropping on a full queue) preserves FIFO delivery order at the cost of
// backpressure on the I/O goroutines, which is the correct trade-off: a
// completion must eventually fire exactly once.
func (s *Session) dispatch(fn func()) {
	s.dispatchCh <- fn
}

// connectLoop drives the session state machine: dial, handshake,
// pump I/O until disconnect, repeat — until Close cancels the context or
// a terminal state is reached.
func (s *Session) connectLoop(ctx context.Context) {
	defer close(s.stopped)

	s.transition(EventOpen)

	for {
		if ctx.Err() != nil {
			s.transition(EventCloseRequested)
			return
		}
		if State(s.state.Load()).Terminal() {
			return
		}

		endpoint := s.endpoints.next()

		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, err := s.dialer(dialCtx, "tcp", endpoint)
		cancel()
		if err != nil {
			s.logger.Warn("dial failed", slog.String("endpoint", endpoint), slog.Any("err", err))
			select {
			case <-ctx.Done():
				s.transition(EventCloseRequested)
				return
			case <-time.After(redialBackoff):
			}
			continue
		}

		s.transition(EventTCPUp)

		if err := setUserTimeout(conn, s.requestedTimeout); err != nil {
			s.logger.Debug("set TCP_USER_TIMEOUT failed", slog.Any("err", err))
		}

		resp, err := doHandshake(conn, s.codec, s.buildConnectRequest())
		if err != nil {
			s.logger.Warn("handshake failed", slog.String("endpoint", endpoint), slog.Any("err", err))
			_ = conn.Close()
			s.transition(EventDisconnect)
			continue
		}

		if s.priorSessionRejected(resp) {
			_ = conn.Close()
			s.transition(EventExpiredReply)
			return
		}

		s.sessionID.Store(resp.SessionID)
		s.priorSessionID.Store(resp.SessionID)
		s.negotiatedTimeout.Store(int64(time.Duration(resp.TimeOut) * time.Millisecond))
		now := time.Now().UnixNano()
		s.lastSend.Store(now)
		s.lastRecv.Store(now)
		s.mu.Lock()
		s.password = resp.Passwd
		s.conn = conn
		s.mu.Unlock()

		s.transition(EventConnectOK)

		ioErr := s.ioSession(ctx, conn)
		_ = conn.Close()

		if errors.Is(ioErr, ErrClosing) {
			s.transition(EventCloseRequested)
			return
		}

		s.logger.Info("session disconnected, reconnecting", slog.Any("err", ioErr))
		s.metrics.Reconnected()
		s.transition(EventDisconnect)
	}
}

func (s *Session) priorSessionRejected(resp ConnectResponse) bool {
	prior := s.priorSessionID.Load()
	return prior != 0 && resp.SessionID != prior
}

func (s *Session) buildConnectRequest() ConnectRequest {
	s.mu.Lock()
	pw := s.password
	s.mu.Unlock()
	return ConnectRequest{
		ProtocolVersion: 0,
		LastZxidSeen:    s.lastZxid.Load(),
		TimeOut:         int32(s.requestedTimeout / time.Millisecond), //nolint:gosec // bounded by caller-supplied timeout
		SessionID:       s.priorSessionID.Load(),
		Passwd:          pw,
	}
}

// transition applies event to the FSM and executes the resulting
// actions. Pure decision (ApplyEvent) and side effects (executeAction)
// stay separated so the table itself is unit-testable in isolation.
func (s *Session) transition(ev Event) FSMResult {
	old := State(s.state.Load())
	res := ApplyEvent(old, ev)
	if res.Changed {
		s.state.Store(int32(res.NewState))
	}
	s.logger.Debug("fsm transition",
		slog.String("event", ev.String()),
		slog.String("from", res.OldState.String()),
		slog.String("to", res.NewState.String()))

	for _, a := range res.Actions {
		s.executeAction(a, res.NewState)
	}
	return res
}

func (s *Session) executeAction(a Action, newState State) {
	switch a {
	case ActionDial, ActionStartHeartbeat, ActionStopHeartbeat:
		// Dial retry and heartbeat goroutine lifetime are driven
		// structurally by connectLoop/ioSession; no extra work here.
	case ActionRearmWatches:
		s.rearmWatches()
	case ActionNotifySession:
		s.notifySession(newState)
	case ActionCancelPending:
		s.cancelPending(terminalErrorFor(newState))
	case ActionCloseConn:
		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	}
}

func terminalErrorFor(newState State) error {
	switch newState {
	case StateConnecting:
		return ErrConnectionLoss
	case StateExpiredSession:
		return ErrSessionExpired
	case StateAuthFailed:
		return ErrAuthFailed
	case StateClosed:
		return ErrClosing
	case StateAssociating, StateConnected:
		return ErrConnectionLoss
	default:
		return ErrConnectionLoss
	}
}

// cancelPending drains sentRequests and the pending auth completion,
// cancelling each exactly once via the dispatch thread.
func (s *Session) cancelPending(err error) {
	s.mu.Lock()
	pending := s.sentRequests
	s.sentRequests = nil
	auth := s.authCompletion
	s.authCompletion = nil
	s.mu.Unlock()

	for _, c := range pending {
		c := c
		s.dispatch(func() { c.cancel(err) })
	}
	if auth != nil {
		s.dispatch(func() { auth.cancel(err) })
	}
}

// notifySession delivers a synthetic EventSession notification to the
// default watcher and to every currently registered path watcher,
// without consuming the path watches (only a path-scoped event is
// one-shot).
func (s *Session) notifySession(newState State) {
	ev := Event{Type: EventSession, State: newState}
	if s.defaultWatcher != nil {
		dw := s.defaultWatcher
		s.dispatch(func() { dw(ev) })
	}
	for _, w := range s.watches.fireSession() {
		w := w
		s.dispatch(func() { w(ev) })
	}
}

// rearmWatches builds the SET_WATCHES frame (and, if a credential is
// registered, the AUTH_INFO frame) and prepends both to the outbound
// queue ahead of anything else — §4.1's ordering requirement.
func (s *Session) rearmWatches() {
	dataW, existW, childW := s.watches.snapshot()
	body := setWatchesRequest{
		RelativeZxid: s.lastZxid.Load(),
		DataWatches:  dataW,
		ExistWatches: existW,
		ChildWatches: childW,
	}
	frame, err := s.encodeRequest(SetWatchesXID, OpSetWatches, body)
	if err != nil {
		s.logger.Error("encode set-watches", slog.Any("err", err))
		return
	}
	frames := [][]byte{frame}

	s.mu.Lock()
	cred := s.pendingCred
	s.mu.Unlock()
	if cred != nil {
		authFrame, err := s.encodeRequest(AuthXID, OpSetAuth, authPacket{Scheme: cred.scheme, Auth: cred.cert})
		if err != nil {
			s.logger.Error("encode auth-info", slog.Any("err", err))
		} else {
			frames = append(frames, authFrame)
		}
	}

	s.mu.Lock()
	s.outbox = append(frames, s.outbox...)
	s.mu.Unlock()
	s.signalWake()
}

// encodeRequest concatenates the fixed RequestHeader with the
// op-specific encoded body. body may be nil for header-only requests
// (ping, close).
func (s *Session) encodeRequest(xid int32, op Op, body any) ([]byte, error) {
	header, err := s.codec.Encode(RequestHeader{Xid: xid, Type: op})
	if err != nil {
		return nil, fmt.Errorf("encode request header: %w", err)
	}
	if body == nil {
		return header, nil
	}
	payload, err := s.codec.Encode(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return append(header, payload...), nil
}

// pushSentAndSend appends c to sentRequests and frame to the outbound
// queue under a single critical section, so no reader of either queue
// can observe the bytes on the wire before the matching completion is
// recorded.
func (s *Session) pushSentAndSend(c *completion, frame []byte) {
	s.mu.Lock()
	s.sentRequests = append(s.sentRequests, c)
	s.outbox = append(s.outbox, frame)
	s.mu.Unlock()
	s.signalWake()
}

func (s *Session) popSentRequest() *completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sentRequests) == 0 {
		return nil
	}
	c := s.sentRequests[0]
	s.sentRequests = s.sentRequests[1:]
	return c
}

func (s *Session) drainOutbox() [][]byte {
	s.mu.Lock()
	items := s.outbox
	s.outbox = nil
	s.mu.Unlock()
	return items
}

func (s *Session) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// sendRequest is the shared entry point for every public operation: it
// allocates an XID, encodes the frame, and atomically records the
// completion before the bytes reach the outbound queue.
func (s *Session) sendRequest(op Op, body any, c *completion) error {
	if State(s.state.Load()).Terminal() {
		return terminalErrorFor(State(s.state.Load()))
	}
	xid := s.xids.Next()
	s.metrics.XIDIssued()
	c.xid = xid

	frame, err := s.encodeRequest(xid, op, body)
	if err != nil {
		return fmt.Errorf("encode %v request: %w", op, err)
	}
	s.pushSentAndSend(c, frame)
	return nil
}

// sendPing enqueues a PING request bound to PingXID, tracked in
// sentRequests like any other request but never dispatched to user code.
// It does not check whether an earlier ping is still awaiting its reply;
// pings are spaced only by the heartbeat's send-idle rule.
func (s *Session) sendPing() {
	frame, err := s.encodeRequest(PingXID, OpPing, nil)
	if err != nil {
		s.logger.Error("encode ping", slog.Any("err", err))
		return
	}
	c := newAsyncCompletion(PingXID, "", func(any, error) {})
	s.pushSentAndSend(c, frame)
	s.lastPingSent.Store(time.Now().UnixNano())
}

// ioSession spawns the reader, writer, and heartbeat goroutines for one
// live connection and blocks until one of them reports an error or ctx
// is cancelled (returned as ErrClosing).
func (s *Session) ioSession(ctx context.Context, conn net.Conn) error {
	ioCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	go s.writerLoop(ioCtx, conn, errCh)
	go s.readerLoop(ioCtx, conn, errCh)
	go s.heartbeatLoop(ioCtx, errCh)

	select {
	case <-ctx.Done():
		return ErrClosing
	case err := <-errCh:
		return err
	}
}

func (s *Session) writerLoop(ctx context.Context, conn net.Conn, errCh chan<- error) {
	for {
		items := s.drainOutbox()
		for _, it := range items {
			if err := writeFrame(conn, it); err != nil {
				trySend(errCh, fmt.Errorf("writer: %w", err))
				return
			}
			s.lastSend.Store(time.Now().UnixNano())
		}
		if len(items) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
	}
}

func (s *Session) readerLoop(ctx context.Context, conn net.Conn, errCh chan<- error) {
	for {
		frame, err := readFrame(conn)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			trySend(errCh, fmt.Errorf("reader: %w", err))
			return
		}
		s.lastRecv.Store(time.Now().UnixNano())
		if err := s.handleReply(frame); err != nil {
			trySend(errCh, err)
			return
		}
	}
}

func (s *Session) heartbeatLoop(ctx context.Context, errCh chan<- error) {
	timeout := time.Duration(s.negotiatedTimeout.Load())
	if timeout <= 0 {
		timeout = s.requestedTimeout
	}

	timer := time.NewTimer(time.Millisecond)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		now := time.Now()
		d := EvaluateHeartbeat(now, time.Unix(0, s.lastSend.Load()), time.Unix(0, s.lastRecv.Load()), timeout)
		if d.RecvExpired {
			trySend(errCh, fmt.Errorf("recv idle exceeded %v: %w", recvTimeout(timeout), ErrOperationTimeout))
			return
		}
		if d.SendPing {
			s.sendPing()
		}

		wait := d.Next.Sub(now)
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer.Reset(wait)
	}
}

func trySend(errCh chan<- error, err error) {
	select {
	case errCh <- err:
	default:
	}
}

// handleReply implements the §4.3 dispatch rules against one decoded
// frame.
func (s *Session) handleReply(frame []byte) error {
	var hdr ReplyHeader
	if err := s.codec.Decode(frame, &hdr); err != nil {
		return fmt.Errorf("decode reply header: %w", err)
	}

	if hdr.Zxid > 0 {
		bumpMax(&s.lastZxid, hdr.Zxid)
	}

	switch hdr.Xid {
	case WatcherEventXID:
		return s.handleWatcherEvent(frame[replyHeaderLen:])

	case SetWatchesXID:
		return nil

	case AuthXID:
		s.mu.Lock()
		c := s.authCompletion
		s.authCompletion = nil
		s.mu.Unlock()
		if c == nil {
			return nil
		}
		if err := errorForCode(hdr.Err); err != nil {
			s.dispatch(func() { c.cancel(err) })
			s.transition(EventAuthFailedReply)
			return ErrAuthFailed
		}
		s.dispatch(func() { c.resolve(nil, nil) })
		return nil

	default:
		return s.handleOrdinaryReply(hdr, frame[replyHeaderLen:])
	}
}

func (s *Session) handleWatcherEvent(body []byte) error {
	var we WatcherEvent
	if err := s.codec.Decode(body, &we); err != nil {
		return fmt.Errorf("decode watcher event: %w", err)
	}
	s.dispatchWatcherEvent(we)
	return nil
}

// dispatchWatcherEvent fires and removes the watches affected by we, per
// the §4.5 event-to-map table: a created or changed node fires the data
// and exist watches on its path; a deleted node additionally fires any
// child watch; a children-changed event fires only the child watch.
func (s *Session) dispatchWatcherEvent(we WatcherEvent) {
	ev := Event{Type: we.Type, State: s.State(), Path: we.Path}

	var fired []Watcher
	switch we.Type {
	case EventNodeCreated, EventNodeDataChanged:
		fired = append(fired, s.watches.fire(watchData, ev)...)
		fired = append(fired, s.watches.fire(watchExist, ev)...)
	case EventNodeDeleted:
		fired = append(fired, s.watches.fire(watchData, ev)...)
		fired = append(fired, s.watches.fire(watchExist, ev)...)
		fired = append(fired, s.watches.fire(watchChild, ev)...)
	case EventNodeChildrenChanged:
		fired = append(fired, s.watches.fire(watchChild, ev)...)
	}

	kind := we.Type.String()
	if s.defaultWatcher != nil {
		dw := s.defaultWatcher
		s.dispatch(func() { dw(ev) })
		s.metrics.WatchFired(kind)
	}
	for _, w := range fired {
		w := w
		s.dispatch(func() { w(ev) })
		s.metrics.WatchFired(kind)
	}
}

// handleOrdinaryReply matches a reply against the head of sentRequests.
// A missing or mismatched head is a fatal protocol violation: the
// completion (if any) is cancelled with ErrRuntimeInconsistency and the
// connection is torn down rather than re-delivered after reconnect, per
// the resolved open question.
func (s *Session) handleOrdinaryReply(hdr ReplyHeader, body []byte) error {
	c := s.popSentRequest()
	if c == nil || c.xid != hdr.Xid {
		if c != nil {
			s.dispatch(func() { c.cancel(ErrRuntimeInconsistency) })
		}
		return fmt.Errorf("reply xid %d unmatched: %w", hdr.Xid, ErrRuntimeInconsistency)
	}

	if hdr.Xid == PingXID {
		if sentAt := s.lastPingSent.Load(); sentAt != 0 {
			s.metrics.PingRTT(time.Since(time.Unix(0, sentAt)))
		}
		return nil
	}

	err := errorForCode(hdr.Err)
	if c.armWatch != nil {
		c.armWatch(err)
	}
	if err != nil {
		s.dispatch(func() { c.cancel(err) })
		return nil
	}

	if c.decode == nil {
		s.dispatch(func() { c.resolve(nil, nil) })
		return nil
	}
	result, derr := c.decode(body)
	if derr != nil {
		s.dispatch(func() { c.cancel(fmt.Errorf("decode reply: %w", derr)) })
		return nil
	}
	s.dispatch(func() { c.resolve(result, nil) })
	return nil
}

func bumpMax(v *atomic.Int64, candidate int64) {
	for {
		cur := v.Load()
		if candidate <= cur {
			return
		}
		if v.CompareAndSwap(cur, candidate) {
			return
		}
	}
}
