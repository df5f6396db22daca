package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/lms-notifier/pkg/logger"
	"github.com/angelmondragon/lms-notifier/pkg/metrics"
	"github.com/angelmondragon/lms-notifier/pkg/socketio"
	"github.com/angelmondragon/lms-notifier/pkg/types"
)

var (
	errUnexpectedOpen     = errors.New("realtime: expected engine open frame")
	errConnectRejected    = errors.New("realtime: namespace connect rejected")
	errServerClosed       = errors.New("realtime: server closed the transport")
	errServerDisconnected = errors.New("realtime: server disconnected the namespace")
)

// ManagerParams wires a Manager.
type ManagerParams struct {
	ServiceURL       string
	HandshakeTimeout time.Duration
	Dialer           Dialer
	Logger           *logger.Logger
	Metrics          *metrics.NotifierMetrics
}

// Manager owns the single connection to the notification server, its room
// subscriptions and the listeners that receive pushed events. Construct one
// per process.
type Manager struct {
	endpoint         string
	dialer           Dialer
	logg             *logger.Logger
	logCtx           context.Context
	metrics          *metrics.NotifierMetrics
	handshakeTimeout time.Duration
	attempts         int
	delay            time.Duration
	now              func() time.Time

	listeners registry
	runs      sync.WaitGroup

	mu       sync.Mutex
	state    State
	gen      uint64
	identity string
	interest []string
	accepted []string
	rejected []string
	conn     Conn
	cancel   context.CancelFunc
}

// Status is a point-in-time view of the connection.
type Status struct {
	State    State
	Identity string
	Interest []string
	Accepted []string
	Rejected []string
}

func NewManager(p ManagerParams) (*Manager, error) {
	if p.Logger == nil {
		return nil, errors.New("logger is required")
	}
	endpoint, err := socketio.EndpointURL(p.ServiceURL)
	if err != nil {
		return nil, err
	}
	dialer := p.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	timeout := p.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	return &Manager{
		endpoint:         endpoint,
		dialer:           dialer,
		logg:             p.Logger,
		logCtx:           p.Logger.WithComponent(context.Background(), "realtime"),
		metrics:          p.Metrics,
		handshakeTimeout: timeout,
		attempts:         ReconnectAttempts,
		delay:            ReconnectDelay,
		now:              time.Now,
	}, nil
}

// Connect starts connecting identity to the notification server and joining
// roomIDs. It returns immediately; a call while a connection is live or being
// established is a no-op. ctx only scopes the diagnostics of this call; the
// connection lives until Disconnect.
func (m *Manager) Connect(ctx context.Context, identity string, roomIDs []string) {
	if ctx == nil {
		ctx = context.Background()
	}
	identity = strings.TrimSpace(identity)
	logCtx := m.logg.WithComponent(ctx, "realtime")
	if identity == "" {
		m.logg.Warn(logCtx, "connect ignored: empty identity")
		return
	}

	m.mu.Lock()
	if m.state != Disconnected {
		state := m.state
		m.mu.Unlock()
		m.logg.Debug(m.logg.WithField(logCtx, "state", state.String()), "connect ignored: connection already active")
		return
	}
	m.gen++
	gen := m.gen
	m.identity = identity
	m.interest = normalizeRooms(roomIDs)
	m.accepted, m.rejected = nil, nil
	m.state = Transition(m.state, ConnectRequested{})
	runCtx, cancel := context.WithCancel(m.logg.WithUserID(m.logCtx, identity))
	m.cancel = cancel
	m.runs.Add(1)
	rooms := len(m.interest)
	m.mu.Unlock()

	m.logg.Info(m.logg.WithField(runCtx, "rooms", rooms), "connecting to notification service")
	go m.run(runCtx, gen)
}

// Disconnect tears the connection down, forgets identity and rooms, and drops
// every registered listener. It does not wait for background work, so it is
// safe to call from a listener.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	prev := m.state
	cancel, conn := m.cancel, m.conn
	m.cancel, m.conn = nil, nil
	m.state = Transition(m.state, DisconnectRequested{})
	identity := m.identity
	m.identity = ""
	m.interest, m.accepted, m.rejected = nil, nil, nil
	m.mu.Unlock()

	m.listeners.clear()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteText(socketio.EncodeDisconnect(socketio.DefaultNamespace))
		_ = conn.Close()
	}
	m.metrics.SetConnected(false)
	if prev != Disconnected {
		m.logg.Info(m.logg.WithUserID(m.logCtx, identity), "disconnected from notification service")
	}
}

// Close disconnects and waits for background connection work to finish.
// Use it at shutdown, never from a listener.
func (m *Manager) Close() {
	m.Disconnect()
	m.runs.Wait()
}

// OnNotification registers fn for inbound new-assignment pushes. The returned
// func removes exactly this registration.
func (m *Manager) OnNotification(fn Listener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	token := m.listeners.add(fn)
	var once sync.Once
	return func() {
		once.Do(func() { m.listeners.remove(token) })
	}
}

// JoinCourse asks the server to add roomID to the live subscription and
// reports whether the request went out. Without a live connection it only
// logs. The state check and the send use the same connection snapshot.
func (m *Manager) JoinCourse(identity, roomID string) (sent bool) {
	roomID = strings.TrimSpace(roomID)
	ctx := m.logg.WithRoomID(m.logCtx, roomID)
	if roomID == "" {
		m.logg.Warn(ctx, "join ignored: empty room id")
		return false
	}

	m.mu.Lock()
	if m.state != Connected || m.conn == nil {
		m.mu.Unlock()
		m.logg.Warn(ctx, "join ignored: not connected to notification service")
		return false
	}
	conn := m.conn
	if identity = strings.TrimSpace(identity); identity == "" {
		identity = m.identity
	}
	if !slices.Contains(m.interest, roomID) {
		m.interest = append(m.interest, roomID)
	}
	m.mu.Unlock()

	if err := m.emit(conn, EventJoinCourse, joinCourseRequest{UserID: wireID(identity), CourseID: wireID(roomID)}); err != nil {
		m.logg.Error(ctx, "join-course send failed", err)
		return false
	}
	return true
}

// LeaveCourse asks the server to drop roomID and reports whether the request
// went out. Without a live connection it only logs.
func (m *Manager) LeaveCourse(roomID string) (sent bool) {
	roomID = strings.TrimSpace(roomID)
	ctx := m.logg.WithRoomID(m.logCtx, roomID)
	if roomID == "" {
		m.logg.Warn(ctx, "leave ignored: empty room id")
		return false
	}

	m.mu.Lock()
	if m.state != Connected || m.conn == nil {
		m.mu.Unlock()
		m.logg.Warn(ctx, "leave ignored: not connected to notification service")
		return false
	}
	conn := m.conn
	drop := []string{roomID}
	m.interest = withoutRooms(m.interest, drop)
	m.accepted = withoutRooms(m.accepted, drop)
	m.mu.Unlock()

	if err := m.emit(conn, EventLeaveCourse, wireID(roomID)); err != nil {
		m.logg.Error(ctx, "leave-course send failed", err)
		return false
	}
	return true
}

func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Identity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Rooms returns the accepted and rejected rooms of the latest join ack.
func (m *Manager) Rooms() (accepted, rejected []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.accepted), slices.Clone(m.rejected)
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:    m.state,
		Identity: m.identity,
		Interest: slices.Clone(m.interest),
		Accepted: slices.Clone(m.accepted),
		Rejected: slices.Clone(m.rejected),
	}
}

func (m *Manager) ListenerCount() int {
	return m.listeners.len()
}

func (m *Manager) run(ctx context.Context, gen uint64) {
	defer m.runs.Done()
	for {
		conn, hs, ok := m.dialWithRetry(ctx, gen)
		if !ok {
			return
		}
		err := m.serve(ctx, gen, conn, hs)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}

		if errors.Is(err, errServerDisconnected) {
			if m.apply(gen, DisconnectRequested{}) {
				m.metrics.SetConnected(false)
				m.logg.Warn(ctx, "notification service ended the session; not reconnecting")
			}
			return
		}

		if !m.apply(gen, TransportDisconnected{Err: err}) {
			return
		}
		m.metrics.SetConnected(false)
		m.logg.Warn(m.withError(ctx, err), "notification connection lost; reconnecting")

		if !sleepCtx(ctx, m.delay) {
			return
		}
		if !m.apply(gen, RetryStarted{Attempt: 1}) {
			return
		}
	}
}

// dialWithRetry makes up to m.attempts handshake attempts spaced by m.delay.
func (m *Manager) dialWithRetry(ctx context.Context, gen uint64) (Conn, handshakeResult, bool) {
	for attempt := 1; ; attempt++ {
		started := m.now()
		conn, hs, err := m.handshake(ctx)
		if err == nil {
			m.metrics.IncDial(true)
			m.metrics.ObserveHandshake(m.now().Sub(started))
			return conn, hs, true
		}
		if ctx.Err() != nil {
			return nil, handshakeResult{}, false
		}

		m.metrics.IncDial(false)
		attemptCtx := m.logg.WithFields(m.withError(ctx, err), map[string]any{
			"attempt":      attempt,
			"max_attempts": m.attempts,
		})
		m.logg.Warn(attemptCtx, "notification service dial failed")
		if !m.apply(gen, DialFailed{Attempt: attempt, Err: err}) {
			return nil, handshakeResult{}, false
		}

		if attempt >= m.attempts {
			if m.apply(gen, RetriesExhausted{Attempts: attempt}) {
				m.logg.Warn(attemptCtx, "notification service unreachable; waiting for the next connect")
			}
			return nil, handshakeResult{}, false
		}
		if !sleepCtx(ctx, m.delay) {
			return nil, handshakeResult{}, false
		}
		if !m.apply(gen, RetryStarted{Attempt: attempt + 1}) {
			return nil, handshakeResult{}, false
		}
	}
}

type handshakeResult struct {
	open socketio.Open
	sid  string
}

func (m *Manager) handshake(ctx context.Context) (Conn, handshakeResult, error) {
	hctx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
	defer cancel()

	conn, err := m.dialer.Dial(hctx, m.endpoint)
	if err != nil {
		return nil, handshakeResult{}, err
	}
	stop := context.AfterFunc(hctx, func() { _ = conn.Close() })
	hs, err := negotiate(conn)
	if !stop() {
		_ = conn.Close()
		return nil, handshakeResult{}, fmt.Errorf("handshake aborted: %w", hctx.Err())
	}
	if err != nil {
		_ = conn.Close()
		return nil, handshakeResult{}, err
	}
	return conn, hs, nil
}

// negotiate reads the engine OPEN frame and completes the namespace connect.
func negotiate(conn Conn) (handshakeResult, error) {
	text, err := conn.ReadText()
	if err != nil {
		return handshakeResult{}, err
	}
	frame, err := socketio.DecodeFrame(text)
	if err != nil {
		return handshakeResult{}, err
	}
	if frame.Type != socketio.EngineOpen {
		return handshakeResult{}, errUnexpectedOpen
	}
	open, err := socketio.DecodeOpen(frame.Data)
	if err != nil {
		return handshakeResult{}, err
	}

	connect, err := socketio.EncodeConnect(socketio.DefaultNamespace, nil)
	if err != nil {
		return handshakeResult{}, err
	}
	if err := conn.WriteText(connect); err != nil {
		return handshakeResult{}, err
	}

	for {
		text, err := conn.ReadText()
		if err != nil {
			return handshakeResult{}, err
		}
		frame, err := socketio.DecodeFrame(text)
		if err != nil {
			return handshakeResult{}, err
		}
		switch frame.Type {
		case socketio.EnginePing:
			if err := conn.WriteText(socketio.EncodePong()); err != nil {
				return handshakeResult{}, err
			}
		case socketio.EngineClose:
			return handshakeResult{}, errServerClosed
		case socketio.EngineMessage:
			p, err := socketio.DecodePacket(frame.Data)
			if err != nil {
				return handshakeResult{}, err
			}
			if p.Namespace != socketio.DefaultNamespace {
				continue
			}
			switch p.Type {
			case socketio.PacketConnect:
				return handshakeResult{open: open, sid: p.SID()}, nil
			case socketio.PacketConnectError:
				return handshakeResult{}, fmt.Errorf("%w: %s", errConnectRejected, p.ConnectError())
			}
		}
	}
}

func (m *Manager) serve(ctx context.Context, gen uint64, conn Conn, hs handshakeResult) error {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return context.Canceled
	}
	m.state = Transition(m.state, TransportConnected{SID: hs.sid})
	m.conn = conn
	identity := m.identity
	interest := slices.Clone(m.interest)
	m.mu.Unlock()

	m.metrics.SetConnected(true)
	m.logg.Info(m.logg.WithField(ctx, "sid", hs.sid), "connected to notification service")

	join := joinCoursesRequest{UserID: wireID(identity), CourseIDs: toWireIDs(interest)}
	if err := m.emit(conn, EventJoinCourses, join); err != nil {
		return fmt.Errorf("send %s: %w", EventJoinCourses, err)
	}

	window := hs.open.HeartbeatWindow()
	var watchdog *time.Timer
	if window > 0 {
		watchdog = time.AfterFunc(window, func() { _ = conn.Close() })
		defer watchdog.Stop()
	}

	for {
		text, err := conn.ReadText()
		if err != nil {
			return err
		}
		if watchdog != nil {
			watchdog.Reset(window)
		}

		frame, err := socketio.DecodeFrame(text)
		if err != nil {
			m.logg.Debug(m.withError(ctx, err), "skipping undecodable frame")
			continue
		}
		switch frame.Type {
		case socketio.EnginePing:
			if err := conn.WriteText(socketio.EncodePong()); err != nil {
				return err
			}
		case socketio.EngineClose:
			return errServerClosed
		case socketio.EngineMessage:
			if err := m.handlePacket(ctx, gen, frame.Data); err != nil {
				return err
			}
		}
	}
}

func (m *Manager) handlePacket(ctx context.Context, gen uint64, data string) error {
	p, err := socketio.DecodePacket(data)
	if err != nil {
		m.logg.Debug(m.withError(ctx, err), "skipping undecodable packet")
		return nil
	}
	if p.Namespace != socketio.DefaultNamespace {
		return nil
	}
	switch p.Type {
	case socketio.PacketDisconnect:
		return errServerDisconnected
	case socketio.PacketEvent:
		name, args, err := p.Event()
		if err != nil {
			m.logg.Warn(m.withError(ctx, err), "skipping malformed event")
			return nil
		}
		m.handleEvent(ctx, gen, name, args)
	}
	return nil
}

func (m *Manager) handleEvent(ctx context.Context, gen uint64, name string, args []json.RawMessage) {
	m.metrics.IncEvent(name)
	var payload json.RawMessage
	if len(args) > 0 {
		payload = args[0]
	}

	switch name {
	case EventCoursesJoined:
		m.onCoursesJoined(ctx, gen, payload)
	case EventEnrollmentError:
		var body enrollmentError
		_ = json.Unmarshal(payload, &body)
		msg := strings.TrimSpace(body.Message)
		if msg == "" {
			msg = "enrollment failed"
		}
		m.logg.Error(ctx, "course enrollment rejected by notification service", errors.New(msg))
	case EventNewAssignment:
		m.dispatch(ctx, gen, Push{Event: name, Identity: m.Identity(), Payload: payload, ReceivedAt: m.now()})
	default:
		m.logg.Debug(m.logg.WithField(ctx, "event", name), "ignoring unhandled server event")
	}
}

func (m *Manager) onCoursesJoined(ctx context.Context, gen uint64, payload json.RawMessage) {
	var ack coursesJoined
	if err := json.Unmarshal(payload, &ack); err != nil {
		m.logg.Warn(m.withError(ctx, err), "malformed courses-joined ack")
		return
	}
	rejected := normalizeRooms(types.FlexStrings(ack.Rejected))

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	accepted := withoutRooms(m.interest, rejected)
	if ack.Enrolled != nil {
		accepted = normalizeRooms(types.FlexStrings(ack.Enrolled))
	}
	m.state = Transition(m.state, JoinAcknowledged{Accepted: accepted, Rejected: rejected})
	m.accepted, m.rejected = accepted, rejected
	m.mu.Unlock()

	ackCtx := m.logg.WithField(ctx, "accepted_courses", accepted)
	m.logg.Info(ackCtx, "joined course rooms")
	if len(rejected) > 0 {
		m.logg.Warn(m.logg.WithField(ackCtx, "rejected_courses", rejected), "some course rooms were rejected")
	}
}

// dispatch hands push to every listener in registration order and stops as
// soon as the connection it came from is no longer current.
func (m *Manager) dispatch(ctx context.Context, gen uint64, push Push) {
	for _, entry := range m.listeners.snapshot() {
		if !m.current(gen) {
			m.logg.Debug(ctx, "dropping push after disconnect")
			return
		}
		m.deliver(ctx, entry, push)
	}
}

func (m *Manager) deliver(ctx context.Context, entry listenerEntry, push Push) {
	listenerCtx := m.logg.WithField(ctx, "listener", entry.token)
	defer func() {
		if r := recover(); r != nil {
			m.metrics.IncListenerFailure()
			m.logg.Error(listenerCtx, "notification listener panicked", fmt.Errorf("panic: %v", r))
		}
	}()
	if err := entry.fn(ctx, push); err != nil {
		m.metrics.IncListenerFailure()
		m.logg.Error(listenerCtx, "notification listener failed", err)
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

// apply feeds ev to the state machine if gen is still the live connection.
func (m *Manager) apply(gen uint64, ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return false
	}
	m.state = Transition(m.state, ev)
	switch ev.(type) {
	case TransportDisconnected:
		m.conn = nil
		m.accepted, m.rejected = nil, nil
	case RetriesExhausted, DisconnectRequested:
		m.conn = nil
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
	}
	return true
}

func (m *Manager) emit(conn Conn, name string, args ...any) error {
	frame, err := socketio.EncodeEvent(socketio.DefaultNamespace, name, args...)
	if err != nil {
		return err
	}
	return conn.WriteText(frame)
}

func (m *Manager) withError(ctx context.Context, err error) context.Context {
	if err == nil {
		return ctx
	}
	return m.logg.WithField(ctx, "error", err.Error())
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
