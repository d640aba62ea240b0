package transport

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"go.uber.org/zap"

	"github.com/CultureM8/culture-mate-chat-bridge/internal/apperr"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/metrics"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusAuthFailed   Status = "auth-failed"
	StatusFailed       Status = "failed"
)

// Event is an asynchronous connection-status change.
type Event struct {
	Status Status
	Err    error
}

// Handler receives the payload of every message delivered on a
// subscription's destination. Handlers run on the session's read loop.
type Handler func(payload []byte)

type Config struct {
	Endpoint             string
	ConnectTimeout       time.Duration
	PublishTimeout       time.Duration
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int
}

// Session owns one persistent connection to the messaging endpoint. A
// session is ephemeral: closing the chat view destroys it, and a later
// reopen creates a new session rather than reviving this one.
type Session struct {
	cfg  Config
	dial Dialer
	log  *zap.SugaredLogger

	mu     sync.Mutex
	state  Status
	conn   Conn
	creds  Credentials
	subs   []*Subscription
	closed bool
	gen    int

	events chan Event
}

// Subscription binds a destination to a handler until unsubscribed.
type Subscription struct {
	Destination string
	handler     Handler
	s           *Session
}

func NewSession(cfg Config, dial Dialer, log *zap.SugaredLogger) *Session {
	if cfg.ReconnectBase == 0 {
		cfg.ReconnectBase = 3 * time.Second
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Session{
		cfg:    cfg,
		dial:   dial,
		log:    log,
		state:  StatusDisconnected,
		events: make(chan Event, 32),
	}
}

// Events delivers status changes. The channel is buffered; stale events
// are dropped rather than blocking the transport.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the connection. The dial is bounded by ConnectTimeout so
// a dead endpoint fails fast instead of hanging. Handshake rejection is
// returned synchronously and also emitted as a status event.
func (s *Session) Connect(ctx context.Context, creds Credentials) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apperr.Transport("session already closed")
	}
	if s.state == StatusConnected {
		s.mu.Unlock()
		return nil
	}
	s.creds = creds
	s.state = StatusConnecting
	s.mu.Unlock()
	s.emit(Event{Status: StatusConnecting})

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	conn, err := s.dial(dialCtx, s.cfg.Endpoint, creds)
	if err != nil {
		s.mu.Lock()
		s.state = StatusDisconnected
		s.mu.Unlock()
		s.emit(Event{Status: StatusDisconnected, Err: err})
		return apperr.Transport("connect: %v", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return apperr.Transport("session closed during connect")
	}
	s.conn = conn
	s.state = StatusConnected
	s.gen++
	gen := s.gen
	resub := append([]*Subscription(nil), s.subs...)
	s.mu.Unlock()

	// flush subscriptions queued while connecting, in call order
	for _, sub := range resub {
		if err := s.writeFrame(conn, Frame{Type: FrameSubscribe, Destination: sub.Destination}); err != nil {
			s.log.Warnw("subscribe flush failed", "destination", sub.Destination, "error", err)
		}
	}

	metrics.TransportConnects.Inc()
	s.emit(Event{Status: StatusConnected})
	go s.readLoop(conn, gen)
	return nil
}

// Subscribe registers a handler for a destination. Calls made while
// connecting are queued and flushed in order once the connection
// completes; calls on a disconnected session fail.
func (s *Session) Subscribe(destination string, h Handler) (*Subscription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperr.NotConnected("session closed")
	}
	if s.state != StatusConnected && s.state != StatusConnecting {
		s.mu.Unlock()
		return nil, apperr.NotConnected("cannot subscribe while %s", s.state)
	}
	sub := &Subscription{Destination: destination, handler: h, s: s}
	s.subs = append(s.subs, sub)
	conn := s.conn
	connected := s.state == StatusConnected
	s.mu.Unlock()

	if connected {
		if err := s.writeFrame(conn, Frame{Type: FrameSubscribe, Destination: destination}); err != nil {
			return nil, apperr.Transport("subscribe: %v", err)
		}
	}
	return sub, nil
}

func (sub *Subscription) Unsubscribe() {
	s := sub.s
	s.mu.Lock()
	for i, candidate := range s.subs {
		if candidate == sub {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
	conn := s.conn
	connected := s.state == StatusConnected
	s.mu.Unlock()

	if connected {
		_ = s.writeFrame(conn, Frame{Type: FrameUnsubscribe, Destination: sub.Destination})
	}
}

// Publish sends payload to destination. Not-connected is a hard error:
// callers surface it rather than dropping the message.
func (s *Session) Publish(_ context.Context, destination string, payload []byte) error {
	s.mu.Lock()
	if s.state != StatusConnected {
		state := s.state
		s.mu.Unlock()
		metrics.FailedPublishes.Inc()
		return apperr.NotConnected("publish while %s", state)
	}
	conn := s.conn
	s.mu.Unlock()

	if err := s.writeFrame(conn, Frame{Type: FrameSend, Destination: destination, Payload: payload}); err != nil {
		metrics.FailedPublishes.Inc()
		return apperr.Transport("publish: %v", err)
	}
	metrics.PublishedMessages.Inc()
	return nil
}

// Close tears the session down. In-flight publishes may still fail after
// close; their results are discarded. Close never triggers reconnection.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = StatusDisconnected
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.emit(Event{Status: StatusDisconnected})
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *Session) writeFrame(conn Conn, f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.PublishTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Session) readLoop(conn Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.onReadClosed(conn, gen, err)
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Debugw("dropping unparseable frame", "error", err)
			continue
		}
		switch f.Type {
		case FrameMessage:
			s.dispatch(f)
		case FrameError:
			if isAuthFailure(f) {
				metrics.TransportAuthFailures.Inc()
				s.fatalAuthFailure(conn, f)
				return
			}
			s.log.Errorw("broker error frame", "error", f.Error)
			s.emit(Event{Status: s.Status(), Err: apperr.Transport("broker: %s", f.Error)})
		}
	}
}

func (s *Session) dispatch(f Frame) {
	s.mu.Lock()
	var handlers []Handler
	for _, sub := range s.subs {
		if sub.Destination == f.Destination {
			handlers = append(handlers, sub.handler)
		}
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(f.Payload)
	}
}

// fatalAuthFailure stops the session without retrying. Re-authentication
// is the caller's decision, signalled via the auth-failed status.
func (s *Session) fatalAuthFailure(conn Conn, f Frame) {
	s.mu.Lock()
	s.state = StatusAuthFailed
	s.conn = nil
	s.mu.Unlock()
	conn.Close()
	s.emit(Event{Status: StatusAuthFailed, Err: apperr.AuthFailure("broker: %s", f.Error)})
}

func (s *Session) onReadClosed(conn Conn, gen int, cause error) {
	s.mu.Lock()
	if s.closed || gen != s.gen || s.state == StatusAuthFailed {
		s.mu.Unlock()
		return
	}
	s.state = StatusDisconnected
	s.conn = nil
	s.mu.Unlock()
	conn.Close()

	s.emit(Event{Status: StatusDisconnected, Err: cause})
	s.reconnect(gen)
}

// reconnect retries with bounded backoff (base delay scaled by attempt,
// capped) up to the configured attempt count. Exhaustion is terminal:
// the session enters the failed state and waits for caller intervention.
func (s *Session) reconnect(gen int) {
	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		delay := time.Duration(attempt) * s.cfg.ReconnectBase
		if delay > s.cfg.ReconnectMax {
			delay = s.cfg.ReconnectMax
		}
		time.Sleep(delay)

		s.mu.Lock()
		if s.closed || gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.state = StatusConnecting
		creds := s.creds
		s.mu.Unlock()

		metrics.TransportReconnects.Inc()
		s.emit(Event{Status: StatusConnecting})

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
		conn, err := s.dial(ctx, s.cfg.Endpoint, creds)
		cancel()
		if err != nil {
			s.log.Warnw("reconnect attempt failed", "attempt", attempt, "error", err)
			s.mu.Lock()
			s.state = StatusDisconnected
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conn = conn
		s.state = StatusConnected
		s.gen++
		newGen := s.gen
		resub := append([]*Subscription(nil), s.subs...)
		s.mu.Unlock()

		for _, sub := range resub {
			if err := s.writeFrame(conn, Frame{Type: FrameSubscribe, Destination: sub.Destination}); err != nil {
				s.log.Warnw("resubscribe failed", "destination", sub.Destination, "error", err)
			}
		}
		metrics.TransportConnects.Inc()
		s.emit(Event{Status: StatusConnected})
		go s.readLoop(conn, newGen)
		return
	}

	s.mu.Lock()
	s.state = StatusFailed
	s.mu.Unlock()
	s.emit(Event{Status: StatusFailed, Err: apperr.Transport("reconnect attempts exhausted")})
}

func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	default:
		// consumer moving slow, drop rather than block the transport
	}
}

// authFailureMarkers are the substrings the backend is known to put in
// error payloads when the handshake token is rejected.
var authFailureMarkers = []string{"JWT", "jwt", "token", "인증", "unauthorized", "Unauthorized"}

func isAuthFailure(f Frame) bool {
	text := f.Error + string(f.Payload)
	for _, marker := range authFailureMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
