package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CultureM8/culture-mate-chat-bridge/internal/apperr"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/logger"
)

// fakeConn is a scriptable broker connection. Frames queued on incoming
// are delivered to ReadMessage; writes are recorded.
type fakeConn struct {
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once

	mu     sync.Mutex
	writes []Frame
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.incoming:
		return 1, b, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.mu.Lock()
	c.writes = append(c.writes, f)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) deliver(t *testing.T, f Frame) {
	t.Helper()
	b, err := json.Marshal(f)
	require.NoError(t, err)
	c.incoming <- b
}

func (c *fakeConn) written() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.writes...)
}

// fakeDialer hands out a fresh conn per attempt, optionally failing the
// first failures attempts.
type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	failures int
	attempts int
}

func (d *fakeDialer) dial(context.Context, string, Credentials) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.attempts <= d.failures {
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) attemptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func testConfig() Config {
	return Config{
		Endpoint:             "ws://broker/websocket",
		ConnectTimeout:       time.Second,
		PublishTimeout:       time.Second,
		ReconnectBase:        time.Millisecond,
		ReconnectMax:         5 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}
}

func collectStatuses(t *testing.T, events <-chan Event, want []Status) {
	t.Helper()
	for _, expected := range want {
		select {
		case ev := <-events:
			assert.Equal(t, expected, ev.Status)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for status %q", expected)
		}
	}
}

func TestConnectAndPublish(t *testing.T) {
	d := &fakeDialer{}
	s := NewSession(testConfig(), d.dial, logger.Nop())

	require.NoError(t, s.Connect(context.Background(), Credentials{Token: "t"}))
	assert.Equal(t, StatusConnected, s.Status())
	collectStatuses(t, s.Events(), []Status{StatusConnecting, StatusConnected})

	require.NoError(t, s.Publish(context.Background(), PubDestination("7"), []byte(`{"roomId":"7"}`)))
	writes := d.conn(0).written()
	require.Len(t, writes, 1)
	assert.Equal(t, FrameSend, writes[0].Type)
	assert.Equal(t, "/app/chatroom/7/send", writes[0].Destination)

	require.NoError(t, s.Close())
}

func TestPublishWhileDisconnected(t *testing.T) {
	s := NewSession(testConfig(), (&fakeDialer{}).dial, logger.Nop())
	err := s.Publish(context.Background(), PubDestination("7"), []byte(`{}`))
	assert.ErrorIs(t, err, apperr.ErrNotConnected)
}

func TestSubscribeDispatchesMatchingDestination(t *testing.T) {
	d := &fakeDialer{}
	s := NewSession(testConfig(), d.dial, logger.Nop())
	require.NoError(t, s.Connect(context.Background(), Credentials{}))

	got := make(chan []byte, 1)
	_, err := s.Subscribe(SubDestination("7"), func(p []byte) { got <- p })
	require.NoError(t, err)

	d.conn(0).deliver(t, Frame{Type: FrameMessage, Destination: SubDestination("7"), Payload: json.RawMessage(`{"content":"hey"}`)})
	d.conn(0).deliver(t, Frame{Type: FrameMessage, Destination: SubDestination("8"), Payload: json.RawMessage(`{"content":"other room"}`)})

	select {
	case p := <-got:
		assert.JSONEq(t, `{"content":"hey"}`, string(p))
	case <-time.After(time.Second):
		t.Fatal("subscription handler never invoked")
	}
	select {
	case p := <-got:
		t.Fatalf("handler received foreign destination payload: %s", p)
	case <-time.After(50 * time.Millisecond):
	}
	s.Close()
}

func TestSubscribeWhileDisconnectedFails(t *testing.T) {
	s := NewSession(testConfig(), (&fakeDialer{}).dial, logger.Nop())
	_, err := s.Subscribe(SubDestination("7"), func([]byte) {})
	assert.ErrorIs(t, err, apperr.ErrNotConnected)
}

func TestReconnectSequenceAndResubscribe(t *testing.T) {
	d := &fakeDialer{}
	s := NewSession(testConfig(), d.dial, logger.Nop())
	require.NoError(t, s.Connect(context.Background(), Credentials{Token: "t"}))
	_, err := s.Subscribe(SubDestination("7"), func([]byte) {})
	require.NoError(t, err)

	collectStatuses(t, s.Events(), []Status{StatusConnecting, StatusConnected})

	// simulate unexpected connection loss
	d.conn(0).Close()

	collectStatuses(t, s.Events(), []Status{StatusDisconnected, StatusConnecting, StatusConnected})
	assert.Equal(t, StatusConnected, s.Status())
	assert.Equal(t, 2, d.attemptCount())

	// the new connection carries the old subscription
	writes := d.conn(1).written()
	require.NotEmpty(t, writes)
	assert.Equal(t, FrameSubscribe, writes[0].Type)
	assert.Equal(t, SubDestination("7"), writes[0].Destination)
	s.Close()
}

func TestReconnectExhaustionIsTerminal(t *testing.T) {
	d := &fakeDialer{failures: 0}
	s := NewSession(testConfig(), d.dial, logger.Nop())
	require.NoError(t, s.Connect(context.Background(), Credentials{}))
	collectStatuses(t, s.Events(), []Status{StatusConnecting, StatusConnected})

	// every redial fails from now on
	d.mu.Lock()
	d.failures = 1 << 30
	d.mu.Unlock()
	d.conn(0).Close()

	collectStatuses(t, s.Events(), []Status{
		StatusDisconnected,
		StatusConnecting,
		StatusConnecting,
		StatusConnecting,
		StatusFailed,
	})
	assert.Equal(t, StatusFailed, s.Status())

	// terminal: no further attempts without caller intervention
	attempts := d.attemptCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, attempts, d.attemptCount())
}

func TestAuthFailureIsFatalNotRetried(t *testing.T) {
	d := &fakeDialer{}
	s := NewSession(testConfig(), d.dial, logger.Nop())
	require.NoError(t, s.Connect(context.Background(), Credentials{Token: "expired"}))
	collectStatuses(t, s.Events(), []Status{StatusConnecting, StatusConnected})

	d.conn(0).deliver(t, Frame{Type: FrameError, Error: "JWT expired"})

	collectStatuses(t, s.Events(), []Status{StatusAuthFailed})
	assert.Equal(t, StatusAuthFailed, s.Status())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.attemptCount(), "auth failure must not trigger backoff retries")
}

func TestCallerCloseDoesNotReconnect(t *testing.T) {
	d := &fakeDialer{}
	s := NewSession(testConfig(), d.dial, logger.Nop())
	require.NoError(t, s.Connect(context.Background(), Credentials{}))
	require.NoError(t, s.Close())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.attemptCount())
	assert.Equal(t, StatusDisconnected, s.Status())
}

func TestConnectFailsFast(t *testing.T) {
	d := &fakeDialer{failures: 1 << 30}
	s := NewSession(testConfig(), d.dial, logger.Nop())
	err := s.Connect(context.Background(), Credentials{})
	assert.ErrorIs(t, err, apperr.ErrTransport)
	assert.Equal(t, StatusDisconnected, s.Status())
}
