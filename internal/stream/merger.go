package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CultureM8/culture-mate-chat-bridge/internal/room"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/transport"
)

type Origin string

const (
	OriginHistory   Origin = "history"
	OriginLive      Origin = "live"
	OriginLocalEcho Origin = "local-echo"
)

// Message is one entry of the merged room view.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Origin    Origin    `json:"origin"`
	Mine      bool      `json:"mine"`
	// Failed marks a local echo whose publish was rejected; it stays
	// visible so the sender can retry instead of silently losing it.
	Failed bool `json:"failed,omitempty"`
	// Confirmed marks a local echo matched by its server-side live copy.
	Confirmed bool `json:"confirmed,omitempty"`
}

// Publisher is the outbound half of the transport the merger needs.
type Publisher interface {
	Publish(ctx context.Context, destination string, payload []byte) error
}

// echoWindow bounds how old a pending local echo may be and still count
// as confirmed by a matching live message.
const echoWindow = 10 * time.Second

// Merger composes history, live pushes and local optimistic echoes into
// one append-only ordered view. All appends are serialized under one
// mutex: producers are the live-subscription callback and the local-echo
// path, and the visible ordering must never regress once shown.
//
// Echo reconciliation policy: collapse. A live message matching a pending
// echo by sender and content within echoWindow confirms the echo in place
// and is not appended a second time.
type Merger struct {
	roomID string
	selfID string
	pub    Publisher
	log    *zap.SugaredLogger

	mu          sync.Mutex
	messages    []Message
	seed        *Message
	initialSent bool
	onAppend    func(Message)
}

func NewMerger(roomID, selfID string, pub Publisher, log *zap.SugaredLogger) *Merger {
	return &Merger{roomID: roomID, selfID: selfID, pub: pub, log: log}
}

// Attach registers a callback for every append or in-place echo update
// and returns the messages already merged, atomically: nothing is lost
// or duplicated between the snapshot and the first callback. The
// callback runs with the merger lock held and must not block.
func (m *Merger) Attach(fn func(Message)) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAppend = fn
	return append([]Message(nil), m.messages...)
}

// SeedInitial places the request's original message at the head of the
// view so the conversation opens with it even before history loads.
func (m *Merger) SeedInitial(senderID, content string, at time.Time) {
	msg := Message{
		ID:        "initial-" + uuid.NewString(),
		RoomID:    m.roomID,
		SenderID:  senderID,
		Content:   content,
		Timestamp: at,
		Origin:    OriginHistory,
		Mine:      senderID == m.selfID,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seed = &msg
	m.append(msg)
}

// LoadHistory appends persisted messages. History arriving after live
// messages were already shown still goes to the end: a shown message
// never moves. Entries duplicating the seeded request message by sender
// and content are dropped so the first message is not doubled.
func (m *Merger) LoadHistory(hist []room.HistoryMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range hist {
		if m.seed != nil && h.SenderID == m.seed.SenderID && h.Content == m.seed.Content {
			continue
		}
		id := h.ID
		if id == "" {
			id = "hist-" + uuid.NewString()
		}
		m.append(Message{
			ID:        id,
			RoomID:    m.roomID,
			SenderID:  h.SenderID,
			Content:   h.Content,
			Timestamp: h.CreatedAt,
			Origin:    OriginHistory,
			Mine:      h.SenderID == m.selfID,
		})
	}
}

// HandleLive is the transport subscription handler for the room.
func (m *Merger) HandleLive(payload []byte) {
	var env transport.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		m.log.Debugw("dropping unparseable live message", "error", err)
		return
	}

	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	if env.SenderID == m.selfID {
		if i, ok := m.pendingEchoIndex(env.Content, now); ok {
			m.messages[i].Confirmed = true
			m.notify(m.messages[i])
			return
		}
	}
	m.append(Message{
		ID:        "srv-" + uuid.NewString(),
		RoomID:    m.roomID,
		SenderID:  env.SenderID,
		Content:   env.Content,
		Timestamp: now,
		Origin:    OriginLive,
		Mine:      env.SenderID == m.selfID,
	})
}

// SendLocal appends an optimistic echo and publishes the content. A
// failed publish marks the echo failed and returns the error; the echo
// is never removed.
func (m *Merger) SendLocal(ctx context.Context, content string) (Message, error) {
	msg := Message{
		ID:        "echo-" + uuid.NewString(),
		RoomID:    m.roomID,
		SenderID:  m.selfID,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Origin:    OriginLocalEcho,
		Mine:      true,
	}
	m.mu.Lock()
	m.append(msg)
	idx := len(m.messages) - 1
	m.mu.Unlock()

	payload, _ := json.Marshal(transport.Envelope{
		RoomID:   m.roomID,
		SenderID: m.selfID,
		Content:  content,
	})
	if err := m.pub.Publish(ctx, transport.PubDestination(m.roomID), payload); err != nil {
		m.mu.Lock()
		m.messages[idx].Failed = true
		failed := m.messages[idx]
		m.notify(failed)
		m.mu.Unlock()
		return failed, err
	}
	return msg, nil
}

// PublishInitial sends the request's original message into the resolved
// room at most once per session. The guard flips before the publish
// attempt so a slow publish racing a fast reconnect cannot fire twice.
func (m *Merger) PublishInitial(ctx context.Context, senderID, content string) error {
	m.mu.Lock()
	if m.initialSent {
		m.mu.Unlock()
		return nil
	}
	m.initialSent = true
	m.mu.Unlock()

	payload, _ := json.Marshal(transport.Envelope{
		RoomID:   m.roomID,
		SenderID: senderID,
		Content:  content,
	})
	return m.pub.Publish(ctx, transport.PubDestination(m.roomID), payload)
}

// Messages returns a snapshot of the merged view in visible order.
func (m *Merger) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// append and notify run with mu held.
func (m *Merger) append(msg Message) {
	m.messages = append(m.messages, msg)
	m.notify(msg)
}

func (m *Merger) notify(msg Message) {
	if m.onAppend != nil {
		m.onAppend(msg)
	}
}

// pendingEchoIndex finds the oldest unconfirmed, unfailed echo with the
// given content inside the reconciliation window. Caller holds mu.
func (m *Merger) pendingEchoIndex(content string, now time.Time) (int, bool) {
	for i, msg := range m.messages {
		if msg.Origin == OriginLocalEcho && !msg.Confirmed && !msg.Failed &&
			msg.Content == content && now.Sub(msg.Timestamp) <= echoWindow {
			return i, true
		}
	}
	return 0, false
}
