package events

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// RoomReadyEvent tells listeners a request's chat room is live so the UI
// can navigate to the conversation.
type RoomReadyEvent struct {
	RequestID string `json:"requestId"`
	RoomID    string `json:"roomId"`
	PostID    string `json:"postId"`
}

// RoomReadyPublisher emits room-ready signals over NATS. Nil-safe so the
// bridge runs without a NATS server in development.
type RoomReadyPublisher struct {
	nc      *nats.Conn
	subject string
	log     *zap.SugaredLogger
}

func NewRoomReadyPublisher(url, subject string, log *zap.SugaredLogger) (*RoomReadyPublisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &RoomReadyPublisher{nc: nc, subject: subject, log: log}, nil
}

func (p *RoomReadyPublisher) RoomReady(ev RoomReadyEvent) {
	if p == nil || p.nc == nil {
		return
	}
	b, _ := json.Marshal(ev)
	if err := p.nc.Publish(p.subject, b); err != nil {
		p.log.Errorw("nats publish room ready", "request", ev.RequestID, "error", err)
	}
}

func (p *RoomReadyPublisher) Close() {
	if p != nil && p.nc != nil {
		p.nc.Close()
	}
}
