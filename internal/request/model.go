package request

import "time"

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// MaxMessageRunes bounds the free-text body of a companion request.
const MaxMessageRunes = 200

// Request is a companion-join proposal from one participant to another.
// RoomID stays empty until the request is accepted and a chat room has
// been resolved for it.
type Request struct {
	ID        string    `bson:"_id" json:"requestId"`
	FromID    string    `bson:"from_id" json:"fromId"`
	ToID      string    `bson:"to_id" json:"toId"`
	PostID    string    `bson:"post_id" json:"postId"`
	Message   string    `bson:"message" json:"message"`
	Status    Status    `bson:"status" json:"status"`
	RoomID    string    `bson:"room_id,omitempty" json:"roomId,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

func (r *Request) clone() *Request {
	cp := *r
	return &cp
}
