package transport

import "encoding/json"

// Destination naming scheme of the messaging backend: one subscribe
// destination per room, one publish destination accepting envelopes.
func SubDestination(roomID string) string { return "/topic/chatroom/" + roomID }
func PubDestination(roomID string) string { return "/app/chatroom/" + roomID + "/send" }

// Frame is the wire unit exchanged with the broker.
type Frame struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Error       string          `json:"error,omitempty"`
}

const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameSend        = "send"
	FrameMessage     = "message"
	FrameError       = "error"
)

// Envelope is the publish payload the backend accepts.
type Envelope struct {
	RoomID   string `json:"roomId"`
	SenderID string `json:"senderId"`
	Content  string `json:"content"`
}
