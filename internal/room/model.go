package room

import (
	"context"
	"time"
)

// Room is a chat channel as reported by the room listing service. The
// backend synthesizes names that encode participant and post identifiers,
// which is what the Resolver matches against.
type Room struct {
	ID   string `json:"roomId"`
	Name string `json:"roomName"`
}

// HistoryMessage is one persisted message from the history service,
// ordered oldest-first in responses.
type HistoryMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Lister exposes the rooms visible to the current identity.
type Lister interface {
	ListRooms(ctx context.Context) ([]Room, error)
}

// Joiner registers a participant in a room.
type Joiner interface {
	JoinRoom(ctx context.Context, roomID, participantID string) error
}

// Creator makes a fresh room when resolution finds nothing to reuse.
type Creator interface {
	CreateRoom(ctx context.Context) (Room, error)
}

// HistoryFetcher loads the persisted messages of a room, oldest first.
type HistoryFetcher interface {
	GetHistory(ctx context.Context, roomID string) ([]HistoryMessage, error)
}
