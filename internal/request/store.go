package request

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CultureM8/culture-mate-chat-bridge/internal/apperr"
)

// EventSink receives lifecycle change notifications. Implementations must
// tolerate being called with a nil-safe best-effort contract: a sink error
// never fails the originating operation.
type EventSink interface {
	RequestChanged(ctx context.Context, eventType string, r *Request)
}

// Store owns the request lifecycle state machine. Status transitions are
// one-way (pending to accepted or rejected) and idempotent: repeating an
// already-applied transition returns the stored result instead of failing.
type Store struct {
	repo   Repository
	events EventSink
	log    *zap.SugaredLogger

	// serializes transitions so a double-click accept cannot race itself
	mu sync.Mutex
}

func NewStore(repo Repository, events EventSink, log *zap.SugaredLogger) *Store {
	return &Store{repo: repo, events: events, log: log}
}

func (s *Store) Create(ctx context.Context, from, to, postID, message string) (*Request, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperr.Validation("request message is empty")
	}
	if utf8.RuneCountInString(message) > MaxMessageRunes {
		return nil, apperr.Validation("request message exceeds %d characters", MaxMessageRunes)
	}
	if from == "" || to == "" {
		return nil, apperr.Validation("participant ids are required")
	}
	if from == to {
		return nil, apperr.Validation("cannot request to join your own listing")
	}

	now := time.Now().UTC()
	r := &Request{
		ID:        "req_" + uuid.NewString(),
		FromID:    from,
		ToID:      to,
		PostID:    postID,
		Message:   message,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, r); err != nil {
		return nil, err
	}
	s.emit(ctx, "created", r)
	return r, nil
}

// Accept transitions a pending request to accepted. Accepting an already
// accepted request is a no-op returning the stored request (with whatever
// room was resolved the first time). Accepting a rejected request fails.
func (s *Store) Accept(ctx context.Context, id string) (*Request, error) {
	return s.transition(ctx, id, StatusAccepted)
}

// Reject transitions a pending request to rejected. Idempotent like Accept.
func (s *Store) Reject(ctx context.Context, id string) (*Request, error) {
	return s.transition(ctx, id, StatusRejected)
}

func (s *Store) transition(ctx context.Context, id string, target Status) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == target {
		return r, nil
	}
	if r.Status != StatusPending {
		return nil, apperr.InvalidState("request %s is %s, cannot become %s", id, r.Status, target)
	}
	r.Status = target
	r.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	s.emit(ctx, string(target), r)
	return r, nil
}

// SetRoom records the resolved room on an accepted request. The room id is
// written at most once; later calls with any value are no-ops.
func (s *Store) SetRoom(ctx context.Context, id, roomID string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusAccepted {
		return nil, apperr.InvalidState("request %s is %s, room can only be set after acceptance", id, r.Status)
	}
	if r.RoomID != "" {
		return r, nil
	}
	r.RoomID = roomID
	r.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Request, error) {
	return s.repo.Get(ctx, id)
}

// ListFor returns the participant's sent or received requests, newest first.
func (s *Store) ListFor(ctx context.Context, participantID string, dir Direction) ([]*Request, error) {
	if dir != DirectionSent && dir != DirectionReceived {
		return nil, apperr.Validation("direction must be %q or %q", DirectionSent, DirectionReceived)
	}
	return s.repo.ListByParticipant(ctx, participantID, dir)
}

// UnreadCount counts pending requests addressed to the participant.
func (s *Store) UnreadCount(ctx context.Context, participantID string) (int64, error) {
	return s.repo.CountPending(ctx, participantID)
}

func (s *Store) emit(ctx context.Context, eventType string, r *Request) {
	if s.events == nil {
		return
	}
	s.events.RequestChanged(ctx, eventType, r)
}
