package request

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CultureM8/culture-mate-chat-bridge/internal/apperr"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/logger"
)

func newTestStore() *Store {
	return NewStore(NewMemoryRepository(), nil, logger.Nop())
}

func TestCreateValidation(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Create(ctx, "u1", "u2", "p1", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = s.Create(ctx, "u1", "u2", "p1", strings.Repeat("가", MaxMessageRunes+1))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = s.Create(ctx, "u1", "u1", "p1", "hi")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	req, err := s.Create(ctx, "u1", "u2", "p1", strings.Repeat("가", MaxMessageRunes))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.Empty(t, req.RoomID)
}

func TestAcceptIdempotent(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	req, err := s.Create(ctx, "u1", "u2", "p1", "hi")
	require.NoError(t, err)

	first, err := s.Accept(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, first.Status)

	_, err = s.SetRoom(ctx, req.ID, "room-9")
	require.NoError(t, err)

	second, err := s.Accept(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, second.Status)
	assert.Equal(t, "room-9", second.RoomID, "repeat accept returns the prior result")
}

func TestRejectThenAcceptFails(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	req, err := s.Create(ctx, "u1", "u2", "p1", "hi")
	require.NoError(t, err)

	rejected, err := s.Reject(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)

	// repeating the same transition is a no-op
	again, err := s.Reject(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, again.Status)

	_, err = s.Accept(ctx, req.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestAcceptUnknown(t *testing.T) {
	s := newTestStore()
	_, err := s.Accept(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSetRoomAtMostOnce(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	req, err := s.Create(ctx, "u1", "u2", "p1", "hi")
	require.NoError(t, err)

	// room cannot be set while pending
	_, err = s.SetRoom(ctx, req.ID, "room-1")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = s.Accept(ctx, req.ID)
	require.NoError(t, err)

	r, err := s.SetRoom(ctx, req.ID, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "room-1", r.RoomID)

	r, err = s.SetRoom(ctx, req.ID, "room-2")
	require.NoError(t, err)
	assert.Equal(t, "room-1", r.RoomID, "room id is written at most once")
}

func TestConcurrentAcceptSingleTransition(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	req, err := s.Create(ctx, "u1", "u2", "p1", "hi")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*Request, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Accept(ctx, req.ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		require.NoError(t, errs[i], "double-click accept must be a no-op, not an error")
		assert.Equal(t, StatusAccepted, results[i].Status)
	}
}

func TestListForNewestFirst(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	a, err := s.Create(ctx, "u1", "u2", "p1", "first")
	require.NoError(t, err)
	// nudge CreatedAt apart; the memory repo sorts on it
	time.Sleep(2 * time.Millisecond)
	b, err := s.Create(ctx, "u1", "u2", "p2", "second")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = s.Create(ctx, "u3", "u1", "p3", "other direction")
	require.NoError(t, err)

	sent, err := s.ListFor(ctx, "u1", DirectionSent)
	require.NoError(t, err)
	require.Len(t, sent, 2)
	assert.Equal(t, b.ID, sent[0].ID)
	assert.Equal(t, a.ID, sent[1].ID)

	received, err := s.ListFor(ctx, "u2", DirectionReceived)
	require.NoError(t, err)
	assert.Len(t, received, 2)

	_, err = s.ListFor(ctx, "u1", Direction("sideways"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUnreadCount(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	r1, err := s.Create(ctx, "u1", "u2", "p1", "hi")
	require.NoError(t, err)
	_, err = s.Create(ctx, "u3", "u2", "p2", "hey")
	require.NoError(t, err)

	n, err := s.UnreadCount(ctx, "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = s.Reject(ctx, r1.ID)
	require.NoError(t, err)

	n, err = s.UnreadCount(ctx, "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
