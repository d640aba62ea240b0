package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CultureM8/culture-mate-chat-bridge/internal/apperr"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/events"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/metrics"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/request"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/room"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/stream"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/transport"
)

// Identity is the acting participant plus the credential used for
// transport and collaborator calls on their behalf.
type Identity struct {
	ParticipantID string
	Token         string
}

// RoomReadySignal is emitted once an accepted request's room is usable.
type RoomReadySignal interface {
	RoomReady(ev events.RoomReadyEvent)
}

// Orchestrator coordinates the request-to-chat handoff: accept the
// request, resolve or create the room, register both participants, open
// the transport and hand the stream to a merger.
type Orchestrator struct {
	store    *request.Store
	resolver *room.Resolver
	joiner   room.Joiner
	creator  room.Creator
	history  room.HistoryFetcher

	transportCfg transport.Config
	dialer       transport.Dialer
	ready        RoomReadySignal
	log          *zap.SugaredLogger

	mu      sync.Mutex
	accepts map[string]*acceptLock
}

// acceptLock serializes concurrent accepts of one request. The store
// transition alone is idempotent but does not exclude the resolve and
// join side effects from running twice.
type acceptLock struct {
	mu   sync.Mutex
	refs int
}

func (o *Orchestrator) lockAccept(id string) *acceptLock {
	o.mu.Lock()
	l := o.accepts[id]
	if l == nil {
		l = &acceptLock{}
		o.accepts[id] = l
	}
	l.refs++
	o.mu.Unlock()
	l.mu.Lock()
	return l
}

func (o *Orchestrator) unlockAccept(id string, l *acceptLock) {
	l.mu.Unlock()
	o.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(o.accepts, id)
	}
	o.mu.Unlock()
}

func NewOrchestrator(
	store *request.Store,
	resolver *room.Resolver,
	joiner room.Joiner,
	creator room.Creator,
	history room.HistoryFetcher,
	transportCfg transport.Config,
	dialer transport.Dialer,
	ready RoomReadySignal,
	log *zap.SugaredLogger,
) *Orchestrator {
	return &Orchestrator{
		store:        store,
		resolver:     resolver,
		joiner:       joiner,
		creator:      creator,
		history:      history,
		transportCfg: transportCfg,
		dialer:       dialer,
		ready:        ready,
		log:          log,
		accepts:      make(map[string]*acceptLock),
	}
}

// Accept runs the accept side of the bridge. It is idempotent: accepting
// an already-accepted request returns the stored room without creating a
// second one. On a RoomResolutionError nothing is joined or opened; the
// caller surfaces "try accepting again".
func (o *Orchestrator) Accept(ctx context.Context, requestID string) (*request.Request, error) {
	// a concurrent duplicate waits here, then sees the bound room and
	// returns without a second resolve or create
	l := o.lockAccept(requestID)
	defer o.unlockAccept(requestID, l)

	req, err := o.store.Accept(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.RoomID != "" {
		return req, nil
	}

	roomID, err := o.resolver.Resolve(ctx, req, "")
	if err != nil {
		if !errors.Is(err, apperr.ErrRoomResolution) {
			return nil, err
		}
		// nothing to reuse: create a room and resolve to it
		created, createErr := o.creator.CreateRoom(ctx)
		if createErr != nil {
			metrics.ResolverOutcomes.WithLabelValues("unresolved").Inc()
			return nil, apperr.RoomResolution("no room found and creation failed: %v", createErr)
		}
		o.log.Infow("created room for request", "request", req.ID, "room", created.ID)
		roomID = created.ID
	}
	metrics.ResolverOutcomes.WithLabelValues("resolved").Inc()

	req, err = o.store.SetRoom(ctx, req.ID, roomID)
	if err != nil {
		return nil, err
	}

	// register both sides; a partial failure must not block the chat for
	// the side that succeeded
	for _, pid := range []string{req.FromID, req.ToID} {
		if joinErr := o.joiner.JoinRoom(ctx, req.RoomID, pid); joinErr != nil {
			o.log.Warnw("participant registration failed", "room", req.RoomID, "participant", pid, "error", joinErr)
		}
	}

	metrics.AcceptedRequests.Inc()
	if o.ready != nil {
		o.ready.RoomReady(events.RoomReadyEvent{
			RequestID: req.ID,
			RoomID:    req.RoomID,
			PostID:    req.PostID,
		})
	}
	return req, nil
}

// Reject transitions the request with no transport side effects.
func (o *Orchestrator) Reject(ctx context.Context, requestID string) (*request.Request, error) {
	return o.store.Reject(ctx, requestID)
}

// InitialMessage is the request's original message carried into the room.
type InitialMessage struct {
	SenderID string
	Content  string
	SentAt   time.Time
}

// RoomSession is one open chat view: a live transport session plus the
// merged message view. Close tears both down.
type RoomSession struct {
	RoomID  string
	Session *transport.Session
	Merger  *stream.Merger

	sub *transport.Subscription
}

func (rs *RoomSession) Close() error {
	if rs.sub != nil {
		rs.sub.Unsubscribe()
	}
	return rs.Session.Close()
}

// OpenRoom connects to the room's live destination and wires the merger:
// subscribe first, then load history once, then (when handing off an
// accepted request) publish the original request message at most once.
// A history fetch failure degrades to live-only rather than failing the
// open, matching how the chat view behaves when the history service is
// down.
func (o *Orchestrator) OpenRoom(ctx context.Context, roomID string, identity Identity, initial *InitialMessage) (*RoomSession, error) {
	session := transport.NewSession(o.transportCfg, o.dialer, o.log)
	merger := stream.NewMerger(roomID, identity.ParticipantID, session, o.log)

	if initial != nil {
		merger.SeedInitial(initial.SenderID, initial.Content, initial.SentAt)
	}

	if err := session.Connect(ctx, transport.Credentials{Token: identity.Token}); err != nil {
		return nil, err
	}

	sub, err := session.Subscribe(transport.SubDestination(roomID), merger.HandleLive)
	if err != nil {
		session.Close()
		return nil, err
	}

	alreadyInRoom := false
	hist, err := o.history.GetHistory(ctx, roomID)
	if err != nil {
		o.log.Warnw("history load failed, continuing live-only", "room", roomID, "error", err)
	} else {
		if initial != nil {
			for _, h := range hist {
				if h.SenderID == initial.SenderID && h.Content == initial.Content {
					alreadyInRoom = true
					break
				}
			}
		}
		merger.LoadHistory(hist)
	}

	if initial != nil && !alreadyInRoom {
		if err := merger.PublishInitial(ctx, initial.SenderID, initial.Content); err != nil {
			o.log.Warnw("initial message publish failed", "room", roomID, "error", err)
		}
	}

	return &RoomSession{RoomID: roomID, Session: session, Merger: merger, sub: sub}, nil
}
