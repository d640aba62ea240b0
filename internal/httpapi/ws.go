package httpapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/CultureM8/culture-mate-chat-bridge/internal/bridge"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/request"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/stream"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/transport"
)

const (
	wsPingInterval  = 30 * time.Second
	wsWriteDeadline = 10 * time.Second
	wsReadLimit     = 64 * 1024
)

// outbound frames pushed to the chat view
type wsFrame struct {
	Type    string          `json:"type"` // "status","message","send-failed"
	Status  string          `json:"status,omitempty"`
	Message *stream.Message `json:"message,omitempty"`
	ID      string          `json:"id,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// inbound frames from the chat view
type wsInbound struct {
	Content string `json:"content"`
}

type WSHandler struct {
	orch      *bridge.Orchestrator
	store     *request.Store
	jwtSecret string
	log       *zap.SugaredLogger
}

func NewWSHandler(orch *bridge.Orchestrator, store *request.Store, jwtSecret string, log *zap.SugaredLogger) *WSHandler {
	return &WSHandler{orch: orch, store: store, jwtSecret: jwtSecret, log: log}
}

// Room serves one open chat view: replay the merged view so far, stream
// subsequent messages and connection-status changes, and treat inbound
// frames as sendLocal calls. Mounted at /ws/rooms/:roomId?token=...
// with an optional requestId when the view opens off an accept handoff.
func (h *WSHandler) Room(c *websocket.Conn) {
	defer c.Close()

	token := c.Query("token")
	claims, err := validateToken(h.jwtSecret, token)
	if err != nil {
		h.writeDirect(c, wsFrame{Type: "status", Status: string(transport.StatusAuthFailed), Error: "invalid token"})
		return
	}
	uid := claims.participantID()
	roomID := c.Params("roomId")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	initial := h.initialMessage(ctx, c.Query("requestId"), roomID, uid)

	rs, err := h.orch.OpenRoom(ctx, roomID, bridge.Identity{ParticipantID: uid, Token: token}, initial)
	if err != nil {
		h.writeDirect(c, wsFrame{Type: "status", Status: string(transport.StatusDisconnected), Error: err.Error()})
		return
	}
	defer rs.Close()

	out := make(chan wsFrame, 64)
	push := func(f wsFrame) {
		select {
		case out <- f:
		default:
			// slow chat view; drop rather than stall the merger
		}
	}

	// replay then live, atomically against the merger
	snapshot := rs.Merger.Attach(func(msg stream.Message) {
		m := msg
		push(wsFrame{Type: "message", Message: &m})
	})
	for i := range snapshot {
		push(wsFrame{Type: "message", Message: &snapshot[i]})
	}

	go forwardStatusEvents(ctx, rs.Session.Events(), push, cancel)

	writerDone := make(chan struct{})
	go h.writePump(c, out, ctx, writerDone)

	h.readPump(ctx, c, rs, push)
	cancel()
	<-writerDone
}

// forwardStatusEvents relays transport status changes to the chat view.
// The session never closes its events channel, so the view's context is
// the only reliable exit on a normal close; terminal statuses also tear
// the view down.
func forwardStatusEvents(ctx context.Context, events <-chan transport.Event, push func(wsFrame), cancel context.CancelFunc) {
	for {
		select {
		case ev := <-events:
			f := wsFrame{Type: "status", Status: string(ev.Status)}
			if ev.Err != nil {
				f.Error = ev.Err.Error()
			}
			push(f)
			if ev.Status == transport.StatusFailed || ev.Status == transport.StatusAuthFailed {
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *WSHandler) readPump(ctx context.Context, c *websocket.Conn, rs *bridge.RoomSession, push func(wsFrame)) {
	c.SetReadLimit(wsReadLimit)
	limiter := rate.NewLimiter(rate.Limit(5), 10)
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		var in wsInbound
		if err := json.Unmarshal(data, &in); err != nil || in.Content == "" {
			continue
		}
		if !limiter.Allow() {
			push(wsFrame{Type: "send-failed", Error: "sending too fast"})
			continue
		}
		if echo, err := rs.Merger.SendLocal(ctx, in.Content); err != nil {
			// the echo stays in the view marked failed; tell the client why
			push(wsFrame{Type: "send-failed", ID: echo.ID, Error: err.Error()})
		}
	}
}

func (h *WSHandler) writePump(c *websocket.Conn, out <-chan wsFrame, ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case f := <-out:
			_ = c.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := c.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// initialMessage loads the accept-handoff request, if any, and returns
// the original request message to carry into the room. Only the request's
// own participants get it, and only for the room it resolved to.
func (h *WSHandler) initialMessage(ctx context.Context, requestID, roomID, uid string) *bridge.InitialMessage {
	if requestID == "" {
		return nil
	}
	req, err := h.store.Get(ctx, requestID)
	if err != nil {
		h.log.Warnw("handoff request not found", "request", requestID, "error", err)
		return nil
	}
	if req.RoomID != roomID || (req.FromID != uid && req.ToID != uid) {
		return nil
	}
	return &bridge.InitialMessage{
		SenderID: req.FromID,
		Content:  req.Message,
		SentAt:   req.CreatedAt,
	}
}

func (h *WSHandler) writeDirect(c *websocket.Conn, f wsFrame) {
	_ = c.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	_ = c.WriteJSON(f)
}
