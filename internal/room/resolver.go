package room

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/CultureM8/culture-mate-chat-bridge/internal/apperr"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/request"
)

// legacyCodePattern matches companion-listing room codes minted before
// room names carried the post id: a T_ prefix plus an 8-digit date.
var legacyCodePattern = regexp.MustCompile(`T_\d{8}`)

// Resolver maps an accepted request to a concrete room id. The backend
// treats rooms as a side effect of acceptance and does not always return
// one directly, so this falls back to matching synthesized room names.
// The match is best-effort by contract; the tie-break order below is the
// documented behavior, not a uniqueness guarantee.
type Resolver struct {
	lister Lister
	log    *zap.SugaredLogger
}

func NewResolver(lister Lister, log *zap.SugaredLogger) *Resolver {
	return &Resolver{lister: lister, log: log}
}

// Resolve picks the room for req. acceptedRoomID is the room id carried on
// the accept response, if any; when present no search happens.
//
// Search order over the visible room listing:
//  1. rooms whose name contains both participant ids ("both")
//  2. a postId hit, looked up in "both" first and then across all rooms
//  3. a legacy T_ date code within "both"
//  4. the first of "both"
//  5. the last room of the listing (most recently created)
//
// An empty listing is a RoomResolutionError; callers surface it as
// "try accepting again".
func (rs *Resolver) Resolve(ctx context.Context, req *request.Request, acceptedRoomID string) (string, error) {
	if acceptedRoomID != "" {
		return acceptedRoomID, nil
	}
	if req.RoomID != "" {
		return req.RoomID, nil
	}

	rooms, err := rs.lister.ListRooms(ctx)
	if err != nil {
		return "", apperr.RoomResolution("listing rooms: %v", err)
	}

	rows := rooms[:0:0]
	for _, r := range rooms {
		if r.ID != "" && r.Name != "" {
			rows = append(rows, r)
		}
	}

	var both []Room
	for _, r := range rows {
		if strings.Contains(r.Name, req.ToID) && strings.Contains(r.Name, req.FromID) {
			both = append(both, r)
		}
	}

	if req.PostID != "" {
		if hit, ok := firstContaining(both, req.PostID); ok {
			return hit.ID, nil
		}
		if hit, ok := firstContaining(rows, req.PostID); ok {
			return hit.ID, nil
		}
	}

	for _, r := range both {
		if legacyCodePattern.MatchString(r.Name) {
			rs.log.Debugw("resolver matched legacy room code", "room", r.ID, "request", req.ID)
			return r.ID, nil
		}
	}

	if len(both) > 0 {
		return both[0].ID, nil
	}
	if len(rows) > 0 {
		rs.log.Warnw("resolver fell back to newest room", "request", req.ID, "room", rows[len(rows)-1].ID)
		return rows[len(rows)-1].ID, nil
	}
	return "", apperr.RoomResolution("no room visible for request %s", req.ID)
}

func firstContaining(rooms []Room, sub string) (Room, bool) {
	for _, r := range rooms {
		if strings.Contains(r.Name, sub) {
			return r, true
		}
	}
	return Room{}, false
}
