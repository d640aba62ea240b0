package httpapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/CultureM8/culture-mate-chat-bridge/internal/apperr"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/bridge"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/request"
)

const unreadCacheTTL = 30 * time.Second

type RequestHandler struct {
	store  *request.Store
	orch   *bridge.Orchestrator
	cache  *redis.Client
	prefix string
	log    *zap.SugaredLogger
}

func NewRequestHandler(store *request.Store, orch *bridge.Orchestrator, cache *redis.Client, prefix string, log *zap.SugaredLogger) *RequestHandler {
	return &RequestHandler{store: store, orch: orch, cache: cache, prefix: prefix, log: log}
}

type createRequestBody struct {
	ToID    string `json:"toId"`
	PostID  string `json:"postId"`
	Message string `json:"message"`
}

func (h *RequestHandler) Create(c *fiber.Ctx) error {
	var body createRequestBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}
	from, _ := c.Locals(localUserID).(string)

	req, err := h.store.Create(c.Context(), from, body.ToID, body.PostID, body.Message)
	if err != nil {
		return respondError(c, err)
	}
	h.invalidateUnread(c, body.ToID)
	return c.Status(fiber.StatusCreated).JSON(req)
}

func (h *RequestHandler) Accept(c *fiber.Ctx) error {
	req, err := h.orch.Accept(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	h.invalidateUnread(c, req.ToID)
	return c.JSON(fiber.Map{"requestId": req.ID, "roomId": req.RoomID, "status": req.Status})
}

func (h *RequestHandler) Reject(c *fiber.Ctx) error {
	req, err := h.orch.Reject(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	h.invalidateUnread(c, req.ToID)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *RequestHandler) List(c *fiber.Ctx) error {
	uid, _ := c.Locals(localUserID).(string)
	dir := request.Direction(c.Query("direction", string(request.DirectionReceived)))

	rows, err := h.store.ListFor(c.Context(), uid, dir)
	if err != nil {
		return respondError(c, err)
	}
	if rows == nil {
		rows = []*request.Request{}
	}
	return c.JSON(rows)
}

// UnreadCount reports pending requests addressed to the caller, cached
// briefly in Redis since navigation chrome polls it.
func (h *RequestHandler) UnreadCount(c *fiber.Ctx) error {
	uid, _ := c.Locals(localUserID).(string)
	key := h.unreadKey(uid)

	if h.cache != nil {
		if n, err := h.cache.Get(c.Context(), key).Int64(); err == nil {
			return c.JSON(fiber.Map{"count": n})
		}
	}
	n, err := h.store.UnreadCount(c.Context(), uid)
	if err != nil {
		return respondError(c, err)
	}
	if h.cache != nil {
		h.cache.Set(c.Context(), key, n, unreadCacheTTL)
	}
	return c.JSON(fiber.Map{"count": n})
}

func (h *RequestHandler) unreadKey(uid string) string {
	return fmt.Sprintf("%s:unread:%s", h.prefix, uid)
}

func (h *RequestHandler) invalidateUnread(c *fiber.Ctx, uid string) {
	if h.cache != nil && uid != "" {
		h.cache.Del(c.Context(), h.unreadKey(uid))
	}
}

func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, apperr.ErrInvalidState):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, apperr.ErrRoomResolution):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":  err.Error(),
			"action": "retry-accept",
		})
	case errors.Is(err, apperr.ErrAuthFailure):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
