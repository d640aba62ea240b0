package room

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// TokenProvider supplies the bearer token attached to collaborator calls.
type TokenProvider func() string

type ClientConfig struct {
	BaseURL         string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
}

// ChatClient talks to the chat backend's REST surface: room listing,
// participant registration, room creation and message history. Calls are
// retried with exponential backoff behind a circuit breaker.
type ChatClient struct {
	http    *http.Client
	conf    ClientConfig
	breaker *gobreaker.CircuitBreaker
	token   TokenProvider
	log     *zap.SugaredLogger
}

func NewChatClient(conf ClientConfig, token TokenProvider, log *zap.SugaredLogger) *ChatClient {
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    16,
		IdleConnTimeout: 90 * time.Second,
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "chat-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &ChatClient{
		http:    &http.Client{Transport: tr, Timeout: conf.Timeout},
		conf:    conf,
		breaker: cb,
		token:   token,
		log:     log,
	}
}

func (c *ChatClient) ListRooms(ctx context.Context) ([]Room, error) {
	body, err := c.call(ctx, http.MethodGet, "/chatroom", nil)
	if err != nil {
		return nil, err
	}
	var rooms []Room
	if err := json.Unmarshal(body, &rooms); err != nil {
		return nil, fmt.Errorf("decoding room list: %w", err)
	}
	return rooms, nil
}

func (c *ChatClient) JoinRoom(ctx context.Context, roomID, participantID string) error {
	payload := map[string]string{"memberId": participantID}
	_, err := c.call(ctx, http.MethodPost, "/chatroom/"+roomID+"/join", payload)
	return err
}

func (c *ChatClient) CreateRoom(ctx context.Context) (Room, error) {
	body, err := c.call(ctx, http.MethodPost, "/chatroom/create", nil)
	if err != nil {
		return Room{}, err
	}
	var r Room
	if err := json.Unmarshal(body, &r); err != nil {
		return Room{}, fmt.Errorf("decoding created room: %w", err)
	}
	return r, nil
}

func (c *ChatClient) LeaveRoom(ctx context.Context, roomID string) error {
	_, err := c.call(ctx, http.MethodDelete, "/chatroom/"+roomID+"/leave", nil)
	return err
}

// GetHistory loads a room's messages oldest-first. The backend answers
// either a bare array or a paginated {"content": [...]} wrapper.
func (c *ChatClient) GetHistory(ctx context.Context, roomID string) ([]HistoryMessage, error) {
	body, err := c.call(ctx, http.MethodGet, "/chatroom/"+roomID+"/messages", nil)
	if err != nil {
		return nil, err
	}
	var msgs []HistoryMessage
	if err := json.Unmarshal(body, &msgs); err == nil {
		return msgs, nil
	}
	var page struct {
		Content []HistoryMessage `json:"content"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}
	return page.Content, nil
}

func (c *ChatClient) call(ctx context.Context, method, path string, payload any) ([]byte, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.doWithRetry(ctx, method, path, payload)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (c *ChatClient) doWithRetry(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var result []byte
	operation := func() error {
		var reqBody io.Reader
		if payload != nil {
			b, err := json.Marshal(payload)
			if err != nil {
				return backoff.Permanent(err)
			}
			reqBody = bytes.NewReader(b)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.conf.BaseURL+path, reqBody)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if t := c.token(); t != "" {
			req.Header.Set("Authorization", "Bearer "+t)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, b))
		}
		result = b
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.conf.RetryMaxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}
