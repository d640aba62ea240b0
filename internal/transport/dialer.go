package transport

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/fasthttp/websocket"
)

// Conn is the subset of the websocket connection the session needs.
// Narrowed so tests can substitute an in-memory pipe.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens one connection to the messaging endpoint with credentials
// already attached.
type Dialer func(ctx context.Context, endpoint string, creds Credentials) (Conn, error)

// NetDialer dials the real broker, running every attacher against the
// same handshake.
func NetDialer(attachers []CredentialAttacher, handshakeTimeout time.Duration) Dialer {
	return func(ctx context.Context, endpoint string, creds Credentials) (Conn, error) {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, err
		}
		header := http.Header{}
		d := &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		for _, a := range attachers {
			a.Attach(creds, u, header, d)
		}
		conn, resp, err := d.DialContext(ctx, u.String(), header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
