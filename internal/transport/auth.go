package transport

import (
	"net/http"
	"net/url"

	"github.com/fasthttp/websocket"
)

// Credentials carried on a connection attempt.
type Credentials struct {
	Token string
}

// CredentialAttacher injects credentials into one part of the websocket
// handshake. The handshake auth contract is not uniformly enforced by
// every intermediary between client and broker, so all known channels are
// applied to the same dial attempt until one is confirmed sufficient.
type CredentialAttacher interface {
	Attach(creds Credentials, u *url.URL, header http.Header, dialer *websocket.Dialer)
}

// QueryParamAuth puts the token in the ?token= query parameter.
type QueryParamAuth struct{}

func (QueryParamAuth) Attach(creds Credentials, u *url.URL, _ http.Header, _ *websocket.Dialer) {
	q := u.Query()
	q.Set("token", creds.Token)
	u.RawQuery = q.Encode()
}

// HeaderAuth sets the Authorization bearer header plus the bare token
// header some intermediaries read instead.
type HeaderAuth struct{}

func (HeaderAuth) Attach(creds Credentials, _ *url.URL, header http.Header, _ *websocket.Dialer) {
	header.Set("Authorization", "Bearer "+creds.Token)
	header.Set("token", creds.Token)
}

// SubprotocolAuth advertises the token as a websocket sub-protocol entry.
type SubprotocolAuth struct{}

func (SubprotocolAuth) Attach(creds Credentials, _ *url.URL, _ http.Header, dialer *websocket.Dialer) {
	dialer.Subprotocols = append(dialer.Subprotocols, "v1.chat", "bearer."+creds.Token)
}

// DefaultAttachers is the ordered strategy list applied on every dial.
func DefaultAttachers() []CredentialAttacher {
	return []CredentialAttacher{QueryParamAuth{}, HeaderAuth{}, SubprotocolAuth{}}
}
