package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/lers-io/lers-ce/internal/models"
)

// Conn is one established transport connection. Owned exclusively by the
// Session; coordinators never touch it.
type Conn interface {
	ReadEnvelope() (models.Envelope, error)
	WriteEnvelope(models.Envelope) error
	Close() error
}

// Dialer establishes transport connections. The credential is the opaque
// access token handed to the session at construction.
type Dialer interface {
	Dial(ctx context.Context, credential string) (Conn, error)
}

// WebsocketDialer dials the gateway websocket endpoint. The credential rides
// the query string because browser websocket clients cannot set headers.
type WebsocketDialer struct {
	URL string
}

// Dial connects and classifies handshake rejections: 401/403 mean the
// credential is bad and retrying is pointless.
func (d *WebsocketDialer) Dial(ctx context.Context, credential string) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}
	q := u.Query()
	q.Set("token", credential)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("handshake refused (%d): %w", resp.StatusCode, ErrAuthRejected)
		}
		return nil, fmt.Errorf("failed to dial gateway: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadEnvelope() (models.Envelope, error) {
	var env models.Envelope
	if err := c.conn.ReadJSON(&env); err != nil {
		return models.Envelope{}, err
	}
	return env, nil
}

func (c *wsConn) WriteEnvelope(env models.Envelope) error {
	return c.conn.WriteJSON(env)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
