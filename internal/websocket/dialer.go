package websocket

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"tutorchat/pkg/interfaces"
)

// Dialer opens client-side Connections for the live channel
type Dialer struct {
	dialer   *websocket.Dialer
	settings Settings
}

// NewDialer creates a Dialer whose handshakes are bounded by settings.HandshakeTimeout
func NewDialer(settings Settings) *Dialer {
	if settings.WriteTimeout <= 0 {
		settings.WriteTimeout = DefaultSettings().WriteTimeout
	}
	return &Dialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: settings.HandshakeTimeout,
		},
		settings: settings,
	}
}

// Dial performs the handshake. The returned Conn answers server pings and,
// when ReadTimeout is set, fails reads after that long without any traffic.
func (d *Dialer) Dial(ctx context.Context, rawURL string) (interfaces.Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			// Rejected credentials surface like any other auth failure
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("%w: status %d: %w", ErrHandshakeFailed, resp.StatusCode, interfaces.ErrUnauthorized)
			}
			return nil, fmt.Errorf("%w: status %d", ErrHandshakeFailed, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	if timeout := d.settings.ReadTimeout; timeout > 0 {
		extend := func() error {
			return conn.SetReadDeadline(time.Now().Add(timeout))
		}
		if err := extend(); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
		conn.SetPingHandler(func(appData string) error {
			if err := extend(); err != nil {
				return err
			}
			err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(d.settings.WriteTimeout))
			if err == websocket.ErrCloseSent {
				return nil
			}
			return err
		})
		return &deadlineConn{Connection: NewConnectionWithSettings(conn, d.settings), extend: extend}, nil
	}

	return NewConnectionWithSettings(conn, d.settings), nil
}

// deadlineConn pushes the read deadline forward after every data frame
type deadlineConn struct {
	*Connection
	extend func() error
}

func (c *deadlineConn) ReadMessage() ([]byte, error) {
	data, err := c.Connection.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = c.extend()
	return data, nil
}
