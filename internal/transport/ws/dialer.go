package ws

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"deribit-probe/internal/probe"
)

// Dialer opens gorilla WebSocket connections.
type Dialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func NewDialer() *Dialer {
	return &Dialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   probe.ReadBufferSize,
			WriteBufferSize:  probe.ReadBufferSize,
		},
	}
}

func (d *Dialer) Dial(ctx context.Context, url string) (probe.Socket, error) {
	conn, resp, err := d.Dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake with %s failed with status %d: %w", url, resp.StatusCode, err)
		}
		return nil, err
	}

	return NewSocket(conn), nil
}
