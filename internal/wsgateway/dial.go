package wsgateway

import (
	"context"

	"github.com/coder/websocket"
)

// clientConn adapts a dialed websocket connection to client.Transport
// (Send/Recv/Close), the shape the client runtime's reconnect loop drives.
type clientConn struct {
	conn *websocket.Conn
}

// Dial opens a websocket connection to url and returns a client.Transport.
// It is meant to be wrapped in a client.Dialer closure by the caller,
// e.g. func(ctx) (client.Transport, error) { return wsgateway.Dial(ctx, url) }.
func Dial(ctx context.Context, url string) (*clientConn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxFrameBytes)
	return &clientConn{conn: conn}, nil
}

func (c *clientConn) Send(ctx context.Context, raw []byte) error {
	wctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, raw)
}

func (c *clientConn) Recv(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *clientConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
