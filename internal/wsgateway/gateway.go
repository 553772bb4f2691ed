// Package wsgateway terminates websocket connections for the relay and
// bridges them into the relay core's per-frame dispatch (spec §4.7), and
// separately dials the relay on behalf of the client runtime (spec §4.8).
// It is the transport layer spec.md leaves as an external collaborator
// ("the full-duplex text-frame transport itself").
package wsgateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/swap-proto/swap-relay/internal/relay"
	"github.com/swap-proto/swap-relay/internal/wire"
)

const (
	// subprotocol is the literal tag spec §6 requires connections to
	// offer ("Subprotocol tag: 3gpp.SWAP.v1"). Connections that don't
	// offer it are rejected after accept (see HandleWS).
	subprotocol         = "3gpp.SWAP.v1"
	defaultWriteTimeout = 5 * time.Second
	maxFrameBytes       = 1 << 20
	heartbeatInterval   = 20 * time.Second
	heartbeatTimeout    = 5 * time.Second
)

// Gateway accepts websocket upgrades and feeds frames into a relay.Core.
type Gateway struct {
	log  *slog.Logger
	core *relay.Core
}

// New constructs a Gateway over core. log may be nil.
func New(core *relay.Core, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{log: log, core: core}
}

// connTransport adapts one websocket connection to relay.Transport: a
// single Send method the relay core uses to push a message without ever
// touching the raw connection.
type connTransport struct {
	conn *websocket.Conn
}

func (t connTransport) Send(ctx context.Context, msg wire.Message) error {
	raw, err := msg.Marshal()
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()
	return t.conn.Write(wctx, websocket.MessageText, raw)
}

// HandleWS is an http.HandlerFunc that upgrades the request, reads
// frames until the connection closes, and unregisters the endpoint's
// source_id from the core on the way out (spec §4.7 "on transport close
// of any endpoint").
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		g.log.Info("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	// websocket.Accept negotiates a subprotocol only if the client
	// offered one from AcceptOptions.Subprotocols; it does not itself
	// reject connections that offered none. Spec §6 requires the relay
	// to do that rejection itself: "the relay MUST reject any connection
	// that does not offer it."
	if conn.Subprotocol() != subprotocol {
		g.log.Info("ws.subprotocol.rejected", "got", conn.Subprotocol())
		_ = conn.Close(websocket.StatusPolicyViolation, "missing required subprotocol "+subprotocol)
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	transport := connTransport{conn: conn}

	// sourceID is learned from the first parseable frame the connection
	// sends that carries a source_id, whether or not the frame later passes
	// validation (its register or any other message carries source_id); until then
	// there is nothing to tear down on disconnect.
	var sourceID string

	heartbeatDone := make(chan struct{})
	go g.heartbeat(ctx, conn, heartbeatDone)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			g.logReadExit(err)
			break
		}

		reply, ok := g.core.HandleFrame(ctx, transport, data)
		if sourceID == "" {
			if id := peekSourceID(data); id != "" {
				sourceID = id
			}
		}
		if !ok {
			continue
		}

		if err := transport.Send(ctx, reply); err != nil {
			g.log.Info("ws.write.fail", "err", err, "close_status", websocket.CloseStatus(err))
			break
		}
	}

	cancel()
	<-heartbeatDone

	if sourceID != "" {
		g.core.Disconnect(context.Background(), sourceID)
	}
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hctx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
			err := conn.Ping(hctx)
			cancel()
			if err != nil {
				g.log.Info("ws.ping.fail", "err", err)
				return
			}
		}
	}
}

func (g *Gateway) logReadExit(err error) {
	switch classifyReadErr(err) {
	case readErrClose:
		g.log.Info("ws.read.close")
	case readErrCtxDone:
		g.log.Info("ws.read.ctx_done", "err", err)
	case readErrConnClosed:
		g.log.Info("ws.read.conn_closed", "err", err)
	default:
		g.log.Info("ws.read.fail", "err", err)
	}
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	if s := err.Error(); strings.Contains(s, "use of closed network connection") ||
		strings.Contains(s, "broken pipe") {
		return readErrConnClosed
	}
	return readErrUnknown
}

// peekSourceID extracts just the source_id field from a raw frame without
// running full schema validation, so the gateway can track which endpoint
// a connection belongs to even when a frame is otherwise malformed.
func peekSourceID(raw []byte) string {
	msg, err := wire.ParseMessage(raw)
	if err != nil {
		return ""
	}
	return msg.SourceID
}
