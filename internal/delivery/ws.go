package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"platewatch/internal/model"
)

// WSTransport delivers envelopes over a websocket. One envelope out,
// one ack back; any wire error tears the connection down so the next
// cycle reconnects cleanly.
type WSTransport struct {
	url            string
	connectTimeout time.Duration
	sendTimeout    time.Duration
	log            zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSTransport builds a transport for the collector at url
// (ws:// or wss://).
func NewWSTransport(url string, connectTimeout, sendTimeout time.Duration, log zerolog.Logger) *WSTransport {
	return &WSTransport{
		url:            url,
		connectTimeout: connectTimeout,
		sendTimeout:    sendTimeout,
		log:            log,
	}
}

// Connect dials the collector. Idempotent while connected.
func (t *WSTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: t.connectTimeout}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", model.ErrTransport, t.url, err)
	}

	t.conn = conn
	t.log.Info().Str("url", t.url).Msg("connected to collector")
	return nil
}

// Send writes one envelope and waits for its ack.
func (t *WSTransport) Send(ctx context.Context, env Envelope) (Ack, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return Ack{}, fmt.Errorf("%w: not connected", model.ErrTransport)
	}

	deadline := time.Now().Add(t.sendTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		t.dropLocked()
		return Ack{}, fmt.Errorf("%w: set write deadline: %v", model.ErrTransport, err)
	}
	if err := t.conn.WriteJSON(env); err != nil {
		t.dropLocked()
		return Ack{}, fmt.Errorf("%w: write envelope: %v", model.ErrTransport, err)
	}

	if err := t.conn.SetReadDeadline(deadline); err != nil {
		t.dropLocked()
		return Ack{}, fmt.Errorf("%w: set read deadline: %v", model.ErrTransport, err)
	}
	var ack Ack
	if err := t.conn.ReadJSON(&ack); err != nil {
		t.dropLocked()
		return Ack{}, fmt.Errorf("%w: read ack: %v", model.ErrTransport, err)
	}

	return ack, nil
}

// Disconnect closes the connection politely.
func (t *WSTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	deadline := time.Now().Add(time.Second)
	if err := t.conn.WriteControl(websocket.CloseMessage, closeMsg, deadline); err != nil {
		t.log.Debug().Err(err).Msg("close handshake failed, closing anyway")
	}
	return t.dropLocked()
}

// Connected reports whether a connection is currently held.
func (t *WSTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *WSTransport) dropLocked() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
