// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swapquote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

// wsTransport implements Transport over one websocket connection
type wsTransport struct {
	conn      *websocket.Conn
	log       zerolog.Logger
	closeOnce sync.Once
	closeErr  error
}

func dialWebsocket(ctx context.Context, url, token string, o *dialOptions) (*wsTransport, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient:   o.httpClient,
		HTTPHeader:   header,
		Subprotocols: []string{o.subprotocol},
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: status %d: %w", ErrTransport, url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, url, err)
	}
	if got := conn.Subprotocol(); got != o.subprotocol {
		_ = conn.Close(websocket.StatusPolicyViolation, "unsupported subprotocol")
		return nil, fmt.Errorf("%w: server negotiated subprotocol %q, want %q", ErrTransport, got, o.subprotocol)
	}
	conn.SetReadLimit(o.readLimit)
	return &wsTransport{conn: conn, log: o.logger}, nil
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	if err := t.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("%w: write: %w", ErrTransport, err)
	}
	return nil
}

// Recv returns the next binary frame. Text frames carry nothing for us and
// are skipped.
func (t *wsTransport) Recv(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := t.conn.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				return nil, fmt.Errorf("%w: closed by server: %d %s", ErrTransport, ce.Code, ce.Reason)
			}
			return nil, fmt.Errorf("%w: read: %w", ErrTransport, err)
		}
		if typ != websocket.MessageBinary {
			t.log.Debug().Int("bytes", len(data)).Msg("discarding text frame")
			recordDiscard("text_frame")
			continue
		}
		return data, nil
	}
}

// Close is idempotent
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close(websocket.StatusNormalClosure, "")
	})
	return t.closeErr
}
