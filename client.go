// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swapquote

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport carries opaque binary frames for one session. Recv is only ever
// called from the session's reader goroutine.
type Transport interface {
	io.Closer
	Send(ctx context.Context, data []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

// ChainReader is the narrow view of a chain node the assembler needs.
type ChainReader interface {
	// GetAccount returns the account data, base64 encoded.
	GetAccount(ctx context.Context, address solana.PublicKey) (string, error)
	GetCurrentSlot(ctx context.Context) (uint64, error)
	GetRecentBlockhash(ctx context.Context) (solana.Hash, error)
}

// TipSetting reports whether a priority tip should be appended.
// It is read, never written.
type TipSetting interface {
	TipEnabled() bool
}

// TipSettingFunc is a function adapter for TipSetting
type TipSettingFunc func() bool

func (f TipSettingFunc) TipEnabled() bool { return f() }

// Defaults for the quote service handshake.
const (
	DefaultSubprotocol = "v1.api.titan.ag"
	DefaultPath        = "/api/v1/ws"
	DefaultReadLimit   = 16 << 20
	defaultBuffer      = 16
)

// DialOption configures a session
type DialOption func(*dialOptions)

type dialOptions struct {
	codec       Codec
	logger      zerolog.Logger
	httpClient  *http.Client
	subprotocol string
	path        string
	scheme      string
	readLimit   int64
	buffer      int

	handshakeTimeout  time.Duration
	callTimeout       time.Duration
	firstQuoteTimeout time.Duration
	stopTimeout       time.Duration
}

func newDialOptions(opts []DialOption) *dialOptions {
	o := &dialOptions{
		codec:             defaultCodec,
		logger:            log.Logger.With().Str("component", "swapquote").Logger(),
		subprotocol:       DefaultSubprotocol,
		path:              DefaultPath,
		scheme:            "wss",
		readLimit:         DefaultReadLimit,
		buffer:            defaultBuffer,
		handshakeTimeout:  10 * time.Second,
		callTimeout:       10 * time.Second,
		firstQuoteTimeout: 10 * time.Second,
		stopTimeout:       5 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithCodec sets a custom codec
func WithCodec(c Codec) DialOption {
	return func(o *dialOptions) { o.codec = c }
}

// WithLogger sets the session logger
func WithLogger(l zerolog.Logger) DialOption {
	return func(o *dialOptions) { o.logger = l }
}

// WithHTTPClient sets the client used for the websocket handshake
func WithHTTPClient(c *http.Client) DialOption {
	return func(o *dialOptions) { o.httpClient = c }
}

// WithSubprotocol overrides the negotiated sub-protocol identifier
func WithSubprotocol(p string) DialOption {
	return func(o *dialOptions) { o.subprotocol = p }
}

// WithPath overrides the websocket path on the endpoint
func WithPath(p string) DialOption {
	return func(o *dialOptions) { o.path = p }
}

// WithInsecure dials ws:// instead of wss://
func WithInsecure() DialOption {
	return func(o *dialOptions) { o.scheme = "ws" }
}

// WithReadLimit caps the size of one inbound frame
func WithReadLimit(n int64) DialOption {
	return func(o *dialOptions) { o.readLimit = n }
}

// WithStreamBuffer sets how many undelivered updates a stream keeps.
// When full, the oldest update is dropped.
func WithStreamBuffer(n int) DialOption {
	return func(o *dialOptions) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithHandshakeTimeout bounds the websocket handshake. Zero disables it.
func WithHandshakeTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) { o.handshakeTimeout = d }
}

// WithCallTimeout bounds each request/reply exchange. Zero disables it.
func WithCallTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) { o.callTimeout = d }
}

// WithFirstQuoteTimeout bounds the wait for the first quote set. Zero disables it.
func WithFirstQuoteTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) { o.firstQuoteTimeout = d }
}

// WithStopTimeout bounds the StopStream acknowledgment. Zero disables it.
func WithStopTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) { o.stopTimeout = d }
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
