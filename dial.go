// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swapquote

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Dial opens an authenticated session to the quote service at endpoint, a
// host name such as "de1.api.demo.titan.exchange" or a full ws(s):// URL.
func Dial(ctx context.Context, endpoint, token string, opts ...DialOption) (*Session, error) {
	o := newDialOptions(opts)

	url := endpoint
	if !strings.Contains(endpoint, "://") {
		url = o.scheme + "://" + endpoint + o.path
	}

	hctx, cancel := withTimeout(ctx, o.handshakeTimeout)
	defer cancel()

	t, err := dialWebsocket(hctx, url, token, o)
	if err != nil {
		if errors.Is(hctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: handshake: %w", err, ErrTimeout)
		}
		return nil, err
	}

	s := newSession(t, o)
	s.log.Info().Str("url", url).Str("token", maskSecret(token)).Msg("connected")
	return s, nil
}

// NewSession runs the correlator over an already established transport.
func NewSession(t Transport, opts ...DialOption) *Session {
	return newSession(t, newDialOptions(opts))
}

// maskSecret keeps a few characters of a credential for log correlation.
func maskSecret(s string) string {
	n := len(s)
	switch {
	case n == 0:
		return ""
	case n <= 5:
		return strings.Repeat("*", n)
	case n <= 20:
		return s[:1] + strings.Repeat("*", n-2) + s[n-1:]
	}
	return s[:3] + strings.Repeat("*", n-4) + s[n-1:]
}
