// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swapquote

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport is fatal to the session; callers must dial again.
	ErrTransport = errors.New("swapquote: transport failure")
	ErrClosed    = errors.New("swapquote: session closed")
	ErrTimeout   = errors.New("swapquote: timed out")
	// ErrCodec is fatal to the operation that hit it, not to the session.
	ErrCodec              = errors.New("swapquote: malformed frame")
	ErrUnexpectedResponse = errors.New("swapquote: unexpected response")

	ErrStreamNotStarted = errors.New("swapquote: quote stream not started")
	ErrNoQuotes         = errors.New("swapquote: no quotes available")
	ErrStreamEnded      = errors.New("swapquote: stream ended")

	ErrAddressConversion    = errors.New("swapquote: invalid address")
	ErrMalformedLookupTable = errors.New("swapquote: malformed lookup table")
	ErrCompilation          = errors.New("swapquote: transaction compilation failed")

	// ErrAccountNotFound is returned by RPCChainReader for an empty account.
	ErrAccountNotFound = errors.New("swapquote: account not found")
)

// ProtocolError is an application error reported by the quote service.
type ProtocolError struct {
	Code    uint32
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("swapquote: server error %d: %s", e.Code, e.Message)
}

// StreamEndError reports a stream the server ended with an error.
type StreamEndError struct {
	StreamID uint32
	Code     uint32
	Message  string
}

func (e *StreamEndError) Error() string {
	return fmt.Sprintf("swapquote: stream %d ended with error %d: %s", e.StreamID, e.Code, e.Message)
}

func (e *StreamEndError) Is(target error) bool {
	return target == ErrStreamEnded
}

// endError maps a StreamEnd frame to the error a consumer should see.
func endError(end *StreamEnd) error {
	if end.ErrorMessage == nil && end.ErrorCode == nil {
		return nil
	}
	e := &StreamEndError{StreamID: end.ID}
	if end.ErrorCode != nil {
		e.Code = *end.ErrorCode
	}
	if end.ErrorMessage != nil {
		e.Message = *end.ErrorMessage
	}
	return e
}
