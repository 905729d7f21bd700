// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swapquote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Session is one connection to the quote service. A single reader goroutine
// owns the transport's receive side and hands frames to the caller waiting on
// the matching request id or stream id.
type Session struct {
	id        string
	transport Transport
	codec     Codec
	opts      *dialOptions
	log       zerolog.Logger

	// mu guards nextID, pending and streams together; stream teardown depends
	// on seeing both tables in one state.
	mu      sync.Mutex
	nextID  uint32
	pending map[uint32]chan delivery
	streams map[uint32]*streamState

	cancel   context.CancelFunc
	closed   atomic.Bool
	readDone chan struct{}
	readErr  error
}

// delivery is what the reader hands to a waiting caller. stream is set when
// the reply opened a stream; the reader registers it before any of its data
// can be routed.
type delivery struct {
	msg    ServerMessage
	stream *streamState
}

// streamState fields other than data/done are guarded by Session.mu.
type streamState struct {
	id       uint32
	data     chan *StreamData
	done     chan struct{}
	end      *StreamEnd
	stopping bool
	finished bool
}

func newSession(t Transport, o *dialOptions) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	s := &Session{
		id:        id,
		transport: t,
		codec:     o.codec,
		opts:      o,
		log:       o.logger.With().Str("session", id).Logger(),
		nextID:    1,
		pending:   make(map[uint32]chan delivery),
		streams:   make(map[uint32]*streamState),
		cancel:    cancel,
		readDone:  make(chan struct{}),
	}
	go s.readLoop(ctx)
	return s
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Close tears the session down. It is safe to call more than once.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()
	err := s.transport.Close()
	s.log.Info().Msg("session closed")
	return err
}

// Done is closed once the session can no longer deliver frames.
func (s *Session) Done() <-chan struct{} { return s.readDone }

// Err reports why the session ended; nil while it is alive.
func (s *Session) Err() error {
	select {
	case <-s.readDone:
		return s.readErr
	default:
		return nil
	}
}

func (s *Session) readLoop(ctx context.Context) {
	defer close(s.readDone)

	for {
		frame, err := s.transport.Recv(ctx)
		if err != nil {
			s.shutdown(err)
			return
		}
		msg, err := s.codec.DecodeServerMessage(frame)
		if err != nil {
			s.log.Warn().Err(err).Int("bytes", len(frame)).Msg("discarding undecodable frame")
			recordDiscard("codec")
			continue
		}
		s.dispatch(msg)
	}
}

func (s *Session) shutdown(err error) {
	if s.closed.Load() {
		s.readErr = ErrClosed
	} else {
		if !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		s.readErr = err
		s.log.Error().Err(err).Msg("session lost")
	}

	s.mu.Lock()
	streamsOpen.Sub(float64(len(s.streams)))
	s.streams = make(map[uint32]*streamState)
	s.mu.Unlock()
}

func (s *Session) dispatch(msg ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m := msg.(type) {
	case *Reply:
		ch, ok := s.pending[m.RequestID]
		var st *streamState
		if m.Stream != nil {
			if !ok {
				// The caller gave up before the stream came up; don't leave it
				// running on the server.
				s.log.Warn().Uint32("request_id", m.RequestID).Uint32("stream_id", m.Stream.ID).Msg("stopping orphaned stream")
				go s.stopOrphan(m.Stream.ID)
				return
			}
			st = s.openStreamLocked(m.Stream.ID)
		}
		if !ok {
			s.discardLocked("no_waiter", m.RequestID)
			return
		}
		delete(s.pending, m.RequestID)
		ch <- delivery{msg: m, stream: st}

	case *ErrorReply:
		ch, ok := s.pending[m.RequestID]
		if !ok {
			s.discardLocked("no_waiter", m.RequestID)
			return
		}
		delete(s.pending, m.RequestID)
		ch <- delivery{msg: m}

	case *StreamData:
		st, ok := s.streams[m.ID]
		if !ok || st.stopping {
			s.discardLocked("unknown_stream", m.ID)
			return
		}
		if pushNewest(st.data, m) {
			recordDiscard("stream_overflow")
		}

	case *StreamEnd:
		st, ok := s.streams[m.ID]
		if !ok {
			s.discardLocked("unknown_stream", m.ID)
			return
		}
		s.finishStreamLocked(st, m)
	}
}

// pushNewest queues m without blocking. When ch is full the oldest update is
// dropped, since newer quotes supersede it. Consumers receive from ch without
// the session lock, so the drop and the retry must both be non-blocking.
func pushNewest(ch chan *StreamData, m *StreamData) (dropped bool) {
	for {
		select {
		case ch <- m:
			return dropped
		default:
		}
		select {
		case <-ch:
			dropped = true
		default:
		}
	}
}

func (s *Session) discardLocked(reason string, id uint32) {
	s.log.Debug().Str("reason", reason).Uint32("id", id).Msg("discarding frame")
	recordDiscard(reason)
}

func (s *Session) openStreamLocked(id uint32) *streamState {
	st := &streamState{
		id:   id,
		data: make(chan *StreamData, s.opts.buffer),
		done: make(chan struct{}),
	}
	s.streams[id] = st
	streamsOpen.Inc()
	return st
}

func (s *Session) finishStreamLocked(st *streamState, end *StreamEnd) {
	if st.finished {
		return
	}
	st.finished = true
	st.end = end
	if s.streams[st.id] == st {
		delete(s.streams, st.id)
		streamsOpen.Dec()
	}
	close(st.done)
}

// register allocates the next request id and a slot for its reply.
func (s *Session) register() (uint32, chan delivery, error) {
	select {
	case <-s.readDone:
		return 0, nil, s.readErr
	default:
	}
	if s.closed.Load() {
		return 0, nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan delivery, 1)
	s.pending[id] = ch
	return id, ch, nil
}

func (s *Session) unregister(id uint32) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// roundTrip sends one request and waits for the reply or error carrying its
// id, bounded by the call timeout.
func (s *Session) roundTrip(ctx context.Context, data RequestData) (delivery, error) {
	kind := data.RequestKind()
	ctx, cancel := withTimeout(ctx, s.opts.callTimeout)
	defer cancel()

	id, ch, err := s.register()
	if err != nil {
		recordRequest(kind, err)
		return delivery{}, err
	}
	defer s.unregister(id)

	frame, err := s.codec.EncodeRequest(&Request{ID: id, Data: data})
	if err != nil {
		recordRequest(kind, err)
		return delivery{}, err
	}
	s.log.Debug().Uint32("request_id", id).Str("kind", kind).Int("bytes", len(frame)).Msg("sending request")
	if err := s.transport.Send(ctx, frame); err != nil {
		if ctx.Err() != nil {
			err = waitError(ctx, ErrTransport, kind)
		}
		recordRequest(kind, err)
		return delivery{}, err
	}

	select {
	case d := <-ch:
		if e, ok := d.msg.(*ErrorReply); ok {
			err := &ProtocolError{Code: e.Code, Message: e.Message}
			recordRequest(kind, err)
			return delivery{}, err
		}
		recordRequest(kind, nil)
		return d, nil
	case <-ctx.Done():
		s.abandon(id, ch)
		err := waitError(ctx, ErrTransport, kind)
		recordRequest(kind, err)
		return delivery{}, err
	case <-s.readDone:
		recordRequest(kind, s.readErr)
		return delivery{}, s.readErr
	}
}

// abandon gives up on id. A reply that slipped in first may have opened a
// stream nobody will consume, so that stream is stopped.
func (s *Session) abandon(id uint32, ch chan delivery) {
	s.unregister(id)
	select {
	case d := <-ch:
		if d.stream != nil {
			s.mu.Lock()
			s.finishStreamLocked(d.stream, nil)
			s.mu.Unlock()
			go s.stopOrphan(d.stream.id)
		}
	default:
	}
}

// call is roundTrip for requests that never open a stream.
func (s *Session) call(ctx context.Context, data RequestData) (*Reply, error) {
	d, err := s.roundTrip(ctx, data)
	if err != nil {
		return nil, err
	}
	return d.msg.(*Reply), nil
}

// waitError reports an abandoned wait. A deadline counts as kind so callers
// can branch on it; plain cancellation is passed through.
func waitError(ctx context.Context, kind error, what string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", kind, what, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", what, ctx.Err())
}

func (s *Session) stopOrphan(streamID uint32) {
	ctx, cancel := withTimeout(context.Background(), s.opts.stopTimeout)
	defer cancel()
	if _, err := s.call(ctx, StopStreamRequest{ID: streamID}); err != nil {
		s.log.Warn().Err(err).Uint32("stream_id", streamID).Msg("stop orphaned stream")
	}
}

// GetInfo returns the server's protocol version and settings.
func (s *Session) GetInfo(ctx context.Context) (*ServerInfo, error) {
	rep, err := s.call(ctx, GetInfoRequest{})
	if err != nil {
		return nil, err
	}
	info := &ServerInfo{}
	if err := decodeVariant(rep.Data, kindGetInfo, info); err != nil {
		return nil, err
	}
	return info, nil
}

// GetVenues lists the venues the server can route through.
func (s *Session) GetVenues(ctx context.Context, includeProgramIDs bool) (*VenueInfo, error) {
	rep, err := s.call(ctx, GetVenuesRequest{IncludeProgramIDs: &includeProgramIDs})
	if err != nil {
		return nil, err
	}
	venues := &VenueInfo{}
	if err := decodeVariant(rep.Data, kindGetVenues, venues); err != nil {
		return nil, err
	}
	return venues, nil
}

// ListProviders lists the quote providers behind the service.
func (s *Session) ListProviders(ctx context.Context, includeIcons bool) ([]ProviderInfo, error) {
	rep, err := s.call(ctx, ListProvidersRequest{IncludeIcons: &includeIcons})
	if err != nil {
		return nil, err
	}
	var providers []ProviderInfo
	if err := decodeVariant(rep.Data, kindListProviders, &providers); err != nil {
		return nil, err
	}
	return providers, nil
}
