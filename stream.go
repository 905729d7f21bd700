// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swapquote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Quote update cadence requested when the caller doesn't set one.
const (
	DefaultUpdateIntervalMs uint64 = 1000
	DefaultNumQuotes        uint32 = 5
)

var errUnsupportedSwapMode = errors.New("swapquote: only ExactIn swaps are supported")

// QuoteStream is an open server-side subscription to quote updates.
type QuoteStream struct {
	s  *Session
	st *streamState

	// IntervalMs is the update interval the server granted.
	IntervalMs uint64

	received int
	stopOnce sync.Once
	stopErr  error
}

// Quote is the selected route and the quote set it was picked from.
type Quote struct {
	Provider string
	Route    SwapRoute
	Quotes   *SwapQuotes
}

// ExactInRequest builds a quote request for swapping amount of input into
// output on behalf of user.
func ExactInRequest(input, output, user Pubkey, amount uint64, slippageBps *uint16) SwapQuoteRequest {
	mode := SwapModeExactIn
	createOutput := true
	interval := DefaultUpdateIntervalMs
	numQuotes := DefaultNumQuotes
	return SwapQuoteRequest{
		Swap: SwapParams{
			InputMint:   input,
			OutputMint:  output,
			Amount:      amount,
			SwapMode:    &mode,
			SlippageBps: slippageBps,
		},
		Transaction: TransactionParams{
			UserPublicKey:            user,
			CreateOutputTokenAccount: &createOutput,
		},
		Update: &QuoteUpdateParams{
			IntervalMs: &interval,
			NumQuotes:  &numQuotes,
		},
	}
}

// OpenQuoteStream asks the server for a quote stream and waits for it to
// start. The caller owns the returned stream and must Stop it.
func (s *Session) OpenQuoteStream(ctx context.Context, req SwapQuoteRequest) (*QuoteStream, error) {
	if req.Swap.SwapMode == nil {
		mode := SwapModeExactIn
		req.Swap.SwapMode = &mode
	} else if *req.Swap.SwapMode != SwapModeExactIn {
		return nil, errUnsupportedSwapMode
	}

	d, err := s.roundTrip(ctx, req)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return nil, fmt.Errorf("%w: %w", ErrStreamNotStarted, err)
		}
		return nil, err
	}
	rep := d.msg.(*Reply)
	if d.stream == nil {
		return nil, fmt.Errorf("%w: reply to request %d carried no stream", ErrStreamNotStarted, rep.RequestID)
	}

	q := &QuoteStream{s: s, st: d.stream}
	var started QuoteStreamStarted
	if err := decodeVariant(rep.Data, kindNewSwapQuoteStream, &started); err != nil {
		s.mu.Lock()
		s.finishStreamLocked(d.stream, nil)
		s.mu.Unlock()
		go s.stopOrphan(q.ID())
		return nil, fmt.Errorf("stream %d start reply: %w", q.ID(), err)
	}
	q.IntervalMs = started.IntervalMs
	s.log.Debug().Uint32("stream_id", q.ID()).Uint64("interval_ms", q.IntervalMs).Msg("quote stream started")
	return q, nil
}

// ID is the server-assigned stream id.
func (q *QuoteStream) ID() uint32 { return q.st.id }

// Next waits for the next quote set. After the stream ends it returns
// ErrNoQuotes if nothing was ever received, a *StreamEndError if the server
// reported one, or ErrStreamEnded.
func (q *QuoteStream) Next(ctx context.Context) (*SwapQuotes, error) {
	select {
	case d := <-q.st.data:
		return q.decode(d)
	default:
	}

	select {
	case d := <-q.st.data:
		return q.decode(d)
	case <-q.st.done:
		select {
		case d := <-q.st.data:
			return q.decode(d)
		default:
		}
		return nil, q.endErr()
	case <-ctx.Done():
		if q.received == 0 {
			return nil, waitError(ctx, ErrStreamNotStarted, "first quote")
		}
		return nil, waitError(ctx, ErrTimeout, "next quote")
	case <-q.s.readDone:
		return nil, q.s.readErr
	}
}

func (q *QuoteStream) decode(d *StreamData) (*SwapQuotes, error) {
	quotes := &SwapQuotes{}
	if err := decodeVariant(d.Payload, kindSwapQuotes, quotes); err != nil {
		return nil, err
	}
	q.received++
	return quotes, nil
}

func (q *QuoteStream) endErr() error {
	q.s.mu.Lock()
	end := q.st.end
	q.s.mu.Unlock()

	var err error = ErrStreamEnded
	if end != nil {
		if e := endError(end); e != nil {
			err = e
		}
	}
	if q.received == 0 {
		return fmt.Errorf("%w: %w", ErrNoQuotes, err)
	}
	return err
}

// Stop asks the server to end the stream and waits for the acknowledgment or
// the stream's end. Updates that race the stop are dropped. Stop is
// idempotent.
func (q *QuoteStream) Stop(ctx context.Context) error {
	q.stopOnce.Do(func() { q.stopErr = q.stop(ctx) })
	return q.stopErr
}

func (q *QuoteStream) stop(ctx context.Context) error {
	s := q.s
	s.mu.Lock()
	if q.st.finished {
		s.mu.Unlock()
		return nil
	}
	q.st.stopping = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.finishStreamLocked(q.st, nil)
		s.mu.Unlock()
	}()

	ctx, cancel := withTimeout(ctx, s.opts.stopTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		_, err := s.call(ctx, StopStreamRequest{ID: q.ID()})
		errc <- err
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("stop stream %d: %w", q.ID(), err)
		}
	case <-q.st.done:
	case <-ctx.Done():
		return fmt.Errorf("stop stream %d: %w", q.ID(), waitError(ctx, ErrTransport, "stop"))
	}
	s.log.Debug().Uint32("stream_id", q.ID()).Msg("quote stream stopped")
	return nil
}

// RequestSwapQuotes opens a quote stream, takes the first quote set, stops
// the stream and returns the route with the highest output.
func (s *Session) RequestSwapQuotes(ctx context.Context, req SwapQuoteRequest) (*Quote, error) {
	start := time.Now()
	q, err := s.OpenQuoteStream(ctx, req)
	if err != nil {
		return nil, err
	}

	firstCtx, cancel := withTimeout(ctx, s.opts.firstQuoteTimeout)
	quotes, err := q.Next(firstCtx)
	cancel()

	// The stream must not outlive this call even if the caller's context is
	// already done.
	stopCtx := ctx
	if ctx.Err() != nil {
		stopCtx = context.WithoutCancel(ctx)
	}
	if stopErr := q.Stop(stopCtx); stopErr != nil {
		s.log.Warn().Err(stopErr).Uint32("stream_id", q.ID()).Msg("stop quote stream")
	}

	if err != nil {
		return nil, err
	}
	firstQuoteSeconds.Observe(time.Since(start).Seconds())

	provider, route, err := SelectBest(quotes.Quotes)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("provider", provider).
		Int("providers", len(quotes.Quotes)).
		Uint64("in_amount", route.InAmount).
		Uint64("out_amount", route.OutAmount).
		Msg("best quote")
	return &Quote{Provider: provider, Route: route, Quotes: quotes}, nil
}
