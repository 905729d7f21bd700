// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swapquote

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// pipeTransport is an in-memory Transport. The test plays the server on the
// other end.
type pipeTransport struct {
	in     chan []byte
	out    chan []byte
	broken chan struct{}
	once   sync.Once
	closed chan struct{}
	close  sync.Once
}

func newPipe() *pipeTransport {
	return &pipeTransport{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		broken: make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (p *pipeTransport) Send(ctx context.Context, data []byte) error {
	select {
	case p.out <- data:
		return nil
	case <-p.broken:
		return fmt.Errorf("%w: write: broken pipe", ErrTransport)
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.broken:
		return nil, fmt.Errorf("%w: read: %w", ErrTransport, io.EOF)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeTransport) Close() error {
	p.close.Do(func() { close(p.closed) })
	return nil
}

// drop simulates the remote end going away.
func (p *pipeTransport) drop() { p.once.Do(func() { close(p.broken) }) }

// next returns the next request the client sent.
func (p *pipeTransport) next(t *testing.T) *Request {
	t.Helper()
	select {
	case frame := <-p.out:
		req, err := DecodeRequest(frame)
		require.NoError(t, err)
		return req
	case <-time.After(waitFor):
		t.Fatal("no request from client")
		return nil
	}
}

func (p *pipeTransport) push(t *testing.T, msg ServerMessage) {
	t.Helper()
	frame, err := EncodeServerMessage(msg)
	require.NoError(t, err)
	p.in <- frame
}

func (p *pipeTransport) pushRaw(frame []byte) { p.in <- frame }

func newTestSession(t *testing.T, opts ...DialOption) (*Session, *pipeTransport) {
	t.Helper()
	p := newPipe()
	opts = append([]DialOption{WithLogger(zerolog.Nop())}, opts...)
	s := NewSession(p, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s, p
}

func testReply(t *testing.T, requestID uint32, tag string, body interface{}) *Reply {
	t.Helper()
	data, err := encodeVariant(tag, body)
	require.NoError(t, err)
	return &Reply{RequestID: requestID, Data: data}
}

func streamReply(t *testing.T, requestID, streamID uint32) *Reply {
	t.Helper()
	r := testReply(t, requestID, kindNewSwapQuoteStream, QuoteStreamStarted{IntervalMs: 500})
	r.Stream = &StreamStart{ID: streamID, DataType: kindSwapQuotes}
	return r
}

func quotesFrame(t *testing.T, streamID, seq uint32, quotes *SwapQuotes) *StreamData {
	t.Helper()
	payload, err := encodeVariant(kindSwapQuotes, quotes)
	require.NoError(t, err)
	return &StreamData{ID: streamID, Seq: seq, Payload: payload}
}

func routes(outAmounts map[string]uint64) *SwapQuotes {
	q := &SwapQuotes{ID: "quotes", SwapMode: SwapModeExactIn, Amount: 1_000_000_000, Quotes: map[string]SwapRoute{}}
	for provider, out := range outAmounts {
		q.Quotes[provider] = SwapRoute{InAmount: 1_000_000_000, OutAmount: out}
	}
	return q
}

func requireStop(t *testing.T, p *pipeTransport, streamID uint32) *Request {
	t.Helper()
	req := p.next(t)
	stop, ok := req.Data.(StopStreamRequest)
	require.True(t, ok, "want StopStream, got %s", req.Data.RequestKind())
	require.Equal(t, streamID, stop.ID)
	return req
}

// fakeChain is an in-memory ChainReader.
type fakeChain struct {
	mu        sync.Mutex
	slot      uint64
	blockhash solana.Hash
	accounts  map[solana.PublicKey][]byte
	fetches   map[solana.PublicKey]int
	slotErr   error
}

func newFakeChain(slot uint64) *fakeChain {
	return &fakeChain{
		slot:      slot,
		blockhash: solana.HashFromBytes(make32(7)),
		accounts:  make(map[solana.PublicKey][]byte),
		fetches:   make(map[solana.PublicKey]int),
	}
}

func (c *fakeChain) GetAccount(_ context.Context, address solana.PublicKey) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches[address]++
	data, ok := c.accounts[address]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (c *fakeChain) GetCurrentSlot(context.Context) (uint64, error) {
	if c.slotErr != nil {
		return 0, c.slotErr
	}
	return c.slot, nil
}

func (c *fakeChain) GetRecentBlockhash(context.Context) (solana.Hash, error) {
	return c.blockhash, nil
}

// addTable stores a lookup table account holding addrs.
func (c *fakeChain) addTable(key solana.PublicKey, addrs ...solana.PublicKey) {
	data := make([]byte, LookupTableMetaSize, LookupTableMetaSize+len(addrs)*solana.PublicKeyLength)
	for _, a := range addrs {
		data = append(data, a.Bytes()...)
	}
	c.accounts[key] = data
}

func make32(b byte) []byte {
	out := make([]byte, 32)
	for i := range out {
		out[i] = b
	}
	return out
}

func newKey() solana.PublicKey { return solana.NewWallet().PublicKey() }

var errBoom = errors.New("boom")
