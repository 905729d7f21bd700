// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swapquote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	rpc "github.com/gorilla/rpc/v2/json2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Commitment levels accepted by the node.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

const (
	defaultBreakerFailures uint32 = 5
	defaultBreakerTimeout         = 30 * time.Second
)

// RPCChainReader reads chain state over the node's JSON-RPC 2.0 HTTP API.
// Calls fail fast while the node keeps failing and are never retried.
type RPCChainReader struct {
	url        string
	client     *http.Client
	commitment string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[json.RawMessage]
	log        zerolog.Logger
}

// ChainOption configures an RPCChainReader
type ChainOption func(*chainOptions)

type chainOptions struct {
	client          *http.Client
	commitment      string
	limiter         *rate.Limiter
	breakerFailures uint32
	breakerTimeout  time.Duration
	logger          zerolog.Logger
}

// WithCommitment sets the commitment used for every read
func WithCommitment(c string) ChainOption {
	return func(o *chainOptions) { o.commitment = c }
}

// WithChainHTTPClient sets the HTTP client used to reach the node
func WithChainHTTPClient(c *http.Client) ChainOption {
	return func(o *chainOptions) { o.client = c }
}

// WithRateLimit caps requests per second to the node. Zero leaves reads
// unthrottled.
func WithRateLimit(perSecond float64, burst int) ChainOption {
	return func(o *chainOptions) {
		if perSecond <= 0 {
			o.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithCircuitBreaker opens the breaker after failures consecutive transport
// failures and keeps it open for openFor.
func WithCircuitBreaker(failures uint32, openFor time.Duration) ChainOption {
	return func(o *chainOptions) {
		o.breakerFailures = failures
		o.breakerTimeout = openFor
	}
}

// WithChainLogger sets the chain reader logger
func WithChainLogger(l zerolog.Logger) ChainOption {
	return func(o *chainOptions) { o.logger = l }
}

// NewRPCChainReader creates a reader for the node at url.
func NewRPCChainReader(url string, opts ...ChainOption) *RPCChainReader {
	o := &chainOptions{
		client:          &http.Client{Timeout: 30 * time.Second},
		commitment:      CommitmentConfirmed,
		breakerFailures: defaultBreakerFailures,
		breakerTimeout:  defaultBreakerTimeout,
		logger:          log.Logger.With().Str("component", "swapquote.chain").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}

	r := &RPCChainReader{
		url:        url,
		client:     o.client,
		commitment: o.commitment,
		limiter:    o.limiter,
		log:        o.logger,
	}
	failures := o.breakerFailures
	r.breaker = gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        "chain:" + url,
		MaxRequests: 1,
		Timeout:     o.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return failures > 0 && counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
		// The node answering with an RPC error is still a healthy node.
		IsSuccessful: func(err error) bool {
			var rpcErr *rpc.Error
			return err == nil || errors.As(err, &rpcErr)
		},
	})
	return r
}

// State reports the circuit breaker state.
func (r *RPCChainReader) State() gobreaker.State { return r.breaker.State() }

// CleanlyCloseBody drains and closes an HTTP response body so the connection
// can be reused.
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

func (r *RPCChainReader) call(ctx context.Context, method string, params []interface{}, reply interface{}) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limit: %w", method, err)
		}
	}

	raw, err := r.breaker.Execute(func() (json.RawMessage, error) {
		return r.send(ctx, method, params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%s: node circuit open: %w", method, err)
		}
		return fmt.Errorf("%s: %w", method, err)
	}
	if err := json.Unmarshal(raw, reply); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

func (r *RPCChainReader) send(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	body, err := rpc.EncodeClientRequest(method, params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode client params: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to issue request: %w", err)
	}
	defer CleanlyCloseBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("received status code: %d", resp.StatusCode)
	}
	var result json.RawMessage
	if err := rpc.DecodeClientResponse(resp.Body, &result); err != nil {
		return nil, err
	}
	r.log.Debug().Str("method", method).Dur("took", time.Since(start)).Msg("rpc call")
	return result, nil
}

func (r *RPCChainReader) config(extra map[string]interface{}) map[string]interface{} {
	cfg := map[string]interface{}{"commitment": r.commitment}
	for k, v := range extra {
		cfg[k] = v
	}
	return cfg
}

type accountInfoResult struct {
	Value *struct {
		Data     []string `json:"data"`
		Owner    string   `json:"owner"`
		Lamports uint64   `json:"lamports"`
	} `json:"value"`
}

// GetAccount returns the account's data, base64 encoded.
func (r *RPCChainReader) GetAccount(ctx context.Context, address solana.PublicKey) (string, error) {
	var res accountInfoResult
	params := []interface{}{address.String(), r.config(map[string]interface{}{"encoding": "base64"})}
	if err := r.call(ctx, "getAccountInfo", params, &res); err != nil {
		return "", err
	}
	if res.Value == nil {
		return "", fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	if len(res.Value.Data) != 2 || res.Value.Data[1] != "base64" {
		return "", fmt.Errorf("getAccountInfo: unexpected data encoding for %s", address)
	}
	return res.Value.Data[0], nil
}

// GetCurrentSlot returns the slot the node has reached at the configured
// commitment.
func (r *RPCChainReader) GetCurrentSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := r.call(ctx, "getSlot", []interface{}{r.config(nil)}, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

type latestBlockhashResult struct {
	Value struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	} `json:"value"`
}

// GetRecentBlockhash returns the latest blockhash.
func (r *RPCChainReader) GetRecentBlockhash(ctx context.Context) (solana.Hash, error) {
	var res latestBlockhashResult
	if err := r.call(ctx, "getLatestBlockhash", []interface{}{r.config(nil)}, &res); err != nil {
		return solana.Hash{}, err
	}
	h, err := solana.HashFromBase58(res.Value.Blockhash)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("getLatestBlockhash: %q: %w", res.Value.Blockhash, err)
	}
	return h, nil
}

var _ ChainReader = (*RPCChainReader)(nil)
