// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package swapquote streams swap quotes from a websocket quote service and
// assembles the best route into an unsigned Solana v0 transaction.
//
// # Usage
//
//	s, err := swapquote.Dial(ctx, "de1.api.demo.titan.exchange", token)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	req := swapquote.ExactInRequest(solMint, usdcMint, user, 1_000_000_000, nil)
//	quote, err := s.RequestSwapQuotes(ctx, req)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	chain := swapquote.NewRPCChainReader("https://api.mainnet-beta.solana.com")
//	asm := swapquote.NewAssembler(chain, swapquote.TipSettingFunc(func() bool { return true }))
//	tx, err := asm.Assemble(ctx, &quote.Route, payer)
//
// Callers that want every update rather than the first use OpenQuoteStream
// and drive the QuoteStream themselves.
//
// # Architecture
//
//   - transport.go: websocket transport (binary frames only)
//   - codec.go: MessagePack wire codec, map-keyed structs, tagged variants
//   - session.go: request/stream correlator over one reader goroutine
//   - stream.go: quote streams and one-shot best-quote selection
//   - chain.go: JSON-RPC chain reader for slots, blockhashes and accounts
//   - assemble.go: deadline, swap and tip instructions compiled to v0
//
// Nothing in the package retries. A transport failure ends the session and
// the caller dials again.
package swapquote
