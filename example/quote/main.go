// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command quote fetches the best quote for the configured swap and prints the
// unsigned transaction, base64 encoded.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/luxfi/swapquote"
)

func main() {
	configPath := flag.String("config", os.Getenv("SWAPQUOTE_CONFIG"), "path to the YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal().Err(err).Msg("quote failed")
	}
}

func run(configPath string) error {
	cfg, err := swapquote.LoadConfig(configPath)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(swapquote.ParseLevel(cfg.LogLevel))
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if cfg.MetricsAddr != "" {
		swapquote.RegisterMetrics(prometheus.DefaultRegisterer)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server")
			}
		}()
		defer metricsSrv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req, err := cfg.QuoteRequest()
	if err != nil {
		return err
	}
	payer, err := req.Transaction.UserPublicKey.PublicKey()
	if err != nil {
		return err
	}

	dialOpts := append(cfg.DialOptions(), swapquote.WithLogger(logger))
	session, err := swapquote.Dial(ctx, cfg.Endpoint, cfg.Token, dialOpts...)
	if err != nil {
		return err
	}
	defer session.Close()

	quote, err := session.RequestSwapQuotes(ctx, req)
	if err != nil {
		return err
	}

	chainOpts := append(cfg.ChainOptions(), swapquote.WithChainLogger(logger))
	chain := swapquote.NewRPCChainReader(cfg.Chain.RPCURL, chainOpts...)
	asmOpts, err := cfg.AssemblerOptions()
	if err != nil {
		return err
	}
	asm := swapquote.NewAssembler(chain, cfg.TipSetting(), append(asmOpts, swapquote.WithAssemblerLogger(logger))...)

	tx, err := asm.Assemble(ctx, &quote.Route, payer)
	if err != nil {
		return err
	}

	logger.Info().
		Str("provider", quote.Provider).
		Uint64("in_amount", quote.Route.InAmount).
		Uint64("out_amount", quote.Route.OutAmount).
		Int("bytes", len(tx)).
		Msg("transaction ready")
	fmt.Println(base64.StdEncoding.EncodeToString(tx))
	return nil
}
