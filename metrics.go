// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swapquote

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapquote_requests_total",
			Help: "Requests sent to the quote service by kind and outcome",
		},
		[]string{"method", "outcome"},
	)

	streamsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swapquote_streams_open",
			Help: "Quote streams currently open",
		},
	)

	framesDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapquote_frames_discarded_total",
			Help: "Inbound frames dropped without a consumer",
		},
		[]string{"reason"},
	)

	firstQuoteSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swapquote_first_quote_seconds",
			Help:    "Time from opening a quote stream to its first quote set",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	transactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapquote_transactions_total",
			Help: "Transactions assembled by outcome",
		},
		[]string{"outcome"},
	)
)

// RegisterMetrics registers the package collectors with r.
func RegisterMetrics(r prometheus.Registerer) {
	r.MustRegister(requestsTotal, streamsOpen, framesDiscarded, firstQuoteSeconds, transactionsTotal)
}

func recordDiscard(reason string) { framesDiscarded.WithLabelValues(reason).Inc() }

func recordRequest(kind string, err error) {
	requestsTotal.WithLabelValues(kind, outcome(err)).Inc()
}

func recordTransaction(err error) {
	transactionsTotal.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
