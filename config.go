// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swapquote

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

// Config is the file form of the client, chain reader and assembler
// settings. Zero timeouts disable the corresponding bound.
type Config struct {
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
	Insecure bool   `yaml:"insecure"`
	LogLevel string `yaml:"log_level"`

	Timeouts     TimeoutConfig `yaml:"timeouts"`
	StreamBuffer int           `yaml:"stream_buffer"`

	Chain ChainConfig `yaml:"chain"`
	Tip   TipConfig   `yaml:"tip"`
	Swap  SwapConfig  `yaml:"swap"`

	DeadlineWindow uint64 `yaml:"deadline_window"`
	MetricsAddr    string `yaml:"metrics_addr"`
}

type TimeoutConfig struct {
	Handshake  time.Duration `yaml:"handshake"`
	Call       time.Duration `yaml:"call"`
	FirstQuote time.Duration `yaml:"first_quote"`
	Stop       time.Duration `yaml:"stop"`
}

type ChainConfig struct {
	RPCURL     string  `yaml:"rpc_url"`
	Commitment string  `yaml:"commitment"`
	RateLimit  float64 `yaml:"rate_limit"`
	Burst      int     `yaml:"burst"`
	// BreakerFailures is the consecutive failure count that opens the
	// circuit; zero never opens it.
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

type TipConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Lamports uint64 `yaml:"lamports"`
	Account  string `yaml:"account"`
}

// SwapConfig describes the ExactIn swap to quote. Addresses are base58.
type SwapConfig struct {
	InputMint   string  `yaml:"input_mint"`
	OutputMint  string  `yaml:"output_mint"`
	User        string  `yaml:"user"`
	Amount      uint64  `yaml:"amount"`
	SlippageBps *uint16 `yaml:"slippage_bps"`
	IntervalMs  uint64  `yaml:"interval_ms"`
	NumQuotes   uint32  `yaml:"num_quotes"`
}

// DefaultConfig returns the settings used for anything a file leaves out.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Timeouts: TimeoutConfig{
			Handshake:  10 * time.Second,
			Call:       10 * time.Second,
			FirstQuote: 10 * time.Second,
			Stop:       5 * time.Second,
		},
		StreamBuffer: defaultBuffer,
		Chain: ChainConfig{
			RPCURL:          "https://api.mainnet-beta.solana.com",
			Commitment:      CommitmentConfirmed,
			BreakerFailures: defaultBreakerFailures,
			BreakerTimeout:  defaultBreakerTimeout,
		},
		Tip: TipConfig{
			Lamports: DefaultTipLamports,
			Account:  DefaultTipAccount.String(),
		},
		Swap: SwapConfig{
			IntervalMs: DefaultUpdateIntervalMs,
			NumQuotes:  DefaultNumQuotes,
		},
		DeadlineWindow: DefaultDeadlineWindow,
	}
}

// LoadConfig reads path over the defaults, then applies environment
// overrides. An empty path uses defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps TITAN_*, SOLANA_* and SWAPQUOTE_* variables onto cfg.
func ApplyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("TITAN_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("TITAN_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("SOLANA_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SWAPQUOTE_TIP_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SWAPQUOTE_TIP_ENABLED: %w", err)
		}
		cfg.Tip.Enabled = b
	}
	if v := os.Getenv("SWAPQUOTE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	return nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}
	if c.Token == "" {
		errs = append(errs, errors.New("token is required"))
	}
	if c.Chain.RPCURL == "" {
		errs = append(errs, errors.New("chain.rpc_url is required"))
	}
	switch c.Chain.Commitment {
	case CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized:
	default:
		errs = append(errs, fmt.Errorf("chain.commitment %q is not processed, confirmed or finalized", c.Chain.Commitment))
	}
	if c.DeadlineWindow == 0 {
		errs = append(errs, errors.New("deadline_window must be at least 1 slot"))
	}
	if c.Tip.Enabled {
		if _, err := solana.PublicKeyFromBase58(c.Tip.Account); err != nil {
			errs = append(errs, fmt.Errorf("tip.account: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DialOptions converts the session settings.
func (c *Config) DialOptions() []DialOption {
	opts := []DialOption{
		WithHandshakeTimeout(c.Timeouts.Handshake),
		WithCallTimeout(c.Timeouts.Call),
		WithFirstQuoteTimeout(c.Timeouts.FirstQuote),
		WithStopTimeout(c.Timeouts.Stop),
		WithStreamBuffer(c.StreamBuffer),
	}
	if c.Insecure {
		opts = append(opts, WithInsecure())
	}
	return opts
}

// ChainOptions converts the chain reader settings.
func (c *Config) ChainOptions() []ChainOption {
	return []ChainOption{
		WithCommitment(c.Chain.Commitment),
		WithRateLimit(c.Chain.RateLimit, c.Chain.Burst),
		WithCircuitBreaker(c.Chain.BreakerFailures, c.Chain.BreakerTimeout),
	}
}

// AssemblerOptions converts the deadline and tip settings.
func (c *Config) AssemblerOptions() ([]AssemblerOption, error) {
	account := DefaultTipAccount
	if c.Tip.Account != "" {
		var err error
		if account, err = solana.PublicKeyFromBase58(c.Tip.Account); err != nil {
			return nil, fmt.Errorf("%w: tip account %q: %w", ErrAddressConversion, c.Tip.Account, err)
		}
	}
	return []AssemblerOption{
		WithDeadlineWindow(c.DeadlineWindow),
		WithTip(c.Tip.Lamports, account),
	}, nil
}

// TipSetting exposes the configured tip switch.
func (c *Config) TipSetting() TipSetting {
	enabled := c.Tip.Enabled
	return TipSettingFunc(func() bool { return enabled })
}

// QuoteRequest builds the configured ExactIn quote request.
func (c *Config) QuoteRequest() (SwapQuoteRequest, error) {
	input, err := PubkeyFromBase58(c.Swap.InputMint)
	if err != nil {
		return SwapQuoteRequest{}, fmt.Errorf("swap.input_mint: %w", err)
	}
	output, err := PubkeyFromBase58(c.Swap.OutputMint)
	if err != nil {
		return SwapQuoteRequest{}, fmt.Errorf("swap.output_mint: %w", err)
	}
	user, err := PubkeyFromBase58(c.Swap.User)
	if err != nil {
		return SwapQuoteRequest{}, fmt.Errorf("swap.user: %w", err)
	}
	req := ExactInRequest(input, output, user, c.Swap.Amount, c.Swap.SlippageBps)
	if c.Swap.IntervalMs > 0 {
		interval := c.Swap.IntervalMs
		req.Update.IntervalMs = &interval
	}
	if c.Swap.NumQuotes > 0 {
		n := c.Swap.NumQuotes
		req.Update.NumQuotes = &n
	}
	return req, nil
}
