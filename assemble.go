// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swapquote

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MaxTransactionSize is the largest serialized transaction the network accepts.
const MaxTransactionSize = 1232

// Assembler compiles a selected route into an unsigned versioned transaction.
type Assembler struct {
	chain       ChainReader
	tips        TipSetting
	window      uint64
	tipAccount  solana.PublicKey
	tipLamports uint64
	maxSize     int
	log         zerolog.Logger
}

// AssemblerOption configures an Assembler
type AssemblerOption func(*Assembler)

// WithDeadlineWindow sets how many slots past the current one the
// transaction stays valid. Zero keeps DefaultDeadlineWindow, since a guard
// at the current slot fails as soon as the slot advances.
func WithDeadlineWindow(slots uint64) AssemblerOption {
	return func(a *Assembler) {
		if slots > 0 {
			a.window = slots
		}
	}
}

// WithTip sets the tip amount and recipient used when tips are enabled.
func WithTip(lamports uint64, account solana.PublicKey) AssemblerOption {
	return func(a *Assembler) {
		a.tipLamports = lamports
		a.tipAccount = account
	}
}

// WithMaxTransactionSize overrides the serialized size limit.
func WithMaxTransactionSize(n int) AssemblerOption {
	return func(a *Assembler) { a.maxSize = n }
}

// WithAssemblerLogger sets the assembler logger
func WithAssemblerLogger(l zerolog.Logger) AssemblerOption {
	return func(a *Assembler) { a.log = l }
}

// NewAssembler creates an assembler reading chain state from chain. A nil
// tips never tips.
func NewAssembler(chain ChainReader, tips TipSetting, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		chain:       chain,
		tips:        tips,
		window:      DefaultDeadlineWindow,
		tipAccount:  DefaultTipAccount,
		tipLamports: DefaultTipLamports,
		maxSize:     MaxTransactionSize,
		log:         log.Logger.With().Str("component", "swapquote.assembler").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// TranslateInstruction converts a wire instruction to a native one. Data is
// copied as is.
func TranslateInstruction(ix Instruction) (solana.Instruction, error) {
	program, err := ix.ProgramID.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("program id: %w", err)
	}
	accounts := make(solana.AccountMetaSlice, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		key, err := meta.Pubkey.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("account %d of %s: %w", i, program, err)
		}
		accounts[i] = solana.NewAccountMeta(key, meta.IsWritable, meta.IsSigner)
	}
	data := make([]byte, len(ix.Data))
	copy(data, ix.Data)
	return solana.NewInstruction(program, accounts, data), nil
}

// Instructions returns the final instruction list for route: the deadline
// guard, the route's instructions, then the tip when enabled.
func (a *Assembler) Instructions(ctx context.Context, route *SwapRoute, payer solana.PublicKey) ([]solana.Instruction, error) {
	swap := make([]solana.Instruction, 0, len(route.Instructions))
	for i, ix := range route.Instructions {
		native, err := TranslateInstruction(ix)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		swap = append(swap, native)
	}

	slot, err := a.chain.GetCurrentSlot(ctx)
	if err != nil {
		return nil, fmt.Errorf("current slot: %w", err)
	}
	deadline, err := DeadlineInstructionFromCurrent(slot, a.window)
	if err != nil {
		return nil, err
	}

	out := make([]solana.Instruction, 0, len(swap)+2)
	out = append(out, deadline)
	out = append(out, swap...)
	if a.tips != nil && a.tips.TipEnabled() {
		out = append(out, TipInstruction(payer, a.tipAccount, a.tipLamports))
	}
	a.log.Debug().
		Uint64("current_slot", slot).
		Uint64("max_slot", slot+a.window).
		Int("swap_instructions", len(swap)).
		Bool("tip", len(out) > len(swap)+1).
		Msg("instructions ready")
	return out, nil
}

// Assemble builds the serialized, unsigned transaction for route with payer
// as fee payer. Signature slots are zeroed placeholders.
func (a *Assembler) Assemble(ctx context.Context, route *SwapRoute, payer solana.PublicKey) ([]byte, error) {
	raw, err := a.assemble(ctx, route, payer)
	recordTransaction(err)
	return raw, err
}

func (a *Assembler) assemble(ctx context.Context, route *SwapRoute, payer solana.PublicKey) ([]byte, error) {
	instructions, err := a.Instructions(ctx, route, payer)
	if err != nil {
		return nil, err
	}
	tables, err := resolveLookupTables(ctx, a.chain, route.AddressLookupTables)
	if err != nil {
		return nil, err
	}
	blockhash, err := a.chain.GetRecentBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("recent blockhash: %w", err)
	}

	tx, err := Compile(payer, instructions, tables, blockhash)
	if err != nil {
		return nil, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: serialize: %w", ErrCompilation, err)
	}
	if len(raw) > a.maxSize {
		return nil, fmt.Errorf("%w: transaction is %d bytes, limit %d", ErrCompilation, len(raw), a.maxSize)
	}
	a.log.Info().
		Int("instructions", len(instructions)).
		Int("lookup_tables", len(tables)).
		Int("bytes", len(raw)).
		Msg("transaction assembled")
	return raw, nil
}

// Compile builds a v0 message compressed against tables and wraps it with
// one zeroed signature per required signer.
func Compile(payer solana.PublicKey, instructions []solana.Instruction, tables []LookupTable, blockhash solana.Hash) (*solana.Transaction, error) {
	opts := []solana.TransactionOption{solana.TransactionPayer(payer)}
	if len(tables) > 0 {
		byKey := make(map[solana.PublicKey]solana.PublicKeySlice, len(tables))
		for _, t := range tables {
			byKey[t.Key] = t.Addresses
		}
		opts = append(opts, solana.TransactionAddressTables(byKey))
	}

	tx, err := solana.NewTransaction(instructions, blockhash, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompilation, err)
	}
	tx.Message.SetVersion(solana.MessageVersionV0)
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	return tx, nil
}
