// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swapquote

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// DeadlineProgramID aborts a transaction with Custom(1) once the current slot
// is past the slot in its instruction data.
var DeadlineProgramID = solana.MustPublicKeyFromBase58("23MzuyVH6EKGbUHq7GjBY6ydSCVoZQYDmzeKVdDBKWNQ")

// DefaultDeadlineWindow is how many slots past the current one a transaction
// stays valid.
const DefaultDeadlineWindow uint64 = 24

// Priority tip defaults: 0.0001 SOL to the block-engine tip account.
var DefaultTipAccount = solana.MustPublicKeyFromBase58("juLesoSmdTcRtzjCzYzRoHrnF8GhVu6KCV7uxq7nJGp")

const DefaultTipLamports uint64 = 100_000

// DeadlineInstruction builds the guard for maxSlot: data is the slot as a
// little-endian u64, the only account is the read-only Clock sysvar.
func DeadlineInstruction(maxSlot uint64) solana.Instruction {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, maxSlot)
	return solana.NewInstruction(
		DeadlineProgramID,
		solana.AccountMetaSlice{solana.NewAccountMeta(solana.SysVarClockPubkey, false, false)},
		data,
	)
}

// DeadlineInstructionFromCurrent builds the guard for current+window.
func DeadlineInstructionFromCurrent(current, window uint64) (solana.Instruction, error) {
	if current > math.MaxUint64-window {
		return nil, fmt.Errorf("%w: deadline slot overflows (current %d, window %d)", ErrCompilation, current, window)
	}
	return DeadlineInstruction(current + window), nil
}

// TipInstruction transfers lamports from payer to the tip account.
func TipInstruction(payer, tipAccount solana.PublicKey, lamports uint64) solana.Instruction {
	return system.NewTransferInstruction(lamports, payer, tipAccount).Build()
}
