// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swapquote

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	tipOn  = TipSettingFunc(func() bool { return true })
	tipOff = TipSettingFunc(func() bool { return false })
)

func testAssembler(chain ChainReader, tips TipSetting, opts ...AssemblerOption) *Assembler {
	opts = append([]AssemblerOption{WithAssemblerLogger(zerolog.Nop())}, opts...)
	return NewAssembler(chain, tips, opts...)
}

// swapRoute builds a two-instruction route signed by user: a token account
// setup followed by a swap through pool.
func swapRoute(user solana.PublicKey, pool []solana.PublicKey, tables ...solana.PublicKey) *SwapRoute {
	program := Pubkey(newKey().Bytes())
	setup := Instruction{
		ProgramID: Pubkey(solana.TokenProgramID.Bytes()),
		Accounts: []AccountMeta{
			{Pubkey: Pubkey(user.Bytes()), IsSigner: true, IsWritable: true},
			{Pubkey: Pubkey(pool[0].Bytes()), IsWritable: true},
		},
		Data: []byte{1},
	}
	swap := Instruction{ProgramID: program, Data: []byte{0xde, 0xad, 0xbe, 0xef}}
	swap.Accounts = append(swap.Accounts, AccountMeta{Pubkey: Pubkey(user.Bytes()), IsSigner: true, IsWritable: true})
	for _, p := range pool {
		swap.Accounts = append(swap.Accounts, AccountMeta{Pubkey: Pubkey(p.Bytes()), IsWritable: true})
	}
	route := &SwapRoute{
		InAmount:     1_000_000_000,
		OutAmount:    150_000_000,
		Instructions: []Instruction{setup, swap},
	}
	for _, t := range tables {
		route.AddressLookupTables = append(route.AddressLookupTables, Pubkey(t.Bytes()))
	}
	return route
}

func poolKeys(n int) []solana.PublicKey {
	keys := make([]solana.PublicKey, n)
	for i := range keys {
		keys[i] = newKey()
	}
	return keys
}

func TestTranslateInstruction(t *testing.T) {
	program, signer, writable, readonly := newKey(), newKey(), newKey(), newKey()
	ix := Instruction{
		ProgramID: Pubkey(program.Bytes()),
		Accounts: []AccountMeta{
			{Pubkey: Pubkey(signer.Bytes()), IsSigner: true},
			{Pubkey: Pubkey(writable.Bytes()), IsWritable: true},
			{Pubkey: Pubkey(readonly.Bytes())},
		},
		Data: []byte{9, 8, 7},
	}

	native, err := TranslateInstruction(ix)
	require.NoError(t, err)
	require.Equal(t, program, native.ProgramID())
	require.Equal(t, []*solana.AccountMeta{
		{PublicKey: signer, IsSigner: true},
		{PublicKey: writable, IsWritable: true},
		{PublicKey: readonly},
	}, native.Accounts())
	data, err := native.Data()
	require.NoError(t, err)
	require.Equal(t, []byte{9, 8, 7}, data)

	// Data is copied, not aliased.
	ix.Data[0] = 0
	data, _ = native.Data()
	require.Equal(t, byte(9), data[0])
}

func TestTranslateInstructionBadAddress(t *testing.T) {
	_, err := TranslateInstruction(Instruction{ProgramID: Pubkey(make([]byte, 31))})
	require.ErrorIs(t, err, ErrAddressConversion)

	_, err = TranslateInstruction(Instruction{
		ProgramID: Pubkey(newKey().Bytes()),
		Accounts:  []AccountMeta{{Pubkey: Pubkey(make([]byte, 33))}},
	})
	require.ErrorIs(t, err, ErrAddressConversion)
}

func TestDeadlineInstruction(t *testing.T) {
	ix, err := DeadlineInstructionFromCurrent(1000, DefaultDeadlineWindow)
	require.NoError(t, err)
	require.Equal(t, DeadlineProgramID, ix.ProgramID())
	require.Equal(t, []*solana.AccountMeta{{PublicKey: solana.SysVarClockPubkey}}, ix.Accounts())
	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 8)
	require.Equal(t, uint64(1024), binary.LittleEndian.Uint64(data))

	_, err = DeadlineInstructionFromCurrent(math.MaxUint64-10, 24)
	require.ErrorIs(t, err, ErrCompilation)
}

func TestZeroDeadlineWindowKeepsDefault(t *testing.T) {
	chain := newFakeChain(5_000)
	payer := newKey()
	route := swapRoute(payer, poolKeys(1))

	ixs, err := testAssembler(chain, tipOff, WithDeadlineWindow(0)).Instructions(context.Background(), route, payer)
	require.NoError(t, err)
	data, err := ixs[0].Data()
	require.NoError(t, err)
	require.Equal(t, uint64(5_000)+DefaultDeadlineWindow, binary.LittleEndian.Uint64(data))
}

func TestInstructionsOrder(t *testing.T) {
	chain := newFakeChain(5_000)
	payer := newKey()
	route := swapRoute(payer, poolKeys(2))
	ctx := context.Background()

	ixs, err := testAssembler(chain, tipOff).Instructions(ctx, route, payer)
	require.NoError(t, err)
	require.Len(t, ixs, 3)
	require.Equal(t, DeadlineProgramID, ixs[0].ProgramID())
	data, _ := ixs[0].Data()
	require.Equal(t, uint64(5_024), binary.LittleEndian.Uint64(data))
	require.Equal(t, solana.TokenProgramID, ixs[1].ProgramID())

	ixs, err = testAssembler(chain, tipOn, WithDeadlineWindow(100)).Instructions(ctx, route, payer)
	require.NoError(t, err)
	require.Len(t, ixs, 4)
	data, _ = ixs[0].Data()
	require.Equal(t, uint64(5_100), binary.LittleEndian.Uint64(data))

	tip := ixs[3]
	require.Equal(t, solana.SystemProgramID, tip.ProgramID())
	require.Equal(t, payer, tip.Accounts()[0].PublicKey)
	require.True(t, tip.Accounts()[0].IsSigner)
	require.Equal(t, DefaultTipAccount, tip.Accounts()[1].PublicKey)
	data, err = tip.Data()
	require.NoError(t, err)
	require.Len(t, data, 12)
	require.Equal(t, uint32(2), binary.LittleEndian.Uint32(data[:4]))
	require.Equal(t, DefaultTipLamports, binary.LittleEndian.Uint64(data[4:]))

	// No tip setting means no tip.
	ixs, err = testAssembler(chain, nil).Instructions(ctx, route, payer)
	require.NoError(t, err)
	require.Len(t, ixs, 3)
}

func TestInstructionsCustomTip(t *testing.T) {
	chain := newFakeChain(1)
	payer, account := newKey(), newKey()
	ixs, err := testAssembler(chain, tipOn, WithTip(5_000, account)).Instructions(context.Background(), swapRoute(payer, poolKeys(1)), payer)
	require.NoError(t, err)
	tip := ixs[len(ixs)-1]
	require.Equal(t, account, tip.Accounts()[1].PublicKey)
	data, _ := tip.Data()
	require.Equal(t, uint64(5_000), binary.LittleEndian.Uint64(data[4:]))
}

func TestInstructionsErrors(t *testing.T) {
	payer := newKey()

	chain := newFakeChain(1)
	chain.slotErr = errBoom
	_, err := testAssembler(chain, tipOff).Instructions(context.Background(), swapRoute(payer, poolKeys(1)), payer)
	require.ErrorIs(t, err, errBoom)

	chain = newFakeChain(math.MaxUint64)
	_, err = testAssembler(chain, tipOff).Instructions(context.Background(), swapRoute(payer, poolKeys(1)), payer)
	require.ErrorIs(t, err, ErrCompilation)

	route := swapRoute(payer, poolKeys(1))
	route.Instructions[1].Accounts[1].Pubkey = Pubkey(make([]byte, 20))
	_, err = testAssembler(newFakeChain(1), tipOff).Instructions(context.Background(), route, payer)
	require.ErrorIs(t, err, ErrAddressConversion)
}

func decodeTx(t *testing.T, raw []byte) *solana.Transaction {
	t.Helper()
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	require.NoError(t, err)
	return tx
}

func TestAssembleSolToUsdc(t *testing.T) {
	chain := newFakeChain(250_000_000)
	payer := newKey()
	pool := poolKeys(6)
	table := newKey()
	chain.addTable(table, pool...)
	route := swapRoute(payer, pool, table)

	ok := testutil.ToFloat64(transactionsTotal.WithLabelValues("success"))
	raw, err := testAssembler(chain, tipOn).Assemble(context.Background(), route, payer)
	require.NoError(t, err)
	require.LessOrEqual(t, len(raw), MaxTransactionSize)
	require.Equal(t, ok+1, testutil.ToFloat64(transactionsTotal.WithLabelValues("success")))

	tx := decodeTx(t, raw)
	msg := tx.Message
	require.True(t, msg.IsVersioned())
	require.Equal(t, chain.blockhash, msg.RecentBlockhash)
	require.Equal(t, payer, msg.AccountKeys[0])
	require.Equal(t, uint8(1), msg.Header.NumRequiredSignatures)
	require.Len(t, tx.Signatures, 1)
	require.Equal(t, solana.Signature{}, tx.Signatures[0])

	require.Len(t, msg.AddressTableLookups, 1)
	require.Equal(t, table, msg.AddressTableLookups[0].AccountKey)
	for _, p := range pool {
		require.NotContains(t, msg.AccountKeys, p, "pool accounts should come from the lookup table")
	}

	require.Len(t, msg.Instructions, 4)
	first := msg.Instructions[0]
	require.Equal(t, DeadlineProgramID, msg.AccountKeys[first.ProgramIDIndex])
	require.Equal(t, uint64(250_000_024), binary.LittleEndian.Uint64(first.Data))
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, []byte(msg.Instructions[2].Data))
	require.Equal(t, solana.SystemProgramID, msg.AccountKeys[msg.Instructions[3].ProgramIDIndex])

	require.Equal(t, 1, chain.fetches[table])
}

func TestAssembleWithoutLookupTables(t *testing.T) {
	chain := newFakeChain(10)
	payer := newKey()

	raw, err := testAssembler(chain, tipOff).Assemble(context.Background(), swapRoute(payer, poolKeys(2)), payer)
	require.NoError(t, err)

	tx := decodeTx(t, raw)
	require.True(t, tx.Message.IsVersioned())
	require.Empty(t, tx.Message.AddressTableLookups)
	require.Len(t, tx.Message.Instructions, 3)
}

func TestAssembleErrors(t *testing.T) {
	payer := newKey()
	failed := testutil.ToFloat64(transactionsTotal.WithLabelValues("error"))

	chain := newFakeChain(10)
	table := newKey()
	chain.accounts[table] = make([]byte, LookupTableMetaSize+63)
	_, err := testAssembler(chain, tipOff).Assemble(context.Background(), swapRoute(payer, poolKeys(2), table), payer)
	require.ErrorIs(t, err, ErrMalformedLookupTable)

	_, err = testAssembler(newFakeChain(10), tipOff, WithMaxTransactionSize(100)).Assemble(context.Background(), swapRoute(payer, poolKeys(2)), payer)
	require.ErrorIs(t, err, ErrCompilation)

	// Too many accounts for one transaction without lookup tables.
	_, err = testAssembler(newFakeChain(10), tipOff).Assemble(context.Background(), swapRoute(payer, poolKeys(40)), payer)
	require.ErrorIs(t, err, ErrCompilation)

	require.Equal(t, failed+3, testutil.ToFloat64(transactionsTotal.WithLabelValues("error")))
}

func TestAssembleSolToUsdcWithoutTip(t *testing.T) {
	chain := newFakeChain(300)
	payer := newKey()
	pool := poolKeys(3)
	table := newKey()
	chain.addTable(table, pool...)
	route := swapRoute(payer, pool, table)
	route.OutAmount = 150_000_000

	raw, err := testAssembler(chain, tipOff).Assemble(context.Background(), route, payer)
	require.NoError(t, err)

	msg := decodeTx(t, raw).Message
	require.Len(t, msg.Instructions, 1+len(route.Instructions))
	require.Equal(t, DeadlineProgramID, msg.AccountKeys[msg.Instructions[0].ProgramIDIndex])
	for _, ix := range msg.Instructions {
		require.NotEqual(t, solana.SystemProgramID, msg.AccountKeys[ix.ProgramIDIndex])
	}
	require.NotContains(t, msg.AccountKeys, DefaultTipAccount)
	require.Len(t, msg.AddressTableLookups, 1)
	require.Equal(t, table, msg.AddressTableLookups[0].AccountKey)
}
