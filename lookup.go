// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swapquote

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

// LookupTableMetaSize is the fixed header in front of a lookup table's
// addresses.
const LookupTableMetaSize = 56

// LookupTable is a resolved address lookup table.
type LookupTable struct {
	Key       solana.PublicKey
	Addresses solana.PublicKeySlice
}

// ParseLookupTable reads the addresses out of raw lookup table account data.
func ParseLookupTable(key solana.PublicKey, data []byte) (*LookupTable, error) {
	if len(data) < LookupTableMetaSize {
		return nil, fmt.Errorf("%w: %s: %d bytes is shorter than the %d byte header", ErrMalformedLookupTable, key, len(data), LookupTableMetaSize)
	}
	body := data[LookupTableMetaSize:]
	if len(body)%solana.PublicKeyLength != 0 {
		return nil, fmt.Errorf("%w: %s: %d address bytes is not a multiple of %d", ErrMalformedLookupTable, key, len(body), solana.PublicKeyLength)
	}

	addrs := make(solana.PublicKeySlice, len(body)/solana.PublicKeyLength)
	for i := range addrs {
		addrs[i] = solana.PublicKeyFromBytes(body[i*solana.PublicKeyLength : (i+1)*solana.PublicKeyLength])
	}
	return &LookupTable{Key: key, Addresses: addrs}, nil
}

// resolveLookupTables fetches each distinct table once, concurrently, and
// returns them in first-reference order.
func resolveLookupTables(ctx context.Context, chain ChainReader, refs []Pubkey) ([]LookupTable, error) {
	var keys []solana.PublicKey
	seen := make(map[solana.PublicKey]bool, len(refs))
	for _, ref := range refs {
		key, err := ref.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("lookup table address: %w", err)
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}

	tables := make([]LookupTable, len(keys))
	g, ctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		g.Go(func() error {
			encoded, err := chain.GetAccount(ctx, key)
			if err != nil {
				return fmt.Errorf("fetch lookup table %s: %w", key, err)
			}
			raw, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return fmt.Errorf("%w: %s: base64: %w", ErrMalformedLookupTable, key, err)
			}
			table, err := ParseLookupTable(key, raw)
			if err != nil {
				return err
			}
			tables[i] = *table
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}
