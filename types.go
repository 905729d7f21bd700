// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swapquote

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/vmihailenco/msgpack/v5"
)

// Pubkey is a 32-byte account address as carried on the wire (msgpack bin).
// The length is not enforced on decode; conversion reports malformed keys.
type Pubkey []byte

// PubkeyFromBase58 parses a base58 account address.
func PubkeyFromBase58(s string) (Pubkey, error) {
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrAddressConversion, s, err)
	}
	return Pubkey(pk.Bytes()), nil
}

// PublicKey converts the wire address to a native key.
func (p Pubkey) PublicKey() (solana.PublicKey, error) {
	if len(p) != solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("%w: got %d bytes, want %d", ErrAddressConversion, len(p), solana.PublicKeyLength)
	}
	return solana.PublicKeyFromBytes(p), nil
}

func (p Pubkey) String() string {
	pk, err := p.PublicKey()
	if err != nil {
		return fmt.Sprintf("invalid(%x)", []byte(p))
	}
	return pk.String()
}

// AccountMeta uses single-letter keys to keep quote frames small.
type AccountMeta struct {
	Pubkey     Pubkey `msgpack:"p"`
	IsSigner   bool   `msgpack:"s"`
	IsWritable bool   `msgpack:"w"`
}

// Instruction is a provider-built instruction in wire form.
type Instruction struct {
	ProgramID Pubkey        `msgpack:"p"`
	Accounts  []AccountMeta `msgpack:"a"`
	Data      []byte        `msgpack:"d"`
}

// SwapMode selects which side of the swap the amount refers to.
type SwapMode string

const (
	SwapModeExactIn  SwapMode = "ExactIn"
	SwapModeExactOut SwapMode = "ExactOut"
)

// Request is the client envelope. The id is the only correlation key.
type Request struct {
	ID   uint32
	Data RequestData
}

// RequestData is one of the request payload variants.
type RequestData interface {
	RequestKind() string
}

const (
	kindGetInfo            = "GetInfo"
	kindNewSwapQuoteStream = "NewSwapQuoteStream"
	kindStopStream         = "StopStream"
	kindStreamStopped      = "StreamStopped"
	kindGetVenues          = "GetVenues"
	kindListProviders      = "ListProviders"
	kindSwapQuotes         = "SwapQuotes"
)

type GetInfoRequest struct{}

func (GetInfoRequest) RequestKind() string { return kindGetInfo }

type SwapQuoteRequest struct {
	Swap        SwapParams         `msgpack:"swap"`
	Transaction TransactionParams  `msgpack:"transaction"`
	Update      *QuoteUpdateParams `msgpack:"update,omitempty"`
}

func (SwapQuoteRequest) RequestKind() string { return kindNewSwapQuoteStream }

type StopStreamRequest struct {
	ID uint32 `msgpack:"id"`
}

func (StopStreamRequest) RequestKind() string { return kindStopStream }

type GetVenuesRequest struct {
	IncludeProgramIDs *bool `msgpack:"includeProgramIds,omitempty"`
}

func (GetVenuesRequest) RequestKind() string { return kindGetVenues }

type ListProvidersRequest struct {
	IncludeIcons *bool `msgpack:"includeIcons,omitempty"`
}

func (ListProvidersRequest) RequestKind() string { return kindListProviders }

// SwapParams describes what to swap. Only ExactIn is requested by this package.
type SwapParams struct {
	InputMint             Pubkey    `msgpack:"inputMint"`
	OutputMint            Pubkey    `msgpack:"outputMint"`
	Amount                uint64    `msgpack:"amount"`
	SwapMode              *SwapMode `msgpack:"swapMode,omitempty"`
	SlippageBps           *uint16   `msgpack:"slippageBps,omitempty"`
	Dexes                 []string  `msgpack:"dexes,omitempty"`
	ExcludeDexes          []string  `msgpack:"excludeDexes,omitempty"`
	OnlyDirectRoutes      *bool     `msgpack:"onlyDirectRoutes,omitempty"`
	AddSizeConstraint     *bool     `msgpack:"addSizeConstraint,omitempty"`
	SizeConstraint        *uint32   `msgpack:"sizeConstraint,omitempty"`
	Providers             []string  `msgpack:"providers,omitempty"`
	AccountsLimitTotal    *uint16   `msgpack:"accountsLimitTotal,omitempty"`
	AccountsLimitWritable *uint16   `msgpack:"accountsLimitWritable,omitempty"`
}

// TransactionParams tells providers how to build their instructions.
type TransactionParams struct {
	UserPublicKey            Pubkey  `msgpack:"userPublicKey"`
	CloseInputTokenAccount   *bool   `msgpack:"closeInputTokenAccount,omitempty"`
	CreateOutputTokenAccount *bool   `msgpack:"createOutputTokenAccount,omitempty"`
	FeeAccount               Pubkey  `msgpack:"feeAccount,omitempty"`
	FeeBps                   *uint16 `msgpack:"feeBps,omitempty"`
	FeeFromInputMint         *bool   `msgpack:"feeFromInputMint,omitempty"`
	OutputAccount            Pubkey  `msgpack:"outputAccount,omitempty"`
}

// QuoteUpdateParams is the requested cadence; the server may coalesce.
type QuoteUpdateParams struct {
	IntervalMs *uint64 `msgpack:"intervalMs,omitempty"`
	NumQuotes  *uint32 `msgpack:"numQuotes,omitempty"`
}

// ServerMessage is one decoded inbound frame: *Reply, *StreamData, *StreamEnd
// or *ErrorReply.
type ServerMessage interface {
	serverMessage()
}

const (
	tagResponse   = "Response"
	tagError      = "Error"
	tagStreamData = "StreamData"
	tagStreamEnd  = "StreamEnd"
)

// Reply answers a request. Data stays encoded until the caller knows what it
// asked for. A non-nil Stream marks the birth of a stream.
type Reply struct {
	RequestID uint32             `msgpack:"requestId"`
	Data      msgpack.RawMessage `msgpack:"data"`
	Stream    *StreamStart       `msgpack:"stream,omitempty"`
}

type StreamStart struct {
	ID       uint32 `msgpack:"id"`
	DataType string `msgpack:"dataType"`
}

type StreamData struct {
	ID      uint32             `msgpack:"id"`
	Seq     uint32             `msgpack:"seq"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

type StreamEnd struct {
	ID           uint32  `msgpack:"id"`
	ErrorCode    *uint32 `msgpack:"errorCode,omitempty"`
	ErrorMessage *string `msgpack:"errorMessage,omitempty"`
}

type ErrorReply struct {
	RequestID uint32 `msgpack:"requestId"`
	Code      uint32 `msgpack:"code"`
	Message   string `msgpack:"message"`
}

func (*Reply) serverMessage()      {}
func (*StreamData) serverMessage() {}
func (*StreamEnd) serverMessage()  {}
func (*ErrorReply) serverMessage() {}

// ServerInfo is the GetInfo reply.
type ServerInfo struct {
	ProtocolVersion VersionInfo    `msgpack:"protocolVersion"`
	Settings        ServerSettings `msgpack:"settings"`
}

type VersionInfo struct {
	Major uint16 `msgpack:"major"`
	Minor uint16 `msgpack:"minor"`
	Patch uint16 `msgpack:"patch"`
}

type ServerSettings struct {
	QuoteUpdate QuoteUpdateSettings `msgpack:"quoteUpdate"`
	Swap        SwapSettings        `msgpack:"swap"`
	Transaction TransactionSettings `msgpack:"transaction"`
	Connection  ConnectionSettings  `msgpack:"connection"`
}

type QuoteUpdateSettings struct {
	IntervalMs BoundedUint64 `msgpack:"intervalMs"`
	NumQuotes  BoundedUint64 `msgpack:"numQuotes"`
}

type SwapSettings struct {
	SlippageBps       BoundedUint64 `msgpack:"slippageBps"`
	OnlyDirectRoutes  bool          `msgpack:"onlyDirectRoutes"`
	AddSizeConstraint bool          `msgpack:"addSizeConstraint"`
}

type TransactionSettings struct {
	CloseInputTokenAccount   bool `msgpack:"closeInputTokenAccount"`
	CreateOutputTokenAccount bool `msgpack:"createOutputTokenAccount"`
}

type ConnectionSettings struct {
	ConcurrentStreams uint32 `msgpack:"concurrentStreams"`
}

// BoundedUint64 is a server-advertised setting range.
type BoundedUint64 struct {
	Min     uint64 `msgpack:"min"`
	Max     uint64 `msgpack:"max"`
	Default uint64 `msgpack:"default"`
}

type QuoteStreamStarted struct {
	IntervalMs uint64 `msgpack:"intervalMs"`
}

type StreamStopped struct {
	ID uint32 `msgpack:"id"`
}

type VenueInfo struct {
	Labels     []string `msgpack:"labels"`
	ProgramIDs []Pubkey `msgpack:"programIds,omitempty"`
}

type ProviderInfo struct {
	ID        string  `msgpack:"id"`
	Name      string  `msgpack:"name"`
	Kind      string  `msgpack:"kind"`
	IconURI48 *string `msgpack:"iconUri48,omitempty"`
}

// SwapQuotes is one quote set: provider name to route.
type SwapQuotes struct {
	ID         string               `msgpack:"id"`
	InputMint  Pubkey               `msgpack:"inputMint"`
	OutputMint Pubkey               `msgpack:"outputMint"`
	SwapMode   SwapMode             `msgpack:"swapMode"`
	Amount     uint64               `msgpack:"amount"`
	Quotes     map[string]SwapRoute `msgpack:"quotes"`
}

// SwapRoute is one provider's proposed swap.
type SwapRoute struct {
	InAmount            uint64          `msgpack:"inAmount"`
	OutAmount           uint64          `msgpack:"outAmount"`
	SlippageBps         uint16          `msgpack:"slippageBps"`
	PlatformFee         *PlatformFee    `msgpack:"platformFee,omitempty"`
	Steps               []RoutePlanStep `msgpack:"steps"`
	Instructions        []Instruction   `msgpack:"instructions"`
	AddressLookupTables []Pubkey        `msgpack:"addressLookupTables"`
	ContextSlot         *uint64         `msgpack:"contextSlot,omitempty"`
	TimeTakenNs         *uint64         `msgpack:"timeTakenNs,omitempty"`
	ExpiresAtMs         *uint64         `msgpack:"expiresAtMs,omitempty"`
	ExpiresAfterSlot    *uint64         `msgpack:"expiresAfterSlot,omitempty"`
	ComputeUnits        *uint64         `msgpack:"computeUnits,omitempty"`
	ComputeUnitsSafe    *uint64         `msgpack:"computeUnitsSafe,omitempty"`
	Transaction         []byte          `msgpack:"transaction,omitempty"`
	ReferenceID         *string         `msgpack:"referenceId,omitempty"`
}

type RoutePlanStep struct {
	AmmKey      Pubkey  `msgpack:"ammKey"`
	Label       string  `msgpack:"label"`
	InputMint   Pubkey  `msgpack:"inputMint"`
	OutputMint  Pubkey  `msgpack:"outputMint"`
	InAmount    uint64  `msgpack:"inAmount"`
	OutAmount   uint64  `msgpack:"outAmount"`
	AllocPpb    uint32  `msgpack:"allocPpb"`
	FeeMint     Pubkey  `msgpack:"feeMint,omitempty"`
	FeeAmount   *uint64 `msgpack:"feeAmount,omitempty"`
	ContextSlot *uint64 `msgpack:"contextSlot,omitempty"`
}

type PlatformFee struct {
	Amount uint64 `msgpack:"amount"`
	FeeBps uint8  `msgpack:"feeBps"`
}
