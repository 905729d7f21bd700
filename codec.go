// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swapquote

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns request envelopes into frames and frames into server messages.
type Codec interface {
	EncodeRequest(req *Request) ([]byte, error)
	DecodeServerMessage(data []byte) (ServerMessage, error)
}

// MsgpackCodec is the wire format of the quote service. Structs are encoded
// as maps keyed by field name; enum variants as single-key maps {tag: body}.
type MsgpackCodec struct{}

// defaultCodec is used when no codec is specified
var defaultCodec Codec = MsgpackCodec{}

func (MsgpackCodec) EncodeRequest(req *Request) ([]byte, error) {
	b, err := msgpack.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request %d: %w", ErrCodec, req.ID, err)
	}
	return b, nil
}

func (MsgpackCodec) DecodeServerMessage(data []byte) (ServerMessage, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	tag, err := decodeTag(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodec, err)
	}

	var msg ServerMessage
	switch tag {
	case tagResponse:
		msg = &Reply{}
	case tagError:
		msg = &ErrorReply{}
	case tagStreamData:
		msg = &StreamData{}
	case tagStreamEnd:
		msg = &StreamEnd{}
	default:
		return nil, fmt.Errorf("%w: unknown message kind %q", ErrCodec, tag)
	}
	if err := dec.Decode(msg); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrCodec, tag, err)
	}
	return msg, nil
}

// DecodeRequest is the inverse of EncodeRequest. Useful for servers and tests.
func DecodeRequest(data []byte) (*Request, error) {
	req := &Request{}
	if err := msgpack.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("%w: decode request: %w", ErrCodec, err)
	}
	return req, nil
}

// EncodeServerMessage is the inverse of DecodeServerMessage.
func EncodeServerMessage(msg ServerMessage) ([]byte, error) {
	var tag string
	switch msg.(type) {
	case *Reply:
		tag = tagResponse
	case *ErrorReply:
		tag = tagError
	case *StreamData:
		tag = tagStreamData
	case *StreamEnd:
		tag = tagStreamEnd
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrCodec, msg)
	}
	var buf bytes.Buffer
	if err := encodeTagged(msgpack.NewEncoder(&buf), tag, msg); err != nil {
		return nil, fmt.Errorf("%w: encode %s: %w", ErrCodec, tag, err)
	}
	return buf.Bytes(), nil
}

func (r *Request) EncodeMsgpack(enc *msgpack.Encoder) error {
	if r.Data == nil {
		return errors.New("request has no data")
	}
	if err := enc.EncodeMapLen(2); err != nil {
		return err
	}
	if err := enc.EncodeString("id"); err != nil {
		return err
	}
	if err := enc.EncodeUint32(r.ID); err != nil {
		return err
	}
	if err := enc.EncodeString("data"); err != nil {
		return err
	}
	return encodeTagged(enc, r.Data.RequestKind(), r.Data)
}

func (r *Request) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return err
		}
		switch key {
		case "id":
			r.ID, err = dec.DecodeUint32()
		case "data":
			r.Data, err = decodeRequestData(dec)
		default:
			err = dec.Skip()
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
	}
	if r.Data == nil {
		return errors.New("request has no data")
	}
	return nil
}

func decodeRequestData(dec *msgpack.Decoder) (RequestData, error) {
	tag, err := decodeTag(dec)
	if err != nil {
		return nil, err
	}
	switch tag {
	case kindGetInfo:
		return decodeAs[GetInfoRequest](dec)
	case kindNewSwapQuoteStream:
		return decodeAs[SwapQuoteRequest](dec)
	case kindStopStream:
		return decodeAs[StopStreamRequest](dec)
	case kindGetVenues:
		return decodeAs[GetVenuesRequest](dec)
	case kindListProviders:
		return decodeAs[ListProvidersRequest](dec)
	}
	return nil, fmt.Errorf("unknown request kind %q", tag)
}

func decodeAs[T RequestData](dec *msgpack.Decoder) (RequestData, error) {
	var v T
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func encodeTagged(enc *msgpack.Encoder, tag string, v interface{}) error {
	if err := enc.EncodeMapLen(1); err != nil {
		return err
	}
	if err := enc.EncodeString(tag); err != nil {
		return err
	}
	return enc.Encode(v)
}

func decodeTag(dec *msgpack.Decoder) (string, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return "", err
	}
	if n != 1 {
		return "", fmt.Errorf("tagged value has %d keys, want 1", n)
	}
	return dec.DecodeString()
}

// encodeVariant builds a {tag: v} value, as found in Reply.Data and
// StreamData.Payload.
func encodeVariant(tag string, v interface{}) (msgpack.RawMessage, error) {
	var buf bytes.Buffer
	if err := encodeTagged(msgpack.NewEncoder(&buf), tag, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeVariant decodes a {tag: body} value into v after checking the tag.
// A nil v only checks the tag.
func decodeVariant(raw msgpack.RawMessage, want string, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	tag, err := decodeTag(dec)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCodec, err)
	}
	if tag != want {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedResponse, tag, want)
	}
	if v == nil {
		return nil
	}
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrCodec, tag, err)
	}
	return nil
}
