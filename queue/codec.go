package queue

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec converts between values of T and item payloads.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONCodec encodes payloads as JSON.
type JSONCodec[T any] struct{}

// Encode implements Codec.
func (JSONCodec[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }

// Decode implements Codec.
func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// MsgpackCodec encodes payloads as MessagePack, which is smaller than JSON
// for binary-heavy values.
type MsgpackCodec[T any] struct{}

// Encode implements Codec.
func (MsgpackCodec[T]) Encode(v T) ([]byte, error) { return msgpack.Marshal(v) }

// Decode implements Codec.
func (MsgpackCodec[T]) Decode(data []byte) (T, error) {
	var v T
	err := msgpack.Unmarshal(data, &v)
	return v, err
}
