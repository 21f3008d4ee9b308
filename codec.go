package partstore

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes and decodes keys or values. The engine frames every encoded
// value with its length, so Decode always receives exactly the bytes
// produced by Append. Decode must report malformed input as an error rather
// than panic.
type Codec[T any] interface {
	// Append appends the encoded form of v to dst.
	Append(dst []byte, v T) ([]byte, error)
	// Decode decodes a value from src.
	Decode(src []byte) (T, error)
}

var errShortBuffer = errors.New("partstore: short buffer")

// Uint64Codec encodes uint64 values as fixed 8-byte big-endian integers, so
// encoded keys sort like their numeric values.
type Uint64Codec struct{}

// Append implements Codec.
func (Uint64Codec) Append(dst []byte, v uint64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(dst, v), nil
}

// Decode implements Codec.
func (Uint64Codec) Decode(src []byte) (uint64, error) {
	if len(src) != 8 {
		return 0, errShortBuffer
	}
	return binary.BigEndian.Uint64(src), nil
}

// StringCodec encodes strings verbatim.
type StringCodec struct{}

// Append implements Codec.
func (StringCodec) Append(dst []byte, v string) ([]byte, error) { return append(dst, v...), nil }

// Decode implements Codec.
func (StringCodec) Decode(src []byte) (string, error) { return string(src), nil }

// BytesCodec encodes byte slices verbatim. Decoded slices are copies.
type BytesCodec struct{}

// Append implements Codec.
func (BytesCodec) Append(dst []byte, v []byte) ([]byte, error) { return append(dst, v...), nil }

// Decode implements Codec.
func (BytesCodec) Decode(src []byte) ([]byte, error) {
	return append(make([]byte, 0, len(src)), src...), nil
}

// MsgpackCodec encodes arbitrary values using msgpack.
type MsgpackCodec[T any] struct{}

// Append implements Codec.
func (MsgpackCodec[T]) Append(dst []byte, v T) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return dst, errors.Wrap(err, "partstore: msgpack encode")
	}
	return append(dst, b...), nil
}

// Decode implements Codec.
func (MsgpackCodec[T]) Decode(src []byte) (T, error) {
	var v T
	if err := msgpack.Unmarshal(src, &v); err != nil {
		return v, errors.Wrap(err, "partstore: msgpack decode")
	}
	return v, nil
}
