package partstore

import (
	"cmp"
	"encoding/binary"
	"slices"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Merger combines all raw values collected for a single key into one
// compacted blob and recovers them again. It is the only place where
// duplicate values are defined.
type Merger[V any] interface {
	// Merge produces the compacted form of values. An error aborts the
	// compaction of the affected bucket.
	Merge(values []V) ([]byte, error)
	// Expand is the inverse of Merge.
	Expand(blob []byte) ([]V, error)
}

// OverflowPolicy determines how a SetMerger handles unions that exceed
// MaxValues.
type OverflowPolicy uint8

const (
	// OverflowError fails the merge with ErrTooManyValues.
	OverflowError OverflowPolicy = iota
	// OverflowKeepLast keeps the MaxValues greatest values.
	OverflowKeepLast
)

// SetMerger merges values into a sorted set without duplicates.
type SetMerger[V any] struct {
	// Codec encodes individual values.
	Codec Codec[V]
	// Compare orders values. Values comparing equal are duplicates.
	Compare func(a, b V) int
	// MaxValues limits the size of a merged set. Zero means unbounded.
	MaxValues int
	// Overflow selects the behaviour for sets larger than MaxValues.
	Overflow OverflowPolicy
}

// NewSetMerger returns a SetMerger for naturally ordered values.
func NewSetMerger[V cmp.Ordered](codec Codec[V]) *SetMerger[V] {
	return &SetMerger[V]{Codec: codec, Compare: cmp.Compare[V]}
}

// Merge implements Merger.
func (m *SetMerger[V]) Merge(values []V) ([]byte, error) {
	set, err := unionOf(values, m.Compare, m.MaxValues, m.Overflow)
	if err != nil {
		return nil, err
	}

	buf := binary.AppendUvarint(nil, uint64(len(set)))
	var enc []byte
	for _, v := range set {
		if enc, err = m.Codec.Append(enc[:0], v); err != nil {
			return nil, err
		}
		buf = binary.AppendUvarint(buf, uint64(len(enc)))
		buf = append(buf, enc...)
	}
	return buf, nil
}

// Expand implements Merger.
func (m *SetMerger[V]) Expand(blob []byte) ([]V, error) {
	num, n := binary.Uvarint(blob)
	if n <= 0 || num > uint64(len(blob)) {
		return nil, errors.Wrap(errShortBuffer, "partstore: expand set")
	}
	blob = blob[n:]

	values := make([]V, 0, int(num))
	for i := uint64(0); i < num; i++ {
		sz, n := binary.Uvarint(blob)
		if n <= 0 || sz > uint64(len(blob)-n) {
			return nil, errors.Wrap(errShortBuffer, "partstore: expand set")
		}
		v, err := m.Codec.Decode(blob[n : n+int(sz)])
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		blob = blob[n+int(sz):]
	}
	return values, nil
}

// MsgpackMerger merges values into a sorted set without duplicates, encoded
// as a single msgpack array.
type MsgpackMerger[V cmp.Ordered] struct {
	// MaxValues limits the size of a merged set. Zero means unbounded.
	MaxValues int
	// Overflow selects the behaviour for sets larger than MaxValues.
	Overflow OverflowPolicy
}

// Merge implements Merger.
func (m MsgpackMerger[V]) Merge(values []V) ([]byte, error) {
	set, err := unionOf(values, cmp.Compare[V], m.MaxValues, m.Overflow)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(set)
}

// Expand implements Merger.
func (m MsgpackMerger[V]) Expand(blob []byte) ([]V, error) {
	var values []V
	if err := msgpack.Unmarshal(blob, &values); err != nil {
		return nil, errors.Wrap(err, "partstore: expand msgpack set")
	}
	return values, nil
}

// unionOf sorts and de-duplicates values and applies the overflow policy.
func unionOf[V any](values []V, compare func(a, b V) int, max int, policy OverflowPolicy) ([]V, error) {
	set := slices.Clone(values)
	slices.SortFunc(set, compare)
	set = slices.CompactFunc(set, func(a, b V) bool { return compare(a, b) == 0 })

	if max > 0 && len(set) > max {
		switch policy {
		case OverflowKeepLast:
			set = set[len(set)-max:]
		default:
			return nil, errors.Wrapf(ErrTooManyValues, "%d > %d", len(set), max)
		}
	}
	return set, nil
}
