package partstore

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// indexEntry is a sampled (encoded key, offset) pair.
type indexEntry struct {
	Key    []byte
	Offset int64
}

func indexFileName(dataFile string) string {
	return strings.TrimSuffix(dataFile, suffixData) + suffixIndex
}

// writeIndexFile atomically writes a sparse index file.
func writeIndexFile(fname string, dataSize int64, step int, entries []indexEntry) error {
	f, err := os.Create(fname + suffixTemp)
	if err != nil {
		return err
	}

	ok := false
	defer func() {
		if !ok {
			_ = f.Close()
			_ = os.Remove(fname + suffixTemp)
		}
	}()

	w := bufio.NewWriter(f)
	buf := append(make([]byte, 0, 64), indexMagic...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(dataSize))
	buf = binary.AppendUvarint(buf, uint64(step))
	if _, err := w.Write(buf); err != nil {
		return err
	}

	var tmp [binary.MaxVarintLen64]byte
	for _, ent := range entries {
		n := binary.PutUvarint(tmp[:], uint64(ent.Offset))
		buf = appendDataRecord(buf[:0], ent.Key, blockNoCompression, tmp[:n])
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}

	if err := w.Flush(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	ok = true
	return os.Rename(fname+suffixTemp, fname)
}

// readIndexFile reads a sparse index file. It returns (nil, nil) when the
// file does not exist.
func readIndexFile(fname string) (*rawIndex, error) {
	data, err := os.ReadFile(fname)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	if len(data) < len(indexMagic)+8 || !bytes.Equal(data[:len(indexMagic)], indexMagic) {
		return nil, errors.Wrap(errBadMagic, fname)
	}

	pos := len(indexMagic)
	idx := &rawIndex{DataSize: int64(binary.LittleEndian.Uint64(data[pos:]))}
	pos += 8

	step, n := binary.Uvarint(data[pos:])
	if n <= 0 {
		return nil, errors.Wrap(ErrIndexCorrupt, fname)
	}
	idx.Step = int(step)

	r := bufio.NewReader(bytes.NewReader(data[pos+n:]))
	var rec dataRecord
	var buf []byte
	var ok bool
	for {
		if buf, ok = readDataRecord(r, buf, &rec); !ok {
			break
		}
		off, n := binary.Uvarint(rec.Value)
		if n <= 0 {
			return nil, errors.Wrap(ErrIndexCorrupt, fname)
		}
		idx.Entries = append(idx.Entries, indexEntry{
			Key:    append([]byte(nil), rec.Key...),
			Offset: int64(off),
		})
	}
	return idx, nil
}

// rawIndex is the undecoded content of an index file.
type rawIndex struct {
	DataSize int64
	Step     int
	Entries  []indexEntry
}

// --------------------------------------------------------------------

// sparseIndex is a decoded, searchable index of a single bucket. Keys and
// offsets increase monotonically.
type sparseIndex[K any] struct {
	dataSize int64
	keys     []K
	encoded  [][]byte
	offsets  []int64
}

func decodeIndex[K any](raw *rawIndex, codec Codec[K]) (*sparseIndex[K], error) {
	idx := &sparseIndex[K]{
		dataSize: raw.DataSize,
		keys:     make([]K, 0, len(raw.Entries)),
		encoded:  make([][]byte, 0, len(raw.Entries)),
		offsets:  make([]int64, 0, len(raw.Entries)),
	}
	for _, ent := range raw.Entries {
		key, err := codec.Decode(ent.Key)
		if err != nil {
			return nil, errors.Wrap(ErrIndexCorrupt, err.Error())
		}
		idx.keys = append(idx.keys, key)
		idx.encoded = append(idx.encoded, ent.Key)
		idx.offsets = append(idx.offsets, ent.Offset)
	}
	return idx, nil
}

// Len returns the number of entries.
func (x *sparseIndex[K]) Len() int { return len(x.keys) }

// Seek returns the position of the entry with the greatest key <= key, or
// -1 if key is smaller than the first entry.
func (x *sparseIndex[K]) Seek(key K, cmp func(a, b K) int) int {
	return sort.Search(len(x.keys), func(i int) bool {
		return cmp(x.keys[i], key) > 0
	}) - 1
}
