package partstore

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"
)

// maxRecordLen bounds a single key or value. Larger lengths can only stem
// from corrupted bytes.
const maxRecordLen = 1 << 30

// appendJournalRecord appends a checksummed journal record to dst.
func appendJournalRecord(dst, key, val []byte) []byte {
	start := len(dst)
	dst = binary.AppendUvarint(dst, uint64(len(key)))
	dst = binary.AppendUvarint(dst, uint64(len(val)))
	dst = append(dst, key...)
	dst = append(dst, val...)
	return binary.LittleEndian.AppendUint32(dst, uint32(xxhash.Sum64(dst[start:])))
}

// journalScanner reads journal records sequentially. Any malformed, torn or
// corrupted record ends the scan.
type journalScanner struct {
	r   *bufio.Reader
	buf []byte
	pos int64 // offset after the last valid record

	key, val []byte
}

func newJournalScanner(r io.Reader, bufSize int) *journalScanner {
	return &journalScanner{r: bufio.NewReaderSize(r, bufSize)}
}

// Next advances to the next valid record.
func (s *journalScanner) Next() bool {
	klen, err := binary.ReadUvarint(s.r)
	if err != nil || klen > maxRecordLen {
		return false
	}
	vlen, err := binary.ReadUvarint(s.r)
	if err != nil || vlen > maxRecordLen {
		return false
	}

	s.buf = binary.AppendUvarint(s.buf[:0], klen)
	s.buf = binary.AppendUvarint(s.buf, vlen)
	hlen := len(s.buf)

	size := hlen + int(klen) + int(vlen) + 4
	if cap(s.buf) < size {
		buf := make([]byte, hlen, size)
		copy(buf, s.buf)
		s.buf = buf
	}
	s.buf = s.buf[:size]
	if _, err := io.ReadFull(s.r, s.buf[hlen:]); err != nil {
		return false
	}

	body := s.buf[:size-4]
	if binary.LittleEndian.Uint32(s.buf[size-4:]) != uint32(xxhash.Sum64(body)) {
		return false
	}

	s.key = body[hlen : hlen+int(klen)]
	s.val = body[hlen+int(klen):]
	s.pos += int64(size)
	return true
}

// Key returns the current key. Only valid until the next call to Next.
func (s *journalScanner) Key() []byte { return s.key }

// Value returns the current value. Only valid until the next call to Next.
func (s *journalScanner) Value() []byte { return s.val }

// Offset returns the byte offset right after the last valid record.
func (s *journalScanner) Offset() int64 { return s.pos }

// --------------------------------------------------------------------

// appendDataRecord appends a compacted record to dst.
func appendDataRecord(dst, key []byte, comp byte, val []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(key)))
	dst = append(dst, key...)
	dst = append(dst, comp)
	dst = binary.AppendUvarint(dst, uint64(len(val)))
	return append(dst, val...)
}

// dataRecord is a decoded compacted record. Key and Value refer to
// scratch buffers.
type dataRecord struct {
	Key   []byte
	Comp  byte
	Value []byte
	Size  int64 // encoded size in bytes
}

// readDataRecord reads one compacted record from r. It reports false on EOF
// or a truncated record.
func readDataRecord(r *bufio.Reader, buf []byte, rec *dataRecord) ([]byte, bool) {
	klen, err := binary.ReadUvarint(r)
	if err != nil || klen > maxRecordLen {
		return buf, false
	}

	buf = grow(buf[:0], int(klen))
	if _, err := io.ReadFull(r, buf); err != nil {
		return buf, false
	}

	comp, err := r.ReadByte()
	if err != nil {
		return buf, false
	}
	vlen, err := binary.ReadUvarint(r)
	if err != nil || vlen > maxRecordLen {
		return buf, false
	}

	buf = grow(buf, int(klen)+int(vlen))
	if _, err := io.ReadFull(r, buf[klen:]); err != nil {
		return buf, false
	}

	rec.Key = buf[:klen]
	rec.Comp = comp
	rec.Value = buf[klen:]
	rec.Size = int64(uvarintLen(klen)+int(klen)+1+uvarintLen(vlen)) + int64(vlen)
	return buf, true
}

func grow(p []byte, n int) []byte {
	if cap(p) < n {
		q := make([]byte, len(p), n)
		copy(q, p)
		p = q
	}
	return p[:n]
}

func uvarintLen(x uint64) int {
	n := 1
	for x >= 0x80 {
		x >>= 7
		n++
	}
	return n
}
