package partstore

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// tableReader provides positioned access to a compacted bucket file.
// It is safe for concurrent use: every cursor reads through its own
// section of the underlying io.ReaderAt.
type tableReader struct {
	r    io.ReaderAt
	size int64

	f  *os.File
	fi os.FileInfo
	m  mmap.MMap
}

// openTable opens a compacted table for reading. It returns
// (nil, nil) if the file does not exist.
func openTable(fname string, useMmap bool) (*tableReader, error) {
	f, err := os.Open(fname)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	t := &tableReader{r: f, size: fi.Size(), f: f, fi: fi}
	if useMmap && t.size > 0 {
		m, err := mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			_ = f.Close()
			return nil, errors.Wrap(err, "mmap")
		}
		t.m = m
		t.r = bytes.NewReader(m)
	}

	tmp := make([]byte, len(dataMagic))
	if t.size < int64(len(tmp)) {
		_ = t.Close()
		return nil, errors.Wrap(errBadMagic, fname)
	}
	if _, err := t.r.ReadAt(tmp, 0); err != nil {
		_ = t.Close()
		return nil, err
	}
	if !bytes.Equal(tmp, dataMagic) {
		_ = t.Close()
		return nil, errors.Wrap(errBadMagic, fname)
	}
	return t, nil
}

// Size returns the file size.
func (t *tableReader) Size() int64 { return t.size }

// Describes reports whether fi still describes the opened file, i.e. the
// file has not been replaced or modified since it was opened.
func (t *tableReader) Describes(fi os.FileInfo) bool {
	return os.SameFile(t.fi, fi) && t.fi.Size() == fi.Size() && t.fi.ModTime().Equal(fi.ModTime())
}

// Cursor returns a new forward cursor starting at the given offset. An
// offset of zero starts at the first record.
func (t *tableReader) Cursor(offset int64) *cursor {
	if offset < int64(len(dataMagic)) {
		offset = int64(len(dataMagic))
	}
	if offset > t.size {
		offset = t.size
	}

	br := readerPool.Get().(*bufio.Reader)
	br.Reset(io.NewSectionReader(t.r, offset, t.size-offset))
	return &cursor{r: br, pos: offset}
}

// Close closes the reader.
func (t *tableReader) Close() error {
	var err error
	if t.m != nil {
		err = t.m.Unmap()
		t.m = nil
	}
	if t.f != nil {
		if e := t.f.Close(); e != nil && err == nil {
			err = e
		}
		t.f = nil
	}
	return err
}

// --------------------------------------------------------------------

// cursor reads compacted records sequentially. A truncated record ends the
// cursor silently; a record that fails to decompress is reported via Err.
type cursor struct {
	r   *bufio.Reader
	buf []byte
	rec dataRecord

	pos   int64 // offset of the next record
	start int64 // offset of the current record

	plain []byte
	val   []byte
	err   error
}

// Next advances the cursor.
func (c *cursor) Next() bool {
	if c.err != nil || c.r == nil {
		return false
	}

	var ok bool
	if c.buf, ok = readDataRecord(c.r, c.buf, &c.rec); !ok {
		return false
	}
	c.start = c.pos
	c.pos += c.rec.Size

	switch c.rec.Comp {
	case blockNoCompression:
		c.val = c.rec.Value
	case blockSnappyCompression:
		sz, err := snappy.DecodedLen(c.rec.Value)
		if err != nil {
			c.err = err
			return false
		}
		releaseBuffer(c.plain)
		c.plain = fetchBuffer(sz)
		if c.val, err = snappy.Decode(c.plain, c.rec.Value); err != nil {
			c.err = err
			return false
		}
	default:
		c.err = errBadCompression
		return false
	}
	return true
}

// Key returns the encoded key of the current record. Valid until the next
// call to Next.
func (c *cursor) Key() []byte { return c.rec.Key }

// Value returns the uncompressed value of the current record. Valid until
// the next call to Next.
func (c *cursor) Value() []byte { return c.val }

// RawValue returns the value of the current record as stored, together with
// its compression type.
func (c *cursor) RawValue() (byte, []byte) { return c.rec.Comp, c.rec.Value }

// Offset returns the offset of the current record.
func (c *cursor) Offset() int64 { return c.start }

// Err exposes cursor errors, if any.
func (c *cursor) Err() error { return c.err }

// Release releases the cursor and frees up resources. The cursor must not be
// used after this method is called.
func (c *cursor) Release() {
	if c.r != nil {
		c.r.Reset(nil)
		readerPool.Put(c.r)
		c.r = nil
	}
	releaseBuffer(c.plain)
	c.plain = nil
	if c.err == nil {
		c.err = errReleased
	}
}

// --------------------------------------------------------------------

var (
	bufPool    sync.Pool
	readerPool = sync.Pool{New: func() interface{} { return bufio.NewReaderSize(nil, 4096) }}
)

func fetchBuffer(sz int) []byte {
	if v := bufPool.Get(); v != nil {
		if p := v.([]byte); sz <= cap(p) {
			return p[:sz]
		}
	}
	return make([]byte, sz)
}

func releaseBuffer(p []byte) {
	if cap(p) != 0 {
		bufPool.Put(p)
	}
}
