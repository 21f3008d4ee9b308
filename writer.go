package partstore

import (
	"bufio"
	"os"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// tableOptions define compacted table writer options.
type tableOptions struct {
	// IndexStep is the number of records between sparse index entries.
	// Zero disables indexing.
	IndexStep int

	// The compression codec to use.
	Compression Compression

	// BufferSize is the size of the write buffer.
	BufferSize int
}

func (o *tableOptions) norm() *tableOptions {
	var oo tableOptions
	if o != nil {
		oo = *o
	}

	if oo.IndexStep < 0 {
		oo.IndexStep = 0
	}
	if !oo.Compression.isValid() {
		oo.Compression = SnappyCompression
	}
	if oo.BufferSize < 1 {
		oo.BufferSize = 1 << 16
	}
	return &oo
}

// tableWriter writes a compacted bucket file. Records must be appended in
// ascending key order. Data is written to a temporary file which replaces
// the target only on Commit.
type tableWriter[K any] struct {
	fname string
	f     *os.File
	w     *bufio.Writer
	o     *tableOptions

	cmp     func(a, b K) int
	prev    K
	records int
	offset  int64

	index []indexEntry

	buf []byte // record buffer
	snp []byte // snappy buffer
}

// createTable starts writing a new table that will replace fname.
func createTable[K any](fname string, cmp func(a, b K) int, o *tableOptions) (*tableWriter[K], error) {
	o = o.norm()

	f, err := os.Create(fname + suffixTemp)
	if err != nil {
		return nil, err
	}

	w := &tableWriter[K]{
		fname: fname,
		f:     f,
		w:     bufio.NewWriterSize(f, o.BufferSize),
		o:     o,
		cmp:   cmp,
	}
	if err := w.writeRaw(dataMagic); err != nil {
		w.Abort()
		return nil, err
	}
	return w, nil
}

// Append compresses val and appends a record.
func (w *tableWriter[K]) Append(key K, enc, val []byte) error {
	comp := byte(blockNoCompression)
	if w.o.Compression == SnappyCompression {
		w.snp = snappy.Encode(w.snp[:cap(w.snp)], val)
		if len(w.snp) < len(val)-len(val)/4 {
			comp = blockSnappyCompression
			val = w.snp
		}
	}
	return w.AppendRaw(key, enc, comp, val)
}

// AppendRaw appends a record with an already compressed value.
func (w *tableWriter[K]) AppendRaw(key K, enc []byte, comp byte, val []byte) error {
	if w.f == nil {
		return errClosed
	}
	if w.records != 0 && w.cmp(key, w.prev) <= 0 {
		return errors.Wrapf(errOutOfOrder, "%v must be > %v", key, w.prev)
	}

	if w.o.IndexStep > 0 && w.records%w.o.IndexStep == 0 {
		w.index = append(w.index, indexEntry{
			Key:    append([]byte(nil), enc...),
			Offset: w.offset,
		})
	}

	w.buf = appendDataRecord(w.buf[:0], enc, comp, val)
	if err := w.writeRaw(w.buf); err != nil {
		return err
	}

	w.prev = key
	w.records++
	return nil
}

// Records returns the number of records appended.
func (w *tableWriter[K]) Records() int { return w.records }

// Commit flushes the table and its index and atomically replaces the
// previous files.
func (w *tableWriter[K]) Commit() error {
	if w.f == nil {
		return errClosed
	}

	if err := w.w.Flush(); err != nil {
		w.Abort()
		return err
	}
	if err := w.f.Sync(); err != nil {
		w.Abort()
		return err
	}
	if err := w.f.Close(); err != nil {
		w.f = nil
		_ = os.Remove(w.fname + suffixTemp)
		return err
	}
	w.f = nil

	return replaceTable(w.fname, w.offset, w.o.IndexStep, w.index)
}

// Abort discards the table.
func (w *tableWriter[K]) Abort() {
	if w.f == nil {
		return
	}
	_ = w.f.Close()
	_ = os.Remove(w.f.Name())
	w.f = nil
}

func (w *tableWriter[K]) writeRaw(p []byte) error {
	n, err := w.w.Write(p)
	w.offset += int64(n)
	return err
}

// replaceTable moves a committed temporary data file into place together
// with its index. The stale index is removed before the data is replaced,
// so an index never describes a data file it was not derived from.
func replaceTable(dataFile string, dataSize int64, step int, index []indexEntry) error {
	indexFile := indexFileName(dataFile)
	if err := os.Remove(indexFile); err != nil && !os.IsNotExist(err) {
		_ = os.Remove(dataFile + suffixTemp)
		return err
	}
	if err := os.Rename(dataFile+suffixTemp, dataFile); err != nil {
		_ = os.Remove(dataFile + suffixTemp)
		return err
	}
	if step < 1 {
		return nil
	}
	return writeIndexFile(indexFile, dataSize, step, index)
}
