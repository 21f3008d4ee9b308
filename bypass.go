package partstore

import (
	"os"
	"path/filepath"
)

// RecordSource identifies the kind of file a bypassed record was read from.
type RecordSource uint8

// Record sources
const (
	SourceData  RecordSource = iota // compacted data file
	SourceRaw                       // builder journal
	SourceMerge                     // merge accessor side journal
)

func (s RecordSource) String() string {
	switch s {
	case SourceData:
		return "data"
	case SourceRaw:
		return "raw"
	case SourceMerge:
		return "merge"
	}
	return "unknown"
}

type bypassFile struct {
	bucket string
	fname  string
	source RecordSource
}

// BypassIterator scans every file of a catalog partition sequentially,
// regardless of its compaction state and without consulting indexes.
// Values of compacted records are merged blobs, values of journal records
// are encoded raw values.
type BypassIterator[K any] struct {
	codec   Codec[K]
	bufSize int
	files   []bypassFile
	pos     int

	file *bypassFile
	tab  *tableReader
	cur  *cursor
	f    *os.File
	js   *journalScanner

	key K
	val []byte
	err error
}

func newBypassIterator[K any](codec Codec[K], dir string, bufSize int) *BypassIterator[K] {
	it := &BypassIterator[K]{codec: codec, bufSize: bufSize}

	buckets, err := listBuckets(dir, suffixData, suffixRaw, suffixMerge)
	if err != nil {
		it.err = err
		return it
	}

	for _, bucket := range buckets {
		for _, src := range []struct {
			sfx    string
			source RecordSource
		}{
			{suffixData, SourceData},
			{suffixRaw, SourceRaw},
			{suffixMerge, SourceMerge},
		} {
			fname := filepath.Join(dir, bucket+src.sfx)
			if _, err := os.Stat(fname); err == nil {
				it.files = append(it.files, bypassFile{bucket: bucket, fname: fname, source: src.source})
			}
		}
	}
	return it
}

// Next advances the iterator and returns true if successful.
func (i *BypassIterator[K]) Next() bool {
	for i.err == nil {
		if i.file == nil {
			if i.pos >= len(i.files) {
				return false
			}
			i.file = &i.files[i.pos]
			i.pos++

			if err := i.openFile(); err != nil {
				i.err = err
				return false
			}
		}

		var kb []byte
		var ok bool
		if i.cur != nil {
			if ok = i.cur.Next(); ok {
				kb, i.val = i.cur.Key(), i.cur.Value()
			} else if err := i.cur.Err(); err != nil {
				i.err = err
			}
		} else if i.js != nil {
			if ok = i.js.Next(); ok {
				kb, i.val = i.js.Key(), i.js.Value()
			}
		}

		if ok {
			if key, err := i.codec.Decode(kb); err == nil {
				i.key = key
				return true
			}
		}
		i.closeFile()
	}
	return false
}

func (i *BypassIterator[K]) openFile() error {
	if i.file.source == SourceData {
		t, err := openTable(i.file.fname, false)
		if err != nil {
			return err
		}
		if t != nil {
			i.tab = t
			i.cur = t.Cursor(0)
		}
		return nil
	}

	f, err := os.Open(i.file.fname)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	i.f = f
	i.js = newJournalScanner(f, i.bufSize)
	return nil
}

func (i *BypassIterator[K]) closeFile() {
	if i.cur != nil {
		i.cur.Release()
		i.cur = nil
	}
	if i.tab != nil {
		_ = i.tab.Close()
		i.tab = nil
	}
	if i.f != nil {
		_ = i.f.Close()
		i.f = nil
	}
	i.js = nil
	i.file = nil
}

// Key returns the key of the current record.
func (i *BypassIterator[K]) Key() K { return i.key }

// Value returns the value of the current record. Valid until the next call
// to Next.
func (i *BypassIterator[K]) Value() []byte { return i.val }

// Bucket returns the bucket of the current record.
func (i *BypassIterator[K]) Bucket() string {
	if i.file == nil {
		return ""
	}
	return i.file.bucket
}

// Source returns the kind of file the current record was read from.
func (i *BypassIterator[K]) Source() RecordSource {
	if i.file == nil {
		return SourceData
	}
	return i.file.source
}

// Err exposes iterator errors, if any.
func (i *BypassIterator[K]) Err() error { return i.err }

// Release releases the iterator and frees up resources.
func (i *BypassIterator[K]) Release() {
	i.closeFile()
	if i.err == nil {
		i.err = errReleased
	}
}

// CountDistinct consumes the iterator and returns the number of distinct
// keys, by their encoded form. The iterator is released afterwards.
func (i *BypassIterator[K]) CountDistinct() (int, error) {
	defer i.Release()

	seen := make(map[string]struct{})
	var enc []byte
	for i.Next() {
		var err error
		if enc, err = i.codec.Append(enc[:0], i.key); err != nil {
			return 0, err
		}
		seen[string(enc)] = struct{}{}
	}
	if err := i.Err(); err != nil {
		return 0, err
	}
	return len(seen), nil
}
