package partstore

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// journal is an append-only raw record log of a single bucket. It is not
// safe for concurrent use; callers serialise access per bucket.
type journal struct {
	f   *os.File
	w   *bufio.Writer
	buf []byte
	n   int64 // records appended in this session
}

// openJournal opens a journal for appending. A torn or corrupted tail left
// behind by an earlier session is trimmed first, so that records appended
// now remain readable.
func openJournal(fname string, bufSize int, logger logrus.FieldLogger) (*journal, error) {
	f, err := os.OpenFile(fname, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	if fi.Size() != 0 {
		s := newJournalScanner(f, bufSize)
		for s.Next() {
		}

		if valid := s.Offset(); valid < fi.Size() {
			logger.WithFields(logrus.Fields{
				"file":    fname,
				"size":    fi.Size(),
				"trimmed": fi.Size() - valid,
			}).Warn("trimming torn journal tail")

			if err := f.Truncate(valid); err != nil {
				_ = f.Close()
				return nil, errors.Wrap(err, "trim journal")
			}
		}
		if _, err := f.Seek(s.Offset(), io.SeekStart); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	return &journal{f: f, w: bufio.NewWriterSize(f, bufSize)}, nil
}

// Append appends an encoded key/value pair.
func (j *journal) Append(key, val []byte) error {
	if j.f == nil {
		return errClosed
	}

	j.buf = appendJournalRecord(j.buf[:0], key, val)
	if _, err := j.w.Write(j.buf); err != nil {
		return err
	}
	j.n++
	return nil
}

// Close flushes, syncs and closes the journal.
func (j *journal) Close() error {
	if j.f == nil {
		return errClosed
	}

	f := j.f
	j.f = nil

	if err := j.w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// scanJournal calls fn for each valid record in a journal file. A missing
// file is treated as empty.
func scanJournal(fname string, bufSize int, fn func(key, val []byte) error) error {
	f, err := os.Open(fname)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	defer f.Close()

	s := newJournalScanner(f, bufSize)
	for s.Next() {
		if err := fn(s.Key(), s.Value()); err != nil {
			return err
		}
	}
	return nil
}
