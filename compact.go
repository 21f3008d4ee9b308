package partstore

import (
	"os"
	"slices"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var errStopScan = errors.New("partstore: stop scan")

// group collects the raw values of a single key.
type group[K, V any] struct {
	key    K
	enc    []byte
	values []V
}

// readGroups reads a journal and groups its values by key, sorted with the
// key comparator. A record that fails to decode ends the journal.
func (s *Store[K, V, M]) readGroups(fname string, log logrus.FieldLogger) ([]*group[K, V], int, error) {
	index := make(map[string]*group[K, V])
	records := 0

	err := scanJournal(fname, s.o.BufferSize, func(kb, vb []byte) error {
		key, err := s.o.KeyCodec.Decode(kb)
		if err != nil {
			return errStopScan
		}
		val, err := s.o.ValueCodec.Decode(vb)
		if err != nil {
			return errStopScan
		}

		g, ok := index[string(kb)]
		if !ok {
			g = &group[K, V]{key: key, enc: append([]byte(nil), kb...)}
			index[string(kb)] = g
		}
		g.values = append(g.values, val)
		records++
		return nil
	})
	if errors.Is(err, errStopScan) {
		log.WithField("records", records).Warn("undecodable journal record, ignoring remainder")
	} else if err != nil {
		return nil, 0, err
	}

	groups := make([]*group[K, V], 0, len(index))
	for _, g := range index {
		groups = append(groups, g)
	}
	slices.SortFunc(groups, func(a, b *group[K, V]) int {
		return s.compare(a.key, b.key)
	})
	return groups, records, nil
}

// compactBucket compacts the journal of a bucket into its data file. If a
// compacted data file already exists, both are merge-joined. The journal is
// only removed once the new data file is in place.
func (s *Store[K, V, M]) compactBucket(part partition[M], bucket, suffix string) (err error) {
	start := time.Now()
	log := s.log.WithFields(logrus.Fields{"partition": part.name, "bucket": bucket})
	defer func() {
		if err != nil {
			s.metrics.compactions.WithLabelValues("failed").Inc()
			err = errors.Wrapf(err, "compact bucket %s/%s", part.name, bucket)
			return
		}
		s.metrics.compactions.WithLabelValues("ok").Inc()
		s.metrics.compactionDur.Observe(time.Since(start).Seconds())
	}()

	journalFile := part.path(bucket, suffix)
	dataFile := part.path(bucket, suffixData)

	groups, raw, err := s.readGroups(journalFile, log)
	if err != nil {
		return err
	}

	prev, err := openTable(dataFile, false)
	if err != nil {
		return err
	}
	if prev != nil {
		defer prev.Close()
	}

	w, err := createTable(dataFile, s.o.Compare, s.o.tableOptions())
	if err != nil {
		return err
	}

	if prev == nil {
		err = s.writeGroups(w, groups)
	} else {
		err = s.mergeGroups(w, prev, groups)
	}
	if err != nil {
		w.Abort()
		return err
	}
	if err := w.Commit(); err != nil {
		return err
	}
	if prev != nil && s.o.IndexStep > 0 {
		s.metrics.indexRebuilds.Inc()
	}

	if err := os.Remove(journalFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := s.catalog.Put(part.name, BucketStats{
		Name:      bucket,
		State:     StateCompacted,
		Records:   w.Records(),
		UpdatedAt: time.Now(),
	}); err != nil {
		return errors.Wrap(err, "update catalog")
	}

	log.WithFields(logrus.Fields{
		"raw":     raw,
		"records": w.Records(),
		"merged":  prev != nil,
		"took":    time.Since(start),
	}).Debug("compacted bucket")
	return nil
}

// writeGroups merges and writes sorted groups.
func (s *Store[K, V, M]) writeGroups(w *tableWriter[K], groups []*group[K, V]) error {
	for _, g := range groups {
		if err := s.writeGroup(w, g, nil); err != nil {
			return err
		}
	}
	return nil
}

// mergeGroups performs a sorted merge-join of groups against an existing
// compacted table. Keys only present in the table are copied verbatim, keys
// present in both are expanded, combined and merged again.
func (s *Store[K, V, M]) mergeGroups(w *tableWriter[K], prev *tableReader, groups []*group[K, V]) error {
	cur := prev.Cursor(0)
	defer cur.Release()

	var (
		okey K
		ok   = s.nextKey(cur, &okey)
	)

	for ok || len(groups) != 0 {
		var c int
		switch {
		case !ok:
			c = 1
		case len(groups) == 0:
			c = -1
		default:
			c = s.compare(okey, groups[0].key)
		}

		switch {
		case c < 0: // only in the compacted table
			comp, val := cur.RawValue()
			if err := w.AppendRaw(okey, cur.Key(), comp, val); err != nil {
				return err
			}
			ok = s.nextKey(cur, &okey)
		case c > 0: // only in the journal
			if err := s.writeGroup(w, groups[0], nil); err != nil {
				return err
			}
			groups = groups[1:]
		default: // in both
			existing, err := s.o.Merger.Expand(cur.Value())
			if err != nil {
				return errors.Wrapf(err, "expand key %v", okey)
			}
			if err := s.writeGroup(w, groups[0], existing); err != nil {
				return err
			}
			groups = groups[1:]
			ok = s.nextKey(cur, &okey)
		}
	}
	return cur.Err()
}

func (s *Store[K, V, M]) writeGroup(w *tableWriter[K], g *group[K, V], existing []V) error {
	values := g.values
	if len(existing) != 0 {
		values = append(existing, g.values...)
	}

	blob, err := s.o.Merger.Merge(values)
	if err != nil {
		return errors.Wrapf(err, "merge key %v", g.key)
	}
	return w.Append(g.key, g.enc, blob)
}

// nextKey advances a cursor and decodes its key. A key that fails to
// decode ends the cursor.
func (s *Store[K, V, M]) nextKey(cur *cursor, key *K) bool {
	if !cur.Next() {
		return false
	}
	k, err := s.o.KeyCodec.Decode(cur.Key())
	if err != nil {
		return false
	}
	*key = k
	return true
}
