package partstore

import (
	"bytes"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

// Accessor reads the compacted buckets of a catalog partition. Find and
// Iterate are safe for concurrent use. RemoveKey, RemoveKeys and
// RebuildIndex modify data in place and must not run concurrently with
// any other operation on the same partition.
type Accessor[K, V, M any] struct {
	s    *Store[K, V, M]
	part partition[M]
	log  logrus.FieldLogger

	mu      sync.Mutex // protects opening of tables
	tables  *xsync.MapOf[string, *tableReader]
	indexes *xsync.MapOf[string, *sparseIndex[K]]
}

func newAccessor[K, V, M any](s *Store[K, V, M], part partition[M]) *Accessor[K, V, M] {
	return &Accessor[K, V, M]{
		s:       s,
		part:    part,
		log:     s.log.WithField("partition", part.name),
		tables:  xsync.NewMapOf[string, *tableReader](),
		indexes: xsync.NewMapOf[string, *sparseIndex[K]](),
	}
}

// Find looks up the compacted value of key. It returns false if the key
// cannot be found.
func (a *Accessor[K, V, M]) Find(key K) ([]byte, bool, error) {
	bucket := a.s.res.BucketOf(key, a.part.meta)
	val, found, err := a.find(bucket, key)
	if err != nil {
		a.s.metrics.lookups.WithLabelValues("error").Inc()
		return nil, false, errors.Wrapf(err, "find in bucket %s/%s", a.part.name, bucket)
	}
	if found {
		a.s.metrics.lookups.WithLabelValues("hit").Inc()
	} else {
		a.s.metrics.lookups.WithLabelValues("miss").Inc()
	}
	return val, found, nil
}

// FindValues looks up key and expands its compacted value.
func (a *Accessor[K, V, M]) FindValues(key K) ([]V, bool, error) {
	blob, found, err := a.Find(key)
	if err != nil || !found {
		return nil, found, err
	}
	values, err := a.s.o.Merger.Expand(blob)
	if err != nil {
		return nil, false, err
	}
	return values, true, nil
}

func (a *Accessor[K, V, M]) find(bucket string, key K) ([]byte, bool, error) {
	t, err := a.table(bucket)
	if err != nil || t == nil {
		return nil, false, err
	}

	idx, err := a.index(bucket, t)
	if err != nil {
		return nil, false, err
	}

	var offset int64
	var expect []byte
	if idx != nil && idx.Len() != 0 {
		pos := idx.Seek(key, a.s.compare)
		if pos < 0 {
			return nil, false, nil // smaller than the first key
		}
		offset, expect = idx.offsets[pos], idx.encoded[pos]
	}

	cur := t.Cursor(offset)
	defer cur.Release()

	for cur.Next() {
		if expect != nil {
			if cur.Offset() != offset || !bytes.Equal(cur.Key(), expect) {
				return nil, false, ErrIndexCorrupt
			}
			expect = nil
		}

		k, err := a.s.o.KeyCodec.Decode(cur.Key())
		if err != nil {
			return nil, false, nil
		}

		switch c := a.s.compare(k, key); {
		case c == 0:
			return append([]byte(nil), cur.Value()...), true, nil
		case c > 0:
			return nil, false, nil
		}
	}
	if expect != nil {
		return nil, false, ErrIndexCorrupt
	}
	return nil, false, cur.Err()
}

// Iterate returns an iterator over all compacted records of the partition,
// ordered by bucket name and key. Every call starts a fresh pass.
func (a *Accessor[K, V, M]) Iterate() *Iterator[K] {
	buckets, err := a.Buckets()
	return &Iterator[K]{
		codec:   a.s.o.KeyCodec,
		open:    a.table,
		buckets: buckets,
		err:     err,
	}
}

// Buckets returns the names of all compacted buckets of the partition.
func (a *Accessor[K, V, M]) Buckets() ([]string, error) {
	return listBuckets(a.part.dir, suffixData)
}

// RemoveKey removes a single key. Unless rebuildIndexNow is set, the bucket
// stays without index until RebuildIndex is called; lookups then scan the
// whole bucket.
func (a *Accessor[K, V, M]) RemoveKey(key K, rebuildIndexNow bool) error {
	bucket := a.s.res.BucketOf(key, a.part.meta)
	if err := a.RemoveKeys([]K{key}); err != nil {
		return err
	}
	if !rebuildIndexNow {
		return nil
	}
	return a.rebuildBucketIndex(bucket)
}

// RemoveKeys removes keys from their buckets. Indexes of affected buckets
// are dropped; call RebuildIndex once all removals are done.
func (a *Accessor[K, V, M]) RemoveKeys(keys []K) error {
	byBucket := make(map[string]map[string]struct{})
	for _, key := range keys {
		enc, err := a.s.o.KeyCodec.Append(nil, key)
		if err != nil {
			return errors.Wrap(err, "encode key")
		}

		bucket := a.s.res.BucketOf(key, a.part.meta)
		set, ok := byBucket[bucket]
		if !ok {
			set = make(map[string]struct{})
			byBucket[bucket] = set
		}
		set[string(enc)] = struct{}{}
	}

	var errs *multierror.Error
	for bucket, set := range byBucket {
		if err := a.removeFromBucket(bucket, set); err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "remove from bucket %s/%s", a.part.name, bucket))
		}
	}
	return errs.ErrorOrNil()
}

func (a *Accessor[K, V, M]) removeFromBucket(bucket string, set map[string]struct{}) error {
	dataFile := a.part.path(bucket, suffixData)
	t, err := openTable(dataFile, false)
	if err != nil || t == nil {
		return err
	}
	defer t.Close()

	o := a.s.o.tableOptions()
	o.IndexStep = 0

	w, err := createTable(dataFile, a.s.o.Compare, o)
	if err != nil {
		return err
	}

	removed := 0
	cur := t.Cursor(0)
	var key K
	for a.s.nextKey(cur, &key) {
		if _, ok := set[string(cur.Key())]; ok {
			removed++
			continue
		}
		comp, val := cur.RawValue()
		if err := w.AppendRaw(key, cur.Key(), comp, val); err != nil {
			cur.Release()
			w.Abort()
			return err
		}
	}
	err = cur.Err()
	cur.Release()
	if err != nil {
		w.Abort()
		return err
	}
	if removed == 0 {
		w.Abort()
		return nil
	}

	a.forget(bucket)
	if err := w.Commit(); err != nil {
		return err
	}

	a.s.metrics.removed.Add(float64(removed))
	a.log.WithFields(logrus.Fields{"bucket": bucket, "removed": removed}).Debug("removed keys")
	return a.s.catalog.Put(a.part.name, BucketStats{
		Name:      bucket,
		State:     StateCompacted,
		Records:   w.Records(),
		UpdatedAt: time.Now(),
	})
}

// RebuildIndex re-derives the sparse index of every bucket in the
// partition from its data file.
func (a *Accessor[K, V, M]) RebuildIndex() error {
	if a.s.o.IndexStep < 1 {
		return nil
	}

	buckets, err := a.Buckets()
	if err != nil {
		return err
	}

	sched := a.s.o.Scheduler(a.s.o.MaxParallelism)
	for _, bucket := range buckets {
		bucket := bucket
		sched.Go(func() error {
			if err := a.rebuildBucketIndex(bucket); err != nil {
				return errors.Wrapf(err, "rebuild index of bucket %s/%s", a.part.name, bucket)
			}
			return nil
		})
	}
	return sched.Wait()
}

func (a *Accessor[K, V, M]) rebuildBucketIndex(bucket string) error {
	step := a.s.o.IndexStep
	if step < 1 {
		return nil
	}

	dataFile := a.part.path(bucket, suffixData)
	t, err := openTable(dataFile, false)
	if err != nil || t == nil {
		return err
	}
	defer t.Close()

	var entries []indexEntry
	cur := t.Cursor(0)
	for n := 0; cur.Next(); n++ {
		if n%step == 0 {
			entries = append(entries, indexEntry{
				Key:    append([]byte(nil), cur.Key()...),
				Offset: cur.Offset(),
			})
		}
	}
	err = cur.Err()
	cur.Release()
	if err != nil {
		return err
	}

	if err := writeIndexFile(indexFileName(dataFile), t.Size(), step, entries); err != nil {
		return err
	}
	a.indexes.Delete(bucket)
	a.s.metrics.indexRebuilds.Inc()
	return nil
}

// Close releases all open files.
func (a *Accessor[K, V, M]) Close() error {
	var errs *multierror.Error
	a.tables.Range(func(bucket string, t *tableReader) bool {
		if err := t.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		a.tables.Delete(bucket)
		return true
	})
	a.indexes.Range(func(bucket string, _ *sparseIndex[K]) bool {
		a.indexes.Delete(bucket)
		return true
	})
	return errs.ErrorOrNil()
}

// table returns the open reader of a bucket, or nil if the bucket has no
// compacted data. Cached readers are reopened once the data file has been
// replaced on disk.
func (a *Accessor[K, V, M]) table(bucket string) (*tableReader, error) {
	fname := a.part.path(bucket, suffixData)
	fi, err := os.Stat(fname)
	if os.IsNotExist(err) {
		a.forget(bucket)
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	if t, ok := a.tables.Load(bucket); ok && t.Describes(fi) {
		return t, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if t, ok := a.tables.Load(bucket); ok {
		if t.Describes(fi) {
			return t, nil
		}
		a.log.WithField("bucket", bucket).Debug("data file replaced, reopening")
		a.forget(bucket)
	}

	t, err := openTable(fname, a.s.o.Mmap)
	if err != nil || t == nil {
		return nil, err
	}
	a.tables.Store(bucket, t)
	return t, nil
}

// index returns the sparse index of a bucket, or nil if indexing is
// disabled or the bucket currently has no index.
func (a *Accessor[K, V, M]) index(bucket string, t *tableReader) (*sparseIndex[K], error) {
	if a.s.o.IndexStep < 1 {
		return nil, nil
	}
	if a.s.o.IndexCache {
		if idx, ok := a.indexes.Load(bucket); ok {
			return idx, nil
		}
	}

	raw, err := readIndexFile(indexFileName(a.part.path(bucket, suffixData)))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	if raw.DataSize != t.Size() {
		return nil, ErrIndexCorrupt
	}

	idx, err := decodeIndex(raw, a.s.o.KeyCodec)
	if err != nil {
		return nil, err
	}
	if a.s.o.IndexCache {
		a.indexes.Store(bucket, idx)
	}
	return idx, nil
}

// forget closes and drops cached state of a bucket.
func (a *Accessor[K, V, M]) forget(bucket string) {
	if t, ok := a.tables.LoadAndDelete(bucket); ok {
		if err := t.Close(); err != nil {
			a.log.WithError(err).WithField("bucket", bucket).Warn("failed to close table")
		}
	}
	a.indexes.Delete(bucket)
}

// Forget closes all cached file handles and drops cached indexes. Replaced
// data files are detected on access, Forget only releases resources early.
func (a *Accessor[K, V, M]) Forget() {
	a.tables.Range(func(bucket string, _ *tableReader) bool {
		a.forget(bucket)
		return true
	})
}
