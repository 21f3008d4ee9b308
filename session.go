package partstore

import (
	"context"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

// session appends raw records to per-bucket journals of a partition. It
// backs both builders and merge accessors.
type session[K, V, M any] struct {
	s      *Store[K, V, M]
	part   partition[M]
	suffix string
	state  BucketState
	log    logrus.FieldLogger

	mu        sync.RWMutex // held for reading by Store, for writing by CompleteAdding
	journals  *xsync.MapOf[string, *journal]
	total     atomic.Int64
	completed atomic.Bool
	stored    interface{ Inc() }
}

func newSession[K, V, M any](s *Store[K, V, M], part partition[M], suffix string, state BucketState, mode string) *session[K, V, M] {
	return &session[K, V, M]{
		s:        s,
		part:     part,
		suffix:   suffix,
		state:    state,
		log:      s.log.WithFields(logrus.Fields{"partition": part.name, "mode": mode}),
		journals: xsync.NewMapOf[string, *journal](),
		stored:   s.metrics.stored.WithLabelValues(mode),
	}
}

var encPool = sync.Pool{New: func() interface{} { return new(encBuffers) }}

type encBuffers struct{ key, val []byte }

// Store appends a raw record to the journal of the key's bucket.
func (s *session[K, V, M]) Store(key K, value V) error {
	if s.completed.Load() {
		return ErrCompleted
	}

	eb := encPool.Get().(*encBuffers)
	defer encPool.Put(eb)

	var err error
	if eb.key, err = s.s.o.KeyCodec.Append(eb.key[:0], key); err != nil {
		return errors.Wrap(err, "encode key")
	}
	if eb.val, err = s.s.o.ValueCodec.Append(eb.val[:0], value); err != nil {
		return errors.Wrap(err, "encode value")
	}

	bucket := s.s.res.BucketOf(key, s.part.meta)
	if s.s.o.ThreadSafe {
		if err := s.s.sem.Acquire(context.Background(), 1); err != nil {
			return err
		}
		defer s.s.sem.Release(1)

		mu := s.s.locks.Get(s.part.path(bucket, s.suffix))
		mu.Lock()
		defer mu.Unlock()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.completed.Load() {
		return ErrCompleted
	}

	j, err := s.journal(bucket)
	if err != nil {
		return err
	}
	if err := j.Append(eb.key, eb.val); err != nil {
		return errors.Wrapf(err, "append to bucket %s", bucket)
	}

	s.total.Add(1)
	s.stored.Inc()
	return nil
}

// journal returns the open journal of a bucket. The caller must hold the
// bucket lock in thread-safe mode.
func (s *session[K, V, M]) journal(bucket string) (*journal, error) {
	if j, ok := s.journals.Load(bucket); ok {
		return j, nil
	}

	if err := os.MkdirAll(s.part.dir, 0o755); err != nil {
		return nil, err
	}
	j, err := openJournal(s.part.path(bucket, s.suffix), s.s.o.BufferSize, s.log)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal of bucket %s", bucket)
	}
	s.journals.Store(bucket, j)

	st := BucketStats{Name: bucket, State: s.state, UpdatedAt: time.Now()}
	if prev, _ := s.s.catalog.Get(s.part.name, bucket); prev != nil {
		st.Records = prev.Records
		if prev.State != StateRaw {
			st.State = StateMerging
		}
	}
	if err := s.s.catalog.Put(s.part.name, st); err != nil {
		return nil, errors.Wrap(err, "update catalog")
	}
	return j, nil
}

// TotalRecords returns the number of records stored in this session.
func (s *session[K, V, M]) TotalRecords() int64 { return s.total.Load() }

// CompleteAdding flushes and closes all journals. Further Store calls fail
// with ErrCompleted. It is safe to call more than once.
func (s *session[K, V, M]) CompleteAdding() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completed.Swap(true) {
		return nil
	}

	var errs *multierror.Error
	s.journals.Range(func(bucket string, j *journal) bool {
		if err := j.Close(); err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "close journal of bucket %s", bucket))
		}
		return true
	})

	s.log.WithField("records", s.total.Load()).Debug("completed adding")
	return errs.ErrorOrNil()
}

// Compress completes adding and compacts every bucket with a pending
// journal, touched by this session or left behind by an earlier one.
func (s *session[K, V, M]) Compress() error {
	if err := s.CompleteAdding(); err != nil {
		return err
	}

	buckets, err := s.pending()
	if err != nil {
		return err
	}

	start := time.Now()
	sched := s.s.o.Scheduler(s.s.o.MaxParallelism)
	for _, bucket := range buckets {
		bucket := bucket
		sched.Go(func() error {
			return s.s.compactBucket(s.part, bucket, s.suffix)
		})
	}
	if err := sched.Wait(); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"buckets": len(buckets),
		"took":    time.Since(start),
	}).Info("compressed partition")
	return nil
}

func (s *session[K, V, M]) pending() ([]string, error) {
	buckets, err := listBuckets(s.part.dir, s.suffix)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(buckets))
	for _, b := range buckets {
		seen[b] = struct{}{}
	}
	s.journals.Range(func(bucket string, _ *journal) bool {
		if _, ok := seen[bucket]; !ok {
			buckets = append(buckets, bucket)
		}
		return true
	})
	sort.Strings(buckets)
	return buckets, nil
}

// --------------------------------------------------------------------

// Builder appends raw records to the buckets of a catalog partition and
// compacts them.
//
// Store is safe for concurrent use only if the store is configured as
// ThreadSafe. Writes to different buckets never block each other, writes to
// the same bucket are serialised.
type Builder[K, V, M any] struct {
	*session[K, V, M]
}

// MergeAccessor appends raw records to side journals next to already
// compacted buckets. Compress merges them into the compacted data and
// rebuilds the index.
type MergeAccessor[K, V, M any] struct {
	*session[K, V, M]
}
