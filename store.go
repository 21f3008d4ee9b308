package partstore

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Store is a partitioned, append-then-compact key/value store. It hands out
// builders, accessors and merge accessors for catalog partitions addressed
// by metadata.
type Store[K, V, M any] struct {
	o   *Options[K, V, M]
	res *Resolver[K, M]

	locks   *lockArena
	sem     *semaphore.Weighted
	catalog *catalog
	metrics *metrics
	log     logrus.FieldLogger
}

// New opens a store. Configuration errors are reported immediately.
func New[K, V, M any](o *Options[K, V, M]) (*Store[K, V, M], error) {
	if o == nil {
		return nil, ErrNoRoot
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	o = o.norm()

	res, err := NewResolver(o.Root, o.CatalogExtractors, o.FileExtractor)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(o.Root, 0o755); err != nil {
		return nil, err
	}

	cat, err := openCatalog(filepath.Join(o.Root, catalogFileName))
	if err != nil {
		return nil, err
	}

	return &Store[K, V, M]{
		o:       o,
		res:     res,
		locks:   newLockArena(),
		sem:     semaphore.NewWeighted(int64(o.MaxParallelism)),
		catalog: cat,
		metrics: newMetrics(o.Registerer),
		log:     o.Logger.WithField("root", o.Root),
	}, nil
}

// Resolver exposes the partition resolver.
func (s *Store[K, V, M]) Resolver() *Resolver[K, M] { return s.res }

// Builder returns a builder for the catalog partition of meta.
func (s *Store[K, V, M]) Builder(meta M) *Builder[K, V, M] {
	return &Builder[K, V, M]{session: newSession(s, s.partition(meta), suffixRaw, StateRaw, "build")}
}

// MergeAccessor returns a merge accessor for the catalog partition of meta.
func (s *Store[K, V, M]) MergeAccessor(meta M) *MergeAccessor[K, V, M] {
	return &MergeAccessor[K, V, M]{session: newSession(s, s.partition(meta), suffixMerge, StateMerging, "merge")}
}

// Accessor returns an accessor for the catalog partition of meta.
func (s *Store[K, V, M]) Accessor(meta M) *Accessor[K, V, M] {
	return newAccessor(s, s.partition(meta))
}

// Bypass returns an iterator over every record stored in the catalog
// partition of meta, regardless of compaction state and ignoring indexes.
func (s *Store[K, V, M]) Bypass(meta M) *BypassIterator[K] {
	return newBypassIterator(s.o.KeyCodec, s.partition(meta).dir, s.o.BufferSize)
}

// Drop deletes the catalog partition of meta with all of its buckets.
// Accessors open on the partition must not be used afterwards.
func (s *Store[K, V, M]) Drop(meta M) error {
	part := s.partition(meta)
	if err := part.removeFiles(); err != nil {
		return errors.Wrapf(err, "drop %s", part.name)
	}
	if err := s.catalog.Drop(part.name); err != nil {
		return errors.Wrapf(err, "drop %s", part.name)
	}
	s.log.WithField("partition", part.name).Info("dropped partition")
	return nil
}

// Partitions returns the catalog partitions known to the store, as paths
// relative to the root.
func (s *Store[K, V, M]) Partitions() ([]string, error) {
	return s.catalog.Partitions()
}

// Stats returns the stats of all buckets in the partition of meta.
func (s *Store[K, V, M]) Stats(meta M) ([]BucketStats, error) {
	return s.catalog.Buckets(s.partition(meta).name)
}

// Close closes the store.
func (s *Store[K, V, M]) Close() error {
	return s.catalog.Close()
}

func (s *Store[K, V, M]) partition(meta M) partition[M] {
	name := s.res.Relative(meta)
	if name == "" {
		name = "."
	}
	return partition[M]{
		meta: meta,
		dir:  s.res.Resolve(meta),
		name: name,
	}
}

func (s *Store[K, V, M]) compare(a, b K) int { return s.o.Compare(a, b) }

// --------------------------------------------------------------------

// partition is a resolved catalog partition.
type partition[M any] struct {
	meta M
	dir  string // absolute directory
	name string // directory relative to the root
}

func (p partition[M]) path(bucket, suffix string) string {
	return filepath.Join(p.dir, bucket+suffix)
}

// removeFiles deletes the partition directory. A partition at the store
// root only loses its bucket files.
func (p partition[M]) removeFiles() error {
	if p.name != "." {
		return os.RemoveAll(p.dir)
	}

	buckets, err := listBuckets(p.dir, suffixRaw, suffixMerge, suffixData, suffixIndex)
	if err != nil {
		return err
	}
	for _, bucket := range buckets {
		for _, sfx := range []string{suffixRaw, suffixMerge, suffixData, suffixIndex} {
			if err := os.Remove(p.path(bucket, sfx)); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

// listBuckets returns the sorted names of all buckets in dir which have a
// file with one of the given suffixes.
func listBuckets(dir string, suffixes ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(entries))
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		for _, sfx := range suffixes {
			if name := ent.Name(); strings.HasSuffix(name, sfx) {
				seen[strings.TrimSuffix(name, sfx)] = struct{}{}
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
