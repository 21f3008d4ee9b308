package partstore

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Options configure a Store. K is the key type, V the raw value type and
// M the metadata type used to address catalog partitions.
type Options[K, V, M any] struct {
	// Root is the root folder of the store. Required.
	Root string

	// CatalogExtractors derive the directory levels of a catalog partition
	// from metadata, outermost first.
	CatalogExtractors []CatalogExtractor[M]

	// FileExtractor derives the bucket of a key. Required.
	FileExtractor FileExtractor[K, M]

	// Compare is a three-way key comparator. Required.
	Compare func(a, b K) int

	// KeyCodec encodes keys. Required.
	KeyCodec Codec[K]

	// ValueCodec encodes raw values. Required.
	ValueCodec Codec[V]

	// Merger turns the raw values of a key into a compacted blob and back.
	// Required.
	Merger Merger[V]

	// IndexStep is the number of records between two sparse index entries.
	// Zero disables indexing.
	IndexStep int

	// IndexCache keeps loaded indexes in memory. Otherwise indexes are
	// re-read from disk on every lookup.
	IndexCache bool

	// ThreadSafe allows concurrent Store calls on builders and merge
	// accessors.
	ThreadSafe bool

	// MaxParallelism bounds concurrent writes and the fan-out of
	// maintenance operations.
	// Default: runtime.GOMAXPROCS(0).
	MaxParallelism int

	// Compression is the codec used for compacted values.
	// Default: SnappyCompression.
	Compression Compression

	// Mmap memory-maps compacted files for reading.
	Mmap bool

	// BufferSize is the size of read and write buffers.
	// Default: 64KiB.
	BufferSize int

	// Scheduler runs maintenance tasks. If nil, a bounded errgroup based
	// scheduler is used.
	Scheduler func(limit int) Scheduler

	// Logger is used for logging.
	// Default: logrus.StandardLogger().
	Logger logrus.FieldLogger

	// Registerer registers metrics, if set.
	Registerer prometheus.Registerer
}

func (o *Options[K, V, M]) norm() *Options[K, V, M] {
	var oo Options[K, V, M]
	if o != nil {
		oo = *o
	}

	oo.CatalogExtractors = append([]CatalogExtractor[M](nil), oo.CatalogExtractors...)
	if oo.IndexStep < 0 {
		oo.IndexStep = 0
	}
	if oo.MaxParallelism < 1 {
		oo.MaxParallelism = runtime.GOMAXPROCS(0)
	}
	if !oo.Compression.isValid() {
		oo.Compression = SnappyCompression
	}
	if oo.BufferSize < 1 {
		oo.BufferSize = 1 << 16
	}
	if oo.Scheduler == nil {
		oo.Scheduler = NewGroupScheduler
	}
	if oo.Logger == nil {
		oo.Logger = logrus.StandardLogger()
	}
	return &oo
}

func (o *Options[K, V, M]) validate() error {
	if o.Root == "" {
		return ErrNoRoot
	}
	if o.FileExtractor == nil {
		return ErrNoFileExtractor
	}
	for _, fn := range o.CatalogExtractors {
		if fn == nil {
			return ErrNilCatalogExtractor
		}
	}
	if o.Compare == nil {
		return ErrNoComparator
	}
	if o.KeyCodec == nil || o.ValueCodec == nil {
		return ErrNoCodec
	}
	if o.Merger == nil {
		return ErrNoMerger
	}
	return nil
}

func (o *Options[K, V, M]) tableOptions() *tableOptions {
	return &tableOptions{
		IndexStep:   o.IndexStep,
		Compression: o.Compression,
		BufferSize:  o.BufferSize,
	}
}
