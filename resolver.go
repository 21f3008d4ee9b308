package partstore

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// CatalogExtractor derives one directory level of a catalog partition from
// metadata.
type CatalogExtractor[M any] func(meta M) string

// FileExtractor derives the bucket name of a key.
type FileExtractor[K, M any] func(key K, meta M) string

// Resolver maps metadata to catalog partition directories and keys to
// bucket names. Both mappings are deterministic.
type Resolver[K, M any] struct {
	root    string
	catalog []CatalogExtractor[M]
	file    FileExtractor[K, M]
}

// NewResolver inits a resolver.
func NewResolver[K, M any](root string, catalog []CatalogExtractor[M], file FileExtractor[K, M]) (*Resolver[K, M], error) {
	if root == "" {
		return nil, ErrNoRoot
	}
	if file == nil {
		return nil, ErrNoFileExtractor
	}
	for _, fn := range catalog {
		if fn == nil {
			return nil, ErrNilCatalogExtractor
		}
	}
	return &Resolver[K, M]{root: root, catalog: catalog, file: file}, nil
}

// Root returns the root directory.
func (r *Resolver[K, M]) Root() string { return r.root }

// Resolve returns the catalog partition directory for meta.
func (r *Resolver[K, M]) Resolve(meta M) string {
	parts := make([]string, 0, len(r.catalog)+1)
	parts = append(parts, r.root)
	for _, fn := range r.catalog {
		parts = append(parts, Sanitize(fn(meta)))
	}
	return filepath.Join(parts...)
}

// Relative returns the catalog partition directory relative to root.
func (r *Resolver[K, M]) Relative(meta M) string {
	parts := make([]string, 0, len(r.catalog))
	for _, fn := range r.catalog {
		parts = append(parts, Sanitize(fn(meta)))
	}
	return filepath.Join(parts...)
}

// BucketOf returns the bucket name of key.
func (r *Resolver[K, M]) BucketOf(key K, meta M) string {
	return Sanitize(r.file(key, meta))
}

// --------------------------------------------------------------------

// DateSegment returns a catalog extractor formatting a time derived from
// metadata with layout, e.g. "20060102".
func DateSegment[M any](layout string, fn func(M) time.Time) CatalogExtractor[M] {
	return func(meta M) string { return fn(meta).Format(layout) }
}

// StaticSegment returns a catalog extractor with a constant output.
func StaticSegment[M any](name string) CatalogExtractor[M] {
	return func(M) string { return name }
}

// HashBucket returns a file extractor that distributes keys across n
// buckets by the xxhash of their encoded form. Keys that fail to encode are
// routed to bucket zero.
func HashBucket[K, M any](codec Codec[K], n int) FileExtractor[K, M] {
	if n < 1 {
		n = 1
	}
	width := len(strconv.Itoa(n - 1))
	return func(key K, _ M) string {
		enc, err := codec.Append(nil, key)
		if err != nil {
			return fmt.Sprintf("%0*d", width, 0)
		}
		return fmt.Sprintf("%0*d", width, xxhash.Sum64(enc)%uint64(n))
	}
}

// ModuloBucket returns a file extractor that distributes uint64 keys across
// n buckets by their remainder.
func ModuloBucket[M any](n int) FileExtractor[uint64, M] {
	if n < 1 {
		n = 1
	}
	width := len(strconv.Itoa(n - 1))
	return func(key uint64, _ M) string {
		return fmt.Sprintf("%0*d", width, key%uint64(n))
	}
}
