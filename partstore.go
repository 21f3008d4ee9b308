package partstore

import "github.com/pkg/errors"

var (
	dataMagic  = []byte{71, 39, 134, 190, 31, 122, 101, 220}
	indexMagic = []byte{71, 39, 134, 190, 31, 122, 101, 221}
)

const (
	blockNoCompression     = 0
	blockSnappyCompression = 1
)

// File suffixes used inside a catalog partition.
const (
	suffixRaw   = ".raw" // builder journal
	suffixMerge = ".mrg" // merge accessor side journal
	suffixData  = ".dat" // compacted data
	suffixIndex = ".idx" // sparse index
	suffixTemp  = ".tmp"
)

var (
	// ErrNoRoot is returned by New when no root folder is configured.
	ErrNoRoot = errors.New("partstore: root folder is not set")
	// ErrNoFileExtractor is returned by New when no file partition extractor is configured.
	ErrNoFileExtractor = errors.New("partstore: file partition extractor is not set")
	// ErrNilCatalogExtractor is returned by New when a catalog extractor is nil.
	ErrNilCatalogExtractor = errors.New("partstore: catalog partition extractor is nil")
	// ErrNoComparator is returned by New when no key comparator is configured.
	ErrNoComparator = errors.New("partstore: key comparator is not set")
	// ErrNoCodec is returned by New when a key or value codec is missing.
	ErrNoCodec = errors.New("partstore: key or value codec is not set")
	// ErrNoMerger is returned by New when no merger is configured.
	ErrNoMerger = errors.New("partstore: merger is not set")

	// ErrCompleted is returned when values are stored after CompleteAdding.
	ErrCompleted = errors.New("partstore: adding is completed")
	// ErrIndexCorrupt is returned when an index does not match its data file.
	// The affected partition needs a RebuildIndex.
	ErrIndexCorrupt = errors.New("partstore: index does not match data")
	// ErrTooManyValues is returned by a SetMerger when a union exceeds
	// MaxValues and the overflow policy is OverflowError.
	ErrTooManyValues = errors.New("partstore: too many values")
)

var (
	errClosed         = errors.New("partstore: is closed")
	errBadMagic       = errors.New("partstore: bad magic byte sequence")
	errBadCompression = errors.New("partstore: bad compression codec")
	errReleased       = errors.New("partstore: iterator was released")
	errOutOfOrder     = errors.New("partstore: attempted an out-of-order append")
)

// --------------------------------------------------------------------

// Compression is the compression codec applied to compacted values.
type Compression byte

func (c Compression) isValid() bool {
	return c >= SnappyCompression && c < unknownCompression
}

// Supported compression codecs
const (
	SnappyCompression Compression = iota
	NoCompression
	unknownCompression
)
