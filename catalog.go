package partstore

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

const catalogFileName = "catalog.db"

var catalogRoot = []byte("partitions")

// BucketState describes the storage state of a bucket.
type BucketState string

// Bucket states
const (
	StateRaw       BucketState = "raw"
	StateCompacted BucketState = "compacted"
	StateMerging   BucketState = "merging"
)

// BucketStats describe a single bucket of a catalog partition.
type BucketStats struct {
	Name      string      `msgpack:"-"`
	State     BucketState `msgpack:"s"`
	Records   int         `msgpack:"n"`
	UpdatedAt time.Time   `msgpack:"t"`
}

// catalog keeps track of partitions and their buckets in a bolt database
// next to the data.
type catalog struct {
	db *bbolt.DB
}

func openCatalog(fname string) (*catalog, error) {
	db, err := bbolt.Open(fname, 0o644, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(catalogRoot)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init catalog")
	}
	return &catalog{db: db}, nil
}

// Put records the stats of a bucket. Safe for concurrent use, updates are
// batched.
func (c *catalog) Put(partition string, st BucketStats) error {
	val, err := msgpack.Marshal(&st)
	if err != nil {
		return err
	}

	return c.db.Batch(func(tx *bbolt.Tx) error {
		part, err := tx.Bucket(catalogRoot).CreateBucketIfNotExists([]byte(partition))
		if err != nil {
			return err
		}
		return part.Put([]byte(st.Name), val)
	})
}

// Get returns the stats of a single bucket.
func (c *catalog) Get(partition, bucket string) (*BucketStats, error) {
	var st *BucketStats
	err := c.db.View(func(tx *bbolt.Tx) error {
		part := tx.Bucket(catalogRoot).Bucket([]byte(partition))
		if part == nil {
			return nil
		}
		val := part.Get([]byte(bucket))
		if val == nil {
			return nil
		}
		st = &BucketStats{Name: bucket}
		return msgpack.Unmarshal(val, st)
	})
	return st, err
}

// Buckets returns all bucket stats of a partition, sorted by name.
func (c *catalog) Buckets(partition string) ([]BucketStats, error) {
	var res []BucketStats
	err := c.db.View(func(tx *bbolt.Tx) error {
		part := tx.Bucket(catalogRoot).Bucket([]byte(partition))
		if part == nil {
			return nil
		}
		return part.ForEach(func(k, v []byte) error {
			st := BucketStats{Name: string(k)}
			if err := msgpack.Unmarshal(v, &st); err != nil {
				return err
			}
			res = append(res, st)
			return nil
		})
	})
	return res, err
}

// Partitions returns the known partitions, sorted.
func (c *catalog) Partitions() ([]string, error) {
	var res []string
	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(catalogRoot).ForEach(func(k, _ []byte) error {
			res = append(res, string(k))
			return nil
		})
	})
	sort.Strings(res)
	return res, err
}

// Drop forgets a partition.
func (c *catalog) Drop(partition string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket(catalogRoot).DeleteBucket([]byte(partition))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// Close closes the catalog.
func (c *catalog) Close() error { return c.db.Close() }
