package partstore

// Iterator is a forward-only pass over the compacted records of a catalog
// partition, bucket by bucket.
type Iterator[K any] struct {
	codec   Codec[K]
	open    func(bucket string) (*tableReader, error)
	buckets []string
	pos     int

	cur    *cursor
	bucket string
	key    K
	err    error
}

// Next advances the iterator and returns true if successful.
func (i *Iterator[K]) Next() bool {
	for i.err == nil {
		if i.cur == nil {
			if i.pos >= len(i.buckets) {
				return false
			}
			i.bucket = i.buckets[i.pos]
			i.pos++

			t, err := i.open(i.bucket)
			if err != nil {
				i.err = err
				return false
			}
			if t == nil {
				continue
			}
			i.cur = t.Cursor(0)
		}

		if i.cur.Next() {
			if key, err := i.codec.Decode(i.cur.Key()); err == nil {
				i.key = key
				return true
			}
		}

		// end of bucket
		if err := i.cur.Err(); err != nil {
			i.err = err
		}
		i.cur.Release()
		i.cur = nil
	}
	return false
}

// Key returns the key of the current entry.
func (i *Iterator[K]) Key() K { return i.key }

// Value returns the compacted value of the current entry. Please note that
// values are temporary buffers and must be copied if used beyond the next
// cursor move. It returns nil once the iterator is exhausted or released.
func (i *Iterator[K]) Value() []byte {
	if i.cur == nil {
		return nil
	}
	return i.cur.Value()
}

// Bucket returns the bucket of the current entry.
func (i *Iterator[K]) Bucket() string { return i.bucket }

// Err exposes iterator errors, if any.
func (i *Iterator[K]) Err() error { return i.err }

// Release releases the iterator and frees up resources. The iterator must
// not be used after this method is called.
func (i *Iterator[K]) Release() {
	if i.cur != nil {
		i.cur.Release()
		i.cur = nil
	}
	if i.err == nil {
		i.err = errReleased
	}
}
