/*
Package partstore implements a partitioned, append-then-compact key/value
store.

Data of a logical dataset is split by metadata (e.g. a date) into catalog
partitions, which are directories below the store root. Within a catalog
partition, a function of the key selects a bucket. Buckets first collect raw
appends in a journal. Compaction groups the journal by key, merges all values
of a key into a single blob and writes a sorted data file, optionally with a
sparse index.

Data Structure Documentation

Layout

    root/
    +-- catalog.db
    +-- <segment 1>/.../<segment n>/
        +-- <bucket>.raw   builder journal
        +-- <bucket>.mrg   merge accessor side journal
        +-- <bucket>.dat   compacted data
        +-- <bucket>.idx   sparse index

Journal

A journal is a series of checksummed records. Reading stops at the first
record that is truncated or fails its checksum.

    Journal record:
    +--------------------+--------------------+-----+-------+------------------------------+
    | key len (varint)   | value len (varint) | key | value | xxhash64, low 32 bits (LE)   |
    +--------------------+--------------------+-----+-------+------------------------------+

Data

A data file starts with a magic byte sequence, followed by records in
ascending key order. Each key occurs once.

    Data file:
    +------------------+----------+-----+----------+
    | magic (8 bytes)  | record 1 | ... | record n |
    +------------------+----------+-----+----------+

    Data record:
    +------------------+-----+---------------------------+--------------------+-------+
    | key len (varint) | key | compression type (1-byte) | value len (varint) | value |
    +------------------+-----+---------------------------+--------------------+-------+

Index

An index samples every n-th record of a data file, always including the
first one. Entries use the data record encoding, their values hold the
offset of the sampled record.

    Index file:
    +------------------+--------------------------+-----------------+---------+-----+---------+
    | magic (8 bytes)  | data file size (8 bytes) | step (varint)   | entry 1 | ... | entry n |
    +------------------+--------------------------+-----------------+---------+-----+---------+

Concurrency

Builders and merge accessors accept concurrent appends when the store is
configured as ThreadSafe; appends to the same bucket are serialised. Lookups
and iterations use independent cursors and never contend. Compaction, key
removal and index rebuilds replace files and must be run exclusively per
partition by the caller.
*/
package partstore
