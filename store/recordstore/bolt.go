package recordstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"syscall"

	"go.etcd.io/bbolt"
)

// BoltStore is a RecordStore bound to one bucket of a DB. RecordIDs come
// from the bucket sequence and are encoded big-endian so cursor iteration
// runs in id order.
type BoltStore struct {
	bucket []byte
	logger *slog.Logger
}

// EnsureStore creates the named bucket if needed and returns a RecordStore
// bound to it.
func (d *DB) EnsureStore(name string) (*BoltStore, error) {
	err := d.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating bucket %s: %w", name, err)
	}
	return &BoltStore{bucket: []byte(name), logger: d.logger}, nil
}

// Insert stores data under a newly allocated RecordID.
func (s *BoltStore) Insert(tx *Txn, data []byte) (RecordID, error) {
	b, err := tx.bucket(s.bucket)
	if err != nil {
		return 0, err
	}

	seq, err := b.NextSequence()
	if err != nil {
		return 0, mapBoltError(err)
	}
	id := RecordID(seq)

	if err := b.Put(encodeRecordID(id), data); err != nil {
		return 0, mapBoltError(err)
	}
	return id, nil
}

// Update overwrites the record with the given id.
func (s *BoltStore) Update(tx *Txn, id RecordID, data []byte) error {
	b, err := tx.bucket(s.bucket)
	if err != nil {
		return err
	}

	key := encodeRecordID(id)
	if b.Get(key) == nil {
		return ErrNotFound
	}
	if err := b.Put(key, data); err != nil {
		return mapBoltError(err)
	}
	return nil
}

// Delete removes the record with the given id.
func (s *BoltStore) Delete(tx *Txn, id RecordID) error {
	b, err := tx.bucket(s.bucket)
	if err != nil {
		return err
	}

	key := encodeRecordID(id)
	if b.Get(key) == nil {
		return ErrNotFound
	}
	if err := b.Delete(key); err != nil {
		return mapBoltError(err)
	}
	return nil
}

// Seek returns a copy of the payload of the record with the given id.
func (s *BoltStore) Seek(tx *Txn, id RecordID) ([]byte, error) {
	b, err := tx.bucket(s.bucket)
	if err != nil {
		return nil, err
	}

	val := b.Get(encodeRecordID(id))
	if val == nil {
		return nil, ErrNotFound
	}
	data := make([]byte, len(val))
	copy(data, val)
	return data, nil
}

// Cursor returns a cursor over every record in the store, in id order.
func (s *BoltStore) Cursor(tx *Txn) (*Cursor, error) {
	b, err := tx.bucket(s.bucket)
	if err != nil {
		return nil, err
	}
	return &Cursor{c: b.Cursor()}, nil
}

// Compile-time interface check
var _ RecordStore = (*BoltStore)(nil)

// Cursor iterates over records in a store. Valid only for the lifetime of
// the transaction it was created in.
type Cursor struct {
	c       *bbolt.Cursor
	started bool
}

// Next advances the cursor and returns the next record. ok is false once
// the cursor is exhausted. The payload is a copy.
func (c *Cursor) Next() (RecordID, []byte, bool) {
	var k, v []byte
	if !c.started {
		c.started = true
		k, v = c.c.First()
	} else {
		k, v = c.c.Next()
	}
	if k == nil {
		return 0, nil, false
	}
	data := make([]byte, len(v))
	copy(data, v)
	return decodeRecordID(k), data, true
}

// encodeRecordID encodes an id as a fixed-width big-endian key, preserving
// numeric order under lexicographic comparison.
func encodeRecordID(id RecordID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// decodeRecordID decodes a big-endian key back to a RecordID.
func decodeRecordID(b []byte) RecordID {
	if len(b) < 8 {
		return 0
	}
	return RecordID(binary.BigEndian.Uint64(b[:8]))
}

// mapBoltError classifies bbolt failures into the store's error taxonomy.
// Anything unrecognised propagates as-is.
func mapBoltError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, syscall.ENOSPC):
		return fmt.Errorf("%w: %w", ErrOutOfDiskSpace, err)
	case errors.Is(err, bbolt.ErrTxNotWritable), errors.Is(err, bbolt.ErrDatabaseReadOnly):
		return fmt.Errorf("%w: %w", ErrWriteConflict, err)
	case errors.Is(err, bbolt.ErrChecksum), errors.Is(err, bbolt.ErrInvalid):
		return fmt.Errorf("%w: %w", ErrDataCorruption, err)
	default:
		return err
	}
}
