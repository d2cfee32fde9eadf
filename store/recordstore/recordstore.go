// Package recordstore provides the durable keyed record store backing the
// catalog, together with the transaction protocol (recovery unit) that
// catalog mutations run under. Records are opaque byte payloads addressed
// by a durable RecordID assigned on insert.
package recordstore

import (
	"errors"
	"strconv"
)

// Sentinel errors surfaced by record store operations. They propagate
// verbatim to callers; this package performs no retries.
var (
	// ErrNotFound is returned when a record does not exist at the
	// transaction's read snapshot.
	ErrNotFound = errors.New("recordstore: record not found")

	// ErrWriteConflict is returned when a write loses to a concurrent
	// transaction. Callers retry with a new transaction if they care.
	ErrWriteConflict = errors.New("recordstore: write conflict")

	// ErrOutOfDiskSpace is returned when the underlying database cannot
	// grow the data file.
	ErrOutOfDiskSpace = errors.New("recordstore: out of disk space")

	// ErrDataCorruption is returned when stored data fails structural
	// validation.
	ErrDataCorruption = errors.New("recordstore: data corruption")

	// ErrTxFinished is returned when a transaction is used after Commit
	// or Abort.
	ErrTxFinished = errors.New("recordstore: transaction already finished")
)

// RecordID is the durable identity of a record, stable for the record's
// lifetime. IDs are allocated by the store on insert and never reused.
type RecordID uint64

// IsZero reports whether the id is the invalid zero value.
func (id RecordID) IsZero() bool {
	return id == 0
}

// String implements fmt.Stringer.
func (id RecordID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// RecordStore is keyed append-style storage for opaque record payloads.
// All operations run against the caller-supplied transaction and see that
// transaction's snapshot.
type RecordStore interface {
	// Insert stores data under a newly allocated RecordID.
	Insert(tx *Txn, data []byte) (RecordID, error)

	// Update overwrites the record with the given id.
	// Returns ErrNotFound if the record does not exist.
	Update(tx *Txn, id RecordID, data []byte) error

	// Delete removes the record with the given id.
	// Returns ErrNotFound if the record does not exist.
	Delete(tx *Txn, id RecordID) error

	// Seek returns the payload of the record with the given id, or
	// ErrNotFound. The returned slice is a copy and remains valid after
	// the transaction ends.
	Seek(tx *Txn, id RecordID) ([]byte, error)

	// Cursor returns a cursor over every record in store order.
	Cursor(tx *Txn) (*Cursor, error)
}
