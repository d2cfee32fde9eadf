package recordstore

import (
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

// DB owns the bbolt database file and hands out transactions.
type DB struct {
	db     *bbolt.DB
	logger *slog.Logger
	noSync bool // disables fsync per transaction (for testing only)
}

// DBOption configures a DB instance.
type DBOption func(*DB)

// WithLogger sets the logger for the database.
func WithLogger(logger *slog.Logger) DBOption {
	return func(d *DB) {
		d.logger = logger
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) DBOption {
	return func(d *DB) {
		d.noSync = noSync
	}
}

// NewDB creates a new DB instance with options.
func NewDB(opts ...DBOption) *DB {
	d := &DB{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open opens the database at the given path.
func (d *DB) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  d.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	d.db = db
	d.logger.Debug("opened record store db", "path", path, "noSync", d.noSync)
	return nil
}

// Close closes the database and releases resources.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	d.logger.Debug("closing record store db")
	return d.db.Close()
}

// Begin starts a transaction. A writable transaction must end with exactly
// one call to Commit or Abort; a read-only transaction with either.
// bbolt serializes writers, so Begin(true) may block on another writer.
func (d *DB) Begin(writable bool) (*Txn, error) {
	btx, err := d.db.Begin(writable)
	if err != nil {
		return nil, mapBoltError(err)
	}
	return &Txn{btx: btx, logger: d.logger}, nil
}

// Update runs fn in a writable transaction, committing on nil and aborting
// on error. Convenience for callers that do not manage transaction scope
// themselves.
func (d *DB) Update(fn func(tx *Txn) error) error {
	tx, err := d.Begin(true)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

// View runs fn in a read-only transaction.
func (d *DB) View(fn func(tx *Txn) error) error {
	tx, err := d.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Abort()
	return fn(tx)
}

// Change is a compensating action registered against a transaction. Its
// Rollback runs only if the transaction aborts; commit is a no-op.
type Change interface {
	Rollback()
}

// ChangeFunc adapts a plain function to the Change interface.
type ChangeFunc func()

// Rollback implements Change.
func (f ChangeFunc) Rollback() { f() }

// Txn is the recovery unit: a storage transaction plus an undo log of
// registered changes. Writes made through a Txn become durably visible only
// on Commit; Abort discards them and then runs the registered changes in
// reverse registration order, so callers can undo side effects they layered
// on top of the store (typically in-memory cache mutations).
type Txn struct {
	btx     *bbolt.Tx
	changes []Change
	done    bool
	logger  *slog.Logger
}

// Writable reports whether the transaction accepts writes.
func (t *Txn) Writable() bool {
	return t.btx.Writable()
}

// RegisterChange appends a compensating action to the transaction's undo
// log. Changes run LIFO on abort.
func (t *Txn) RegisterChange(c Change) {
	t.changes = append(t.changes, c)
}

// OnRollback registers fn to run if the transaction aborts.
func (t *Txn) OnRollback(fn func()) {
	t.RegisterChange(ChangeFunc(fn))
}

// Commit makes the transaction's writes durable. Registered changes are
// dropped without running. If the storage commit itself fails, the
// transaction behaves as aborted: changes run and the error is returned.
func (t *Txn) Commit() error {
	if t.done {
		return ErrTxFinished
	}
	t.done = true

	if !t.btx.Writable() {
		// bbolt read-only transactions finish via Rollback.
		t.changes = nil
		return t.btx.Rollback()
	}

	if err := t.btx.Commit(); err != nil {
		t.logger.Warn("commit failed, running rollback changes", "error", err)
		t.runChanges()
		return mapBoltError(err)
	}
	t.changes = nil
	return nil
}

// Abort discards the transaction's writes, then runs registered changes in
// reverse registration order. Safe to call on an already-finished
// transaction (no-op), which allows `defer tx.Abort()` guards.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	if err := t.btx.Rollback(); err != nil {
		t.logger.Warn("storage rollback failed", "error", err)
	}
	t.runChanges()
}

func (t *Txn) runChanges() {
	for i := len(t.changes) - 1; i >= 0; i-- {
		t.changes[i].Rollback()
	}
	t.changes = nil
}

// bucket returns the named bucket in the underlying storage transaction.
func (t *Txn) bucket(name []byte) (*bbolt.Bucket, error) {
	if t.done {
		return nil, ErrTxFinished
	}
	b := t.btx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("bucket %s not found", name)
	}
	return b, nil
}
