// Package catalog implements the transactional metadata catalog of the
// storage engine. Every collection and view has one persisted row recording
// the ident backing its data, its namespace and any per-index idents; the
// catalog keeps an in-memory entry index consistent with those rows across
// commits, aborts, renames, imports and crash recovery.
//
// Persisted writes are undone by the transaction protocol itself when a
// transaction aborts. The in-memory entry index is not: every mutator
// registers a compensating change against the transaction that touches
// ONLY the cache. Keeping that asymmetry is a standing invariant of this
// package.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	identcatalog "github.com/wolfeidau/ident-catalog"
	"github.com/wolfeidau/ident-catalog/locks"
	"github.com/wolfeidau/ident-catalog/store/kvengine"
	"github.com/wolfeidau/ident-catalog/store/recordstore"
)

// ErrNamespaceNotFound is returned when a mutation targets a catalog id
// with no live entry.
var ErrNamespaceNotFound = errors.New("catalog: namespace not found")

// invariant panics with a formatted message when cond is false. Invariant
// violations mean the catalog's internal consistency is already broken and
// must not be silently tolerated.
func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic("catalog invariant violated: " + fmt.Sprintf(format, args...))
	}
}

// Catalog is the metadata catalog. It owns the in-memory entry index
// exclusively and is the single writer of catalog rows in the record
// store. All operations are synchronous and run inside the caller's
// transaction; visibility across transactions is governed entirely by the
// record store's snapshot rules.
type Catalog struct {
	rs      recordstore.RecordStore
	engine  kvengine.Engine
	locker  *locks.Manager
	logger  *slog.Logger
	metrics *Metrics

	// mu guards entries only. It is held for pure in-memory structural
	// changes and never across record-store or engine I/O.
	mu      sync.Mutex
	entries map[recordstore.RecordID]EntryIdentifier
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger for the catalog.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		c.logger = logger
	}
}

// WithMetrics sets the metric instruments recorded by mutators.
func WithMetrics(m *Metrics) Option {
	return func(c *Catalog) {
		c.metrics = m
	}
}

// New creates a catalog over the given record store, ident lifecycle
// engine and lock manager. Call Init before anything else.
func New(rs recordstore.RecordStore, engine kvengine.Engine, locker *locks.Manager, opts ...Option) *Catalog {
	c := &Catalog{
		rs:      rs,
		engine:  engine,
		locker:  locker,
		logger:  slog.Default(),
		entries: make(map[recordstore.RecordID]EntryIdentifier),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init builds the entry index from a full scan of the persisted rows,
// skipping housekeeping documents. Called single threaded at startup, so
// no locking and no rollback handlers: it only loads committed data.
func (c *Catalog) Init(ctx context.Context, tx *recordstore.Txn) error {
	cur, err := c.rs.Cursor(tx)
	if err != nil {
		return err
	}

	for id, data, ok := cur.Next(); ok; id, data, ok = cur.Next() {
		row, err := decodeRow(data)
		if err != nil {
			return fmt.Errorf("catalog row %s: %w", id, err)
		}
		if row.FeatureDoc {
			continue
		}
		ns, err := row.ParsedNamespace()
		if err != nil {
			return fmt.Errorf("catalog row %s: %w", id, err)
		}
		c.entries[id] = EntryIdentifier{ID: id, Ident: row.Ident, Namespace: ns}
	}

	c.metrics.InitCompleted(ctx, len(c.entries))
	c.logger.Debug("initialized catalog", "entries", len(c.entries))
	return nil
}

// GetAllEntries returns every live entry by scanning the persisted rows at
// the transaction's snapshot, skipping housekeeping documents.
func (c *Catalog) GetAllEntries(_ context.Context, tx *recordstore.Txn) ([]EntryIdentifier, error) {
	cur, err := c.rs.Cursor(tx)
	if err != nil {
		return nil, err
	}

	var out []EntryIdentifier
	for id, data, ok := cur.Next(); ok; id, data, ok = cur.Next() {
		row, err := decodeRow(data)
		if err != nil {
			return nil, fmt.Errorf("catalog row %s: %w", id, err)
		}
		if row.FeatureDoc {
			continue
		}
		ns, err := row.ParsedNamespace()
		if err != nil {
			return nil, fmt.Errorf("catalog row %s: %w", id, err)
		}
		out = append(out, EntryIdentifier{ID: id, Ident: row.Ident, Namespace: ns})
	}
	return out, nil
}

// GetEntry returns the cached entry for a catalog id known to exist.
// Looking up an id with no live entry is a programming error.
func (c *Catalog) GetEntry(id recordstore.RecordID) EntryIdentifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[id]
	invariant(ok, "no entry for catalog id %s", id)
	return entry
}

// Entries returns a snapshot of every cached entry, for consistency checks
// and ident sweeps.
func (c *Catalog) Entries() []EntryIdentifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EntryIdentifier, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, entry)
	}
	return out
}

// GetRawEntry returns the persisted row payload for a catalog id at the
// transaction's snapshot. Returns recordstore.ErrNotFound if absent.
func (c *Catalog) GetRawEntry(_ context.Context, tx *recordstore.Txn, id recordstore.RecordID) ([]byte, error) {
	return c.rs.Seek(tx, id)
}

// PutUpdatedEntry overwrites the persisted row for a catalog id. The entry
// index is unaffected: identity fields never change through this path.
func (c *Catalog) PutUpdatedEntry(_ context.Context, tx *recordstore.Txn, id recordstore.RecordID, row *Row) error {
	data, err := encodeRow(row)
	if err != nil {
		return err
	}
	c.logger.Debug("recording updated catalog entry", "catalogId", id, "namespace", row.Namespace)
	return c.rs.Update(tx, id, data)
}

// GetAllIdents returns the collection ident plus every index ident of each
// live entry at the transaction's snapshot.
func (c *Catalog) GetAllIdents(_ context.Context, tx *recordstore.Txn) ([]string, error) {
	cur, err := c.rs.Cursor(tx)
	if err != nil {
		return nil, err
	}

	var idents []string
	for id, data, ok := cur.Next(); ok; id, data, ok = cur.Next() {
		row, err := decodeRow(data)
		if err != nil {
			return nil, fmt.Errorf("catalog row %s: %w", id, err)
		}
		if row.FeatureDoc {
			continue
		}
		idents = append(idents, row.Ident)
		idents = append(idents, row.IndexIdents.Idents()...)
	}
	return idents, nil
}

// GetIndexIdent returns the ident of the named index of an entry.
func (c *Catalog) GetIndexIdent(ctx context.Context, tx *recordstore.Txn, id recordstore.RecordID, indexName string) (string, error) {
	row, err := c.findRow(tx, id)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", ErrNamespaceNotFound
	}
	ident, ok := row.IndexIdents.Get(indexName)
	if !ok {
		return "", fmt.Errorf("%w: index %q on catalog id %s", ErrNamespaceNotFound, indexName, id)
	}
	return ident, nil
}

// GetIndexIdents returns every index ident of an entry in row order. An
// entry with no indexes yields an empty slice.
func (c *Catalog) GetIndexIdents(_ context.Context, tx *recordstore.Txn, id recordstore.RecordID) ([]string, error) {
	row, err := c.findRow(tx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNamespaceNotFound
	}
	return row.IndexIdents.Idents(), nil
}

// GetCursor returns a cursor over the raw catalog rows in store order,
// including housekeeping documents.
func (c *Catalog) GetCursor(tx *recordstore.Txn) (*recordstore.Cursor, error) {
	return c.rs.Cursor(tx)
}

// AddOrphanedEntry adds a catalog row for physical storage that already
// exists outside the normal creation flow (recovery and repair). Same
// contract as a genuine add; the caller supplies the orphaned ident.
func (c *Catalog) AddOrphanedEntry(ctx context.Context, tx *recordstore.Txn, ident string, ns identcatalog.Namespace, row *Row) (EntryIdentifier, error) {
	return c.addEntry(ctx, tx, ident, ns, row)
}

// InitializeNewEntry adds a catalog row for a new collection and
// materializes its physical storage in the same transaction. On abort the
// cache entry is removed and the partially created storage is dropped,
// best effort, by independently registered compensation.
func (c *Catalog) InitializeNewEntry(ctx context.Context, tx *recordstore.Txn, ident string, ns identcatalog.Namespace, opts kvengine.StoreOptions, row *Row) (EntryIdentifier, *kvengine.IdentStore, error) {
	entry, err := c.addEntry(ctx, tx, ident, ns, row)
	if err != nil {
		return EntryIdentifier{}, nil, err
	}

	if err := c.engine.CreateRecordStore(ns, ident, opts); err != nil {
		return EntryIdentifier{}, nil, err
	}
	tx.RegisterChange(&dropIdentsChange{catalog: c, idents: []string{entry.Ident}})

	handle, err := c.engine.GetRecordStore(ident)
	invariant(err == nil, "record store for new ident %s: %v", ident, err)

	return entry, handle, nil
}

// ImportCatalogEntry adds a catalog row for storage copied in from another
// node and adopts the physical collection and index files, verifying them
// when verify is set (structural validation failure is ErrDataCorruption;
// repair tolerates and corrects it). The caller must hold the
// intent-exclusive lock on the namespace's database. On abort, the
// collection ident and every index ident referenced by the row are
// dropped, not just the cache entry.
func (c *Catalog) ImportCatalogEntry(ctx context.Context, tx *recordstore.Txn, ns identcatalog.Namespace, row *Row, meta kvengine.StorageMetadata, verify, repair bool) (EntryIdentifier, *kvengine.IdentStore, error) {
	invariant(c.locker.IsLockedIX(ns.DB()), "import of %s without IX lock on database %s", ns, ns.DB())
	invariant(row.Ident != "", "import row for %s carries no ident", ns)

	entry, err := c.addEntry(ctx, tx, row.Ident, ns, row)
	if err != nil {
		return EntryIdentifier{}, nil, err
	}
	indexIdents := row.IndexIdents.Idents()

	tx.RegisterChange(&dropIdentsChange{
		catalog: c,
		idents:  append([]string{entry.Ident}, indexIdents...),
	})

	if err := c.engine.ImportRecordStore(entry.Ident, meta, verify, repair); err != nil {
		return EntryIdentifier{}, nil, err
	}
	for _, ident := range indexIdents {
		if err := c.engine.ImportIndex(ident, meta, verify, repair); err != nil {
			return EntryIdentifier{}, nil, err
		}
	}

	handle, err := c.engine.GetRecordStore(entry.Ident)
	invariant(err == nil, "record store for imported ident %s: %v", entry.Ident, err)

	c.metrics.EntryImported(ctx)
	c.logger.Debug("imported catalog entry", "namespace", ns.String(), "catalogId", entry.ID)
	return entry, handle, nil
}

// RemoveEntry deletes the persisted row and the cached entry for a catalog
// id. On abort the exact pre-removal EntryIdentifier is restored to the
// cache; the persisted delete is undone by the transaction itself.
func (c *Catalog) RemoveEntry(ctx context.Context, tx *recordstore.Txn, id recordstore.RecordID) error {
	c.mu.Lock()
	entry, ok := c.entries[id]
	c.mu.Unlock()
	if !ok {
		return ErrNamespaceNotFound
	}

	c.logger.Debug("deleting catalog entry", "namespace", entry.Namespace.String(), "catalogId", id)
	if err := c.rs.Delete(tx, id); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()

	tx.RegisterChange(&removeEntryChange{catalog: c, entry: entry})

	c.metrics.EntryRemoved(ctx)
	return nil
}

// PutRenamedEntry overwrites the persisted row and renames the cached
// entry in place. Only the cache's namespace needs explicit compensation
// on abort; the persisted row update is undone by the transaction.
func (c *Catalog) PutRenamedEntry(ctx context.Context, tx *recordstore.Txn, id recordstore.RecordID, toNS identcatalog.Namespace, row *Row) error {
	data, err := encodeRow(row)
	if err != nil {
		return err
	}
	if err := c.rs.Update(tx, id, data); err != nil {
		return err
	}

	c.mu.Lock()
	entry, ok := c.entries[id]
	invariant(ok, "rename of unknown catalog id %s", id)
	fromNS := entry.Namespace
	entry.Namespace = toNS
	c.entries[id] = entry
	c.mu.Unlock()

	tx.RegisterChange(&renameEntryChange{catalog: c, id: id, fromNS: fromNS})

	c.metrics.EntryRenamed(ctx)
	c.logger.Debug("renamed catalog entry",
		"catalogId", id,
		"from", fromNS.String(),
		"to", toNS.String())
	return nil
}

// GetNamespace returns the namespace for a catalog id. Cache first; on a
// miss it re-reads the persisted row at the transaction's snapshot, which
// supports reading entries dropped after the cache was last consistent
// (older snapshots during backup and resync). The fallback result is
// deliberately not written back to the cache: it may reflect a snapshot
// older than the cache's view. An id neither source knows is a
// programming error.
func (c *Catalog) GetNamespace(_ context.Context, tx *recordstore.Txn, id recordstore.RecordID) identcatalog.Namespace {
	c.mu.Lock()
	entry, ok := c.entries[id]
	c.mu.Unlock()
	if ok {
		return entry.Namespace
	}

	row, err := c.findRow(tx, id)
	invariant(err == nil, "reading catalog row %s: %v", id, err)
	invariant(row != nil, "no namespace found for catalog id %s", id)
	ns, err := row.ParsedNamespace()
	invariant(err == nil, "catalog row %s: %v", id, err)
	return ns
}

// addEntry inserts the persisted row, caches the new EntryIdentifier and
// registers the cache-side compensation. No compensating action is needed
// for the persisted insert: an aborted transaction's writes are never
// durably visible.
func (c *Catalog) addEntry(ctx context.Context, tx *recordstore.Txn, ident string, ns identcatalog.Namespace, row *Row) (EntryIdentifier, error) {
	data, err := encodeRow(row)
	if err != nil {
		return EntryIdentifier{}, err
	}

	id, err := c.rs.Insert(tx, data)
	if err != nil {
		return EntryIdentifier{}, err
	}
	entry := EntryIdentifier{ID: id, Ident: ident, Namespace: ns}

	c.mu.Lock()
	_, exists := c.entries[id]
	invariant(!exists, "duplicate catalog id %s", id)
	c.entries[id] = entry
	c.mu.Unlock()

	tx.RegisterChange(&addIdentChange{catalog: c, id: id})

	c.metrics.EntryAdded(ctx)
	c.logger.Debug("stored catalog entry", "namespace", ns.String(), "catalogId", id)
	return entry, nil
}

// The undo log holds one tagged change type per mutator kind rather than
// closures over prior state.

// addIdentChange removes a provisionally added entry from the cache when
// the transaction that created it aborts.
type addIdentChange struct {
	catalog *Catalog
	id      recordstore.RecordID
}

func (ch *addIdentChange) Rollback() {
	ch.catalog.mu.Lock()
	defer ch.catalog.mu.Unlock()
	delete(ch.catalog.entries, ch.id)
}

// removeEntryChange restores the captured pre-removal entry to the cache.
type removeEntryChange struct {
	catalog *Catalog
	entry   EntryIdentifier
}

func (ch *removeEntryChange) Rollback() {
	ch.catalog.mu.Lock()
	defer ch.catalog.mu.Unlock()
	ch.catalog.entries[ch.entry.ID] = ch.entry
}

// renameEntryChange restores the pre-rename namespace of a cached entry.
type renameEntryChange struct {
	catalog *Catalog
	id      recordstore.RecordID
	fromNS  identcatalog.Namespace
}

func (ch *renameEntryChange) Rollback() {
	ch.catalog.mu.Lock()
	defer ch.catalog.mu.Unlock()
	entry, ok := ch.catalog.entries[ch.id]
	invariant(ok, "rename rollback of unknown catalog id %s", ch.id)
	entry.Namespace = ch.fromNS
	ch.catalog.entries[ch.id] = entry
}

// dropIdentsChange discards physical storage created or adopted by an
// aborted transaction, best effort.
type dropIdentsChange struct {
	catalog *Catalog
	idents  []string
}

func (ch *dropIdentsChange) Rollback() {
	for _, ident := range ch.idents {
		ch.catalog.dropIdentBestEffort(ident)
	}
}

// findRow returns the decoded row for a catalog id at the transaction's
// snapshot, or nil if absent.
func (c *Catalog) findRow(tx *recordstore.Txn, id recordstore.RecordID) (*Row, error) {
	data, err := c.rs.Seek(tx, id)
	if errors.Is(err, recordstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRow(data)
}

// dropIdentBestEffort discards physical storage from a rollback path.
// Failures are logged and swallowed: an orphaned file is a lesser failure
// than crashing during abort.
func (c *Catalog) dropIdentBestEffort(ident string) {
	if err := c.engine.DropIdent(ident); err != nil {
		c.logger.Warn("failed to drop ident during rollback", "ident", ident, "error", err)
	}
}
