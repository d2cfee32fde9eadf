// Package kvengine manages the physical storage named by catalog idents:
// one framed file per ident. The catalog pairs every row mutation that
// creates or destroys an ident with the matching engine call inside the
// same transaction, registering its own rollback compensation.
package kvengine

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	identcatalog "github.com/wolfeidau/ident-catalog"
)

var (
	// ErrIdentExists is returned when creating storage for an ident that
	// already has a file. Idents are globally unique; a collision means
	// the caller's ident allocation is broken.
	ErrIdentExists = errors.New("kvengine: ident already exists")

	// ErrIdentNotFound is returned when no storage exists for an ident.
	ErrIdentNotFound = errors.New("kvengine: ident not found")

	// ErrDataCorruption is returned when structural validation of
	// imported storage fails.
	ErrDataCorruption = errors.New("kvengine: data corruption")
)

// identFileExt is the extension of physical ident files.
const identFileExt = ".rs"

// StoreOptions configures physical storage creation.
type StoreOptions struct {
	// Clustered indicates the store is keyed by user-provided ids rather
	// than generated record ids.
	Clustered bool
}

// StorageMetadata describes storage offered for import: the expected
// payload checksum and size, as exported from the source system.
type StorageMetadata struct {
	Checksum identcatalog.Checksum `json:"checksum"`
	Size     int64                 `json:"size"`
}

// Engine is the ident lifecycle coordinator consumed by the catalog.
type Engine interface {
	// CreateRecordStore materializes empty physical storage for a new
	// collection ident.
	CreateRecordStore(ns identcatalog.Namespace, ident string, opts StoreOptions) error

	// GetRecordStore returns a handle to existing ident storage.
	GetRecordStore(ident string) (*IdentStore, error)

	// ImportRecordStore adopts pre-existing collection storage. When
	// verify is set, structural validation failures return
	// ErrDataCorruption; under repair they are corrected and tolerated.
	ImportRecordStore(ident string, meta StorageMetadata, verify, repair bool) error

	// ImportIndex adopts pre-existing index storage, same contract as
	// ImportRecordStore.
	ImportIndex(ident string, meta StorageMetadata, verify, repair bool) error

	// DropIdent removes the physical storage for an ident. Idempotent:
	// dropping an absent ident is not an error, so rollback paths can
	// call it unconditionally.
	DropIdent(ident string) error

	// ListIdents returns every ident with on-disk storage.
	ListIdents() ([]string, error)
}

// FilesystemEngine stores each ident as a framed file under a directory.
type FilesystemEngine struct {
	dir    string
	logger *slog.Logger
}

// EngineOption configures a FilesystemEngine.
type EngineOption func(*FilesystemEngine)

// WithLogger sets the logger for the engine.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *FilesystemEngine) {
		e.logger = logger
	}
}

// NewFilesystemEngine creates an engine rooted at dir, creating it if
// needed.
func NewFilesystemEngine(dir string, opts ...EngineOption) (*FilesystemEngine, error) {
	e := &FilesystemEngine{
		dir:    dir,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating engine directory: %w", err)
	}
	return e, nil
}

func (e *FilesystemEngine) identPath(ident string) string {
	return filepath.Join(e.dir, ident+identFileExt)
}

// CreateRecordStore materializes empty physical storage for a new ident.
func (e *FilesystemEngine) CreateRecordStore(ns identcatalog.Namespace, ident string, opts StoreOptions) error {
	path := e.identPath(ident)

	// O_EXCL backstops ident uniqueness at the filesystem level.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrIdentExists, ident)
		}
		return fmt.Errorf("creating ident file: %w", err)
	}
	defer f.Close()

	header := &IdentHeader{
		Namespace: ns.String(),
		Ident:     ident,
		CreatedAt: time.Now().UTC(),
		Checksum:  identcatalog.ChecksumBytes(nil),
		Size:      0,
	}
	if err := writeFramed(f, header, nil); err != nil {
		return fmt.Errorf("writing ident file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing ident file: %w", err)
	}

	e.logger.Debug("created record store", "ident", ident, "namespace", ns.String(), "clustered", opts.Clustered)
	return nil
}

// GetRecordStore returns a handle to existing ident storage.
func (e *FilesystemEngine) GetRecordStore(ident string) (*IdentStore, error) {
	path := e.identPath(ident)
	header, err := readHeader(path)
	if err != nil {
		return nil, err
	}
	return &IdentStore{path: path, header: *header}, nil
}

// ImportRecordStore adopts pre-existing collection storage.
func (e *FilesystemEngine) ImportRecordStore(ident string, meta StorageMetadata, verify, repair bool) error {
	return e.importIdent(ident, meta, verify, repair)
}

// ImportIndex adopts pre-existing index storage.
func (e *FilesystemEngine) ImportIndex(ident string, meta StorageMetadata, verify, repair bool) error {
	return e.importIdent(ident, meta, verify, repair)
}

func (e *FilesystemEngine) importIdent(ident string, meta StorageMetadata, verify, repair bool) error {
	path := e.identPath(ident)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrIdentNotFound, ident)
		}
		return fmt.Errorf("opening ident file: %w", err)
	}
	defer f.Close()

	header, payload, err := readFramed(f)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDataCorruption, ident, err)
	}

	if !verify {
		e.logger.Debug("imported ident without verification", "ident", ident)
		return nil
	}

	sum, n, err := identcatalog.ChecksumReader(payload)
	if err != nil {
		return fmt.Errorf("checksumming payload: %w", err)
	}

	if sum != meta.Checksum || sum != header.Checksum || n != meta.Size {
		if !repair {
			return fmt.Errorf("%w: checksum mismatch for ident %s", ErrDataCorruption, ident)
		}
		// Repair mode adopts the on-disk payload as authoritative and
		// rewrites the header to match.
		e.logger.Warn("repairing ident with mismatched checksum",
			"ident", ident,
			"expected", meta.Checksum.String(),
			"actual", sum.String())
		header.Checksum = sum
		header.Size = n
		if err := rewriteHeader(path, header); err != nil {
			return fmt.Errorf("repairing ident file: %w", err)
		}
	}

	e.logger.Debug("imported ident", "ident", ident, "size", n)
	return nil
}

// DropIdent removes physical storage for an ident. Idempotent.
func (e *FilesystemEngine) DropIdent(ident string) error {
	err := os.Remove(e.identPath(ident))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("dropping ident %s: %w", ident, err)
	}
	e.logger.Debug("dropped ident", "ident", ident)
	return nil
}

// ListIdents returns every ident with on-disk storage, in directory order.
func (e *FilesystemEngine) ListIdents() ([]string, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return nil, fmt.Errorf("listing engine directory: %w", err)
	}

	var idents []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, identFileExt) {
			continue
		}
		idents = append(idents, strings.TrimSuffix(name, identFileExt))
	}
	return idents, nil
}

// Compile-time interface check
var _ Engine = (*FilesystemEngine)(nil)

// IdentStore is a handle to the physical storage behind one ident.
type IdentStore struct {
	path   string
	header IdentHeader
}

// Path returns the filesystem path of the ident file.
func (s *IdentStore) Path() string {
	return s.path
}

// Namespace returns the namespace recorded at creation time. It is not
// updated on rename; the catalog row is authoritative.
func (s *IdentStore) Namespace() string {
	return s.header.Namespace
}

// Ident returns the ident this handle refers to.
func (s *IdentStore) Ident() string {
	return s.header.Ident
}

// Validate recomputes the payload checksum and compares it against the
// header. Returns ErrDataCorruption on mismatch.
func (s *IdentStore) Validate() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("opening ident file: %w", err)
	}
	defer f.Close()

	header, payload, err := readFramed(f)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDataCorruption, s.header.Ident, err)
	}
	sum, n, err := identcatalog.ChecksumReader(payload)
	if err != nil {
		return fmt.Errorf("checksumming payload: %w", err)
	}
	if sum != header.Checksum || n != header.Size {
		return fmt.Errorf("%w: checksum mismatch for ident %s", ErrDataCorruption, s.header.Ident)
	}
	return nil
}

func readHeader(path string) (*IdentHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrIdentNotFound
		}
		return nil, fmt.Errorf("opening ident file: %w", err)
	}
	defer f.Close()

	header, _, err := readFramed(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataCorruption, err)
	}
	return header, nil
}

// rewriteHeader rewrites the file with a new header, preserving the
// payload, via a temp file rename for crash safety.
func rewriteHeader(path string, header *IdentHeader) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	_, payload, err := readFramed(src)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".repair-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := writeFramed(tmp, header, payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
