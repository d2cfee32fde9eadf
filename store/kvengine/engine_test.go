package kvengine

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identcatalog "github.com/wolfeidau/ident-catalog"
)

func newTestEngine(t *testing.T) *FilesystemEngine {
	t.Helper()
	e, err := NewFilesystemEngine(filepath.Join(t.TempDir(), "engine"))
	require.NoError(t, err)
	return e
}

// writeIdentFile places a framed ident file with the given payload on disk,
// simulating storage exported from another node for import.
func writeIdentFile(t *testing.T, e *FilesystemEngine, ident string, payload []byte) StorageMetadata {
	t.Helper()
	header := &IdentHeader{
		Namespace: "app.imported",
		Ident:     ident,
		CreatedAt: time.Now().UTC(),
		Checksum:  identcatalog.ChecksumBytes(payload),
		Size:      int64(len(payload)),
	}
	f, err := os.Create(e.identPath(ident))
	require.NoError(t, err)
	require.NoError(t, writeFramed(f, header, bytes.NewReader(payload)))
	require.NoError(t, f.Close())
	return StorageMetadata{Checksum: header.Checksum, Size: header.Size}
}

func TestFilesystemEngine_CreateAndGet(t *testing.T) {
	e := newTestEngine(t)
	ns := identcatalog.NewNamespace("app", "users")

	require.NoError(t, e.CreateRecordStore(ns, "collection-1", StoreOptions{}))

	handle, err := e.GetRecordStore("collection-1")
	require.NoError(t, err)
	assert.Equal(t, "collection-1", handle.Ident())
	assert.Equal(t, "app.users", handle.Namespace())
	assert.NoError(t, handle.Validate())
}

func TestFilesystemEngine_CreateDuplicateIdentFails(t *testing.T) {
	e := newTestEngine(t)
	ns := identcatalog.NewNamespace("app", "users")

	require.NoError(t, e.CreateRecordStore(ns, "collection-1", StoreOptions{}))
	err := e.CreateRecordStore(ns, "collection-1", StoreOptions{})
	require.ErrorIs(t, err, ErrIdentExists)
}

func TestFilesystemEngine_GetMissingIdent(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.GetRecordStore("collection-missing")
	require.ErrorIs(t, err, ErrIdentNotFound)
}

func TestFilesystemEngine_DropIdentIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ns := identcatalog.NewNamespace("app", "users")

	require.NoError(t, e.CreateRecordStore(ns, "collection-1", StoreOptions{}))
	require.NoError(t, e.DropIdent("collection-1"))
	require.NoError(t, e.DropIdent("collection-1"))

	_, err := e.GetRecordStore("collection-1")
	require.ErrorIs(t, err, ErrIdentNotFound)
}

func TestFilesystemEngine_Import(t *testing.T) {
	t.Run("verified import of intact storage", func(t *testing.T) {
		e := newTestEngine(t)
		meta := writeIdentFile(t, e, "collection-7", []byte("payload"))

		require.NoError(t, e.ImportRecordStore("collection-7", meta, true, false))
	})

	t.Run("corrupted payload fails verification", func(t *testing.T) {
		e := newTestEngine(t)
		meta := writeIdentFile(t, e, "collection-7", []byte("payload"))
		meta.Checksum = identcatalog.ChecksumBytes([]byte("something else"))

		err := e.ImportRecordStore("collection-7", meta, true, false)
		require.ErrorIs(t, err, ErrDataCorruption)
	})

	t.Run("repair mode tolerates and fixes mismatch", func(t *testing.T) {
		e := newTestEngine(t)
		payload := []byte("payload")
		meta := writeIdentFile(t, e, "collection-7", payload)
		meta.Checksum = identcatalog.ChecksumBytes([]byte("stale"))

		require.NoError(t, e.ImportRecordStore("collection-7", meta, true, true))

		// Header was rewritten to match the on-disk payload.
		handle, err := e.GetRecordStore("collection-7")
		require.NoError(t, err)
		assert.NoError(t, handle.Validate())
	})

	t.Run("unverified import skips validation", func(t *testing.T) {
		e := newTestEngine(t)
		meta := writeIdentFile(t, e, "collection-7", []byte("payload"))
		meta.Checksum = identcatalog.ChecksumBytes([]byte("wrong"))

		require.NoError(t, e.ImportRecordStore("collection-7", meta, false, false))
	})

	t.Run("import of missing ident fails", func(t *testing.T) {
		e := newTestEngine(t)
		err := e.ImportRecordStore("collection-gone", StorageMetadata{}, true, false)
		require.ErrorIs(t, err, ErrIdentNotFound)
	})

	t.Run("index import shares the same contract", func(t *testing.T) {
		e := newTestEngine(t)
		meta := writeIdentFile(t, e, "index-3", []byte("keys"))
		require.NoError(t, e.ImportIndex("index-3", meta, true, false))
	})
}

func TestFilesystemEngine_ListIdents(t *testing.T) {
	e := newTestEngine(t)
	ns := identcatalog.NewNamespace("app", "users")

	require.NoError(t, e.CreateRecordStore(ns, "collection-1", StoreOptions{}))
	require.NoError(t, e.CreateRecordStore(ns, "index-1", StoreOptions{}))

	// Stray non-ident files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "journal.log"), []byte("x"), 0o600))

	idents, err := e.ListIdents()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"collection-1", "index-1"}, idents)
}

func TestFramingRoundTrip(t *testing.T) {
	header := &IdentHeader{
		Namespace: "app.users",
		Ident:     "collection-9",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Checksum:  identcatalog.ChecksumBytes([]byte("body")),
		Size:      4,
	}

	var buf bytes.Buffer
	require.NoError(t, writeFramed(&buf, header, bytes.NewReader([]byte("body"))))

	got, payload, err := readFramed(&buf)
	require.NoError(t, err)
	assert.Equal(t, header.Ident, got.Ident)
	assert.Equal(t, header.Checksum, got.Checksum)

	sum, n, err := identcatalog.ChecksumReader(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, header.Checksum, sum)
}

func TestReadFramedRejectsBadMagic(t *testing.T) {
	_, _, err := readFramed(bytes.NewReader([]byte("XXXX....")))
	require.ErrorIs(t, err, ErrInvalidMagic)
}
