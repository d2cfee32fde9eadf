package recordstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, opts ...DBOption) *DB {
	t.Helper()
	db := NewDB(opts...)
	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, db.Open(dbPath))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestStore(t *testing.T) (*DB, *BoltStore) {
	t.Helper()
	db := newTestDB(t)
	rs, err := db.EnsureStore("catalog")
	require.NoError(t, err)
	return db, rs
}

func TestBoltStore_InsertSeekRoundTrip(t *testing.T) {
	db, rs := newTestStore(t)

	var id RecordID
	err := db.Update(func(tx *Txn) error {
		var err error
		id, err = rs.Insert(tx, []byte("hello"))
		return err
	})
	require.NoError(t, err)
	assert.False(t, id.IsZero())

	err = db.View(func(tx *Txn) error {
		data, err := rs.Seek(tx, id)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), data)
		return nil
	})
	require.NoError(t, err)
}

func TestBoltStore_SeekMissingReturnsNotFound(t *testing.T) {
	db, rs := newTestStore(t)

	err := db.View(func(tx *Txn) error {
		_, err := rs.Seek(tx, RecordID(42))
		return err
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStore_Update(t *testing.T) {
	db, rs := newTestStore(t)

	var id RecordID
	require.NoError(t, db.Update(func(tx *Txn) error {
		var err error
		id, err = rs.Insert(tx, []byte("v1"))
		return err
	}))

	t.Run("overwrites existing record", func(t *testing.T) {
		require.NoError(t, db.Update(func(tx *Txn) error {
			return rs.Update(tx, id, []byte("v2"))
		}))
		require.NoError(t, db.View(func(tx *Txn) error {
			data, err := rs.Seek(tx, id)
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), data)
			return nil
		}))
	})

	t.Run("missing record returns ErrNotFound", func(t *testing.T) {
		err := db.Update(func(tx *Txn) error {
			return rs.Update(tx, RecordID(999), []byte("x"))
		})
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestBoltStore_Delete(t *testing.T) {
	db, rs := newTestStore(t)

	var id RecordID
	require.NoError(t, db.Update(func(tx *Txn) error {
		var err error
		id, err = rs.Insert(tx, []byte("doomed"))
		return err
	}))

	require.NoError(t, db.Update(func(tx *Txn) error {
		return rs.Delete(tx, id)
	}))

	err := db.View(func(tx *Txn) error {
		_, err := rs.Seek(tx, id)
		return err
	})
	require.ErrorIs(t, err, ErrNotFound)

	err = db.Update(func(tx *Txn) error {
		return rs.Delete(tx, id)
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStore_CursorIteratesInIDOrder(t *testing.T) {
	db, rs := newTestStore(t)

	var ids []RecordID
	require.NoError(t, db.Update(func(tx *Txn) error {
		for _, payload := range []string{"a", "b", "c"} {
			id, err := rs.Insert(tx, []byte(payload))
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	}))

	var gotIDs []RecordID
	var gotPayloads []string
	require.NoError(t, db.View(func(tx *Txn) error {
		cur, err := rs.Cursor(tx)
		require.NoError(t, err)
		for id, data, ok := cur.Next(); ok; id, data, ok = cur.Next() {
			gotIDs = append(gotIDs, id)
			gotPayloads = append(gotPayloads, string(data))
		}
		return nil
	}))

	assert.Equal(t, ids, gotIDs)
	assert.Equal(t, []string{"a", "b", "c"}, gotPayloads)
}

func TestBoltStore_RecordIDsNeverReused(t *testing.T) {
	db, rs := newTestStore(t)

	var first RecordID
	require.NoError(t, db.Update(func(tx *Txn) error {
		var err error
		first, err = rs.Insert(tx, []byte("one"))
		if err != nil {
			return err
		}
		return rs.Delete(tx, first)
	}))

	var second RecordID
	require.NoError(t, db.Update(func(tx *Txn) error {
		var err error
		second, err = rs.Insert(tx, []byte("two"))
		return err
	}))

	assert.Greater(t, second, first)
}

func TestRecordIDEncodingPreservesOrder(t *testing.T) {
	a := encodeRecordID(RecordID(1))
	b := encodeRecordID(RecordID(255))
	c := encodeRecordID(RecordID(256))

	assert.Less(t, string(a), string(b))
	assert.Less(t, string(b), string(c))
	assert.Equal(t, RecordID(256), decodeRecordID(c))
}
