package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ledgerpay/crypto"
)

func TestJournalRecordKeepsCreationTime(t *testing.T) {
	j := NewJournal(NewMemDB())
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j.nowFn = func() time.Time { return clock }

	sig := crypto.Signature{1}
	require.NoError(t, j.Record(Submission{Signature: sig, Kind: "pay", Status: StatusSubmitted, Attempts: 1}))

	clock = clock.Add(time.Minute)
	require.NoError(t, j.Record(Submission{Signature: sig, Status: StatusConfirmed, Attempts: 1, Slot: 9}))

	entry, err := j.Get(sig)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, entry.Status)
	require.Equal(t, "pay", entry.Kind)
	require.EqualValues(t, 9, entry.Slot)
	require.True(t, entry.CreatedAt.Before(entry.UpdatedAt))

	_, err = j.Get(crypto.Signature{2})
	require.ErrorIs(t, err, ErrNotFound)
	require.Error(t, j.Record(Submission{}))
}

func TestJournalListFiltersByStatus(t *testing.T) {
	for name, open := range map[string]func(t *testing.T) Database{
		"mem": func(*testing.T) Database { return NewMemDB() },
		"leveldb": func(t *testing.T) Database {
			db, err := NewLevelDB(filepath.Join(t.TempDir(), "journal"))
			require.NoError(t, err)
			return db
		},
		"sqlite": func(t *testing.T) Database {
			db, err := Open(filepath.Join(t.TempDir(), "journal.db"))
			require.NoError(t, err)
			require.IsType(t, &SQLiteDB{}, db)
			return db
		},
	} {
		t.Run(name, func(t *testing.T) {
			db := open(t)
			defer db.Close()
			require.NoError(t, db.Put([]byte("other/key"), []byte("x")))

			j := NewJournal(db)
			require.NoError(t, j.Record(Submission{Signature: crypto.Signature{1}, Status: StatusConfirmed}))
			require.NoError(t, j.Record(Submission{Signature: crypto.Signature{2}, Status: StatusFailed, Error: "boom"}))
			require.NoError(t, j.Record(Submission{Signature: crypto.Signature{3}, Status: StatusConfirmed}))

			all, err := j.List("")
			require.NoError(t, err)
			require.Len(t, all, 3)
			require.Equal(t, crypto.Signature{1}, all[0].Signature)

			failed, err := j.List(StatusFailed)
			require.NoError(t, err)
			require.Len(t, failed, 1)
			require.Equal(t, "boom", failed[0].Error)

			_, err = db.Get([]byte("missing"))
			require.ErrorIs(t, err, ErrNotFound)
			require.NoError(t, db.Delete([]byte("other/key")))
			_, err = db.Get([]byte("other/key"))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}
