package bbolt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmcleod/chatrelay/storage"
	"go.etcd.io/bbolt"
)

func newTestDB(t *testing.T) (*bbolt.DB, func()) {
	t.Helper()
	f, err := os.CreateTemp("", "blobs-test-*.db")
	if err != nil {
		t.Fatalf("could not create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		os.Remove(path)
		t.Fatalf("could not open db: %v", err)
	}
	return db, func() {
		db.Close()
		os.Remove(path)
	}
}

func TestBBoltStore(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()

	ctx := context.Background()
	s := NewStore(db)

	t.Run("GetBeforeAnyPut", func(t *testing.T) {
		_, err := s.Get(ctx, "sessions.json")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PutGet", func(t *testing.T) {
		if err := s.Put(ctx, "sessions.json", []byte(`{"a":"b"}`)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := s.Get(ctx, "sessions.json")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != `{"a":"b"}` {
			t.Errorf("unexpected object %q", got)
		}
	})

	t.Run("GetMissingKey", func(t *testing.T) {
		_, err := s.Get(ctx, "other")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PutReplaces", func(t *testing.T) {
		s.Put(ctx, "sessions.json", []byte(`{}`))
		got, _ := s.Get(ctx, "sessions.json")
		if string(got) != `{}` {
			t.Errorf("expected replaced object, got %q", got)
		}
	})
}

func TestBBoltStoreFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobs.db")
	s, err := NewStoreFromFile(path, nil)
	if err != nil {
		t.Fatalf("NewStoreFromFile failed: %v", err)
	}
	ctx := context.Background()
	if err := s.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopen and confirm durability.
	s, err = NewStoreFromFile(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("expected v, got %q", got)
	}
}
