package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/jmcleod/chatrelay/storage"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PutAndGet", func(t *testing.T) {
		if err := s.Put(ctx, "k", []byte("v1")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "v1" {
			t.Errorf("expected v1, got %q", got)
		}

		// Test isolation (cloning)
		got[0] = 'X'
		got2, _ := s.Get(ctx, "k")
		if got2[0] == 'X' {
			t.Error("memory store should return copies of objects")
		}
	})

	t.Run("PutReplaces", func(t *testing.T) {
		s.Put(ctx, "k", []byte("v2"))
		got, _ := s.Get(ctx, "k")
		if string(got) != "v2" {
			t.Errorf("expected v2, got %q", got)
		}
		if s.Puts() != 2 {
			t.Errorf("expected 2 puts, got %d", s.Puts())
		}
	})

	t.Run("InputIsCopied", func(t *testing.T) {
		buf := []byte("abc")
		s.Put(ctx, "c", buf)
		buf[0] = 'Z'
		got, _ := s.Get(ctx, "c")
		if string(got) != "abc" {
			t.Errorf("store should copy input, got %q", got)
		}
	})
}
