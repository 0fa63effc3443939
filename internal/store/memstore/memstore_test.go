package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/SmitBdangar/AegisFS/internal/store"
)

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Put(ctx, "a/b", []byte("data")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "a/b")
	if err != nil || string(got) != "data" {
		t.Errorf("Get = (%q, %v)", got, err)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}

	// Delete is idempotent.
	if err := s.Delete(ctx, "a/b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "a/b"); err != nil {
		t.Errorf("Delete absent = %v, want nil", err)
	}
}

func TestStore_ListLexicalOrder(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, key := range []string{"p/z", "p/a", "q/x", "p/m"} {
		if err := s.Put(ctx, key, []byte(key)); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}

	infos, err := s.List(ctx, "p/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"p/a", "p/m", "p/z"}
	if len(infos) != len(want) {
		t.Fatalf("List count = %d, want %d", len(infos), len(want))
	}
	for i, info := range infos {
		if info.Key != want[i] {
			t.Errorf("List[%d] = %s, want %s", i, info.Key, want[i])
		}
		if info.Size != int64(len(info.Key)) {
			t.Errorf("List[%d].Size = %d, want %d", i, info.Size, len(info.Key))
		}
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()

	s.Put(ctx, "k", []byte("abc"))
	got, _ := s.Get(ctx, "k")
	got[0] = 'X'

	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored data mutated through returned slice: %q", again)
	}
}
