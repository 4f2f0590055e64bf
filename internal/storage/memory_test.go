package storage

import (
	"context"
	"testing"

	"github.com/nugget/lime-node/internal/lime"
)

func TestMemoryStore_StoreAndGet(t *testing.T) {
	s := NewMemoryStore()
	identity := lime.Identity{Name: "alice", Domain: "example.com"}
	ctx := context.Background()

	msg := &lime.Message{Envelope: lime.Envelope{ID: "m1"}, Type: "text/plain", Content: []byte(`"hi"`)}

	id, err := s.Store(ctx, identity, msg)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if id != "m1" {
		t.Errorf("id = %q, want %q (stored envelope's own ID)", id, "m1")
	}

	got, err := s.Get(ctx, identity, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	gotMsg, ok := got.(*lime.Message)
	if !ok {
		t.Fatalf("type = %T, want *lime.Message", got)
	}
	if string(gotMsg.Content) != `"hi"` {
		t.Errorf("Content = %s", gotMsg.Content)
	}
}

func TestMemoryStore_StoreGeneratesIDWhenEnvelopeHasNone(t *testing.T) {
	s := NewMemoryStore()
	identity := lime.Identity{Name: "alice", Domain: "example.com"}

	id, err := s.Store(context.Background(), identity, &lime.Message{})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if id == "" {
		t.Error("expected a generated id")
	}
}

func TestMemoryStore_GetIDsPreservesInsertionOrder(t *testing.T) {
	s := NewMemoryStore()
	identity := lime.Identity{Name: "alice", Domain: "example.com"}
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Store(ctx, identity, &lime.Message{Envelope: lime.Envelope{ID: id}}); err != nil {
			t.Fatalf("Store(%s): %v", id, err)
		}
	}

	ids, err := s.GetIDs(ctx, identity)
	if err != nil {
		t.Fatalf("GetIDs: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(ids) != len(want) {
		t.Fatalf("GetIDs = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("GetIDs[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestMemoryStore_GetIDsEmptyForUnknownIdentity(t *testing.T) {
	s := NewMemoryStore()
	ids, err := s.GetIDs(context.Background(), lime.Identity{Name: "nobody", Domain: "example.com"})
	if err != nil {
		t.Fatalf("GetIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("GetIDs = %v, want empty", ids)
	}
}

func TestMemoryStore_GetMissingReturnsErrStorage(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), lime.Identity{Name: "alice", Domain: "example.com"}, "missing")
	if err != lime.ErrStorage {
		t.Errorf("Get(missing) error = %v, want ErrStorage", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	identity := lime.Identity{Name: "alice", Domain: "example.com"}
	ctx := context.Background()

	id, err := s.Store(ctx, identity, &lime.Message{Envelope: lime.Envelope{ID: "m1"}})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	deleted, err := s.Delete(ctx, identity, id)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted {
		t.Error("Delete should report true for an existing id")
	}

	deleted, err = s.Delete(ctx, identity, id)
	if err != nil {
		t.Fatalf("Delete (again): %v", err)
	}
	if deleted {
		t.Error("Delete should report false when the id no longer exists")
	}

	ids, err := s.GetIDs(ctx, identity)
	if err != nil {
		t.Fatalf("GetIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("GetIDs after delete = %v, want empty", ids)
	}
}

func TestMemoryStore_IdentitiesAreIsolated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	alice := lime.Identity{Name: "alice", Domain: "example.com"}
	bob := lime.Identity{Name: "bob", Domain: "example.com"}

	if _, err := s.Store(ctx, alice, &lime.Message{Envelope: lime.Envelope{ID: "m1"}}); err != nil {
		t.Fatalf("Store(alice): %v", err)
	}

	ids, err := s.GetIDs(ctx, bob)
	if err != nil {
		t.Fatalf("GetIDs(bob): %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("bob's bucket should be unaffected by alice's store, got %v", ids)
	}
}

func TestMemoryStore_Close(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
