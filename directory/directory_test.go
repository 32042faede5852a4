package directory

import (
	"sync"
	"testing"

	"github.com/risa-org/ticksync/protocol"
)

func TestPutAndGet(t *testing.T) {
	store := New()

	store.Put(protocol.SessionInfo{ID: 3, Players: 2, MaxPlayers: 6})

	got, ok := store.Get(3)
	if !ok {
		t.Fatal("expected to find session after putting it")
	}
	if got.Players != 2 {
		t.Errorf("expected 2 players, got %d", got.Players)
	}

	// put replaces
	store.Put(protocol.SessionInfo{ID: 3, Players: 4, MaxPlayers: 6, Running: true})
	got, _ = store.Get(3)
	if got.Players != 4 || !got.Running {
		t.Errorf("expected replaced row, got %+v", got)
	}
	if store.Count() != 1 {
		t.Errorf("expected 1 session, got %d", store.Count())
	}
}

func TestGetUnknown(t *testing.T) {
	store := New()

	if _, ok := store.Get(99); ok {
		t.Error("expected false for unknown session id")
	}
}

func TestDelete(t *testing.T) {
	store := New()
	store.Put(protocol.SessionInfo{ID: 1})

	store.Delete(1)
	store.Delete(1) // unknown id is a no-op

	if store.Count() != 0 {
		t.Errorf("expected empty store, got %d", store.Count())
	}
}

func TestListIsSorted(t *testing.T) {
	store := New()
	for _, id := range []int{5, 1, 3} {
		store.Put(protocol.SessionInfo{ID: id, Players: id})
	}

	list := store.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(list))
	}
	for i, want := range []int{1, 3, 5} {
		if list[i].ID != want {
			t.Errorf("row %d: expected id %d, got %d", i, want, list[i].ID)
		}
	}
	if store.Players() != 9 {
		t.Errorf("expected 9 players in total, got %d", store.Players())
	}
}

func TestReplace(t *testing.T) {
	store := New()
	store.Put(protocol.SessionInfo{ID: 1})
	store.Put(protocol.SessionInfo{ID: 2})

	store.Replace([]protocol.SessionInfo{{ID: 7}})

	if _, ok := store.Get(1); ok {
		t.Error("replace should drop rows that are not in the new set")
	}
	if _, ok := store.Get(7); !ok {
		t.Error("replace should add the new rows")
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			store.Put(protocol.SessionInfo{ID: id})
		}(i)
		go func() {
			defer wg.Done()
			_ = store.List()
		}()
	}
	wg.Wait()

	if store.Count() != 50 {
		t.Errorf("expected 50 sessions, got %d", store.Count())
	}
}
