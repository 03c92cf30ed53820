package persistence

import (
	"path/filepath"
	"testing"
)

func openTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "council.db")
	store, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("open bolt store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBoltStoreLifecycle(t *testing.T) {
	testStoreLifecycle(t, openTestBoltStore(t))
}

func TestBoltStoreGetMissing(t *testing.T) {
	testStoreGetMissing(t, openTestBoltStore(t))
}
