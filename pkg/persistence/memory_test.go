package persistence

import "testing"

func TestMemoryStoreLifecycle(t *testing.T) {
	testStoreLifecycle(t, NewMemoryStore())
}

func TestMemoryStoreGetMissing(t *testing.T) {
	testStoreGetMissing(t, NewMemoryStore())
}
