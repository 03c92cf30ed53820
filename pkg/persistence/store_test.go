package persistence

import (
	"context"
	"testing"

	"github.com/Dbillionaer/llm-council-local/pkg/ckerrors"
	"github.com/Dbillionaer/llm-council-local/pkg/models"
)

// testStoreLifecycle exercises the full Store contract against any
// implementation, so both backends are held to the same behavior.
func testStoreLifecycle(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	conv := models.NewConversation()
	if err := store.Create(ctx, &conv); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.AppendMessage(ctx, conv.ID, models.Message{ID: "m1", Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got.Messages))
	}

	if err := store.SoftDelete(ctx, conv.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	active, _ := store.List(ctx)
	if len(active) != 0 {
		t.Fatalf("expected no active conversations, got %d", len(active))
	}
	deleted, _ := store.ListDeleted(ctx)
	if len(deleted) != 1 {
		t.Fatalf("expected 1 deleted conversation, got %d", len(deleted))
	}

	if err := store.SoftDelete(ctx, conv.ID); err != nil {
		t.Fatalf("second soft delete should be idempotent, got: %v", err)
	}

	if err := store.Restore(ctx, conv.ID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	active, _ = store.List(ctx)
	if len(active) != 1 {
		t.Fatalf("expected restored conversation to be active, got %d", len(active))
	}

	if err := store.PermanentlyDelete(ctx, conv.ID); err != nil {
		t.Fatalf("permanent delete: %v", err)
	}
	if _, err := store.Get(ctx, conv.ID); !ckerrors.Is(err, ckerrors.KindNotFound) {
		t.Fatalf("expected not found after permanent delete, got %v", err)
	}
}

func testStoreGetMissing(t *testing.T, store Store) {
	t.Helper()
	_, err := store.Get(context.Background(), "missing")
	if !ckerrors.Is(err, ckerrors.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
