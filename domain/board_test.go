package domain

import (
	"testing"
)

func testBoard() BoardSnapshot {
	return BoardSnapshot{
		ID:          "board-42",
		WorkspaceID: "ws-1",
		Name:        "sprint",
		Columns: []Column{
			{ID: "col-A", Name: "todo", Order: 0, Items: []Item{
				{ID: "item-9", Title: "fix login", Order: 0},
				{ID: "item-10", Title: "write docs", Order: 1},
			}},
			{ID: "col-B", Name: "doing", Order: 1, Items: []Item{
				{ID: "item-11", Title: "review", Order: 0},
			}},
			{ID: "col-C", Name: "done", Order: 2, Items: []Item{}},
		},
	}
}

func itemColumn(t *testing.T, b BoardSnapshot, itemID string) string {
	t.Helper()
	_, columnID, ok := b.FindItem(itemID)
	if !ok {
		t.Fatalf("item %s not found on board", itemID)
	}
	return columnID
}

func TestDragOverMovesItemToTargetColumn(t *testing.T) {
	b := testBoard()
	next := Apply(b, DragOver("item-9", "col-B"))

	if got := itemColumn(t, next, "item-9"); got != "col-B" {
		t.Fatalf("expected item-9 in col-B, got %s", got)
	}
	item, _, _ := next.FindItem("item-9")
	if item.Order != 1 {
		t.Fatalf("expected item-9 appended at order 1, got %d", item.Order)
	}
	// source column renumbered densely
	if next.Columns[0].Items[0].ID != "item-10" || next.Columns[0].Items[0].Order != 0 {
		t.Fatalf("source column not renumbered: %+v", next.Columns[0].Items)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	b := testBoard()
	_ = Apply(b, DragOver("item-9", "col-B"))

	if got := itemColumn(t, b, "item-9"); got != "col-A" {
		t.Fatalf("input snapshot mutated: item-9 now in %s", got)
	}
	if len(b.Columns[0].Items) != 2 {
		t.Fatalf("input snapshot mutated: col-A has %d items", len(b.Columns[0].Items))
	}
}

func TestCloneCopiesItemTags(t *testing.T) {
	b := testBoard()
	b.Columns[0].Items[0].Tags = []string{"bug", "auth"}

	clone := b.Clone()
	clone.Columns[0].Items[0].Tags[0] = "changed"

	if b.Columns[0].Items[0].Tags[0] != "bug" {
		t.Fatal("clone shares tag storage with the source")
	}
}

func TestDropAfterDragOverIsNoop(t *testing.T) {
	b := testBoard()
	afterOver := Apply(b, DragOver("item-9", "col-B"))
	afterDrop := Apply(afterOver, Drop("item-9", "col-B"))

	if got := itemColumn(t, afterDrop, "item-9"); got != "col-B" {
		t.Fatalf("expected item-9 in col-B, got %s", got)
	}
	if len(afterDrop.Columns[1].Items) != 2 {
		t.Fatalf("expected 2 items in col-B, got %d", len(afterDrop.Columns[1].Items))
	}
}

func TestMoveToUnknownColumnIsIgnored(t *testing.T) {
	b := testBoard()
	next := Apply(b, Drop("item-9", "col-missing"))

	if got := itemColumn(t, next, "item-9"); got != "col-A" {
		t.Fatalf("expected item-9 untouched in col-A, got %s", got)
	}
}

func TestPeerMoveUnknownItemIsIgnored(t *testing.T) {
	b := testBoard()
	next := Apply(b, ApplyPeerMove("item-unknown", "col-B"))

	if len(next.Columns[1].Items) != 1 {
		t.Fatalf("expected col-B unchanged, got %d items", len(next.Columns[1].Items))
	}
}

func TestReplaceRestoresPreDragSnapshot(t *testing.T) {
	b := testBoard()
	moved := Apply(b, DragOver("item-9", "col-B"))
	restored := Apply(moved, Replace(b))

	if got := itemColumn(t, restored, "item-9"); got != "col-A" {
		t.Fatalf("expected rollback to col-A, got %s", got)
	}
	for _, it := range restored.Columns[1].Items {
		if it.ID == "item-9" {
			t.Fatal("item-9 still present in col-B after rollback")
		}
	}
}

func TestReorderColumnsAssignsDenseRanks(t *testing.T) {
	b := testBoard()
	next := Apply(b, ReorderColumns([]string{"col-C", "col-A"}))

	gotIDs := []string{next.Columns[0].ID, next.Columns[1].ID, next.Columns[2].ID}
	wantIDs := []string{"col-C", "col-A", "col-B"}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Fatalf("column order mismatch at %d: got %v want %v", i, gotIDs, wantIDs)
		}
	}
	for i, col := range next.Columns {
		if col.Order != i {
			t.Fatalf("expected dense rank %d for %s, got %d", i, col.ID, col.Order)
		}
	}
}

func TestReorderColumnsIgnoresUnknownAndDuplicateIDs(t *testing.T) {
	b := testBoard()
	next := Apply(b, ReorderColumns([]string{"col-B", "col-B", "col-nope", "col-A"}))

	gotIDs := []string{next.Columns[0].ID, next.Columns[1].ID, next.Columns[2].ID}
	wantIDs := []string{"col-B", "col-A", "col-C"}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Fatalf("column order mismatch at %d: got %v want %v", i, gotIDs, wantIDs)
		}
	}
}

func TestParseRoomKey(t *testing.T) {
	key, err := ParseRoomKey("board:42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.Kind != ScopeBoard || key.ID != "42" {
		t.Fatalf("unexpected key: %+v", key)
	}
	if key.String() != "board:42" {
		t.Fatalf("round trip mismatch: %s", key.String())
	}

	for _, bad := range []string{"", "board", "team:1", "board:"} {
		if _, err := ParseRoomKey(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
