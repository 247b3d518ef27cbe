package domain

// Item is one card on a board.
type Item struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Type     string   `json:"type,omitempty"`
	Priority string   `json:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Order    int      `json:"order"`
}

// Column holds an ordered run of items. Order values are dense array
// indexes; ties are resolved by position, not by the stored rank.
type Column struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
	Items []Item `json:"items"`
}

// BoardSnapshot is the client view model of one board. Every item belongs
// to exactly one column at any instant.
type BoardSnapshot struct {
	ID          string   `json:"id"`
	WorkspaceID string   `json:"workspaceId,omitempty"`
	Name        string   `json:"name"`
	Columns     []Column `json:"columns"`
}

// Clone deep-copies the snapshot so reducer results never alias the input.
func (b BoardSnapshot) Clone() BoardSnapshot {
	out := b
	out.Columns = make([]Column, len(b.Columns))
	for i, col := range b.Columns {
		out.Columns[i] = col
		items := make([]Item, len(col.Items))
		copy(items, col.Items)
		for j := range items {
			if len(items[j].Tags) > 0 {
				items[j].Tags = append([]string(nil), items[j].Tags...)
			}
		}
		out.Columns[i].Items = items
	}
	return out
}

// FindItem returns the item and its column id, or ok=false.
func (b BoardSnapshot) FindItem(itemID string) (Item, string, bool) {
	for _, col := range b.Columns {
		for _, it := range col.Items {
			if it.ID == itemID {
				return it, col.ID, true
			}
		}
	}
	return Item{}, "", false
}

type actionKind int

const (
	actionDragOver actionKind = iota
	actionDrop
	actionReorderColumns
	actionApplyPeerMove
	actionReplace
)

// BoardAction is one input to Apply. Construct via the helpers below.
type BoardAction struct {
	kind       actionKind
	itemID     string
	toColumnID string
	columnIDs  []string
	snapshot   *BoardSnapshot
}

// DragOver previews a cross-column move: the item is cleared from its
// source column and appended to the target column.
func DragOver(itemID, toColumnID string) BoardAction {
	return BoardAction{kind: actionDragOver, itemID: itemID, toColumnID: toColumnID}
}

// Drop finalizes a move at drag end. Same relocation semantics as DragOver;
// applying it after a matching DragOver is a no-op.
func Drop(itemID, toColumnID string) BoardAction {
	return BoardAction{kind: actionDrop, itemID: itemID, toColumnID: toColumnID}
}

// ReorderColumns rewrites column order to match columnIDs; ids not present
// on the board are ignored, columns missing from the list keep their
// relative order after the listed ones.
func ReorderColumns(columnIDs []string) BoardAction {
	return BoardAction{kind: actionReorderColumns, columnIDs: columnIDs}
}

// ApplyPeerMove applies a collaborator's item move received over the room.
// Unknown items are ignored: the snapshot re-converges on the next fetch.
func ApplyPeerMove(itemID, toColumnID string) BoardAction {
	return BoardAction{kind: actionApplyPeerMove, itemID: itemID, toColumnID: toColumnID}
}

// Replace swaps in a full snapshot. Used for rollback after a failed move
// and for authoritative re-fetches; always a whole replace, never a patch.
func Replace(snapshot BoardSnapshot) BoardAction {
	s := snapshot.Clone()
	return BoardAction{kind: actionReplace, snapshot: &s}
}

// Apply is the single state-transition function for the board view model.
// It is pure: the input snapshot is never mutated.
func Apply(b BoardSnapshot, a BoardAction) BoardSnapshot {
	switch a.kind {
	case actionDragOver, actionDrop, actionApplyPeerMove:
		return moveItem(b, a.itemID, a.toColumnID)
	case actionReorderColumns:
		return reorderColumns(b, a.columnIDs)
	case actionReplace:
		return a.snapshot.Clone()
	}
	return b.Clone()
}

func moveItem(b BoardSnapshot, itemID, toColumnID string) BoardSnapshot {
	out := b.Clone()

	item, fromColumnID, ok := out.FindItem(itemID)
	if !ok || fromColumnID == toColumnID {
		return out
	}
	targetIdx := -1
	for i := range out.Columns {
		if out.Columns[i].ID == toColumnID {
			targetIdx = i
			break
		}
	}
	if targetIdx < 0 {
		return out
	}

	for i := range out.Columns {
		if out.Columns[i].ID != fromColumnID {
			continue
		}
		items := out.Columns[i].Items[:0]
		for _, it := range out.Columns[i].Items {
			if it.ID != itemID {
				items = append(items, it)
			}
		}
		out.Columns[i].Items = items
		renumber(out.Columns[i].Items)
	}

	item.Order = len(out.Columns[targetIdx].Items)
	out.Columns[targetIdx].Items = append(out.Columns[targetIdx].Items, item)
	return out
}

func reorderColumns(b BoardSnapshot, columnIDs []string) BoardSnapshot {
	out := b.Clone()

	byID := make(map[string]int, len(out.Columns))
	for i, col := range out.Columns {
		byID[col.ID] = i
	}

	ordered := make([]Column, 0, len(out.Columns))
	taken := make(map[string]bool, len(columnIDs))
	for _, id := range columnIDs {
		if idx, ok := byID[id]; ok && !taken[id] {
			ordered = append(ordered, out.Columns[idx])
			taken[id] = true
		}
	}
	for _, col := range out.Columns {
		if !taken[col.ID] {
			ordered = append(ordered, col)
		}
	}
	for i := range ordered {
		ordered[i].Order = i
	}
	out.Columns = ordered
	return out
}

func renumber(items []Item) {
	for i := range items {
		items[i].Order = i
	}
}
