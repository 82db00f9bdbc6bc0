package tree

import (
	"testing"

	"github.com/suPer8Hu/chat-engine/internal/store"
)

func msg(id string, parent string) store.Message {
	m := store.Message{ID: id, Role: store.RoleUser, Status: store.StatusComplete}
	if parent != "" {
		p := parent
		m.ParentID = &p
	}
	return m
}

// u1 -> a1 -> u2a
//         \-> u2b (newer sibling)
func forked() []store.Message {
	return []store.Message{
		msg("u1", ""),
		msg("a1", "u1"),
		msg("u2a", "a1"),
		msg("u2b", "a1"),
	}
}

func TestBranchPoints(t *testing.T) {
	bp := BranchPoints(forked())
	if len(bp) != 1 {
		t.Fatalf("expected 1 branch point, got %d: %v", len(bp), bp)
	}
	kids := bp["a1"]
	if len(kids) != 2 || kids[0] != "u2a" || kids[1] != "u2b" {
		t.Fatalf("unexpected children for a1: %v", kids)
	}
}

func TestBranchPoints_SingleChildIsNotABranch(t *testing.T) {
	msgs := []store.Message{msg("u1", ""), msg("a1", "u1")}
	if bp := BranchPoints(msgs); len(bp) != 0 {
		t.Fatalf("expected no branch points, got %v", bp)
	}
}

func TestActivePath_DefaultsToNewestChild(t *testing.T) {
	path := ActivePath(forked(), nil)
	want := []string{"u1", "a1", "u2b"}
	if len(path) != len(want) {
		t.Fatalf("expected path %v, got %d nodes", want, len(path))
	}
	for i, id := range want {
		if path[i].ID != id {
			t.Fatalf("path[%d] = %s, want %s", i, path[i].ID, id)
		}
	}
}

func TestActivePath_HonorsSelection(t *testing.T) {
	path := ActivePath(forked(), map[string]string{"a1": "u2a"})
	if got := path[len(path)-1].ID; got != "u2a" {
		t.Fatalf("expected selected leaf u2a, got %s", got)
	}
}

func TestActivePath_StaleSelectionFallsBack(t *testing.T) {
	// selection points at a child that no longer exists
	path := ActivePath(forked(), map[string]string{"a1": "deleted"})
	if got := path[len(path)-1].ID; got != "u2b" {
		t.Fatalf("expected fallback to newest child u2b, got %s", got)
	}
}

func TestActivePath_Empty(t *testing.T) {
	if path := ActivePath(nil, nil); path != nil {
		t.Fatalf("expected nil path, got %v", path)
	}
}

func TestFindEditParent(t *testing.T) {
	msgs := forked()

	p, err := FindEditParent(msgs, "u2a")
	if err != nil {
		t.Fatalf("find edit parent: %v", err)
	}
	if p != "a1" {
		t.Fatalf("expected parent a1, got %q", p)
	}

	p, err = FindEditParent(msgs, "u1")
	if err != nil {
		t.Fatalf("find edit parent: %v", err)
	}
	if p != Root {
		t.Fatalf("expected root parent, got %q", p)
	}

	if _, err := FindEditParent(msgs, "nope"); err == nil {
		t.Fatalf("expected error for unknown message")
	}
}
