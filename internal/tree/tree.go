// Package tree derives branch structure and the active conversation path
// from the flat, creation-ordered message list of one chat. Nothing here
// touches storage; callers pass the result of FindMessagesByChat.
package tree

import (
	"fmt"

	"github.com/suPer8Hu/chat-engine/internal/store"
)

// Root is the key branch points use for top-level messages (nil ParentID).
const Root = ""

func parentKey(m store.Message) string {
	if m.ParentID == nil {
		return Root
	}
	return *m.ParentID
}

// BranchPoints maps every parent with two or more children to its child
// ids, in creation order. Parents with a single child are not branch
// points and do not appear.
func BranchPoints(msgs []store.Message) map[string][]string {
	children := childMap(msgs)
	out := make(map[string][]string)
	for parent, kids := range children {
		if len(kids) >= 2 {
			out[parent] = kids
		}
	}
	return out
}

func childMap(msgs []store.Message) map[string][]string {
	children := make(map[string][]string)
	for _, m := range msgs {
		p := parentKey(m)
		children[p] = append(children[p], m.ID)
	}
	return children
}

// ActivePath walks from the root to a leaf. At every fork it follows the
// externally selected child id when one is supplied and still exists;
// otherwise it falls back to the most recently created child. A stale
// selection is ignored, never an error.
func ActivePath(msgs []store.Message, selections map[string]string) []store.Message {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[string]store.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}
	children := childMap(msgs)

	var path []store.Message
	cursor := Root
	for {
		kids := children[cursor]
		if len(kids) == 0 {
			return path
		}
		// kids preserve input order, so the last one is the newest.
		next := kids[len(kids)-1]
		if sel, ok := selections[cursor]; ok {
			for _, id := range kids {
				if id == sel {
					next = id
					break
				}
			}
		}
		path = append(path, byID[next])
		cursor = next
	}
}

// FindEditParent returns the parent id of messageID (Root for top-level
// messages). An edit that must branch creates the sibling under this id.
func FindEditParent(msgs []store.Message, messageID string) (string, error) {
	for _, m := range msgs {
		if m.ID == messageID {
			return parentKey(m), nil
		}
	}
	return "", fmt.Errorf("unknown message: %s", messageID)
}
