// Package thread wraps thread-level mutations as atomic {result, events}
// units. Every command runs in one store transaction; events describe only
// committed state and are published after the transaction returns.
package thread

import (
	"context"
	"fmt"

	"github.com/suPer8Hu/chat-engine/internal/events"
	"github.com/suPer8Hu/chat-engine/internal/ids"
	"github.com/suPer8Hu/chat-engine/internal/store"
)

type Event struct {
	Kind   string         `json:"kind"`   // created | updated | deleted
	Entity string         `json:"entity"` // chat | folder | message
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Effect is what every command returns: the command result plus the
// minimal notifications a subscriber needs to stay in sync without
// re-querying. No-op paths succeed with empty events.
type Effect struct {
	Result any     `json:"result,omitempty"`
	Events []Event `json:"events"`
}

type Commands struct {
	store *store.Store
	emit  events.Emitter
}

func NewCommands(st *store.Store, emit events.Emitter) *Commands {
	if emit == nil {
		emit = events.Nop
	}
	return &Commands{store: st, emit: emit}
}

// publish pushes committed events to the emitter and returns the effect.
func (c *Commands) publish(eff *Effect) *Effect {
	for _, ev := range eff.Events {
		topic := "thread." + ev.Entity + "." + ev.Kind
		c.emit(topic, ev)
	}
	return eff
}

func (c *Commands) Rename(ctx context.Context, chatID, title string) (*Effect, error) {
	eff := &Effect{}
	err := c.store.Transaction(ctx, func(ctx context.Context) error {
		ch, err := c.store.GetChat(ctx, chatID)
		if err != nil {
			return err
		}
		if ch.Title == title {
			return nil
		}
		if err := c.store.UpdateChat(ctx, chatID, map[string]any{"title": title}); err != nil {
			return err
		}
		eff.Events = append(eff.Events, Event{
			Kind: "updated", Entity: "chat", ID: chatID,
			Fields: map[string]any{"title": title},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.publish(eff), nil
}

func (c *Commands) SetSystemPrompt(ctx context.Context, chatID string, prompt *string) (*Effect, error) {
	eff := &Effect{}
	err := c.store.Transaction(ctx, func(ctx context.Context) error {
		if _, err := c.store.GetChat(ctx, chatID); err != nil {
			return err
		}
		if err := c.store.UpdateChat(ctx, chatID, map[string]any{"system_prompt": prompt}); err != nil {
			return err
		}
		eff.Events = append(eff.Events, Event{
			Kind: "updated", Entity: "chat", ID: chatID,
			Fields: map[string]any{"system_prompt": prompt},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.publish(eff), nil
}

func (c *Commands) SetPinned(ctx context.Context, chatID string, pinned bool) (*Effect, error) {
	eff := &Effect{}
	err := c.store.Transaction(ctx, func(ctx context.Context) error {
		ch, err := c.store.GetChat(ctx, chatID)
		if err != nil {
			return err
		}
		if ch.Pinned == pinned {
			return nil
		}
		if err := c.store.UpdateChat(ctx, chatID, map[string]any{"pinned": pinned}); err != nil {
			return err
		}
		eff.Events = append(eff.Events, Event{
			Kind: "updated", Entity: "chat", ID: chatID,
			Fields: map[string]any{"pinned": pinned},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.publish(eff), nil
}

// Delete removes the thread with all messages, attachments and search
// entries in one transaction. Deleting an already-deleted thread succeeds
// with empty events.
func (c *Commands) Delete(ctx context.Context, chatID string) (*Effect, error) {
	eff := &Effect{}
	existed, err := c.store.DeleteChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if existed {
		eff.Events = append(eff.Events, Event{Kind: "deleted", Entity: "chat", ID: chatID})
	}
	return c.publish(eff), nil
}

func (c *Commands) CreateFolder(ctx context.Context, name string) (*Effect, error) {
	eff := &Effect{}
	err := c.store.Transaction(ctx, func(ctx context.Context) error {
		id, err := ids.NewULID()
		if err != nil {
			return err
		}
		folder := &store.Chat{ID: id, Title: name, IsFolder: true}
		if err := c.store.CreateChat(ctx, folder); err != nil {
			return err
		}
		eff.Result = folder
		eff.Events = append(eff.Events, Event{
			Kind: "created", Entity: "folder", ID: id,
			Fields: map[string]any{"title": name},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.publish(eff), nil
}

func (c *Commands) MoveToFolder(ctx context.Context, chatID, folderID string) (*Effect, error) {
	eff := &Effect{}
	err := c.store.Transaction(ctx, func(ctx context.Context) error {
		ch, err := c.store.GetChat(ctx, chatID)
		if err != nil {
			return err
		}
		folder, err := c.store.GetChat(ctx, folderID)
		if err != nil {
			return err
		}
		if !folder.IsFolder {
			return fmt.Errorf("%s is not a folder", folderID)
		}
		if ch.FolderID != nil && *ch.FolderID == folderID {
			return nil
		}
		if err := c.store.UpdateChat(ctx, chatID, map[string]any{"folder_id": folderID}); err != nil {
			return err
		}
		eff.Events = append(eff.Events, Event{
			Kind: "updated", Entity: "chat", ID: chatID,
			Fields: map[string]any{"folder_id": folderID},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.publish(eff), nil
}

// MoveToRoot is a no-op with empty events when the thread is already at
// the root.
func (c *Commands) MoveToRoot(ctx context.Context, chatID string) (*Effect, error) {
	eff := &Effect{}
	err := c.store.Transaction(ctx, func(ctx context.Context) error {
		ch, err := c.store.GetChat(ctx, chatID)
		if err != nil {
			return err
		}
		if ch.FolderID == nil {
			return nil
		}
		if err := c.store.UpdateChat(ctx, chatID, map[string]any{"folder_id": nil}); err != nil {
			return err
		}
		eff.Events = append(eff.Events, Event{
			Kind: "updated", Entity: "chat", ID: chatID,
			Fields: map[string]any{"folder_id": nil},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.publish(eff), nil
}

// Reorder rewrites sort orders to match orderedIDs. Ids already in place
// produce no events.
func (c *Commands) Reorder(ctx context.Context, orderedIDs []string) (*Effect, error) {
	eff := &Effect{}
	err := c.store.Transaction(ctx, func(ctx context.Context) error {
		for i, id := range orderedIDs {
			ch, err := c.store.GetChat(ctx, id)
			if err != nil {
				return err
			}
			if ch.SortOrder == i {
				continue
			}
			if err := c.store.UpdateChat(ctx, id, map[string]any{"sort_order": i}); err != nil {
				return err
			}
			eff.Events = append(eff.Events, Event{
				Kind: "updated", Entity: "chat", ID: id,
				Fields: map[string]any{"sort_order": i},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.publish(eff), nil
}

// Duplicate deep-copies a thread: new chat id, new message ids with the
// branch structure preserved, attachments copied, search entries rebuilt
// by the message writes.
func (c *Commands) Duplicate(ctx context.Context, chatID string) (*Effect, error) {
	eff := &Effect{}
	err := c.store.Transaction(ctx, func(ctx context.Context) error {
		src, err := c.store.GetChat(ctx, chatID)
		if err != nil {
			return err
		}
		msgs, err := c.store.FindMessagesByChat(ctx, chatID)
		if err != nil {
			return err
		}

		newID, err := ids.NewULID()
		if err != nil {
			return err
		}
		dup := &store.Chat{
			ID:           newID,
			Title:        src.Title + " (copy)",
			FolderID:     src.FolderID,
			SystemPrompt: src.SystemPrompt,
			SortOrder:    src.SortOrder,
		}
		if err := c.store.CreateChat(ctx, dup); err != nil {
			return err
		}

		idMap := make(map[string]string, len(msgs))
		for _, m := range msgs {
			mid, err := ids.NewULID()
			if err != nil {
				return err
			}
			idMap[m.ID] = mid
		}
		for _, m := range msgs {
			cp := m
			cp.ID = idMap[m.ID]
			cp.ChatID = newID
			if m.ParentID != nil {
				if np, ok := idMap[*m.ParentID]; ok {
					cp.ParentID = &np
				} else {
					cp.ParentID = nil
				}
			}
			if err := c.store.CreateMessage(ctx, &cp); err != nil {
				return err
			}
			atts, err := c.store.ListAttachmentsByMessage(ctx, m.ID)
			if err != nil {
				return err
			}
			for _, a := range atts {
				aid, err := ids.NewULID()
				if err != nil {
					return err
				}
				ac := a
				ac.ID = aid
				ac.MessageID = cp.ID
				if err := c.store.CreateAttachment(ctx, &ac); err != nil {
					return err
				}
			}
		}

		eff.Result = dup
		eff.Events = append(eff.Events, Event{
			Kind: "created", Entity: "chat", ID: newID,
			Fields: map[string]any{"title": dup.Title, "source_chat_id": chatID},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.publish(eff), nil
}
