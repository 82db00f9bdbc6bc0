package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-engine/internal/search"
)

// Store is the transactional home of chats, messages, attachments and
// provider configs. The search index is maintained here, inside the same
// transaction as the message write that triggers it.
type Store struct {
	db  *gorm.DB
	idx *search.Index
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, idx: search.NewIndex(db)}
}

func (s *Store) Index() *search.Index { return s.idx }

type txKey struct{}

// Transaction runs fn with every contained write committed together or not
// at all. A nested call joins the enclosing scope instead of opening an
// independent rollback point: the transaction handle travels in ctx.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// h returns the handle store methods write through: the joined transaction
// when one is open, the root connection otherwise.
func (s *Store) h(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return s.db.WithContext(ctx)
}

// Chats

func (s *Store) CreateChat(ctx context.Context, c *Chat) error {
	return wrap("create chat", s.h(ctx).Create(c).Error)
}

func (s *Store) GetChat(ctx context.Context, id string) (*Chat, error) {
	var c Chat
	if err := s.h(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFoundOr("get chat", "chat", id, err)
	}
	return &c, nil
}

func (s *Store) ListChats(ctx context.Context) ([]Chat, error) {
	var out []Chat
	err := s.h(ctx).
		Order("pinned DESC, sort_order ASC, created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, wrap("list chats", err)
	}
	return out, nil
}

func (s *Store) ListChatsByFolder(ctx context.Context, folderID *string) ([]Chat, error) {
	q := s.h(ctx).Order("pinned DESC, sort_order ASC, created_at DESC")
	if folderID == nil {
		q = q.Where("folder_id IS NULL")
	} else {
		q = q.Where("folder_id = ?", *folderID)
	}
	var out []Chat
	if err := q.Find(&out).Error; err != nil {
		return nil, wrap("list chats by folder", err)
	}
	return out, nil
}

func (s *Store) UpdateChat(ctx context.Context, id string, fields map[string]any) error {
	res := s.h(ctx).Model(&Chat{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return wrap("update chat", res.Error)
	}
	if res.RowsAffected == 0 {
		return &ValidationError{Entity: "chat", ID: id}
	}
	return nil
}

// DeleteChat removes the chat with all of its messages, attachments and
// search entries as one atomic unit. It reports whether a chat row existed;
// absence is not an error.
func (s *Store) DeleteChat(ctx context.Context, id string) (bool, error) {
	existed := false
	err := s.Transaction(ctx, func(ctx context.Context) error {
		h := s.h(ctx)
		res := h.Delete(&Chat{}, "id = ?", id)
		if res.Error != nil {
			return wrap("delete chat", res.Error)
		}
		existed = res.RowsAffected > 0
		if _, err := s.DeleteMessagesByChat(ctx, id); err != nil {
			return err
		}
		return nil
	})
	return existed, err
}

// Messages

func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	h := s.h(ctx)
	if err := h.Create(m).Error; err != nil {
		return wrap("create message", err)
	}
	return wrap("index message", s.idx.Put(h, m.ID, m.ChatID, m.Content, m.CreatedAt))
}

func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	var m Message
	if err := s.h(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFoundOr("get message", "message", id, err)
	}
	return &m, nil
}

// UpdateMessage applies a partial update. Status changes are checked
// against the pending->streaming->terminal ladder; moving backward is a
// programming fault and aborts the enclosing transaction. Content changes
// re-sync the search entry in the same transaction.
func (s *Store) UpdateMessage(ctx context.Context, id string, fields map[string]any) error {
	return s.Transaction(ctx, func(ctx context.Context) error {
		m, err := s.GetMessage(ctx, id)
		if err != nil {
			return err
		}
		if v, ok := fields["status"]; ok {
			next, ok := v.(MessageStatus)
			if !ok {
				next = MessageStatus(fmt.Sprint(v))
			}
			if statusRank[next] < statusRank[m.Status] ||
				(terminalStatus(m.Status) && next != m.Status) {
				return wrap("update message",
					fmt.Errorf("illegal status transition %s -> %s", m.Status, next))
			}
		}
		h := s.h(ctx)
		if err := h.Model(&Message{}).Where("id = ?", id).Updates(fields).Error; err != nil {
			return wrap("update message", err)
		}
		if v, ok := fields["content"]; ok {
			content, _ := v.(string)
			if err := s.idx.Put(h, m.ID, m.ChatID, content, m.CreatedAt); err != nil {
				return wrap("index message", err)
			}
		}
		return nil
	})
}

func (s *Store) DeleteMessage(ctx context.Context, id string) (bool, error) {
	existed := false
	err := s.Transaction(ctx, func(ctx context.Context) error {
		h := s.h(ctx)
		res := h.Delete(&Message{}, "id = ?", id)
		if res.Error != nil {
			return wrap("delete message", res.Error)
		}
		existed = res.RowsAffected > 0
		if err := h.Delete(&Attachment{}, "message_id = ?", id).Error; err != nil {
			return wrap("delete attachments", err)
		}
		return wrap("deindex message", s.idx.Remove(h, id))
	})
	return existed, err
}

func (s *Store) DeleteMessagesByChat(ctx context.Context, chatID string) (int64, error) {
	var n int64
	err := s.Transaction(ctx, func(ctx context.Context) error {
		h := s.h(ctx)
		if err := h.
			Where("message_id IN (?)",
				h.Session(&gorm.Session{NewDB: true}).Model(&Message{}).Select("id").Where("chat_id = ?", chatID)).
			Delete(&Attachment{}).Error; err != nil {
			return wrap("delete attachments by chat", err)
		}
		res := h.Delete(&Message{}, "chat_id = ?", chatID)
		if res.Error != nil {
			return wrap("delete messages by chat", res.Error)
		}
		n = res.RowsAffected
		return wrap("deindex chat", s.idx.RemoveByChat(h, chatID))
	})
	return n, err
}

// FindMessagesByChat returns the full message list in creation order, ids
// breaking timestamp ties (ULIDs sort by creation).
func (s *Store) FindMessagesByChat(ctx context.Context, chatID string) ([]Message, error) {
	var out []Message
	err := s.h(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, wrap("find messages by chat", err)
	}
	return out, nil
}

func (s *Store) CountMessagesByChat(ctx context.Context, chatID string) (int64, error) {
	var n int64
	err := s.h(ctx).Model(&Message{}).Where("chat_id = ?", chatID).Count(&n).Error
	return n, wrap("count messages by chat", err)
}

// Attachments

func (s *Store) CreateAttachment(ctx context.Context, a *Attachment) error {
	return wrap("create attachment", s.h(ctx).Create(a).Error)
}

func (s *Store) ListAttachmentsByMessage(ctx context.Context, messageID string) ([]Attachment, error) {
	var out []Attachment
	err := s.h(ctx).Where("message_id = ?", messageID).Order("id ASC").Find(&out).Error
	if err != nil {
		return nil, wrap("list attachments", err)
	}
	return out, nil
}

func (s *Store) CountAttachmentsByChat(ctx context.Context, chatID string) (int64, error) {
	var n int64
	err := s.h(ctx).Model(&Attachment{}).
		Where("message_id IN (?)",
			s.h(ctx).Session(&gorm.Session{NewDB: true}).Model(&Message{}).Select("id").Where("chat_id = ?", chatID)).
		Count(&n).Error
	return n, wrap("count attachments by chat", err)
}

// Provider configs

func (s *Store) CreateProviderConfig(ctx context.Context, p *ProviderConfig) error {
	return wrap("create provider config", s.h(ctx).Create(p).Error)
}

func (s *Store) GetProviderConfig(ctx context.Context, id string) (*ProviderConfig, error) {
	var p ProviderConfig
	if err := s.h(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFoundOr("get provider config", "provider config", id, err)
	}
	return &p, nil
}

func (s *Store) ListProviderConfigs(ctx context.Context) ([]ProviderConfig, error) {
	var out []ProviderConfig
	if err := s.h(ctx).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, wrap("list provider configs", err)
	}
	return out, nil
}

func (s *Store) UpdateProviderConfig(ctx context.Context, id string, fields map[string]any) error {
	res := s.h(ctx).Model(&ProviderConfig{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return wrap("update provider config", res.Error)
	}
	if res.RowsAffected == 0 {
		return &ValidationError{Entity: "provider config", ID: id}
	}
	return nil
}

func (s *Store) DeleteProviderConfig(ctx context.Context, id string) (bool, error) {
	res := s.h(ctx).Delete(&ProviderConfig{}, "id = ?", id)
	if res.Error != nil {
		return false, wrap("delete provider config", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// TouchChat bumps updated_at/last_message_at after a send.
func (s *Store) TouchChat(ctx context.Context, chatID string, at time.Time) error {
	return wrap("touch chat", s.h(ctx).Model(&Chat{}).
		Where("id = ?", chatID).
		Updates(map[string]any{"last_message_at": at, "updated_at": at}).Error)
}
