package search

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry mirrors one current message revision with non-empty content. The
// store writes entries inside the same transaction as the message row, so
// the index can never drift ahead of or behind committed message state.
type Entry struct {
	MessageID string    `gorm:"primaryKey;size:26" json:"message_id"`
	ChatID    string    `gorm:"size:26;index;not null" json:"chat_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (Entry) TableName() string { return "search_entries" }

type Index struct {
	db *gorm.DB
}

func NewIndex(db *gorm.DB) *Index {
	return &Index{db: db}
}

// Put upserts the entry for a message revision. An empty content revision
// removes the entry instead; the index only ever holds searchable text.
// h must be the transaction handle of the triggering message write.
func (i *Index) Put(h *gorm.DB, messageID, chatID, content string, createdAt time.Time) error {
	if strings.TrimSpace(content) == "" {
		return h.Delete(&Entry{}, "message_id = ?", messageID).Error
	}
	e := Entry{MessageID: messageID, ChatID: chatID, Content: content, CreatedAt: createdAt}
	return h.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content"}),
	}).Create(&e).Error
}

func (i *Index) Remove(h *gorm.DB, messageID string) error {
	return h.Delete(&Entry{}, "message_id = ?", messageID).Error
}

func (i *Index) RemoveByChat(h *gorm.DB, chatID string) error {
	return h.Delete(&Entry{}, "chat_id = ?", chatID).Error
}

// escapeLike neutralizes LIKE metacharacters so user queries match
// literally instead of acting as wildcards.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Search returns entries matching query, newest first, ties broken by id
// (descending; ids are ULIDs so id order is creation order). chatID narrows
// the search to one chat when non-empty.
func (i *Index) Search(ctx context.Context, query, chatID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := i.db.WithContext(ctx).
		Where(`content LIKE ? ESCAPE '\'`, "%"+escapeLike(query)+"%").
		Order("created_at DESC, message_id DESC").
		Limit(limit)
	if chatID != "" {
		q = q.Where("chat_id = ?", chatID)
	}
	var out []Entry
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
