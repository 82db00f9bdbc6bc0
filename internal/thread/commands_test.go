package thread

import (
	"context"
	"sync"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-engine/internal/ids"
	"github.com/suPer8Hu/chat-engine/internal/store"
)

type captureEmitter struct {
	mu     sync.Mutex
	topics []string
}

func (c *captureEmitter) emit(topic string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(store.AllModels()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestCommands(t *testing.T) (*Commands, *store.Store, *captureEmitter) {
	t.Helper()
	st := store.New(openTestDB(t))
	rec := &captureEmitter{}
	return NewCommands(st, rec.emit), st, rec
}

func seedChat(t *testing.T, st *store.Store, title string) *store.Chat {
	t.Helper()
	c := &store.Chat{ID: ids.MustULID(), Title: title}
	if err := st.CreateChat(context.Background(), c); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return c
}

func TestRename(t *testing.T) {
	cmds, st, rec := newTestCommands(t)
	ctx := context.Background()
	c := seedChat(t, st, "old")

	eff, err := cmds.Rename(ctx, c.ID, "new")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if len(eff.Events) != 1 || eff.Events[0].Kind != "updated" {
		t.Fatalf("unexpected events: %+v", eff.Events)
	}
	got, _ := st.GetChat(ctx, c.ID)
	if got.Title != "new" {
		t.Fatalf("title not updated: %q", got.Title)
	}
	if len(rec.topics) != 1 || rec.topics[0] != "thread.chat.updated" {
		t.Fatalf("unexpected emitted topics: %v", rec.topics)
	}

	// renaming to the same title is a silent no-op
	eff, err = cmds.Rename(ctx, c.ID, "new")
	if err != nil {
		t.Fatalf("no-op rename: %v", err)
	}
	if len(eff.Events) != 0 {
		t.Fatalf("no-op rename must emit nothing, got %+v", eff.Events)
	}
}

func TestRename_UnknownChat(t *testing.T) {
	cmds, _, _ := newTestCommands(t)
	if _, err := cmds.Rename(context.Background(), "01NOPE0000000000000000000", "x"); !store.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestSetPinned_Idempotent(t *testing.T) {
	cmds, _, _ := newTestCommands(t)
	ctx := context.Background()
	c := seedChat(t, cmds.store, "c")

	eff, err := cmds.SetPinned(ctx, c.ID, true)
	if err != nil {
		t.Fatalf("pin: %v", err)
	}
	if len(eff.Events) != 1 {
		t.Fatalf("expected one event, got %d", len(eff.Events))
	}

	eff, err = cmds.SetPinned(ctx, c.ID, true)
	if err != nil {
		t.Fatalf("repeat pin: %v", err)
	}
	if len(eff.Events) != 0 {
		t.Fatalf("repeated pin must emit nothing")
	}
}

func TestDelete_MissingChatSucceedsQuietly(t *testing.T) {
	cmds, st, rec := newTestCommands(t)
	ctx := context.Background()
	c := seedChat(t, st, "doomed")

	eff, err := cmds.Delete(ctx, c.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(eff.Events) != 1 || eff.Events[0].Kind != "deleted" {
		t.Fatalf("unexpected events: %+v", eff.Events)
	}
	if len(rec.topics) != 1 || rec.topics[0] != "thread.chat.deleted" {
		t.Fatalf("unexpected topics: %v", rec.topics)
	}

	eff, err = cmds.Delete(ctx, c.ID)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if len(eff.Events) != 0 {
		t.Fatalf("deleting an absent chat must emit nothing")
	}
}

func TestMoveToFolder(t *testing.T) {
	cmds, st, _ := newTestCommands(t)
	ctx := context.Background()
	c := seedChat(t, st, "c")

	feff, err := cmds.CreateFolder(ctx, "work")
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}
	folder := feff.Result.(*store.Chat)
	if !folder.IsFolder {
		t.Fatalf("expected folder row")
	}

	if _, err := cmds.MoveToFolder(ctx, c.ID, folder.ID); err != nil {
		t.Fatalf("move: %v", err)
	}
	got, _ := st.GetChat(ctx, c.ID)
	if got.FolderID == nil || *got.FolderID != folder.ID {
		t.Fatalf("chat not moved: %+v", got.FolderID)
	}

	// moving again is a no-op
	eff, err := cmds.MoveToFolder(ctx, c.ID, folder.ID)
	if err != nil {
		t.Fatalf("repeat move: %v", err)
	}
	if len(eff.Events) != 0 {
		t.Fatalf("repeat move must emit nothing")
	}

	// a plain chat is not a valid move target
	other := seedChat(t, st, "not a folder")
	if _, err := cmds.MoveToFolder(ctx, c.ID, other.ID); err == nil {
		t.Fatalf("expected error moving into a non-folder")
	}

	eff, err = cmds.MoveToRoot(ctx, c.ID)
	if err != nil {
		t.Fatalf("move to root: %v", err)
	}
	if len(eff.Events) != 1 {
		t.Fatalf("expected one event, got %d", len(eff.Events))
	}
	got, _ = st.GetChat(ctx, c.ID)
	if got.FolderID != nil {
		t.Fatalf("chat still in folder")
	}
}

func TestReorder_SkipsInPlaceRows(t *testing.T) {
	cmds, st, _ := newTestCommands(t)
	ctx := context.Background()

	a := seedChat(t, st, "a") // sort_order 0 already
	b := seedChat(t, st, "b")
	c := seedChat(t, st, "c")

	eff, err := cmds.Reorder(ctx, []string{a.ID, c.ID, b.ID})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	// a stays at 0; only c and b change
	if len(eff.Events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(eff.Events), eff.Events)
	}
	gotC, _ := st.GetChat(ctx, c.ID)
	gotB, _ := st.GetChat(ctx, b.ID)
	if gotC.SortOrder != 1 || gotB.SortOrder != 2 {
		t.Fatalf("unexpected sort orders: c=%d b=%d", gotC.SortOrder, gotB.SortOrder)
	}
}

func TestDuplicate_PreservesBranchStructure(t *testing.T) {
	cmds, st, _ := newTestCommands(t)
	ctx := context.Background()
	c := seedChat(t, st, "source")

	u1 := &store.Message{ID: ids.MustULID(), ChatID: c.ID, Role: store.RoleUser, Content: "q", Status: store.StatusComplete}
	if err := st.CreateMessage(ctx, u1); err != nil {
		t.Fatalf("create u1: %v", err)
	}
	a1 := &store.Message{ID: ids.MustULID(), ChatID: c.ID, ParentID: &u1.ID, Role: store.RoleAssistant, Content: "a", Status: store.StatusComplete}
	if err := st.CreateMessage(ctx, a1); err != nil {
		t.Fatalf("create a1: %v", err)
	}
	att := &store.Attachment{ID: ids.MustULID(), MessageID: u1.ID, MimeType: "image/png", Data: []byte{9}, Size: 1}
	if err := st.CreateAttachment(ctx, att); err != nil {
		t.Fatalf("create attachment: %v", err)
	}

	eff, err := cmds.Duplicate(ctx, c.ID)
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	dup := eff.Result.(*store.Chat)
	if dup.Title != "source (copy)" {
		t.Fatalf("unexpected title: %q", dup.Title)
	}

	msgs, err := st.FindMessagesByChat(ctx, dup.ID)
	if err != nil {
		t.Fatalf("find messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 copied messages, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.ID == u1.ID || m.ID == a1.ID {
			t.Fatalf("duplicate reused a source message id")
		}
	}
	// parent link re-targets the copied user turn
	var copiedUser, copiedAsst store.Message
	for _, m := range msgs {
		if m.Role == store.RoleUser {
			copiedUser = m
		} else {
			copiedAsst = m
		}
	}
	if copiedAsst.ParentID == nil || *copiedAsst.ParentID != copiedUser.ID {
		t.Fatalf("copied assistant must hang under copied user")
	}

	atts, err := st.ListAttachmentsByMessage(ctx, copiedUser.ID)
	if err != nil {
		t.Fatalf("list attachments: %v", err)
	}
	if len(atts) != 1 {
		t.Fatalf("expected copied attachment, got %d", len(atts))
	}

	// the copy is independently searchable
	entries, err := st.Index().Search(ctx, "q", dup.ID, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected search entry for the copy, got %d", len(entries))
	}
}
