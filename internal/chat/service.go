package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/suPer8Hu/chat-engine/internal/ai"
	"github.com/suPer8Hu/chat-engine/internal/events"
	"github.com/suPer8Hu/chat-engine/internal/ids"
	"github.com/suPer8Hu/chat-engine/internal/search"
	"github.com/suPer8Hu/chat-engine/internal/store"
	"github.com/suPer8Hu/chat-engine/internal/tree"
)

// Service drives every conversation mutation: send, regenerate, edit,
// stop. Setup writes run inside one store transaction; streaming happens
// outside it, checkpointing the assistant row per delta.
type Service struct {
	store    *store.Store
	registry *ai.Registry
	streams  *StreamRegistry
	emit     events.Emitter
}

func NewService(st *store.Store, registry *ai.Registry, emit events.Emitter) *Service {
	if emit == nil {
		emit = events.Nop
	}
	return &Service{
		store:    st,
		registry: registry,
		streams:  NewStreamRegistry(),
		emit:     emit,
	}
}

func (s *Service) Store() *store.Store { return s.store }

type AttachmentInput struct {
	Name     string
	MimeType string
	Data     []byte
}

type SendParams struct {
	ChatID           string // empty creates a new chat
	Content          string
	Model            string
	ProviderConfigID string
	ParentID         *string           // explicit branch parent; nil appends to the active path
	Selections       map[string]string // branch-point selections, parent id -> child id
	Attachments      []AttachmentInput
}

type SendResult struct {
	ChatID             string `json:"chat_id"`
	UserMessageID      string `json:"user_message_id"`
	AssistantMessageID string `json:"assistant_message_id"`
}

type UpdateType string

const (
	UpdateDelta   UpdateType = "delta"
	UpdateDone    UpdateType = "done"
	UpdateError   UpdateType = "error"
	UpdateStopped UpdateType = "stopped"
)

// StreamUpdate is one tick of an in-flight response: one per delta, then
// exactly one terminal update (done, error or stopped) carrying the final
// persisted message.
type StreamUpdate struct {
	Type    UpdateType     `json:"type"`
	Delta   string         `json:"delta,omitempty"`
	Result  SendResult     `json:"result"`
	Message *store.Message `json:"message,omitempty"`
	Err     error          `json:"-"`
}

// Send commits the chat (creating it if needed), a complete user message
// and a pending assistant message in one transaction, then streams the
// response. The returned result ids are stable before the first delta.
func (s *Service) Send(ctx context.Context, p SendParams) (*SendResult, <-chan StreamUpdate, error) {
	if strings.TrimSpace(p.Content) == "" {
		return nil, nil, fmt.Errorf("content is required")
	}

	provider, err := s.providerByConfig(ctx, p.ProviderConfigID)
	if err != nil {
		return nil, nil, err
	}

	var chatRec *store.Chat
	var history []store.Message
	if p.ChatID != "" {
		chatRec, err = s.store.GetChat(ctx, p.ChatID)
		if err != nil {
			return nil, nil, err
		}
		history, err = s.store.FindMessagesByChat(ctx, p.ChatID)
		if err != nil {
			return nil, nil, err
		}
	}

	parent := p.ParentID
	if parent == nil && len(history) > 0 {
		if path := tree.ActivePath(history, p.Selections); len(path) > 0 {
			leaf := path[len(path)-1].ID
			parent = &leaf
		}
	}

	return s.start(ctx, startSpec{
		chat:        chatRec,
		title:       titleFrom(p.Content),
		content:     p.Content,
		parentID:    parent,
		attachments: p.Attachments,
		model:       p.Model,
		providerID:  p.ProviderConfigID,
		history:     history,
		provider:    provider,
	})
}

// Regenerate deletes the active path's last assistant message in its own
// transaction and replays send semantics under the same user message. If
// the resend fails the operation is retryable: only the assistant row was
// removed.
func (s *Service) Regenerate(ctx context.Context, chatID string) (*SendResult, <-chan StreamUpdate, error) {
	chatRec, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.store.FindMessagesByChat(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}

	path := tree.ActivePath(msgs, nil)
	asstIdx := -1
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].Role == store.RoleAssistant {
			asstIdx = i
			break
		}
	}
	if asstIdx < 0 {
		return nil, nil, fmt.Errorf("chat %s has no assistant message to regenerate", chatID)
	}
	asst := path[asstIdx]

	var userMsg *store.Message
	for i := asstIdx - 1; i >= 0; i-- {
		if path[i].Role == store.RoleUser {
			m := path[i]
			userMsg = &m
			break
		}
	}
	if userMsg == nil {
		return nil, nil, fmt.Errorf("chat %s has no user message to regenerate from", chatID)
	}

	providerID := asst.ProviderConfigID
	if providerID == "" {
		providerID = userMsg.ProviderConfigID
	}
	provider, err := s.providerByConfig(ctx, providerID)
	if err != nil {
		return nil, nil, err
	}

	if _, err := s.store.DeleteMessage(ctx, asst.ID); err != nil {
		return nil, nil, err
	}

	history := make([]store.Message, 0, len(msgs)-1)
	for _, m := range msgs {
		if m.ID != asst.ID {
			history = append(history, m)
		}
	}

	return s.start(ctx, startSpec{
		chat:       chatRec,
		userMsg:    userMsg,
		model:      asst.Model,
		providerID: providerID,
		history:    history,
		provider:   provider,
	})
}

// Edit never mutates the edited user message or its descendants. It
// creates a sibling under the same parent (a new branch) and streams a
// fresh assistant response below it; the original branch stays reachable.
func (s *Service) Edit(ctx context.Context, messageID, newContent string) (*SendResult, <-chan StreamUpdate, error) {
	if strings.TrimSpace(newContent) == "" {
		return nil, nil, fmt.Errorf("content is required")
	}

	orig, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	if orig.Role != store.RoleUser {
		return nil, nil, fmt.Errorf("only user messages can be edited: %s is %s", messageID, orig.Role)
	}

	chatRec, err := s.store.GetChat(ctx, orig.ChatID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.store.FindMessagesByChat(ctx, orig.ChatID)
	if err != nil {
		return nil, nil, err
	}

	parent, err := tree.FindEditParent(msgs, messageID)
	if err != nil {
		return nil, nil, err
	}
	var parentPtr *string
	if parent != tree.Root {
		parentPtr = &parent
	}

	provider, err := s.providerByConfig(ctx, orig.ProviderConfigID)
	if err != nil {
		return nil, nil, err
	}

	return s.start(ctx, startSpec{
		chat:       chatRec,
		content:    newContent,
		parentID:   parentPtr,
		model:      orig.Model,
		providerID: orig.ProviderConfigID,
		history:    msgs,
		provider:   provider,
	})
}

// Stop cancels the in-flight stream for messageID if one is registered.
// Calling it on a finished or unknown message is a no-op, not an error.
func (s *Service) Stop(messageID string) bool {
	return s.streams.Cancel(messageID)
}

func (s *Service) Search(ctx context.Context, query, chatID string, limit int) ([]search.Entry, error) {
	return s.store.Index().Search(ctx, query, chatID, limit)
}

func (s *Service) providerByConfig(ctx context.Context, providerConfigID string) (ai.Provider, error) {
	pc, err := s.store.GetProviderConfig(ctx, providerConfigID)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{}
	if pc.CustomHeaders != "" {
		_ = json.Unmarshal([]byte(pc.CustomHeaders), &headers)
	}
	return s.registry.Get(ai.Endpoint{
		Vendor:  pc.Vendor,
		APIKey:  pc.APIKey,
		BaseURL: pc.BaseURL,
		Headers: headers,
	})
}

type startSpec struct {
	chat        *store.Chat // nil creates a new chat
	title       string
	userMsg     *store.Message // reuse existing user turn (regenerate); nil creates one
	content     string
	parentID    *string
	attachments []AttachmentInput
	model       string
	providerID  string
	history     []store.Message
	provider    ai.Provider
}

func (s *Service) start(ctx context.Context, spec startSpec) (*SendResult, <-chan StreamUpdate, error) {
	now := time.Now()
	newChat := spec.chat == nil
	userMsg := spec.userMsg
	var asst *store.Message

	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		if spec.chat == nil {
			id, err := ids.NewULID()
			if err != nil {
				return err
			}
			spec.chat = &store.Chat{ID: id, Title: spec.title}
			if err := s.store.CreateChat(ctx, spec.chat); err != nil {
				return err
			}
		}

		if userMsg == nil {
			id, err := ids.NewULID()
			if err != nil {
				return err
			}
			userMsg = &store.Message{
				ID:               id,
				ChatID:           spec.chat.ID,
				ParentID:         spec.parentID,
				Role:             store.RoleUser,
				Content:          spec.content,
				Status:           store.StatusComplete,
				Model:            spec.model,
				ProviderConfigID: spec.providerID,
			}
			if err := s.store.CreateMessage(ctx, userMsg); err != nil {
				return err
			}
			for _, a := range spec.attachments {
				aid, err := ids.NewULID()
				if err != nil {
					return err
				}
				if err := s.store.CreateAttachment(ctx, &store.Attachment{
					ID:        aid,
					MessageID: userMsg.ID,
					Name:      a.Name,
					MimeType:  a.MimeType,
					Size:      int64(len(a.Data)),
					Data:      a.Data,
				}); err != nil {
					return err
				}
			}
		}

		id, err := ids.NewULID()
		if err != nil {
			return err
		}
		parent := userMsg.ID
		asst = &store.Message{
			ID:               id,
			ChatID:           spec.chat.ID,
			ParentID:         &parent,
			Role:             store.RoleAssistant,
			Status:           store.StatusPending,
			Model:            spec.model,
			ProviderConfigID: spec.providerID,
		}
		if err := s.store.CreateMessage(ctx, asst); err != nil {
			return err
		}
		return s.store.TouchChat(ctx, spec.chat.ID, now)
	})
	if err != nil {
		return nil, nil, err
	}

	if newChat {
		s.emit(events.ChatCreated, map[string]any{"chat_id": spec.chat.ID, "title": spec.chat.Title})
	}
	s.emit(events.MessageCreated, map[string]any{"chat_id": spec.chat.ID, "message_id": userMsg.ID})

	res := &SendResult{
		ChatID:             spec.chat.ID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: asst.ID,
	}

	// store writes must survive stream cancellation and client disconnects
	pctx := context.WithoutCancel(ctx)

	ctxMsgs, err := s.buildContext(ctx, spec.chat, spec.history, userMsg)
	if err != nil {
		// the placeholder is already committed and no stream will ever
		// finalize it, so it is settled to error here before re-throwing
		log.Printf("context build failed chat=%s msg=%s err=%v", spec.chat.ID, asst.ID, err)
		fields := map[string]any{"content": sanitizeError(err), "status": store.StatusError}
		if uerr := s.store.UpdateMessage(pctx, asst.ID, fields); uerr != nil {
			log.Printf("error persist failed msg=%s err=%v", asst.ID, uerr)
		}
		s.emit(events.MessageFailed, map[string]any{"chat_id": res.ChatID, "message_id": asst.ID})
		return nil, nil, err
	}

	updates := make(chan StreamUpdate, 32)
	sctx, cancel := context.WithCancel(ctx)
	s.streams.Register(asst.ID, cancel)

	go s.runStream(pctx, sctx, cancel, spec, *res, asst.ID, ctxMsgs, updates)

	return res, updates, nil
}

func (s *Service) runStream(pctx, sctx context.Context, cancel context.CancelFunc,
	spec startSpec, res SendResult, asstID string, ctxMsgs []ai.Message, updates chan<- StreamUpdate) {

	defer close(updates)
	defer func() {
		s.streams.Remove(asstID)
		cancel()
	}()

	chunks, errsCh := spec.provider.StreamChat(sctx, ai.ChatRequest{Model: spec.model, Messages: ctxMsgs})

	var b strings.Builder
	started := false
	for delta := range chunks {
		b.WriteString(delta)
		fields := map[string]any{"content": b.String()}
		if !started {
			started = true
			fields["status"] = store.StatusStreaming
		}
		// incremental checkpoint: a crash mid-stream leaves a valid
		// partial message, not an empty one
		if err := s.store.UpdateMessage(pctx, asstID, fields); err != nil {
			log.Printf("stream checkpoint failed msg=%s err=%v", asstID, err)
		}
		updates <- StreamUpdate{Type: UpdateDelta, Delta: delta, Result: res}
	}
	streamErr := <-errsCh

	content := b.String()
	switch {
	case streamErr == nil:
		fields := map[string]any{
			"content":           content,
			"status":            store.StatusComplete,
			"prompt_tokens":     estimateTokens(contextText(ctxMsgs)),
			"completion_tokens": estimateTokens(content),
		}
		if err := s.store.UpdateMessage(pctx, asstID, fields); err != nil {
			log.Printf("finalize failed msg=%s err=%v", asstID, err)
		}
		s.emit(events.MessageCompleted, map[string]any{"chat_id": res.ChatID, "message_id": asstID})
		msg, _ := s.store.GetMessage(pctx, asstID)
		updates <- StreamUpdate{Type: UpdateDone, Result: res, Message: msg}

	case errors.Is(streamErr, context.Canceled):
		// explicit stop: partial content is preserved, never discarded
		fields := map[string]any{"content": content, "status": store.StatusStopped}
		if err := s.store.UpdateMessage(pctx, asstID, fields); err != nil {
			log.Printf("stop persist failed msg=%s err=%v", asstID, err)
		}
		s.emit(events.MessageStopped, map[string]any{"chat_id": res.ChatID, "message_id": asstID})
		msg, _ := s.store.GetMessage(pctx, asstID)
		updates <- StreamUpdate{Type: UpdateStopped, Result: res, Message: msg}

	default:
		// raw error goes to the log; the persisted content is the
		// sanitized user-facing string
		log.Printf("stream failed chat=%s msg=%s err=%v", res.ChatID, asstID, streamErr)
		fields := map[string]any{"content": sanitizeError(streamErr), "status": store.StatusError}
		if err := s.store.UpdateMessage(pctx, asstID, fields); err != nil {
			log.Printf("error persist failed msg=%s err=%v", asstID, err)
		}
		s.emit(events.MessageFailed, map[string]any{"chat_id": res.ChatID, "message_id": asstID})
		msg, _ := s.store.GetMessage(pctx, asstID)
		updates <- StreamUpdate{Type: UpdateError, Result: res, Message: msg, Err: streamErr}
	}
}

// buildContext walks the parent chain from the new user turn to the root
// and converts it to provider messages, prefixed with the chat's system
// prompt. Failed assistant turns carry no model output and are skipped.
func (s *Service) buildContext(ctx context.Context, chatRec *store.Chat, history []store.Message, userMsg *store.Message) ([]ai.Message, error) {
	byID := make(map[string]store.Message, len(history))
	for _, m := range history {
		byID[m.ID] = m
	}

	var chain []store.Message
	cur := *userMsg
	for {
		chain = append(chain, cur)
		if cur.ParentID == nil {
			break
		}
		p, ok := byID[*cur.ParentID]
		if !ok {
			break
		}
		cur = p
	}
	// chain is leaf -> root; reverse
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	var out []ai.Message
	if chatRec.SystemPrompt != nil && *chatRec.SystemPrompt != "" {
		out = append(out, ai.Message{Role: string(store.RoleSystem), Content: *chatRec.SystemPrompt})
	}
	for _, m := range chain {
		if m.Role == store.RoleAssistant && m.Status == store.StatusError {
			continue
		}
		if m.Content == "" {
			continue
		}
		am := ai.Message{Role: string(m.Role), Content: m.Content}
		if m.Role == store.RoleUser {
			atts, err := s.store.ListAttachmentsByMessage(ctx, m.ID)
			if err != nil {
				return nil, err
			}
			for _, a := range atts {
				if len(a.Data) == 0 {
					continue
				}
				am.Attachments = append(am.Attachments, ai.Attachment{
					Name:     a.Name,
					MimeType: a.MimeType,
					B64:      base64.StdEncoding.EncodeToString(a.Data),
				})
			}
		}
		out = append(out, am)
	}
	return out, nil
}

func titleFrom(content string) string {
	t := strings.TrimSpace(content)
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[:i]
	}
	if len(t) > 80 {
		cut := 80
		for cut > 0 && !utf8.RuneStart(t[cut]) {
			cut--
		}
		t = t[:cut]
	}
	if t == "" {
		t = "New chat"
	}
	return t
}

func contextText(msgs []ai.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Content)
	}
	return b.String()
}

// estimateTokens is a coarse chars/4 heuristic; the wire protocols we
// stream do not all report usage, so accounting stays uniform instead.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func sanitizeError(err error) string {
	var pe *ai.ProviderError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case ai.ErrAuth:
			return "The provider rejected the configured API key."
		case ai.ErrQuota:
			return "The provider account is out of quota."
		case ai.ErrRateLimit:
			return "The provider is rate limiting requests. Try again shortly."
		case ai.ErrTimeout:
			return "The provider took too long to respond."
		case ai.ErrNetwork:
			return "Could not reach the provider."
		}
		return "The provider returned an error."
	}
	return "The response failed. Please try again."
}
