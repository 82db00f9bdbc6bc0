package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chat-engine/internal/chat"
	"github.com/suPer8Hu/chat-engine/internal/common"
	"github.com/suPer8Hu/chat-engine/internal/store"
	"github.com/suPer8Hu/chat-engine/internal/tree"
)

func ok(c *gin.Context, data any) { common.OK(c, data) }

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	common.Fail(c, httpStatus, code, msg)
}

func failFrom(c *gin.Context, err error) {
	var ve *store.ValidationError
	if errors.As(err, &ve) {
		fail(c, http.StatusNotFound, 40404, ve.Error())
		return
	}
	fail(c, http.StatusInternalServerError, 50001, "internal error")
}

func (h *Handler) Ping(c *gin.Context) {
	ok(c, gin.H{"pong": true})
}

func (h *Handler) ListChats(c *gin.Context) {
	chats, err := h.Store.ListChats(c.Request.Context())
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, gin.H{"chats": chats})
}

// GetChatMessages returns the flat message list plus the derived branch
// points and active path so a client can render the tree without its own
// traversal logic.
func (h *Handler) GetChatMessages(c *gin.Context) {
	chatID := c.Param("chat_id")
	if _, err := h.Store.GetChat(c.Request.Context(), chatID); err != nil {
		failFrom(c, err)
		return
	}
	msgs, err := h.Store.FindMessagesByChat(c.Request.Context(), chatID)
	if err != nil {
		failFrom(c, err)
		return
	}

	selections := map[string]string{}
	if raw := c.Query("selections"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &selections)
	}

	path := tree.ActivePath(msgs, selections)
	pathIDs := make([]string, 0, len(path))
	for _, m := range path {
		pathIDs = append(pathIDs, m.ID)
	}

	ok(c, gin.H{
		"messages":      msgs,
		"branch_points": tree.BranchPoints(msgs),
		"active_path":   pathIDs,
	})
}

type sendReq struct {
	ChatID           string            `json:"chat_id"`
	Content          string            `json:"content" binding:"required"`
	Model            string            `json:"model" binding:"required"`
	ProviderConfigID string            `json:"provider_config_id" binding:"required"`
	ParentID         *string           `json:"parent_id"`
	Selections       map[string]string `json:"selections"`
	Attachments      []struct {
		Name     string `json:"name"`
		MimeType string `json:"mime_type"`
		B64      string `json:"data"`
	} `json:"attachments"`
}

func (h *Handler) Send(c *gin.Context) {
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	p := chat.SendParams{
		ChatID:           req.ChatID,
		Content:          req.Content,
		Model:            req.Model,
		ProviderConfigID: req.ProviderConfigID,
		ParentID:         req.ParentID,
		Selections:       req.Selections,
	}
	for _, a := range req.Attachments {
		data, err := decodeB64(a.B64)
		if err != nil {
			fail(c, http.StatusBadRequest, 10002, "invalid attachment encoding")
			return
		}
		p.Attachments = append(p.Attachments, chat.AttachmentInput{
			Name: a.Name, MimeType: a.MimeType, Data: data,
		})
	}

	res, updates, err := h.Svc.Send(c.Request.Context(), p)
	if err != nil {
		failFrom(c, err)
		return
	}
	h.streamSSE(c, res, updates)
}

type regenerateReq struct {
	ChatID string `json:"chat_id" binding:"required"`
}

func (h *Handler) Regenerate(c *gin.Context) {
	var req regenerateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	res, updates, err := h.Svc.Regenerate(c.Request.Context(), req.ChatID)
	if err != nil {
		failFrom(c, err)
		return
	}
	h.streamSSE(c, res, updates)
}

type editReq struct {
	MessageID string `json:"message_id" binding:"required"`
	Content   string `json:"content" binding:"required"`
}

func (h *Handler) Edit(c *gin.Context) {
	var req editReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	res, updates, err := h.Svc.Edit(c.Request.Context(), req.MessageID, req.Content)
	if err != nil {
		failFrom(c, err)
		return
	}
	h.streamSSE(c, res, updates)
}

func (h *Handler) Stop(c *gin.Context) {
	messageID := c.Param("message_id")
	cancelled := h.Svc.Stop(messageID)
	ok(c, gin.H{"cancelled": cancelled})
}

func (h *Handler) SearchMessages(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		fail(c, http.StatusBadRequest, 10003, "q required")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.Svc.Search(c.Request.Context(), query, c.Query("chat_id"), limit)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, gin.H{"results": entries})
}

// streamSSE relays stream updates as SSE events, one per delta plus a
// terminal done/error/stopped event, with a ping heartbeat.
func (h *Handler) streamSSE(c *gin.Context, res *chat.SendResult, updates <-chan chat.StreamUpdate) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	flusher, okk := c.Writer.(http.Flusher)
	if !okk {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	writeJSON("start", res)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case u, okk := <-updates:
			if !okk {
				return
			}
			switch u.Type {
			case chat.UpdateDelta:
				writeJSON("chunk", gin.H{"type": "chunk", "delta": u.Delta})
			case chat.UpdateDone:
				writeJSON("done", gin.H{"type": "done", "result": u.Result, "message": u.Message})
			case chat.UpdateStopped:
				writeJSON("stopped", gin.H{"type": "stopped", "result": u.Result, "message": u.Message})
			case chat.UpdateError:
				msg := ""
				if u.Message != nil {
					msg = u.Message.Content
				}
				writeJSON("error", gin.H{"type": "error", "result": u.Result, "message": msg})
			}

		case <-ticker.C:
			writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})

		case <-c.Request.Context().Done():
			// client went away; the orchestrator observes the same
			// context and stops the stream with partial content kept
			return
		}
	}
}
