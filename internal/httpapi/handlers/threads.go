package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type renameReq struct {
	Title string `json:"title" binding:"required"`
}

func (h *Handler) RenameThread(c *gin.Context) {
	var req renameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	eff, err := h.Cmds.Rename(c.Request.Context(), c.Param("chat_id"), req.Title)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, eff)
}

type systemPromptReq struct {
	SystemPrompt *string `json:"system_prompt"`
}

func (h *Handler) SetThreadSystemPrompt(c *gin.Context) {
	var req systemPromptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	eff, err := h.Cmds.SetSystemPrompt(c.Request.Context(), c.Param("chat_id"), req.SystemPrompt)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, eff)
}

type pinReq struct {
	Pinned bool `json:"pinned"`
}

func (h *Handler) PinThread(c *gin.Context) {
	var req pinReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	eff, err := h.Cmds.SetPinned(c.Request.Context(), c.Param("chat_id"), req.Pinned)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, eff)
}

func (h *Handler) DeleteThread(c *gin.Context) {
	eff, err := h.Cmds.Delete(c.Request.Context(), c.Param("chat_id"))
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, eff)
}

func (h *Handler) DuplicateThread(c *gin.Context) {
	eff, err := h.Cmds.Duplicate(c.Request.Context(), c.Param("chat_id"))
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, eff)
}

type createFolderReq struct {
	Name string `json:"name" binding:"required"`
}

func (h *Handler) CreateFolder(c *gin.Context) {
	var req createFolderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	eff, err := h.Cmds.CreateFolder(c.Request.Context(), req.Name)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, eff)
}

type moveReq struct {
	FolderID string `json:"folder_id"` // empty moves to root
}

func (h *Handler) MoveThread(c *gin.Context) {
	var req moveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	chatID := c.Param("chat_id")
	var eff any
	var err error
	if req.FolderID == "" {
		eff, err = h.Cmds.MoveToRoot(c.Request.Context(), chatID)
	} else {
		eff, err = h.Cmds.MoveToFolder(c.Request.Context(), chatID, req.FolderID)
	}
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, eff)
}

type reorderReq struct {
	OrderedIDs []string `json:"ordered_ids" binding:"required"`
}

func (h *Handler) ReorderThreads(c *gin.Context) {
	var req reorderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	eff, err := h.Cmds.Reorder(c.Request.Context(), req.OrderedIDs)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, eff)
}
