package handlers

import (
	"github.com/suPer8Hu/chat-engine/internal/ai"
	"github.com/suPer8Hu/chat-engine/internal/chat"
	"github.com/suPer8Hu/chat-engine/internal/config"
	"github.com/suPer8Hu/chat-engine/internal/store"
	"github.com/suPer8Hu/chat-engine/internal/thread"
)

type Handler struct {
	Cfg      config.Config
	Store    *store.Store
	Svc      *chat.Service
	Cmds     *thread.Commands
	Detector *ai.Detector
}

func NewHandler(cfg config.Config, st *store.Store, svc *chat.Service, cmds *thread.Commands, det *ai.Detector) *Handler {
	return &Handler{Cfg: cfg, Store: st, Svc: svc, Cmds: cmds, Detector: det}
}
