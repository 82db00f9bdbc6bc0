package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chat-engine/internal/common"
	"github.com/suPer8Hu/chat-engine/internal/config"
	"github.com/suPer8Hu/chat-engine/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-engine/internal/httpapi/middleware"
)

func NewRouter(cfg config.Config, h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))

	// chats and the message tree
	authGroup.GET("/chats", h.ListChats)
	authGroup.GET("/chats/:chat_id/messages", h.GetChatMessages)
	authGroup.GET("/search", h.SearchMessages)

	// streaming conversation operations
	authGroup.POST("/chat/send", h.Send)
	authGroup.POST("/chat/regenerate", h.Regenerate)
	authGroup.POST("/chat/edit", h.Edit)
	authGroup.POST("/chat/stop/:message_id", h.Stop)

	// thread commands
	authGroup.POST("/threads/:chat_id/rename", h.RenameThread)
	authGroup.POST("/threads/:chat_id/system-prompt", h.SetThreadSystemPrompt)
	authGroup.POST("/threads/:chat_id/pin", h.PinThread)
	authGroup.DELETE("/threads/:chat_id", h.DeleteThread)
	authGroup.POST("/threads/:chat_id/duplicate", h.DuplicateThread)
	authGroup.POST("/threads/:chat_id/move", h.MoveThread)
	authGroup.POST("/folders", h.CreateFolder)
	authGroup.POST("/chats/reorder", h.ReorderThreads)

	// provider configs and detection
	authGroup.POST("/providers", h.CreateProviderConfig)
	authGroup.GET("/providers", h.ListProviderConfigs)
	authGroup.PUT("/providers/:id", h.UpdateProviderConfig)
	authGroup.DELETE("/providers/:id", h.DeleteProviderConfig)
	authGroup.POST("/providers/detect", h.DetectProvider)

	return r
}
