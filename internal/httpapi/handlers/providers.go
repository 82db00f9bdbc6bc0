package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chat-engine/internal/ai"
	"github.com/suPer8Hu/chat-engine/internal/ids"
	"github.com/suPer8Hu/chat-engine/internal/store"
)

func decodeB64(s string) ([]byte, error) {
	if i := strings.Index(s, "base64,"); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+len("base64,"):]
	}
	return base64.StdEncoding.DecodeString(s)
}

type providerConfigReq struct {
	Vendor        string `json:"vendor" binding:"required"`
	APIKey        string `json:"api_key"`
	BaseURL       string `json:"base_url"`
	CustomHeaders string `json:"custom_headers"`
	Enabled       *bool  `json:"enabled"`
	DefaultModel  string `json:"default_model"`
}

func (h *Handler) CreateProviderConfig(c *gin.Context) {
	var req providerConfigReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	id, err := ids.NewULID()
	if err != nil {
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	pc := &store.ProviderConfig{
		ID:            id,
		Vendor:        strings.ToLower(req.Vendor),
		APIKey:        req.APIKey,
		BaseURL:       req.BaseURL,
		CustomHeaders: req.CustomHeaders,
		Enabled:       enabled,
		DefaultModel:  req.DefaultModel,
	}
	if err := h.Store.CreateProviderConfig(c.Request.Context(), pc); err != nil {
		failFrom(c, err)
		return
	}
	ok(c, gin.H{"provider_config": pc})
}

func (h *Handler) ListProviderConfigs(c *gin.Context) {
	configs, err := h.Store.ListProviderConfigs(c.Request.Context())
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, gin.H{"provider_configs": configs})
}

func (h *Handler) UpdateProviderConfig(c *gin.Context) {
	id := c.Param("id")
	var req providerConfigReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	prev, err := h.Store.GetProviderConfig(c.Request.Context(), id)
	if err != nil {
		failFrom(c, err)
		return
	}

	fields := map[string]any{
		"vendor":         strings.ToLower(req.Vendor),
		"api_key":        req.APIKey,
		"base_url":       req.BaseURL,
		"custom_headers": req.CustomHeaders,
		"default_model":  req.DefaultModel,
	}
	if req.Enabled != nil {
		fields["enabled"] = *req.Enabled
	}
	if err := h.Store.UpdateProviderConfig(c.Request.Context(), id, fields); err != nil {
		failFrom(c, err)
		return
	}

	// the old endpoint pair may have a cached probe detection
	h.Detector.Invalidate(c.Request.Context(), prev.BaseURL, prev.APIKey)

	pc, err := h.Store.GetProviderConfig(c.Request.Context(), id)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, gin.H{"provider_config": pc})
}

func (h *Handler) DeleteProviderConfig(c *gin.Context) {
	id := c.Param("id")
	prev, err := h.Store.GetProviderConfig(c.Request.Context(), id)
	if err == nil {
		h.Detector.Invalidate(c.Request.Context(), prev.BaseURL, prev.APIKey)
	}
	existed, err := h.Store.DeleteProviderConfig(c.Request.Context(), id)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, gin.H{"deleted": existed})
}

type detectReq struct {
	APIKey  string `json:"api_key" binding:"required"`
	BaseURL string `json:"base_url"`
}

func (h *Handler) DetectProvider(c *gin.Context) {
	var req detectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	det, err := h.Detector.Detect(c.Request.Context(), req.APIKey, req.BaseURL)
	if err != nil {
		var de *ai.DetectionError
		if errors.As(err, &de) {
			c.JSON(http.StatusBadGateway, gin.H{
				"code":    50210,
				"message": de.Error(),
				"data": gin.H{
					"attempts":  de.Attempts,
					"retryable": de.Retryable,
				},
			})
			return
		}
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	ok(c, gin.H{"detection": det})
}
