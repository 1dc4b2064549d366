package handler

import (
	"net/http"

	"github.com/grihya/livechat/internal/config"
	"github.com/grihya/livechat/internal/push"
)

// ConfigHandler exposes public client settings. No auth.
type ConfigHandler struct {
	cfg      *config.Config
	notifier *push.Notifier
}

func NewConfigHandler(cfg *config.Config, notifier *push.Notifier) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, notifier: notifier}
}

// GetPushConfig returns the VAPID public key browsers subscribe with, if push is on.
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if !h.notifier.Enabled() {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"vapid_public_key": h.notifier.PublicKey(),
	})
}

// GetChatConfig tells widgets how often to poll when the websocket is unavailable.
func (h *ConfigHandler) GetChatConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"poll_interval_seconds": h.cfg.PollIntervalSecs,
	})
}
