package handler

import (
	"net/http"

	"github.com/grihya/livechat/internal/logger"
	"github.com/grihya/livechat/internal/middleware"
	"github.com/grihya/livechat/internal/model"
	"github.com/grihya/livechat/internal/push"
)

// PushHandler registers admin browsers for new-message alerts.
type PushHandler struct {
	notifier *push.Notifier
}

func NewPushHandler(notifier *push.Notifier) *PushHandler {
	return &PushHandler{notifier: notifier}
}

// SubscribeRequest is the body the frontend sends (PushManager.getSubscription()).
type SubscribeRequest struct {
	Subscription model.PushSubscription `json:"subscription"`
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	adminID := middleware.CurrentAdminID(r.Context())
	if adminID == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.notifier.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "push notifications are not configured")
		return
	}
	var req SubscribeRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := h.notifier.Subscribe(r.Context(), *adminID, req.Subscription); err != nil {
		logger.Errorf("push.Subscribe admin=%d: %v", *adminID, err)
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	adminID := middleware.CurrentAdminID(r.Context())
	if adminID == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req UnsubscribeRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := h.notifier.Unsubscribe(r.Context(), *adminID, req.Endpoint); err != nil {
		logger.Errorf("push.Unsubscribe admin=%d: %v", *adminID, err)
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
