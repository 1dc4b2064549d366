package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/grihya/livechat/internal/service"
)

// AdminHandler serves the admin inbox.
type AdminHandler struct {
	svc *service.ChatService
}

func NewAdminHandler(svc *service.ChatService) *AdminHandler {
	return &AdminHandler{svc: svc}
}

func (h *AdminHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.svc.ListConversations(r.Context(), service.ListQuery{
		Status:  q.Get("status"),
		Search:  q.Get("search"),
		Page:    queryInt(r, "page", 1),
		PerPage: queryInt(r, "per_page", service.DefaultPerPage),
	})
	if err != nil {
		writeServiceError(w, "admin.ListConversations", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type StatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *AdminHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	conv, err := h.svc.UpdateStatus(r.Context(), chi.URLParam(r, "token"), req.Status)
	if err != nil {
		writeServiceError(w, "admin.UpdateStatus", err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}
