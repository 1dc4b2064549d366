package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/grihya/livechat/internal/middleware"
	"github.com/grihya/livechat/internal/model"
	"github.com/grihya/livechat/internal/service"
)

// ChatHandler serves the visitor-facing chat endpoints. The conversation
// token in the URL is the only credential a visitor needs.
type ChatHandler struct {
	svc *service.ChatService
}

func NewChatHandler(svc *service.ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type StartRequest struct {
	Name  string `json:"name" validate:"max=255"`
	Email string `json:"email" validate:"omitempty,email,max=255"`
	Phone string `json:"phone" validate:"max=32"`
}

type StartResponse struct {
	Token        string              `json:"token"`
	Conversation *model.Conversation `json:"conversation"`
}

// Start opens a conversation. The body is optional.
func (h *ChatHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	conv, err := h.svc.Start(r.Context(), service.Visitor{
		ID:    middleware.VisitorID(r.Context()),
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
	})
	if err != nil {
		writeServiceError(w, "chat.Start", err)
		return
	}
	writeJSON(w, http.StatusCreated, StartResponse{Token: conv.Token, Conversation: conv})
}

func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.svc.FindByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, "chat.GetConversation", err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.ListMessages(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, "chat.ListMessages", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type SendRequest struct {
	Body           string  `json:"body" validate:"required,max=5000"`
	AttachmentPath *string `json:"attachment_path" validate:"omitempty,max=1024"`
}

// SendMessage appends to the conversation. Admin callers write as admin,
// everyone else as the visitor.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	in := service.SendInput{Body: req.Body, AttachmentPath: req.AttachmentPath}
	if adminID := middleware.CurrentAdminID(r.Context()); adminID != nil {
		in.Sender = model.SenderAdmin
		in.SenderID = adminID
	} else {
		in.Sender = model.SenderUser
		in.SenderID = middleware.VisitorID(r.Context())
	}
	m, err := h.svc.Append(r.Context(), chi.URLParam(r, "token"), in)
	if err != nil {
		writeServiceError(w, "chat.SendMessage", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// MarkRead stamps the visitor's unread messages. Admin only.
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkRead(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, "chat.MarkRead", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}
