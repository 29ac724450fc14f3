package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/service"
)

type MessageHandler struct {
	msgs  *service.Messages
	reads *service.Reads
}

func NewMessageHandler(msgs *service.Messages, reads *service.Reads) *MessageHandler {
	return &MessageHandler{msgs: msgs, reads: reads}
}

type SendMessageRequest struct {
	Type      model.MessageType `json:"type"`
	Content   string            `json:"content"`
	Media     *model.Media      `json:"media"`
	ReplyToID string            `json:"reply_to_id"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

type MarkReadRequest struct {
	MessageID string `json:"message_id"`
}

type unreadResponse struct {
	ChatID      string `json:"chat_id"`
	UnreadCount int    `json:"unread_count"`
}

// GetMessages returns one page of history: ?limit=&before=.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	page, err := h.msgs.ListForChat(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()),
		queryInt(r, "limit", 0), r.URL.Query().Get("before"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadBody(w)
		return
	}
	msg, err := h.msgs.Append(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), service.Payload{
		Type:      req.Type,
		Content:   req.Content,
		Media:     req.Media,
		ReplyToID: req.ReplyToID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req EditMessageRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadBody(w)
		return
	}
	msg, err := h.msgs.Edit(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), req.Content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.msgs.Delete(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

// SearchMessages searches messages across the user's chats: ?q=&chat_id=&limit=.
func (h *MessageHandler) SearchMessages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusOK, []model.Message{})
		return
	}
	msgs, err := h.msgs.Search(r.Context(), middleware.GetUserID(r.Context()), query,
		queryInt(r, "limit", 30), r.URL.Query().Get("chat_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// MarkRead advances the caller's cursor to message_id, or to now without a body.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeBadBody(w)
		return
	}
	cur, err := h.reads.MarkRead(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), req.MessageID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

func (h *MessageHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	n, err := h.reads.UnreadCount(r.Context(), chatID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unreadResponse{ChatID: chatID, UnreadCount: n})
}
