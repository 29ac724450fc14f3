package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/service"
)

type ChatHandler struct {
	dir *service.Directory
}

func NewChatHandler(dir *service.Directory) *ChatHandler {
	return &ChatHandler{dir: dir}
}

type CreateChatRequest struct {
	Kind       model.ChatKind   `json:"kind"`
	Name       string           `json:"name"`
	Visibility model.Visibility `json:"visibility"`
	Cap        int              `json:"member_cap"`
	MemberIDs  []string         `json:"member_ids"`
}

type DirectChatRequest struct {
	UserID string `json:"user_id"`
}

type AddMemberRequest struct {
	UserID string `json:"user_id"`
}

func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadBody(w)
		return
	}
	chat, err := h.dir.CreateChat(r.Context(), middleware.GetUserID(r.Context()), service.CreateChatParams{
		Kind:       req.Kind,
		Name:       req.Name,
		Visibility: req.Visibility,
		Cap:        req.Cap,
		Members:    req.MemberIDs,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

// GetOrCreateDirect returns the caller's direct chat with user_id, creating it on first use.
func (h *ChatHandler) GetOrCreateDirect(w http.ResponseWriter, r *http.Request) {
	var req DirectChatRequest
	if err := decodeJSON(r, &req, false); err != nil || req.UserID == "" {
		writeBadBody(w)
		return
	}
	chat, err := h.dir.GetOrCreateDirectChat(r.Context(), middleware.GetUserID(r.Context()), req.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.dir.ListForUser(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *ChatHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.dir.ListGlobalRooms(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := h.dir.GetChat(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// AddMember adds user_id to the chat; an empty body joins the caller (global rooms).
func (h *ChatHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeBadBody(w)
		return
	}
	actorID := middleware.GetUserID(r.Context())
	if req.UserID == "" {
		req.UserID = actorID
	}
	chat, err := h.dir.AddParticipant(r.Context(), chi.URLParam(r, "id"), actorID, req.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *ChatHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	err := h.dir.RemoveParticipant(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), chi.URLParam(r, "userId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}
