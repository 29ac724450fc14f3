package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/service"
)

// AdminHandler exposes the moderation facade under /api/admin. The admin
// role is checked by the service against the stored account.
type AdminHandler struct {
	mod *service.Moderation
}

func NewAdminHandler(mod *service.Moderation) *AdminHandler {
	return &AdminHandler{mod: mod}
}

type ModerationRequest struct {
	Reason string `json:"reason"`
}

type RoleRequest struct {
	Role model.Role `json:"role"`
}

func (h *AdminHandler) BanUser(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, h.mod.BanUser)
}

func (h *AdminHandler) RestrictUser(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, h.mod.RestrictUser)
}

func (h *AdminHandler) moderate(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, callerID, userID, reason string) error) {
	var req ModerationRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeBadBody(w)
		return
	}
	if err := apply(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req.Reason); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

func (h *AdminHandler) ClearModeration(w http.ResponseWriter, r *http.Request) {
	h.reply(w, r, h.mod.ClearModeration(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id")))
}

func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadBody(w)
		return
	}
	h.reply(w, r, h.mod.SetRole(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req.Role))
}

func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	h.reply(w, r, h.mod.DeleteUser(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id")))
}

func (h *AdminHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	h.reply(w, r, h.mod.DeleteChat(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id")))
}

func (h *AdminHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	h.reply(w, r, h.mod.DeleteMessage(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id")))
}

func (h *AdminHandler) reply(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}
