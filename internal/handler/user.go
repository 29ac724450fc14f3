package handler

import (
	"net/http"

	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/service"
)

type UserHandler struct {
	accounts *service.Accounts
}

func NewUserHandler(accounts *service.Accounts) *UserHandler {
	return &UserHandler{accounts: accounts}
}

type OnlineRequest struct {
	Online bool `json:"online"`
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.GetUser(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// SetOnline records the client's presence; clients call it when they start and stop polling.
func (h *UserHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var req OnlineRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadBody(w)
		return
	}
	if err := h.accounts.SetOnline(r.Context(), middleware.GetUserID(r.Context()), req.Online); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}
