package handler

import (
	"net/http"

	"github.com/chatcore/internal/config"
)

// Limits describes the public client-facing limits of the store.
type Limits struct {
	MaxPageSize     int      `json:"max_page_size"`
	GroupMemberCap  int      `json:"group_member_cap"`
	GlobalMemberCap int      `json:"global_member_cap"`
	GlobalRooms     []string `json:"global_rooms"`
}

// LimitsFromConfig копирует публичную часть конфигурации.
func LimitsFromConfig(cfg *config.Config) Limits {
	rooms := cfg.GlobalRooms
	if rooms == nil {
		rooms = []string{}
	}
	return Limits{
		MaxPageSize:     cfg.Store.MaxPageSize,
		GroupMemberCap:  cfg.Store.GroupMemberCap,
		GlobalMemberCap: cfg.Store.GlobalMemberCap,
		GlobalRooms:     rooms,
	}
}

// ServeLimits отдаёт лимиты без авторизации, чтобы клиент мог заранее резать запросы.
func ServeLimits(l Limits) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, l)
	}
}
