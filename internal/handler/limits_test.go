package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chatcore/internal/config"
)

func TestServeLimits(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{MaxPageSize: 50, GroupMemberCap: 8, GlobalMemberCap: 1000}}
	w := httptest.NewRecorder()
	ServeLimits(LimitsFromConfig(cfg))(w, httptest.NewRequest(http.MethodGet, "/api/config/limits", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["max_page_size"] != float64(50) || got["group_member_cap"] != float64(8) {
		t.Fatalf("limits = %v", got)
	}
	if rooms, ok := got["global_rooms"].([]any); !ok || len(rooms) != 0 {
		t.Fatalf("global_rooms = %v", got["global_rooms"])
	}
}
