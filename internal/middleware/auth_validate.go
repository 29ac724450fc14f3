package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
)

// AccountEnsurer создаёт аккаунт при первой аутентификации.
type AccountEnsurer interface {
	EnsureUser(ctx context.Context, id, displayName string, role model.Role) (*model.User, error)
}

// identity: ответ сервиса идентификации.
type identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// AuthServiceValidate вызывает внешний сервис идентификации для проверки сессии (X-Session-Id, X-Timestamp, X-Signature),
// затем заводит аккаунт в справочнике и кладёт пользователя в контекст. Заблокированные получают 403.
func AuthServiceValidate(authServiceURL string, client *http.Client, accounts AccountEnsurer) func(http.Handler) http.Handler {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	validateURL := strings.TrimSuffix(authServiceURL, "/") + "/internal/validate"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := headerOrQuery(r, "X-Session-Id", "session_id")
			timestamp := headerOrQuery(r, "X-Timestamp", "timestamp")
			signature := headerOrQuery(r, "X-Signature", "signature")
			if sessionID == "" || timestamp == "" || signature == "" {
				jsonError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			var body []byte
			if r.Body != nil {
				var err error
				body, err = io.ReadAll(r.Body)
				if err != nil {
					jsonError(w, http.StatusBadRequest, "bad request")
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}
			// Путь для подписи: только pathname (r.URL.Path), без query.
			jsonBody, _ := json.Marshal(map[string]string{
				"session_id": sessionID,
				"timestamp":  timestamp,
				"signature":  signature,
				"method":     r.Method,
				"path":       r.URL.Path,
				"body":       string(body),
			})
			req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, validateURL, bytes.NewReader(jsonBody))
			if err != nil {
				jsonError(w, http.StatusInternalServerError, "internal")
				return
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := client.Do(req)
			if err != nil {
				logger.Errorf("auth validate session_id=%s: %v", MaskSessionID(sessionID), err)
				jsonError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				jsonError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			var id identity
			if err := json.NewDecoder(resp.Body).Decode(&id); err != nil || id.UserID == "" {
				jsonError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			ctx := context.WithValue(r.Context(), SessionIDKey, sessionID)
			serveIdentified(w, r.WithContext(ctx), next, accounts, id)
		})
	}
}

// HeaderIdentity доверяет заголовкам X-User-Id / X-User-Name / X-User-Role.
// Только для -dev и -memory режима без сервиса идентификации.
func HeaderIdentity(accounts AccountEnsurer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identity{
				UserID:      strings.TrimSpace(r.Header.Get("X-User-Id")),
				DisplayName: r.Header.Get("X-User-Name"),
				Role:        r.Header.Get("X-User-Role"),
			}
			if id.UserID == "" {
				jsonError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			serveIdentified(w, r, next, accounts, id)
		})
	}
}

func serveIdentified(w http.ResponseWriter, r *http.Request, next http.Handler, accounts AccountEnsurer, id identity) {
	role := model.Role(id.Role)
	if !role.Valid() {
		role = model.RoleUser
	}
	u, err := accounts.EnsureUser(r.Context(), id.UserID, id.DisplayName, role)
	if err != nil {
		if errors.Is(err, apperr.ErrUnavailable) {
			jsonError(w, http.StatusServiceUnavailable, apperr.CodeOf(err))
			return
		}
		logger.Errorf("ensure user %s: %v", id.UserID, err)
		jsonError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if u.IsBanned() {
		jsonError(w, http.StatusForbidden, apperr.ErrUserBanned.Code)
		return
	}
	next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), u)))
}

func headerOrQuery(r *http.Request, header, query string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(query)
}

func jsonError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
