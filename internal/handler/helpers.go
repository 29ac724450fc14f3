package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status string `json:"status"`
}

var okResponse = statusResponse{Status: "ok"}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code})
}

// writeServiceError maps a core error to a status; the body carries only the code.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	code := apperr.CodeOf(err)
	if code == "" {
		code = "internal"
	}
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeError(w, status, code)
}

func statusOf(err error) int {
	if errors.Is(err, apperr.ErrInvalidPayload) {
		return http.StatusBadRequest
	}
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAccessDenied:
		return http.StatusForbidden
	case apperr.KindInvalidState, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a JSON body. With optional set an empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func writeBadBody(w http.ResponseWriter) {
	writeError(w, http.StatusBadRequest, apperr.ErrInvalidPayload.Code)
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
