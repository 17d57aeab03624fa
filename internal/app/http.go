package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pinboard/api/internal/auth"
	"pinboard/api/internal/rbac"
	"pinboard/api/internal/store"
)

const maxBodyBytes = 1 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *logrus.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *logrus.Logger) *HTTPServer {
	if logger == nil {
		logger = service.log
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 3 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "boards":
		s.handleBoards(w, r, session, parts[2], parts[3:])
	case "lists":
		s.handleLists(w, r, session, parts[2], parts[3:])
	case "cards":
		s.handleCards(w, r, session, parts[2], parts[3:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleBoards(w http.ResponseWriter, r *http.Request, session Session, boardID string, rest []string) {
	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case rest[0] == "tree" && r.Method == http.MethodGet:
		if !s.authorize(w, session, rbac.ActionRead) {
			return
		}
		tree, err := s.service.Tree(r.Context(), boardID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tree)
	case rest[0] == "lists" && r.Method == http.MethodPost:
		if !s.authorize(w, session, rbac.ActionWrite) {
			return
		}
		body, err := decodeFields(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		title, position, err := createFields(body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		list, err := s.service.CreateList(r.Context(), boardID, title, position)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, list)
	case rest[0] == "tree" || rest[0] == "lists":
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleLists(w http.ResponseWriter, r *http.Request, session Session, listID string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if !s.authorize(w, session, rbac.ActionWrite) {
			return
		}
		if err := s.service.DeleteList(r.Context(), listID); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case rest[0] == "reorder" && r.Method == http.MethodPut:
		if !s.authorize(w, session, rbac.ActionWrite) {
			return
		}
		body, err := decodeFields(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		// Lists only reorder within their board.
		for _, field := range []string{"listId", "boardId", "containerId"} {
			if _, present := body[field]; present {
				s.writeServiceError(w, r, validationError(field+" is not accepted when reordering a list"))
				return
			}
		}
		move, err := listMoveFields(body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		list, err := s.service.ReorderList(r.Context(), listID, move)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case rest[0] == "cards" && r.Method == http.MethodPost:
		if !s.authorize(w, session, rbac.ActionWrite) {
			return
		}
		body, err := decodeFields(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		title, position, err := createFields(body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		card, err := s.service.CreateCard(r.Context(), listID, title, position)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, card)
	case rest[0] == "reorder" || rest[0] == "cards":
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleCards(w http.ResponseWriter, r *http.Request, session Session, cardID string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if !s.authorize(w, session, rbac.ActionWrite) {
			return
		}
		if err := s.service.DeleteCard(r.Context(), cardID); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(rest) != 1 || rest[0] != "reorder" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !s.authorize(w, session, rbac.ActionWrite) {
		return
	}
	body, err := decodeFields(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	move, err := cardMoveFields(body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	card, err := s.service.ReorderCard(r.Context(), cardID, move)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *HTTPServer) authorize(w http.ResponseWriter, session Session, action rbac.Action) bool {
	if s.service.Can(session.Role, action) {
		return true
	}
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	return false
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"request_id": requestIDFrom(r.Context()),
			"path":       r.URL.Path,
		}).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("http.request")
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// decodeFields reads a JSON object body and keeps each field raw so callers
// can tell a missing field from a zero value and reject non-integers.
func decodeFields(r *http.Request) (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if r.Body == nil {
		return fields, nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := decoder.Decode(&fields); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("invalid JSON body")
	}
	return fields, nil
}

func createFields(body map[string]json.RawMessage) (string, *int, error) {
	var title string
	if raw, ok := body["title"]; ok {
		if err := json.Unmarshal(raw, &title); err != nil {
			return "", nil, validationError("title must be a string")
		}
	}
	position, err := integerField(body, "position", false)
	if err != nil {
		return "", nil, err
	}
	return title, position, nil
}

func listMoveFields(body map[string]json.RawMessage) (ListMove, error) {
	position, err := integerField(body, "position", true)
	if err != nil {
		return ListMove{}, err
	}
	version, err := integerField(body, "version", false)
	if err != nil {
		return ListMove{}, err
	}
	return ListMove{Position: *position, Version: version}, nil
}

func cardMoveFields(body map[string]json.RawMessage) (CardMove, error) {
	position, err := integerField(body, "position", true)
	if err != nil {
		return CardMove{}, err
	}
	version, err := integerField(body, "version", false)
	if err != nil {
		return CardMove{}, err
	}
	move := CardMove{Position: *position, Version: version}
	// containerId is accepted as an alias of listId.
	for _, field := range []string{"listId", "containerId"} {
		raw, ok := body[field]
		if !ok || isJSONNull(raw) {
			continue
		}
		var listID string
		if err := json.Unmarshal(raw, &listID); err != nil {
			return CardMove{}, validationError(field + " must be a string")
		}
		if err := validateID(field, listID); err != nil {
			return CardMove{}, err
		}
		if move.ListID != "" && move.ListID != listID {
			return CardMove{}, validationError("listId and containerId disagree")
		}
		move.ListID = listID
	}
	return move, nil
}

// integerField accepts only a bare JSON integer in [0, maxPosition]. Floats,
// numeric strings and exponents are rejected.
func integerField(body map[string]json.RawMessage, field string, required bool) (*int, error) {
	raw, ok := body[field]
	if !ok || isJSONNull(raw) {
		if required {
			return nil, validationError(field + " is required")
		}
		return nil, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if errors.Is(err, strconv.ErrRange) || value > maxPosition {
		return nil, validationError(fmt.Sprintf("%s must be between 0 and %d", field, maxPosition))
	}
	if err != nil {
		return nil, validationError(field + " must be an integer")
	}
	if value < 0 {
		return nil, validationError(field + " must be a non-negative integer")
	}
	return &value, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
