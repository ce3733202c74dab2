// Package server is the reference HTTP API the document client talks to.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"deptdocs/core/internal/auth"
	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/query"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, log *zap.Logger) *HTTPServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log}
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
		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "status": "not_ready", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ready"})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		s.handleLogin(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	principal, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}

	switch parts[1] {
	case "auth":
		if len(parts) == 3 && parts[2] == "register" && r.Method == http.MethodPost {
			s.handleCreateUser(w, r, principal)
			return
		}
	case "documents":
		s.handleDocuments(w, r, principal, parts[2:])
		return
	case "departments":
		s.handleDepartments(w, r, principal, parts[2:])
		return
	case "categories":
		s.handleCategories(w, r, principal, parts[2:])
		return
	case "users":
		s.handleUsers(w, r, principal, parts[2:])
		return
	case "search":
		if len(parts) == 2 && r.Method == http.MethodGet {
			s.handleSearch(w, r, principal)
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.KindValidationFailed), err.Error(), nil)
		return
	}
	result, err := s.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, p domain.Principal, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			docs, err := s.service.ListDocuments(ctx, p)
			s.respond(w, r, http.StatusOK, docs, err)
		case http.MethodPost:
			var in domain.DocumentInput
			if !s.decode(w, r, &in) {
				return
			}
			doc, err := s.service.CreateDocument(ctx, p, in)
			s.respond(w, r, http.StatusCreated, doc, err)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(rest) == 1 && rest[0] == "query" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var clauses []query.Clause
		if !s.decode(w, r, &clauses) {
			return
		}
		spec, err := query.FromValues(r.URL.Query(), clauses)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		page, err := s.service.QueryDocuments(ctx, p, spec)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, query.NewEnvelope(page, spec))
		return
	}

	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	id, ok := pathID(w, rest[0])
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		doc, err := s.service.GetDocument(ctx, p, id)
		s.respond(w, r, http.StatusOK, doc, err)
	case http.MethodPut, http.MethodPatch:
		var patch domain.DocumentPatch
		if !s.decode(w, r, &patch) {
			return
		}
		doc, err := s.service.UpdateDocument(ctx, p, id, patch)
		s.respond(w, r, http.StatusOK, doc, err)
	case http.MethodDelete:
		s.respondEmpty(w, r, s.service.DeleteDocument(ctx, p, id))
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleDepartments(w http.ResponseWriter, r *http.Request, p domain.Principal, rest []string) {
	ctx := r.Context()
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListDepartments(ctx, p)
			s.respond(w, r, http.StatusOK, items, err)
		case http.MethodPost:
			var in domain.DepartmentInput
			if !s.decode(w, r, &in) {
				return
			}
			item, err := s.service.CreateDepartment(ctx, p, in)
			s.respond(w, r, http.StatusCreated, item, err)
		default:
			methodNotAllowed(w)
		}
		return
	}
	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	id, ok := pathID(w, rest[0])
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		item, err := s.service.GetDepartment(ctx, p, id)
		s.respond(w, r, http.StatusOK, item, err)
	case http.MethodPut:
		var in domain.DepartmentInput
		if !s.decode(w, r, &in) {
			return
		}
		item, err := s.service.UpdateDepartment(ctx, p, id, in)
		s.respond(w, r, http.StatusOK, item, err)
	case http.MethodDelete:
		s.respondEmpty(w, r, s.service.DeleteDepartment(ctx, p, id))
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleCategories(w http.ResponseWriter, r *http.Request, p domain.Principal, rest []string) {
	ctx := r.Context()
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListCategories(ctx, p)
			s.respond(w, r, http.StatusOK, items, err)
		case http.MethodPost:
			var in domain.CategoryInput
			if !s.decode(w, r, &in) {
				return
			}
			item, err := s.service.CreateCategory(ctx, p, in)
			s.respond(w, r, http.StatusCreated, item, err)
		default:
			methodNotAllowed(w)
		}
		return
	}
	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	id, ok := pathID(w, rest[0])
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		item, err := s.service.GetCategory(ctx, p, id)
		s.respond(w, r, http.StatusOK, item, err)
	case http.MethodPut:
		var in domain.CategoryInput
		if !s.decode(w, r, &in) {
			return
		}
		item, err := s.service.UpdateCategory(ctx, p, id, in)
		s.respond(w, r, http.StatusOK, item, err)
	case http.MethodDelete:
		s.respondEmpty(w, r, s.service.DeleteCategory(ctx, p, id))
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, p domain.Principal, rest []string) {
	ctx := r.Context()
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			users, err := s.service.ListUsers(ctx, p)
			s.respond(w, r, http.StatusOK, users, err)
		case http.MethodPost:
			s.handleCreateUser(w, r, p)
		default:
			methodNotAllowed(w)
		}
		return
	}

	id, ok := pathID(w, rest[0])
	if !ok {
		return
	}

	// /api/users/{id}/departments/{departmentId}
	if len(rest) == 3 && rest[1] == "departments" {
		deptID, ok := pathID(w, rest[2])
		if !ok {
			return
		}
		switch r.Method {
		case http.MethodPut, http.MethodPost:
			user, err := s.service.AssignDepartment(ctx, p, id, deptID)
			s.respond(w, r, http.StatusOK, user, err)
		case http.MethodDelete:
			user, err := s.service.RemoveDepartment(ctx, p, id, deptID)
			s.respond(w, r, http.StatusOK, user, err)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := s.service.GetUser(ctx, p, id)
		s.respond(w, r, http.StatusOK, user, err)
	case http.MethodPut:
		var patch domain.UserPatch
		if !s.decode(w, r, &patch) {
			return
		}
		user, err := s.service.UpdateUser(ctx, p, id, patch)
		s.respond(w, r, http.StatusOK, user, err)
	case http.MethodDelete:
		s.respondEmpty(w, r, s.service.DeleteUser(ctx, p, id))
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleCreateUser(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	var in domain.UserInput
	if !s.decode(w, r, &in) {
		return
	}
	user, err := s.service.RegisterUser(r.Context(), p, in)
	s.respond(w, r, http.StatusCreated, user, err)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, string(domain.KindValidationFailed), "limit must be a positive number", nil)
			return
		}
		limit = parsed
	}
	docs, err := s.service.Search(r.Context(), p, q.Get("q"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": docs, "query": q.Get("q")})
}

func (s *HTTPServer) requirePrincipal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, string(domain.KindUnauthenticated), "Unauthorized", nil)
		return domain.Principal{}, false
	}
	principal, err := s.service.PrincipalFromToken(r.Context(), token)
	if err != nil {
		s.fail(w, r, err)
		return domain.Principal{}, false
	}
	return principal, true
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(w, r, target); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.KindValidationFailed), err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) respondEmpty(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Duration("duration", time.Since(started)),
		)
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

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
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

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body too large")
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
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

func pathID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, string(domain.KindValidationFailed), "invalid id", map[string]any{"id": raw})
		return 0, false
	}
	return id, true
}

// mapError turns an error into the wire envelope. The code is the domain
// error kind; anything unclassified is a 500 with a generic message.
func mapError(err error) (status int, code, message string, details any) {
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, string(domain.KindUnauthenticated), "Unauthorized", nil
	}
	var domainErr *domain.Error
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
	}
	switch domainErr.Kind {
	case domain.KindUnauthenticated:
		status = http.StatusUnauthorized
	case domain.KindForbidden:
		status = http.StatusForbidden
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindValidationFailed:
		status = http.StatusUnprocessableEntity
	case domain.KindRemoteUnavailable:
		status = http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
	}
	return status, string(domainErr.Kind), domainErr.Message, domainErr.Details
}
