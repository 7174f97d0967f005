package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"folio/api/internal/auth"
	"folio/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
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
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/login" {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Email, body.Password)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     session.Token,
			"userId":    session.UserID,
			"userName":  session.UserName,
			"expiresAt": session.ExpiresAt,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.UserName,
			"userId":        session.UserID,
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "workspaces" {
		workspaceID := parts[2]
		viewer, err := s.service.ViewerFor(r.Context(), workspaceID, session.UserID, editSessionToken(r))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		s.handleWorkspace(w, r, viewer, parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleWorkspace(w http.ResponseWriter, r *http.Request, viewer Viewer, parts []string) {
	// GET /events
	if len(parts) == 1 && parts[0] == "events" && r.Method == http.MethodGet {
		limit := queryInt(r, "limit", 50)
		items, err := s.service.ListWorkspaceEvents(r.Context(), viewer, limit)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": items})
		return
	}

	// POST /branches: fetch or create the caller's active branch
	if len(parts) == 1 && parts[0] == "branches" && r.Method == http.MethodPost {
		branch, err := s.service.FetchOrCreateActiveBranch(r.Context(), viewer.WorkspaceID, viewer.UserID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"branch": branch})
		return
	}

	// DELETE /branches/{id}
	if len(parts) == 2 && parts[0] == "branches" && r.Method == http.MethodDelete {
		if err := s.service.DeactivateUserBranch(r.Context(), viewer, parts[1]); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// GET /branches/{id}/commits
	if len(parts) == 3 && parts[0] == "branches" && parts[2] == "commits" && r.Method == http.MethodGet {
		items, err := s.service.ListBranchCommits(r.Context(), viewer, parts[1])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": items})
		return
	}

	// POST /commits: snapshot staged edits
	// POST /commits/push: snapshot and promote drafts to pushed
	if len(parts) >= 1 && parts[0] == "commits" && r.Method == http.MethodPost && (len(parts) == 1 || (len(parts) == 2 && parts[1] == "push")) {
		var body struct {
			Message string `json:"message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		var commit *store.Commit
		var err error
		if len(parts) == 2 {
			commit, err = s.service.CreateCommitFromUserBranch(r.Context(), viewer, body.Message)
		} else {
			commit, err = s.service.CreateCommit(r.Context(), viewer, body.Message)
		}
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commit": commit})
		return
	}

	// GET /commits/{id}/diffs
	if len(parts) == 3 && parts[0] == "commits" && parts[2] == "diffs" && r.Method == http.MethodGet {
		docs, cats, err := s.service.GetCommitDiffs(r.Context(), viewer, parts[1])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documentDiffs": docs, "categoryDiffs": cats})
		return
	}

	if len(parts) >= 1 && parts[0] == "documents" {
		s.handleDocuments(w, r, viewer, parts[1:])
		return
	}
	if len(parts) >= 1 && parts[0] == "categories" {
		s.handleCategories(w, r, viewer, parts[1:])
		return
	}
	if len(parts) >= 1 && parts[0] == "pull-requests" {
		s.handlePullRequests(w, r, viewer, parts[1:])
		return
	}
	if len(parts) >= 1 && parts[0] == "fix-requests" {
		s.handleFixRequests(w, r, viewer, parts[1:])
		return
	}

	// GET /attachments/{id}/url
	if len(parts) == 3 && parts[0] == "attachments" && parts[2] == "url" && r.Method == http.MethodGet {
		url, err := s.service.AttachmentURL(r.Context(), viewer, parts[1])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": url})
		return
	}

	// GET /search
	if len(parts) == 1 && parts[0] == "search" && r.Method == http.MethodGet {
		payload, err := s.service.Search(r.Context(), viewer, SearchInput{
			Text:       r.URL.Query().Get("q"),
			Type:       strings.TrimSpace(r.URL.Query().Get("type")),
			CategoryID: strings.TrimSpace(r.URL.Query().Get("categoryId")),
			Limit:      queryInt(r, "limit", 20),
			Offset:     queryInt(r, "offset", 0),
		})
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// GET /mirror/history
	if len(parts) == 2 && parts[0] == "mirror" && parts[1] == "history" && r.Method == http.MethodGet {
		items, err := s.service.MirrorHistory(r.Context(), viewer, queryInt(r, "limit", 50))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": items})
		return
	}

	// GET /mirror/snapshots/{hash}
	if len(parts) == 3 && parts[0] == "mirror" && parts[1] == "snapshots" && r.Method == http.MethodGet {
		snapshot, err := s.service.MirrorSnapshot(r.Context(), viewer, parts[2])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
		return
	}

	// DELETE /edit-sessions: revoke the token the request carries
	if len(parts) == 1 && parts[0] == "edit-sessions" && r.Method == http.MethodDelete {
		token := editSessionToken(r)
		if token == "" {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "No edit session token", nil)
			return
		}
		if err := s.service.RevokeEditSession(r.Context(), viewer, token); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, viewer Viewer, parts []string) {
	if len(parts) == 0 && r.Method == http.MethodPost {
		var body CreateDocumentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		version, err := s.service.CreateDocument(r.Context(), viewer, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"document": version})
		return
	}

	if len(parts) == 1 {
		entityID := parts[0]
		switch r.Method {
		case http.MethodGet:
			version, err := s.service.GetDocument(r.Context(), viewer, entityID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"document": version})
		case http.MethodPut:
			var body UpdateDocumentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			version, err := s.service.UpdateDocument(r.Context(), viewer, entityID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"document": version})
		case http.MethodDelete:
			version, err := s.service.DeleteDocument(r.Context(), viewer, entityID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"document": version})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// POST /documents/{id}/move
	if len(parts) == 2 && parts[1] == "move" && r.Method == http.MethodPost {
		var body struct {
			Position int `json:"position"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.MoveDocument(r.Context(), viewer, parts[0], body.Position)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"moved": result.Moved, "shifted": result.Shifted})
		return
	}

	// GET/POST /documents/{id}/attachments
	if len(parts) == 2 && parts[1] == "attachments" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListDocumentAttachments(r.Context(), viewer, parts[0])
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"attachments": items})
		case http.MethodPost:
			filename := strings.TrimSpace(r.URL.Query().Get("filename"))
			att, err := s.service.UploadAttachment(r.Context(), viewer, parts[0], filename, r.Header.Get("Content-Type"), r.Body, r.ContentLength)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"attachment": att})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleCategories(w http.ResponseWriter, r *http.Request, viewer Viewer, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListCategories(r.Context(), viewer, strings.TrimSpace(r.URL.Query().Get("parent")))
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"categories": items})
		case http.MethodPost:
			var body CreateCategoryInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			version, err := s.service.CreateCategory(r.Context(), viewer, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"category": version})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 1 {
		entityID := parts[0]
		switch r.Method {
		case http.MethodGet:
			version, err := s.service.GetCategory(r.Context(), viewer, entityID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"category": version})
		case http.MethodPut:
			var body UpdateCategoryInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			version, err := s.service.UpdateCategory(r.Context(), viewer, entityID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"category": version})
		case http.MethodDelete:
			version, err := s.service.DeleteCategory(r.Context(), viewer, entityID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"category": version})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// GET /categories/{id}/documents
	if len(parts) == 2 && parts[1] == "documents" && r.Method == http.MethodGet {
		items, err := s.service.ListCategoryDocuments(r.Context(), viewer, parts[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": items})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePullRequests(w http.ResponseWriter, r *http.Request, viewer Viewer, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListPullRequests(r.Context(), viewer)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"pullRequests": items})
		case http.MethodPost:
			var body struct {
				Title       string   `json:"title"`
				ReviewerIDs []string `json:"reviewerIds"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			pr, conflicts, err := s.service.OpenPullRequest(r.Context(), viewer, body.Title, body.ReviewerIDs)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"pullRequest": pr, "conflicts": conflicts})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 1 && r.Method == http.MethodGet {
		pr, err := s.service.GetPullRequest(r.Context(), viewer, parts[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pullRequest": pr})
		return
	}

	if len(parts) == 2 {
		pullRequestID := parts[0]
		switch {
		case parts[1] == "conflicts" && r.Method == http.MethodGet:
			pr, conflicts, err := s.service.DetectConflicts(r.Context(), viewer, pullRequestID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"pullRequest": pr, "conflicts": conflicts})
		case parts[1] == "resolve" && r.Method == http.MethodPost:
			var body ResolveConflictInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			pr, conflicts, err := s.service.ResolveConflict(r.Context(), viewer, pullRequestID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"pullRequest": pr, "conflicts": conflicts})
		case parts[1] == "approve" && r.Method == http.MethodPost:
			if err := s.service.ApprovePullRequest(r.Context(), viewer, pullRequestID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		case parts[1] == "merge" && r.Method == http.MethodPost:
			pr, err := s.service.MergePullRequest(r.Context(), viewer, pullRequestID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"pullRequest": pr})
		case parts[1] == "close" && r.Method == http.MethodPost:
			pr, err := s.service.ClosePullRequest(r.Context(), viewer, pullRequestID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"pullRequest": pr})
		case parts[1] == "activity" && r.Method == http.MethodGet:
			items, err := s.service.ListPullRequestActivity(r.Context(), viewer, pullRequestID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"activity": items})
		case parts[1] == "reviewers" && r.Method == http.MethodGet:
			items, err := s.service.ListPullRequestReviewers(r.Context(), viewer, pullRequestID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"reviewers": items})
		case parts[1] == "fix-requests" && r.Method == http.MethodPost:
			var body struct {
				Comment string           `json:"comment"`
				Targets []FixTargetInput `json:"targets"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			fr, err := s.service.CreateFixRequest(r.Context(), viewer, pullRequestID, body.Comment, body.Targets)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"fixRequest": fr})
		case parts[1] == "edit-sessions" && r.Method == http.MethodPost:
			var body struct {
				FixRequestToken string `json:"fixRequestToken"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			token, sess, err := s.service.CreateEditSession(r.Context(), viewer, pullRequestID, body.FixRequestToken)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"token": token, "session": sess})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleFixRequests(w http.ResponseWriter, r *http.Request, viewer Viewer, parts []string) {
	if len(parts) == 1 && r.Method == http.MethodGet {
		fr, targets, err := s.service.GetFixRequest(r.Context(), viewer, parts[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fixRequest": fr, "targets": targets})
		return
	}
	if len(parts) == 2 && r.Method == http.MethodPost {
		switch parts[1] {
		case "applied":
			fr, err := s.service.MarkFixRequestApplied(r.Context(), viewer, parts[0])
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"fixRequest": fr})
			return
		case "archive":
			fr, err := s.service.ArchiveFixRequest(r.Context(), viewer, parts[0])
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"fixRequest": fr})
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
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

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Edit-Session")
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

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
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

func editSessionToken(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Edit-Session"))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
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
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
