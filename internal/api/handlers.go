package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/baduk1/threadsync/internal/store"
	"github.com/baduk1/threadsync/pkg/thread"
)

// CreateRequest is the body of POST /api/projects/{project}/comments.
type CreateRequest struct {
	ContextType thread.ContextType `json:"context_type"`
	ContextID   string             `json:"context_id"`
	Body        string             `json:"body"`
	ParentID    *int64             `json:"parent_id,omitempty"`
}

// UpdateRequest is the body of PATCH /api/projects/{project}/comments/{id}.
type UpdateRequest struct {
	Body string `json:"body"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "redis": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	user, err := s.store.GetUser(r.Context(), claims.UserID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	query := r.URL.Query()
	key := thread.NewKey(mux.Vars(r)["project"], thread.ContextType(query.Get("context_type")), query.Get("context_id"))
	if err := key.Validate(); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.RequireMember(r.Context(), key.ProjectID, claims.UserID); err != nil {
		s.writeStoreError(w, err)
		return
	}

	comments, err := s.store.ListComments(r.Context(), key)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req CreateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.limiter.Allow(claims.UserID) {
		writeDetail(w, http.StatusTooManyRequests, "You are posting too quickly, try again shortly")
		return
	}

	author, err := s.store.GetUser(r.Context(), claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		user := claims.User()
		author = &user
	} else if err != nil {
		s.writeStoreError(w, err)
		return
	}

	key := thread.NewKey(mux.Vars(r)["project"], req.ContextType, req.ContextID)
	comment, err := s.store.CreateComment(r.Context(), *author, key, req.Body, req.ParentID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.logger.Info().
		Str("project", key.ProjectID).
		Str("context_type", string(key.Context.Type)).
		Str("context_id", key.Context.ID).
		Str("comment_id", comment.ID.String()).
		Msg("Comment created")
	writeJSON(w, http.StatusCreated, comment)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id, err := commentID(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	var req UpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	comment, err := s.store.UpdateComment(r.Context(), claims.UserID, mux.Vars(r)["project"], id, req.Body)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comment)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id, err := commentID(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.DeleteComment(r.Context(), claims.UserID, mux.Vars(r)["project"], id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func commentID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid comment id: %q", mux.Vars(r)["id"])
	}
	return id, nil
}

// writeStoreError reports store rejections with their detail. Anything else
// is logged and hidden behind a generic 500.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		writeDetail(w, store.StatusOf(err), storeErr.Detail)
		return
	}
	s.logger.Error().Err(err).Msg("Request failed")
	writeDetail(w, http.StatusInternalServerError, "Internal server error")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
