package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"SelectionBuilder/internal/domain"
	"SelectionBuilder/internal/usecase"
	"SelectionBuilder/internal/zimtask"
)

const maxBodyBytes = 4 << 20

type builderRequest struct {
	Name    string        `json:"name"`
	Project string        `json:"project"`
	Model   string        `json:"model"`
	Params  domain.Params `json:"params"`
}

type zimRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	LongDescription string `json:"long_description"`
}

type builderSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Project   string `json:"project"`
	Model     string `json:"model"`
	Version   int    `json:"version"`
	UpdatedAt int64  `json:"updated_at"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	builders, err := s.builders.List(r.Context(), userFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusUnauthorized)
		return
	}
	items := make([]builderSummary, 0, len(builders))
	for _, b := range builders {
		items = append(items, builderSummary{
			ID:        b.ID,
			Name:      b.Name,
			Project:   b.Project,
			Model:     b.Model,
			Version:   b.Version,
			UpdatedAt: b.UpdatedAt.Unix(),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"builders": items})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.saveBuilder(w, r, "")
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	s.saveBuilder(w, r, r.PathValue("id"))
}

func (s *Server) saveBuilder(w http.ResponseWriter, r *http.Request, builderID string) {
	var req builderRequest
	if !s.decode(w, r, &req) {
		return
	}

	id, err := s.builders.CreateOrUpdate(r.Context(), userFrom(r), builderID, domain.BuilderDraft{
		Name:    req.Name,
		Project: req.Project,
		Model:   req.Model,
		Params:  req.Params,
	})
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"items":   map[string]string{"id": id},
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := s.builders.Get(r.Context(), userFrom(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusUnauthorized)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ok, err := s.builders.Delete(r.Context(), userFrom(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusNotFound)
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "Not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "204"})
}

func (s *Server) handleLatestSelection(w http.ResponseWriter, r *http.Request) {
	ext, ok := strings.CutPrefix(r.PathValue("file"), "latest.")
	if !ok || ext == "" {
		s.writeError(w, http.StatusNotFound, "Not found")
		return
	}

	url, err := s.builders.LatestSelectionURL(r.Context(), r.PathValue("id"), ext)
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusNotFound)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleArticleCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.builders.LatestArticleCount(r.Context(), userFrom(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusForbidden)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"selection": count})
}

func (s *Server) handleCreateZim(w http.ResponseWriter, r *http.Request) {
	var req zimRequest
	if !s.decode(w, r, &req) {
		return
	}

	var problems []string
	if strings.TrimSpace(req.Title) == "" {
		problems = append(problems, "Title is required for ZIM file")
	}
	if strings.TrimSpace(req.Description) == "" {
		problems = append(problems, "Description is required for ZIM file")
	}
	if len(problems) > 0 {
		s.writeError(w, http.StatusBadRequest, problems...)
		return
	}

	_, err := s.packaging.Schedule(r.Context(), userFrom(r), r.PathValue("id"), usecase.ZimDescription{
		Title:           req.Title,
		Description:     req.Description,
		LongDescription: req.LongDescription,
	})
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleZimStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.packaging.Status(r.Context(), userFrom(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusUnauthorized)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLatestZim(w http.ResponseWriter, r *http.Request) {
	url, err := s.packaging.LatestZimURL(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err, http.StatusNotFound)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// handleZimCallback receives farm webhooks. Anything the farm could retry
// forever on, such as an unknown task id, is answered with 204.
func (s *Server) handleZimCallback(w http.ResponseWriter, r *http.Request) {
	if s.hookToken != "" && r.URL.Query().Get("token") != s.hookToken {
		s.logger.Warn("zim callback with bad token", "remote", r.RemoteAddr)
		s.writeError(w, http.StatusForbidden, "Forbidden")
		return
	}

	var cb zimtask.Callback
	if !s.decode(w, r, &cb) {
		return
	}

	if err := s.packaging.HandleCallback(r.Context(), cb); err != nil {
		s.writeServiceError(w, r, err, http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
