// Package httpapi exposes builders, selections and ZIM packaging over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"SelectionBuilder/internal/config"
	"SelectionBuilder/internal/domain"
	"SelectionBuilder/internal/logging"
	"SelectionBuilder/internal/usecase"
	"SelectionBuilder/internal/zimtask"
)

// Builders is the builder use case surface used by the API.
type Builders interface {
	CreateOrUpdate(ctx context.Context, userID, builderID string, draft domain.BuilderDraft) (string, error)
	Get(ctx context.Context, userID, builderID string) (domain.BuilderView, error)
	List(ctx context.Context, userID string) ([]domain.Builder, error)
	Delete(ctx context.Context, userID, builderID string) (bool, error)
	LatestSelectionURL(ctx context.Context, builderID, ext string) (string, error)
	LatestArticleCount(ctx context.Context, userID, builderID string) (domain.ArticleCountView, error)
}

// Packaging is the ZIM use case surface used by the API.
type Packaging interface {
	Schedule(ctx context.Context, userID, builderID string, desc usecase.ZimDescription) (string, error)
	HandleCallback(ctx context.Context, cb zimtask.Callback) error
	Status(ctx context.Context, userID, builderID string) (domain.ZimStatusView, error)
	LatestZimURL(ctx context.Context, builderID string) (string, error)
}

// Deps wires the server.
type Deps struct {
	Builders  Builders
	Packaging Packaging
	// Files serves stored selection files, if set.
	Files     http.Handler
	Server    config.ServerConfig
	HookToken string
	Logger    *slog.Logger
}

// Server is the HTTP front of the service.
type Server struct {
	builders   Builders
	packaging  Packaging
	apiToken   string
	hookToken  string
	userHeader string
	logger     *slog.Logger
	handler    http.Handler
}

// New builds the route table.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	userHeader := deps.Server.UserHeader
	if userHeader == "" {
		userHeader = "X-Authenticated-User"
	}

	s := &Server{
		builders:   deps.Builders,
		packaging:  deps.Packaging,
		apiToken:   deps.Server.APIToken,
		hookToken:  deps.HookToken,
		userHeader: userHeader,
		logger:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /v1/builders/{$}", s.authenticated(s.handleList))
	mux.HandleFunc("POST /v1/builders/{$}", s.authenticated(s.handleCreate))
	mux.HandleFunc("POST /v1/builders/{id}", s.authenticated(s.handleUpdate))
	mux.HandleFunc("GET /v1/builders/{id}", s.authenticated(s.handleGet))
	mux.HandleFunc("POST /v1/builders/{id}/delete", s.authenticated(s.handleDelete))
	mux.HandleFunc("GET /v1/builders/{id}/selection/{file}", s.handleLatestSelection)
	mux.HandleFunc("GET /v1/builders/{id}/selection/latest/article_count", s.authenticated(s.handleArticleCount))
	mux.HandleFunc("POST /v1/builders/{id}/zim", s.authenticated(s.handleCreateZim))
	mux.HandleFunc("GET /v1/builders/{id}/zim/status", s.authenticated(s.handleZimStatus))
	mux.HandleFunc("GET /v1/builders/{id}/zim/latest", s.handleLatestZim)
	mux.HandleFunc("POST /v1/builders/zim/status", s.handleZimCallback)

	if deps.Files != nil {
		mux.Handle("GET /files/", http.StripPrefix("/files", deps.Files))
	}

	s.handler = mux
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, bind string) error {
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", "address", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api serve: %w", err)
	}
	return nil
}

type userKey struct{}

// authenticated requires the proxy-provided user header and, when an API
// token is configured, a matching bearer token.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken != "" {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.apiToken {
				s.writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
		}
		user := strings.TrimSpace(r.Header.Get(s.userHeader))
		if user == "" {
			s.writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	}
}

func userFrom(r *http.Request) string {
	user, _ := r.Context().Value(userKey{}).(string)
	return user
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, messages ...string) {
	s.writeJSON(w, status, map[string][]string{"error_messages": messages})
}

// writeServiceError maps use case errors onto statuses. Ownership
// mismatches on reads use forbidden, which differs per route.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, forbidden int) {
	var (
		validation *domain.ValidationError
		quota      *domain.QuotaExceededError
		external   *domain.ExternalServiceError
		malformed  *domain.MalformedCallbackError
	)

	switch {
	case errors.As(err, &validation):
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"items":   validation.Result,
		})
	case errors.Is(err, domain.ErrUnknownModel):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, domain.ErrUnauthorized):
		s.writeError(w, forbidden, "Not authorized to perform this operation on that builder")
	case errors.As(err, &quota):
		s.writeError(w, http.StatusBadRequest, quota.UserMessage())
	case errors.As(err, &external):
		messages := []string{external.Error()}
		if cause := external.Unwrap(); cause != nil {
			messages = append(messages, cause.Error())
		}
		s.logger.Error("external service failure", "path", r.URL.Path, "error", err, "cause", external.Unwrap())
		s.writeError(w, http.StatusInternalServerError, messages...)
	case errors.As(err, &malformed):
		s.writeError(w, http.StatusBadRequest, malformed.Error())
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal error")
	}
}
