package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"SelectionBuilder/internal/domain"
	"SelectionBuilder/internal/logging"
	"SelectionBuilder/internal/model"
	"SelectionBuilder/internal/ports"
)

// BuilderDeps wires the driven adapters used by builder operations.
type BuilderDeps struct {
	Builders   ports.BuilderRepository
	Selections ports.SelectionRepository
	Queue      ports.JobQueue
	Store      ports.ObjectStore
	Models     *model.Registry
	Logger     *slog.Logger
}

// BuilderService creates, reads and deletes builders and answers
// questions about their selections.
type BuilderService struct {
	builders   ports.BuilderRepository
	selections ports.SelectionRepository
	queue      ports.JobQueue
	store      ports.ObjectStore
	models     *model.Registry
	logger     *slog.Logger
	newID      func() string
}

// NewBuilderService constructs the builder use cases.
func NewBuilderService(deps BuilderDeps) *BuilderService {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &BuilderService{
		builders:   deps.Builders,
		selections: deps.Selections,
		queue:      deps.Queue,
		store:      deps.Store,
		models:     deps.Models,
		logger:     logger,
		newID:      uuid.NewString,
	}
}

// CreateOrUpdate validates draft, persists it and queues materialization.
// An empty builderID creates a new builder. Updating a builder that is
// missing, deleted or owned by someone else yields domain.ErrNotFound.
func (s *BuilderService) CreateOrUpdate(ctx context.Context, userID, builderID string, draft domain.BuilderDraft) (string, error) {
	if missing := draft.Missing(); len(missing) > 0 {
		return "", &domain.ValidationError{Result: domain.ValidationResult{
			Errors: []string{"Missing required fields: " + strings.Join(missing, ", ")},
		}}
	}

	m, err := s.models.Resolve(draft.Model)
	if err != nil {
		return "", err
	}

	result := m.Validate(ctx, draft.Project, draft.Params)
	if !result.OK() {
		return "", &domain.ValidationError{Result: result}
	}

	b := domain.Builder{
		ID:      builderID,
		Name:    strings.TrimSpace(draft.Name),
		UserID:  userID,
		Project: strings.TrimSpace(draft.Project),
		Model:   m.Name(),
		Params:  draft.Params,
	}

	if builderID == "" {
		b.ID = s.newID()
		if err := s.builders.CreateBuilder(ctx, b); err != nil {
			return "", fmt.Errorf("create builder: %w", err)
		}
	} else {
		ok, err := s.builders.UpdateBuilder(ctx, b)
		if err != nil {
			return "", fmt.Errorf("update builder %s: %w", builderID, err)
		}
		if !ok {
			s.logger.Warn("builder update matched nothing", "builder_id", builderID, "user_id", userID)
			return "", domain.ErrNotFound
		}
	}

	if err := s.queue.EnqueueMaterialize(ctx, m.Name(), b.ID, domain.ContentTypeTSV); err != nil {
		return "", fmt.Errorf("enqueue materialize %s: %w", b.ID, err)
	}
	s.logger.Info("builder saved", "builder_id", b.ID, "model", m.Name(), "created", builderID == "")
	return b.ID, nil
}

// Get returns the owner's view of a builder.
func (s *BuilderService) Get(ctx context.Context, userID, builderID string) (domain.BuilderView, error) {
	b, err := s.owned(ctx, userID, builderID)
	if err != nil {
		return domain.BuilderView{}, err
	}

	params := b.Params
	if m, err := s.models.Resolve(b.Model); err == nil {
		params = m.PublicParams(b.Params)
	}

	selectionErrors, err := s.selections.LatestSelectionsWithErrors(ctx, b.ID)
	if err != nil {
		return domain.BuilderView{}, fmt.Errorf("load selection errors: %w", err)
	}

	return domain.BuilderView{
		ID:              b.ID,
		Name:            b.Name,
		Project:         b.Project,
		Model:           b.Model,
		Params:          params,
		Version:         b.Version,
		CreatedAt:       b.CreatedAt.Unix(),
		UpdatedAt:       b.UpdatedAt.Unix(),
		SelectionErrors: selectionErrors,
	}, nil
}

// List returns the live builders of userID.
func (s *BuilderService) List(ctx context.Context, userID string) ([]domain.Builder, error) {
	return s.builders.ListBuilders(ctx, userID)
}

// Delete soft-deletes an owned builder and reports whether anything changed.
func (s *BuilderService) Delete(ctx context.Context, userID, builderID string) (bool, error) {
	ok, err := s.builders.DeleteBuilder(ctx, userID, builderID)
	if err != nil {
		return false, fmt.Errorf("delete builder %s: %w", builderID, err)
	}
	if !ok {
		s.logger.Warn("builder delete matched nothing", "builder_id", builderID, "user_id", userID)
	}
	return ok, nil
}

// LatestSelectionURL locates the newest usable selection file for ext.
func (s *BuilderService) LatestSelectionURL(ctx context.Context, builderID, ext string) (string, error) {
	contentType, ok := domain.ContentTypeForExt(ext)
	if !ok {
		return "", domain.ErrNotFound
	}

	b, err := s.builders.GetBuilder(ctx, builderID)
	if err != nil {
		return "", fmt.Errorf("get builder %s: %w", builderID, err)
	}
	if b == nil {
		return "", domain.ErrNotFound
	}

	sel, err := s.selections.LatestSelection(ctx, builderID, contentType)
	if err != nil {
		return "", fmt.Errorf("latest selection: %w", err)
	}
	if sel == nil || sel.ObjectKey == "" {
		return "", domain.ErrNotFound
	}
	return s.store.URL(sel.ObjectKey), nil
}

// LatestArticleCount lets the owner check a selection against the
// packaging ceiling before submitting it.
func (s *BuilderService) LatestArticleCount(ctx context.Context, userID, builderID string) (domain.ArticleCountView, error) {
	b, err := s.owned(ctx, userID, builderID)
	if err != nil {
		return domain.ArticleCountView{}, err
	}

	sel, err := s.selections.LatestSelection(ctx, b.ID, domain.ContentTypeTSV)
	if err != nil {
		return domain.ArticleCountView{}, fmt.Errorf("latest selection: %w", err)
	}
	if sel == nil {
		return domain.ArticleCountView{}, domain.ErrNotFound
	}

	return domain.ArticleCountView{
		SelectionID:     sel.ID,
		ArticleCount:    sel.ArticleCount,
		MaxArticleCount: domain.MaxZimArticleCount,
	}, nil
}

// owned loads a builder for a read. A foreign builder is reported as
// unauthorized, a missing one as not found.
func (s *BuilderService) owned(ctx context.Context, userID, builderID string) (*domain.Builder, error) {
	return loadOwned(ctx, s.builders, s.logger, userID, builderID)
}

func loadOwned(ctx context.Context, repo ports.BuilderRepository, logger *slog.Logger, userID, builderID string) (*domain.Builder, error) {
	b, err := repo.GetBuilder(ctx, builderID)
	if err != nil {
		return nil, fmt.Errorf("get builder %s: %w", builderID, err)
	}
	if b == nil {
		return nil, domain.ErrNotFound
	}
	if !b.OwnedBy(userID) {
		logger.Warn("builder ownership mismatch", "builder_id", builderID, "user_id", userID, "owner", b.UserID)
		return nil, domain.ErrUnauthorized
	}
	return b, nil
}
