package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"SelectionBuilder/internal/domain"
	"SelectionBuilder/internal/logging"
	"SelectionBuilder/internal/model"
	"SelectionBuilder/internal/ports"
)

// MaterializeDeps wires the adapters used to turn builders into selections.
type MaterializeDeps struct {
	Builders   ports.BuilderRepository
	Selections ports.SelectionRepository
	Store      ports.ObjectStore
	Models     *model.Registry
	Logger     *slog.Logger
}

// MaterializeService runs a builder's model and stores the result as a
// selection of the builder's current version.
type MaterializeService struct {
	builders   ports.BuilderRepository
	selections ports.SelectionRepository
	store      ports.ObjectStore
	models     *model.Registry
	logger     *slog.Logger
	newID      func() string
}

// NewMaterializeService constructs the materialization use case.
func NewMaterializeService(deps MaterializeDeps) *MaterializeService {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &MaterializeService{
		builders:   deps.Builders,
		selections: deps.Selections,
		store:      deps.Store,
		models:     deps.Models,
		logger:     logger,
		newID:      uuid.NewString,
	}
}

// SelectionKey is the object key of a builder version's selection file.
func SelectionKey(builderID string, version int, ext string) string {
	return fmt.Sprintf("selections/%s/%d.%s", builderID, version, ext)
}

// Materialize produces the selection for the builder's current version.
// Model failures are recorded on the selection so the owner can see them.
// Upstream outages are returned instead, as are all other errors worth retrying.
func (s *MaterializeService) Materialize(ctx context.Context, builderID, contentType string) error {
	ext := domain.ExtForContentType(contentType)
	if ext == "" {
		s.logger.Warn("unsupported content type", "builder_id", builderID, "content_type", contentType)
		return nil
	}

	b, err := s.builders.GetBuilder(ctx, builderID)
	if err != nil {
		return fmt.Errorf("get builder %s: %w", builderID, err)
	}
	if b == nil {
		s.logger.Info("skipping materialization of missing builder", "builder_id", builderID)
		return nil
	}

	latest, err := s.selections.LatestSelection(ctx, b.ID, contentType)
	if err != nil {
		return fmt.Errorf("latest selection: %w", err)
	}
	if latest != nil && latest.Version >= b.Version {
		s.logger.Debug("selection already materialized", "builder_id", b.ID, "version", b.Version)
		return nil
	}

	sel := domain.Selection{
		ID:          s.newID(),
		BuilderID:   b.ID,
		ContentType: contentType,
		Version:     b.Version,
	}

	titles, genErr := s.generate(ctx, *b)
	if errors.Is(genErr, model.ErrUnavailable) {
		return fmt.Errorf("materialize %s: %w", b.ID, genErr)
	}
	if genErr != nil {
		s.logger.Warn("materialization failed", "builder_id", b.ID, "model", b.Model, "error", genErr)
		sel.Errors = []string{genErr.Error()}
		return s.record(ctx, sel)
	}

	var body strings.Builder
	for _, title := range titles {
		body.WriteString(title)
		body.WriteByte('\n')
	}

	sel.ObjectKey = SelectionKey(b.ID, b.Version, ext)
	sel.ArticleCount = len(titles)
	if err := s.store.Put(ctx, sel.ObjectKey, contentType, []byte(body.String())); err != nil {
		return fmt.Errorf("store selection %s: %w", sel.ObjectKey, err)
	}
	return s.record(ctx, sel)
}

func (s *MaterializeService) generate(ctx context.Context, b domain.Builder) ([]string, error) {
	m, err := s.models.Resolve(b.Model)
	if err != nil {
		return nil, err
	}
	titles, err := m.Materialize(ctx, model.Request{BuilderID: b.ID, Project: b.Project, Params: b.Params})
	if err != nil {
		return nil, err
	}
	if len(titles) == 0 {
		return nil, fmt.Errorf("model %s produced no articles", b.Model)
	}
	return titles, nil
}

func (s *MaterializeService) record(ctx context.Context, sel domain.Selection) error {
	inserted, err := s.selections.RecordSelection(ctx, sel)
	if err != nil {
		return fmt.Errorf("record selection: %w", err)
	}
	if !inserted {
		s.logger.Debug("selection version already recorded", "builder_id", sel.BuilderID, "version", sel.Version)
		return nil
	}
	s.logger.Info("selection recorded",
		"builder_id", sel.BuilderID,
		"version", sel.Version,
		"articles", sel.ArticleCount,
		"errors", len(sel.Errors),
	)
	return nil
}
