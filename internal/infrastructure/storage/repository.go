package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"SelectionBuilder/internal/domain"
	"SelectionBuilder/internal/ports"
)

const (
	builderColumns   = "b_id, b_name, b_user_id, b_project, b_model, b_params, b_version, b_created_at, b_updated_at, b_deleted_at"
	selectionColumns = "s_id, s_builder_id, s_content_type, s_version, s_object_key, s_article_count, s_error_messages, s_created_at"
	taskColumns      = "z_task_id, z_builder_id, z_selection_id, z_status, z_title, z_description, z_long_description, z_file_url, z_active, z_requested_at, z_updated_at"
)

// Repository persists builders, selections and ZIM tasks.
type Repository struct {
	db  *DB
	now func() time.Time
}

var (
	_ ports.BuilderRepository   = (*Repository)(nil)
	_ ports.SelectionRepository = (*Repository)(nil)
	_ ports.TaskRepository      = (*Repository)(nil)
)

// NewRepository wires an opened DB.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// CreateBuilder inserts a new builder at version 1.
func (r *Repository) CreateBuilder(ctx context.Context, b domain.Builder) error {
	params, err := json.Marshal(b.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	now := FormatTime(r.now())

	_, err = r.db.Exec(ctx, r.db.Builder().
		Insert("builders").
		Columns("b_id", "b_name", "b_user_id", "b_project", "b_model", "b_params", "b_version", "b_created_at", "b_updated_at").
		Values(b.ID, b.Name, b.UserID, b.Project, b.Model, string(params), 1, now, now))
	if err != nil {
		return fmt.Errorf("insert builder: %w", err)
	}
	return nil
}

// UpdateBuilder rewrites a live builder owned by b.UserID and bumps its version.
func (r *Repository) UpdateBuilder(ctx context.Context, b domain.Builder) (bool, error) {
	params, err := json.Marshal(b.Params)
	if err != nil {
		return false, fmt.Errorf("marshal params: %w", err)
	}

	res, err := r.db.Exec(ctx, r.db.Builder().
		Update("builders").
		Set("b_name", b.Name).
		Set("b_project", b.Project).
		Set("b_model", b.Model).
		Set("b_params", string(params)).
		Set("b_version", sq.Expr("b_version + 1")).
		Set("b_updated_at", FormatTime(r.now())).
		Where(sq.Eq{"b_id": b.ID, "b_user_id": b.UserID, "b_deleted_at": nil}))
	if err != nil {
		return false, fmt.Errorf("update builder: %w", err)
	}
	return affected(res)
}

// GetBuilder returns nil when the builder is absent or deleted.
func (r *Repository) GetBuilder(ctx context.Context, id string) (*domain.Builder, error) {
	row, err := r.db.QueryRow(ctx, r.db.Builder().
		Select(builderColumns).
		From("builders").
		Where(sq.Eq{"b_id": id, "b_deleted_at": nil}))
	if err != nil {
		return nil, err
	}
	b, err := scanBuilder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get builder: %w", err)
	}
	return b, nil
}

// DeleteBuilder soft-deletes a builder owned by userID.
func (r *Repository) DeleteBuilder(ctx context.Context, userID, id string) (bool, error) {
	res, err := r.db.Exec(ctx, r.db.Builder().
		Update("builders").
		Set("b_deleted_at", FormatTime(r.now())).
		Where(sq.Eq{"b_id": id, "b_user_id": userID, "b_deleted_at": nil}))
	if err != nil {
		return false, fmt.Errorf("delete builder: %w", err)
	}
	return affected(res)
}

// ListBuilders returns the live builders of a user, most recently updated first.
func (r *Repository) ListBuilders(ctx context.Context, userID string) ([]domain.Builder, error) {
	rows, err := r.db.Query(ctx, r.db.Builder().
		Select(builderColumns).
		From("builders").
		Where(sq.Eq{"b_user_id": userID, "b_deleted_at": nil}).
		OrderBy("b_updated_at DESC", "b_id"))
	if err != nil {
		return nil, fmt.Errorf("list builders: %w", err)
	}
	defer rows.Close()

	var builders []domain.Builder
	for rows.Next() {
		b, err := scanBuilder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan builder: %w", err)
		}
		builders = append(builders, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return builders, nil
}

// RecordSelection inserts once per (builder, content type, version).
func (r *Repository) RecordSelection(ctx context.Context, s domain.Selection) (bool, error) {
	var errorsJSON any
	if len(s.Errors) > 0 {
		raw, err := json.Marshal(s.Errors)
		if err != nil {
			return false, fmt.Errorf("marshal selection errors: %w", err)
		}
		errorsJSON = string(raw)
	}
	created := s.CreatedAt
	if created.IsZero() {
		created = r.now()
	}

	res, err := r.db.Exec(ctx, r.db.Builder().
		Insert("selections").
		Columns("s_id", "s_builder_id", "s_content_type", "s_version", "s_object_key", "s_article_count", "s_error_messages", "s_created_at").
		Values(s.ID, s.BuilderID, s.ContentType, s.Version, nullableString(s.ObjectKey), s.ArticleCount, errorsJSON, FormatTime(created)).
		Suffix("ON CONFLICT (s_builder_id, s_content_type, s_version) DO NOTHING"))
	if err != nil {
		return false, fmt.Errorf("insert selection: %w", err)
	}
	return affected(res)
}

// LatestSelection returns the highest-version selection of a content type.
func (r *Repository) LatestSelection(ctx context.Context, builderID, contentType string) (*domain.Selection, error) {
	row, err := r.db.QueryRow(ctx, r.db.Builder().
		Select(selectionColumns).
		From("selections").
		Where(sq.Eq{"s_builder_id": builderID, "s_content_type": contentType}).
		OrderBy("s_version DESC", "s_created_at DESC").
		Limit(1))
	if err != nil {
		return nil, err
	}
	s, err := scanSelection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest selection: %w", err)
	}
	return s, nil
}

// LatestSelectionsWithErrors maps file extension to the errors of the latest
// selection of that format. Formats whose latest selection succeeded are omitted.
func (r *Repository) LatestSelectionsWithErrors(ctx context.Context, builderID string) (map[string][]string, error) {
	rows, err := r.db.Query(ctx, r.db.Builder().
		Select(selectionColumns).
		From("selections").
		Where(sq.Eq{"s_builder_id": builderID}).
		OrderBy("s_version DESC", "s_created_at DESC"))
	if err != nil {
		return nil, fmt.Errorf("list selections: %w", err)
	}
	defer rows.Close()

	seen := map[string]struct{}{}
	result := map[string][]string{}
	for rows.Next() {
		s, err := scanSelection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan selection: %w", err)
		}
		if _, ok := seen[s.ContentType]; ok {
			continue
		}
		seen[s.ContentType] = struct{}{}
		if len(s.Errors) == 0 {
			continue
		}
		key := domain.ExtForContentType(s.ContentType)
		if key == "" {
			key = s.ContentType
		}
		result[key] = s.Errors
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}

// ActivateTask deactivates the builder's previous tasks and stores task as active.
func (r *Repository) ActivateTask(ctx context.Context, task domain.ZimTask) error {
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := ExecTx(ctx, tx, r.db.Builder().
			Update("zim_tasks").
			Set("z_active", 0).
			Where(sq.Eq{"z_builder_id": task.BuilderID, "z_active": 1})); err != nil {
			return fmt.Errorf("deactivate previous tasks: %w", err)
		}

		_, err := ExecTx(ctx, tx, r.db.Builder().
			Insert("zim_tasks").
			Columns("z_task_id", "z_builder_id", "z_selection_id", "z_status", "z_title", "z_description",
				"z_long_description", "z_file_url", "z_active", "z_requested_at", "z_updated_at").
			Values(task.TaskID, task.BuilderID, task.SelectionID, string(task.Status), task.Title, task.Description,
				nullableString(task.LongDescription), nullableString(task.FileURL), 1, FormatTime(task.RequestedAt),
				nullableTime(task.UpdatedAt)))
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("activate task: %w", err)
	}
	return nil
}

// GetTask returns nil when no task carries taskID.
func (r *Repository) GetTask(ctx context.Context, taskID string) (*domain.ZimTask, error) {
	return r.queryTask(ctx, sq.Eq{"z_task_id": taskID})
}

// ActiveTask returns the builder's active task or nil.
func (r *Repository) ActiveTask(ctx context.Context, builderID string) (*domain.ZimTask, error) {
	return r.queryTask(ctx, sq.Eq{"z_builder_id": builderID, "z_active": 1})
}

// SaveTask persists the mutable task fields if the stored task is still
// active and in status prev. A false result means another writer got there first.
func (r *Repository) SaveTask(ctx context.Context, task domain.ZimTask, prev domain.TaskStatus) (bool, error) {
	res, err := r.db.Exec(ctx, r.db.Builder().
		Update("zim_tasks").
		Set("z_status", string(task.Status)).
		Set("z_file_url", nullableString(task.FileURL)).
		Set("z_updated_at", nullableTime(task.UpdatedAt)).
		Where(sq.Eq{"z_task_id": task.TaskID, "z_status": string(prev), "z_active": 1}))
	if err != nil {
		return false, fmt.Errorf("save task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save task rows: %w", err)
	}
	return n == 1, nil
}

func (r *Repository) queryTask(ctx context.Context, where sq.Eq) (*domain.ZimTask, error) {
	row, err := r.db.QueryRow(ctx, r.db.Builder().
		Select(taskColumns).
		From("zim_tasks").
		Where(where).
		OrderBy("z_requested_at DESC").
		Limit(1))
	if err != nil {
		return nil, err
	}
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuilder(row rowScanner) (*domain.Builder, error) {
	var (
		b          domain.Builder
		params     string
		createdRaw string
		updatedRaw string
		deletedRaw sql.NullString
	)
	if err := row.Scan(&b.ID, &b.Name, &b.UserID, &b.Project, &b.Model, &params, &b.Version,
		&createdRaw, &updatedRaw, &deletedRaw); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &b.Params); err != nil {
		return nil, fmt.Errorf("decode params of builder %s: %w", b.ID, err)
	}
	b.CreatedAt = ParseTime(createdRaw)
	b.UpdatedAt = ParseTime(updatedRaw)
	b.DeletedAt = timePtr(deletedRaw)
	return &b, nil
}

func scanSelection(row rowScanner) (*domain.Selection, error) {
	var (
		s          domain.Selection
		objectKey  sql.NullString
		errorsRaw  sql.NullString
		createdRaw string
	)
	if err := row.Scan(&s.ID, &s.BuilderID, &s.ContentType, &s.Version, &objectKey, &s.ArticleCount,
		&errorsRaw, &createdRaw); err != nil {
		return nil, err
	}
	s.ObjectKey = objectKey.String
	if errorsRaw.Valid && errorsRaw.String != "" {
		if err := json.Unmarshal([]byte(errorsRaw.String), &s.Errors); err != nil {
			return nil, fmt.Errorf("decode errors of selection %s: %w", s.ID, err)
		}
	}
	s.CreatedAt = ParseTime(createdRaw)
	return &s, nil
}

func scanTask(row rowScanner) (*domain.ZimTask, error) {
	var (
		t            domain.ZimTask
		status       string
		longDesc     sql.NullString
		fileURL      sql.NullString
		active       int
		requestedRaw string
		updatedRaw   sql.NullString
	)
	if err := row.Scan(&t.TaskID, &t.BuilderID, &t.SelectionID, &status, &t.Title, &t.Description,
		&longDesc, &fileURL, &active, &requestedRaw, &updatedRaw); err != nil {
		return nil, err
	}
	t.Status = domain.TaskStatus(status)
	t.LongDescription = longDesc.String
	t.FileURL = fileURL.String
	t.Active = active != 0
	t.RequestedAt = ParseTime(requestedRaw)
	t.UpdatedAt = timePtr(updatedRaw)
	return &t, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
