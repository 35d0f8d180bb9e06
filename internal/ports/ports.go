package ports

import (
	"context"
	"time"

	"SelectionBuilder/internal/domain"
)

// BuilderRepository persists builder records.
type BuilderRepository interface {
	CreateBuilder(ctx context.Context, builder domain.Builder) error
	// UpdateBuilder rewrites a live builder owned by builder.UserID and bumps
	// its version. It reports false when no owned record matched.
	UpdateBuilder(ctx context.Context, builder domain.Builder) (bool, error)
	// GetBuilder returns nil when the builder is absent or deleted.
	GetBuilder(ctx context.Context, id string) (*domain.Builder, error)
	DeleteBuilder(ctx context.Context, userID, id string) (bool, error)
	ListBuilders(ctx context.Context, userID string) ([]domain.Builder, error)
}

// SelectionRepository persists materialized selections.
type SelectionRepository interface {
	// RecordSelection inserts once per (builder, content type, version) and
	// reports whether a new row was written.
	RecordSelection(ctx context.Context, selection domain.Selection) (bool, error)
	LatestSelection(ctx context.Context, builderID, contentType string) (*domain.Selection, error)
	LatestSelectionsWithErrors(ctx context.Context, builderID string) (map[string][]string, error)
}

// TaskRepository persists ZIM packaging tasks.
type TaskRepository interface {
	// ActivateTask stores task as the builder's only active task.
	ActivateTask(ctx context.Context, task domain.ZimTask) error
	GetTask(ctx context.Context, taskID string) (*domain.ZimTask, error)
	// SaveTask writes task only while the stored row is still active and in
	// status prev, and reports whether it did.
	SaveTask(ctx context.Context, task domain.ZimTask, prev domain.TaskStatus) (bool, error)
	ActiveTask(ctx context.Context, builderID string) (*domain.ZimTask, error)
}

// JobQueue enqueues asynchronous work; calls return once the item is durable.
type JobQueue interface {
	EnqueueMaterialize(ctx context.Context, model, builderID, contentType string) error
	EnqueuePollZimStatus(ctx context.Context, taskID string, attempt int, delay time.Duration) error
}

// PackagingFarm talks to the external ZIM generation farm.
type PackagingFarm interface {
	Submit(ctx context.Context, req domain.ZimRequest) (string, error)
	TaskStatus(ctx context.Context, taskID string) (domain.FarmTaskStatus, error)
	FileURL(name string) string
}

// ObjectStore keeps generated selection files.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
	URL(key string) string
}

// Notifier announces packaging outcomes to operators.
type Notifier interface {
	Publish(ctx context.Context, message string) error
}

// Scheduler controls when recurring jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
