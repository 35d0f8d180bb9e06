package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"SelectionBuilder/internal/domain"
	"SelectionBuilder/internal/logging"
	"SelectionBuilder/internal/ports"
	"SelectionBuilder/internal/zimtask"
)

// maxApplyRounds bounds how often an event is replayed after losing a
// concurrent write to the same task.
const maxApplyRounds = 3

// PackagingDeps wires the driven adapters used for ZIM packaging.
type PackagingDeps struct {
	Builders   ports.BuilderRepository
	Selections ports.SelectionRepository
	Tasks      ports.TaskRepository
	Queue      ports.JobQueue
	Farm       ports.PackagingFarm
	Store      ports.ObjectStore
	Notifier   ports.Notifier
	Policy     zimtask.Policy
	Logger     *slog.Logger
}

// ZimDescription is the metadata the owner attaches to an archive.
type ZimDescription struct {
	Title           string
	Description     string
	LongDescription string
}

// PackagingService submits selections to the farm and follows the
// resulting tasks through webhooks and polling.
type PackagingService struct {
	builders   ports.BuilderRepository
	selections ports.SelectionRepository
	tasks      ports.TaskRepository
	queue      ports.JobQueue
	farm       ports.PackagingFarm
	store      ports.ObjectStore
	notifier   ports.Notifier
	policy     zimtask.Policy
	logger     *slog.Logger
	now        func() time.Time
}

// NewPackagingService constructs the packaging use cases.
func NewPackagingService(deps PackagingDeps) *PackagingService {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	policy := deps.Policy
	if policy.MaxPollAttempts == 0 {
		policy = zimtask.DefaultPolicy()
	}
	return &PackagingService{
		builders:   deps.Builders,
		selections: deps.Selections,
		tasks:      deps.Tasks,
		queue:      deps.Queue,
		farm:       deps.Farm,
		store:      deps.Store,
		notifier:   deps.Notifier,
		policy:     policy,
		logger:     logger,
		now:        time.Now,
	}
}

// Schedule submits the builder's latest selection for packaging and makes
// the new farm task the builder's active one. A task already in flight
// for the builder is superseded.
func (s *PackagingService) Schedule(ctx context.Context, userID, builderID string, desc ZimDescription) (string, error) {
	var problems []string
	if strings.TrimSpace(desc.Title) == "" {
		problems = append(problems, "Title is required for ZIM file")
	}
	if strings.TrimSpace(desc.Description) == "" {
		problems = append(problems, "Description is required for ZIM file")
	}
	if len(problems) > 0 {
		return "", &domain.ValidationError{Result: domain.ValidationResult{Errors: problems}}
	}

	b, err := loadOwned(ctx, s.builders, s.logger, userID, builderID)
	if err != nil {
		return "", err
	}

	sel, err := s.selections.LatestSelection(ctx, b.ID, domain.ContentTypeTSV)
	if err != nil {
		return "", fmt.Errorf("latest selection: %w", err)
	}
	if sel == nil || !sel.Usable() {
		return "", domain.ErrNotFound
	}
	if sel.ArticleCount > domain.MaxZimArticleCount {
		return "", &domain.QuotaExceededError{
			ArticleCount:    sel.ArticleCount,
			MaxArticleCount: domain.MaxZimArticleCount,
		}
	}

	taskID, err := s.farm.Submit(ctx, domain.ZimRequest{
		BuilderID:       b.ID,
		SelectionID:     sel.ID,
		Project:         b.Project,
		SelectionURL:    s.store.URL(sel.ObjectKey),
		Title:           desc.Title,
		Description:     desc.Description,
		LongDescription: desc.LongDescription,
	})
	if err != nil {
		return "", &domain.ExternalServiceError{Op: "submission", Err: err}
	}

	if prev, err := s.tasks.ActiveTask(ctx, b.ID); err == nil && prev != nil {
		s.logger.Info("superseding zim task", "builder_id", b.ID, "previous_task_id", prev.TaskID, "previous_status", prev.Status)
	}

	task := domain.ZimTask{
		TaskID:          taskID,
		BuilderID:       b.ID,
		SelectionID:     sel.ID,
		Status:          domain.TaskSubmitted,
		Title:           desc.Title,
		Description:     desc.Description,
		LongDescription: desc.LongDescription,
		Active:          true,
		RequestedAt:     s.now().UTC(),
	}
	if err := s.tasks.ActivateTask(ctx, task); err != nil {
		return "", fmt.Errorf("record zim task %s: %w", taskID, err)
	}

	s.logger.Info("zim task submitted", "builder_id", b.ID, "selection_id", sel.ID, "task_id", taskID, "articles", sel.ArticleCount)
	return taskID, nil
}

// HandleCallback applies a farm webhook. Callbacks for unknown or
// superseded tasks are accepted without effect.
func (s *PackagingService) HandleCallback(ctx context.Context, cb zimtask.Callback) error {
	sig, err := zimtask.Interpret(cb)
	if err != nil {
		s.logger.Warn("rejecting zim callback", "error", err)
		return err
	}

	task, err := s.activeTask(ctx, sig.TaskID)
	if err != nil || task == nil {
		return err
	}

	ev := zimtask.Event{Kind: sig.Kind, At: s.now()}
	if sig.Kind == zimtask.EventFileUploaded {
		ev.FileURL = s.farm.FileURL(sig.File)
	}
	return s.apply(ctx, *task, ev)
}

// HandlePoll asks the farm whether an ended task's archive is available.
func (s *PackagingService) HandlePoll(ctx context.Context, taskID string, attempt int) error {
	task, err := s.activeTask(ctx, taskID)
	if err != nil || task == nil {
		return err
	}
	if task.Status != domain.TaskEnded {
		s.logger.Debug("skipping poll", "task_id", taskID, "status", task.Status)
		return nil
	}

	status, err := s.farm.TaskStatus(ctx, taskID)
	if err != nil {
		return &domain.ExternalServiceError{Op: "status", Err: err}
	}

	ev := zimtask.Event{Kind: zimtask.EventPollPending, At: s.now(), Attempt: attempt}
	if status.FileURL != "" {
		ev.Kind = zimtask.EventPollReady
		ev.FileURL = status.FileURL
	}
	return s.apply(ctx, *task, ev)
}

// Status reports the active task of a builder owned by userID.
func (s *PackagingService) Status(ctx context.Context, userID, builderID string) (domain.ZimStatusView, error) {
	b, err := loadOwned(ctx, s.builders, s.logger, userID, builderID)
	if err != nil {
		return domain.ZimStatusView{}, err
	}

	task, err := s.tasks.ActiveTask(ctx, b.ID)
	if err != nil {
		return domain.ZimStatusView{}, fmt.Errorf("active task: %w", err)
	}
	if task == nil {
		return domain.ZimStatusView{}, domain.ErrNotFound
	}

	pending := task.Status == domain.TaskSubmitted ||
		(task.Status == domain.TaskEnded && task.FileURL == "")
	view := domain.ZimStatusView{
		TaskID:          task.TaskID,
		Status:          task.Status,
		StillProcessing: pending,
		FileURL:         task.FileURL,
	}
	if task.UpdatedAt != nil {
		view.UpdatedAt = task.UpdatedAt.Unix()
	}
	return view, nil
}

// LatestZimURL is the download location of the builder's finished archive.
// Like the latest selection link it is public and needs no acting user.
func (s *PackagingService) LatestZimURL(ctx context.Context, builderID string) (string, error) {
	task, err := s.tasks.ActiveTask(ctx, builderID)
	if err != nil {
		return "", fmt.Errorf("active task: %w", err)
	}
	if task == nil || task.Status != domain.TaskFileReady || task.FileURL == "" {
		return "", domain.ErrNotFound
	}
	return task.FileURL, nil
}

func (s *PackagingService) activeTask(ctx context.Context, taskID string) (*domain.ZimTask, error) {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	if task == nil {
		s.logger.Info("ignoring update for unknown zim task", "task_id", taskID)
		return nil, nil
	}
	if !task.Active {
		s.logger.Info("ignoring update for superseded zim task", "task_id", taskID, "builder_id", task.BuilderID)
		return nil, nil
	}
	return task, nil
}

func (s *PackagingService) apply(ctx context.Context, task domain.ZimTask, ev zimtask.Event) error {
	for round := 1; ; round++ {
		next, effects := zimtask.Apply(task, ev, s.policy)

		if zimtask.Has(effects, zimtask.EffectPersist) {
			saved, err := s.tasks.SaveTask(ctx, next, task.Status)
			if err != nil {
				return fmt.Errorf("save task %s: %w", next.TaskID, err)
			}
			if !saved {
				// The task moved underneath us; replay the event on what is stored now.
				if round >= maxApplyRounds {
					s.logger.Warn("dropping stale zim task update", "task_id", task.TaskID, "event", ev.Kind)
					return nil
				}
				fresh, err := s.activeTask(ctx, task.TaskID)
				if err != nil || fresh == nil {
					return err
				}
				s.logger.Debug("zim task changed concurrently", "task_id", task.TaskID, "expected", task.Status, "found", fresh.Status)
				task = *fresh
				continue
			}
			if next.Status != task.Status {
				s.logger.Info("zim task transition", "task_id", next.TaskID, "from", task.Status, "to", next.Status)
			}
		}

		for _, effect := range effects {
			switch effect.Kind {
			case zimtask.EffectEnqueuePoll:
				if err := s.queue.EnqueuePollZimStatus(ctx, next.TaskID, effect.Attempt, effect.Delay); err != nil {
					return fmt.Errorf("enqueue poll %s: %w", next.TaskID, err)
				}
			case zimtask.EffectNotify:
				s.notify(ctx, next)
			}
		}

		if ev.Kind == zimtask.EventPollPending && len(effects) == 0 && next.Status == domain.TaskEnded {
			s.logger.Warn("giving up polling zim task", "task_id", next.TaskID, "attempts", ev.Attempt+1)
		}
		return nil
	}
}

func (s *PackagingService) notify(ctx context.Context, task domain.ZimTask) {
	if s.notifier == nil {
		return
	}

	var msg string
	switch task.Status {
	case domain.TaskFileReady:
		msg = fmt.Sprintf("ZIM file ready: %s\n%s", task.Title, task.FileURL)
	case domain.TaskFailed:
		msg = fmt.Sprintf("ZIM task %s failed: %s (builder %s)", task.TaskID, task.Title, task.BuilderID)
	default:
		return
	}

	if err := s.notifier.Publish(ctx, msg); err != nil {
		s.logger.Warn("notification failed", "task_id", task.TaskID, "error", err)
	}
}
