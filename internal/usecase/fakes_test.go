package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"SelectionBuilder/internal/domain"
	"SelectionBuilder/internal/model"
)

type memRepo struct {
	mu         sync.Mutex
	builders   map[string]domain.Builder
	selections []domain.Selection
	tasks      map[string]domain.ZimTask
	writes     int
}

func newMemRepo() *memRepo {
	return &memRepo{builders: map[string]domain.Builder{}, tasks: map[string]domain.ZimTask{}}
}

func (r *memRepo) CreateBuilder(_ context.Context, b domain.Builder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)
	b.Version = 1
	b.CreatedAt, b.UpdatedAt = now, now
	r.builders[b.ID] = b
	r.writes++
	return nil
}

func (r *memRepo) UpdateBuilder(_ context.Context, b domain.Builder) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.builders[b.ID]
	if !ok || cur.DeletedAt != nil || cur.UserID != b.UserID {
		return false, nil
	}
	cur.Name, cur.Project, cur.Model, cur.Params = b.Name, b.Project, b.Model, b.Params
	cur.Version++
	r.builders[b.ID] = cur
	r.writes++
	return true, nil
}

func (r *memRepo) GetBuilder(_ context.Context, id string) (*domain.Builder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.builders[id]
	if !ok || b.DeletedAt != nil {
		return nil, nil
	}
	return &b, nil
}

func (r *memRepo) DeleteBuilder(_ context.Context, userID, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.builders[id]
	if !ok || b.DeletedAt != nil || b.UserID != userID {
		return false, nil
	}
	now := time.Now()
	b.DeletedAt = &now
	r.builders[id] = b
	r.writes++
	return true, nil
}

func (r *memRepo) ListBuilders(_ context.Context, userID string) ([]domain.Builder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Builder
	for _, b := range r.builders {
		if b.UserID == userID && b.DeletedAt == nil {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) RecordSelection(_ context.Context, s domain.Selection) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.selections {
		if cur.BuilderID == s.BuilderID && cur.ContentType == s.ContentType && cur.Version == s.Version {
			return false, nil
		}
	}
	r.selections = append(r.selections, s)
	return true, nil
}

func (r *memRepo) LatestSelection(_ context.Context, builderID, contentType string) (*domain.Selection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.selections) - 1; i >= 0; i-- {
		s := r.selections[i]
		if s.BuilderID == builderID && s.ContentType == contentType {
			return &s, nil
		}
	}
	return nil, nil
}

func (r *memRepo) LatestSelectionsWithErrors(ctx context.Context, builderID string) (map[string][]string, error) {
	s, _ := r.LatestSelection(ctx, builderID, domain.ContentTypeTSV)
	if s == nil || len(s.Errors) == 0 {
		return nil, nil
	}
	return map[string][]string{"tsv": s.Errors}, nil
}

func (r *memRepo) ActivateTask(_ context.Context, task domain.ZimTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tasks {
		if t.BuilderID == task.BuilderID {
			t.Active = false
			r.tasks[id] = t
		}
	}
	task.Active = true
	r.tasks[task.TaskID] = task
	return nil
}

func (r *memRepo) GetTask(_ context.Context, taskID string) (*domain.ZimTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *memRepo) SaveTask(_ context.Context, task domain.ZimTask, prev domain.TaskStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tasks[task.TaskID]
	if !ok || !cur.Active || cur.Status != prev {
		return false, nil
	}
	task.Active = cur.Active
	r.tasks[task.TaskID] = task
	r.writes++
	return true, nil
}

func (r *memRepo) ActiveTask(_ context.Context, builderID string) (*domain.ZimTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.BuilderID == builderID && t.Active {
			return &t, nil
		}
	}
	return nil, nil
}

func (r *memRepo) task(id string) domain.ZimTask {
	t, _ := r.GetTask(context.Background(), id)
	if t == nil {
		return domain.ZimTask{}
	}
	return *t
}

type enqueued struct {
	kind        string
	model       string
	builderID   string
	contentType string
	taskID      string
	attempt     int
	delay       time.Duration
}

type memQueue struct {
	mu   sync.Mutex
	jobs []enqueued
}

func (q *memQueue) EnqueueMaterialize(_ context.Context, modelName, builderID, contentType string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, enqueued{kind: "materialize", model: modelName, builderID: builderID, contentType: contentType})
	return nil
}

func (q *memQueue) EnqueuePollZimStatus(_ context.Context, taskID string, attempt int, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, enqueued{kind: "poll", taskID: taskID, attempt: attempt, delay: delay})
	return nil
}

type stubFarm struct {
	submitted []domain.ZimRequest
	nextID    string
	submitErr error
	status    domain.FarmTaskStatus
	statusErr error
	// duringStatus runs inside TaskStatus, before the answer is returned.
	duringStatus func()
}

func (f *stubFarm) Submit(_ context.Context, req domain.ZimRequest) (string, error) {
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.nextID, nil
}

func (f *stubFarm) TaskStatus(_ context.Context, taskID string) (domain.FarmTaskStatus, error) {
	if f.duringStatus != nil {
		f.duringStatus()
	}
	if f.statusErr != nil {
		return domain.FarmTaskStatus{}, f.statusErr
	}
	st := f.status
	st.TaskID = taskID
	return st, nil
}

func (f *stubFarm) FileURL(name string) string {
	return "https://download.example/zim/wikipedia/" + name
}

type memStore struct {
	objects map[string][]byte
	failPut bool
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) Put(_ context.Context, key, _ string, body []byte) error {
	if s.failPut {
		return errors.New("disk full")
	}
	s.objects[key] = body
	return nil
}

func (s *memStore) URL(key string) string {
	return "https://files.example/" + key
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Publish(_ context.Context, msg string) error {
	n.messages = append(n.messages, msg)
	return nil
}

// limitModel accepts params {limit: 1..1000} and materializes that many titles.
type limitModel struct {
	name string
	err  error
}

func (m limitModel) Name() string { return m.name }

func (m limitModel) Validate(_ context.Context, _ string, params domain.Params) domain.ValidationResult {
	limit, err := model.IntParam(params, "limit")
	if err != nil || limit < 1 || limit > 1000 {
		return domain.ValidationResult{Invalid: []string{"limit"}, Errors: []string{"limit must be between 1 and 1000"}}
	}
	return domain.ValidationResult{Valid: []string{"limit"}}
}

func (m limitModel) Materialize(_ context.Context, req model.Request) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	limit, _ := model.IntParam(req.Params, "limit")
	titles := make([]string, limit)
	for i := range titles {
		titles[i] = "Article_" + string(rune('A'+i%26))
	}
	return titles, nil
}

func (m limitModel) PublicParams(p domain.Params) domain.Params { return p }

func testRegistry(models ...model.Model) *model.Registry {
	if len(models) == 0 {
		models = []model.Model{limitModel{name: "popular_articles"}}
	}
	return model.NewRegistry(models...)
}
