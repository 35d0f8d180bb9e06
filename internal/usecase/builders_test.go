package usecase

import (
	"context"
	"errors"
	"testing"

	"SelectionBuilder/internal/domain"
)

func newBuilderService(repo *memRepo, q *memQueue) *BuilderService {
	svc := NewBuilderService(BuilderDeps{
		Builders:   repo,
		Selections: repo,
		Queue:      q,
		Store:      newMemStore(),
		Models:     testRegistry(),
	})
	svc.newID = func() string { return "B1" }
	return svc
}

func top100() domain.BuilderDraft {
	return domain.BuilderDraft{
		Name:    "top100",
		Project: "en.wikipedia",
		Model:   "popular_articles",
		Params:  domain.Params{"limit": float64(100)},
	}
}

func TestCreateBuilderEnqueuesMaterialize(t *testing.T) {
	repo, q := newMemRepo(), &memQueue{}
	svc := newBuilderService(repo, q)

	id, err := svc.CreateOrUpdate(context.Background(), "alice", "", top100())
	if err != nil {
		t.Fatalf("CreateOrUpdate failed: %v", err)
	}
	if id != "B1" {
		t.Fatalf("expected id B1, got %q", id)
	}
	if len(q.jobs) != 1 {
		t.Fatalf("expected exactly one job, got %+v", q.jobs)
	}
	job := q.jobs[0]
	if job.kind != "materialize" || job.builderID != "B1" || job.model != "popular_articles" || job.contentType != domain.ContentTypeTSV {
		t.Fatalf("unexpected job: %+v", job)
	}
	if b := repo.builders["B1"]; b.UserID != "alice" || b.Version != 1 {
		t.Fatalf("unexpected stored builder: %+v", b)
	}
}

func TestCreateBuilderRejectsBadInput(t *testing.T) {
	cases := []struct {
		name  string
		draft func(domain.BuilderDraft) domain.BuilderDraft
		check func(t *testing.T, err error)
	}{
		{
			name: "missing name",
			draft: func(d domain.BuilderDraft) domain.BuilderDraft {
				d.Name = " "
				return d
			},
			check: func(t *testing.T, err error) {
				var verr *domain.ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected validation error, got %v", err)
				}
			},
		},
		{
			name: "invalid params",
			draft: func(d domain.BuilderDraft) domain.BuilderDraft {
				d.Params = domain.Params{"limit": float64(5000)}
				return d
			},
			check: func(t *testing.T, err error) {
				var verr *domain.ValidationError
				if !errors.As(err, &verr) || len(verr.Result.Invalid) != 1 {
					t.Fatalf("expected validation error with invalid values, got %v", err)
				}
			},
		},
		{
			name: "unknown model",
			draft: func(d domain.BuilderDraft) domain.BuilderDraft {
				d.Model = "nope"
				return d
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, domain.ErrUnknownModel) {
					t.Fatalf("expected ErrUnknownModel, got %v", err)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, q := newMemRepo(), &memQueue{}
			svc := newBuilderService(repo, q)

			_, err := svc.CreateOrUpdate(context.Background(), "alice", "", tc.draft(top100()))
			tc.check(t, err)
			if repo.writes != 0 || len(q.jobs) != 0 {
				t.Fatalf("expected no writes and no jobs, got %d writes, %d jobs", repo.writes, len(q.jobs))
			}
		})
	}
}

func TestUpdateBuilder(t *testing.T) {
	repo, q := newMemRepo(), &memQueue{}
	svc := newBuilderService(repo, q)
	ctx := context.Background()

	if _, err := svc.CreateOrUpdate(ctx, "alice", "", top100()); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	draft := top100()
	draft.Params = domain.Params{"limit": float64(200)}
	id, err := svc.CreateOrUpdate(ctx, "alice", "B1", draft)
	if err != nil || id != "B1" {
		t.Fatalf("update = %q, %v", id, err)
	}
	if b := repo.builders["B1"]; b.Version != 2 || b.Params["limit"] != float64(200) {
		t.Fatalf("unexpected builder after update: %+v", b)
	}
	if len(q.jobs) != 2 || q.jobs[1].builderID != "B1" {
		t.Fatalf("expected one job per save, got %+v", q.jobs)
	}
}

func TestUpdateForeignBuilderLooksMissing(t *testing.T) {
	repo, q := newMemRepo(), &memQueue{}
	svc := newBuilderService(repo, q)
	ctx := context.Background()

	if _, err := svc.CreateOrUpdate(ctx, "alice", "", top100()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	before := repo.builders["B1"]

	hijack := top100()
	hijack.Name = "mine now"
	_, foreignErr := svc.CreateOrUpdate(ctx, "mallory", "B1", hijack)
	_, missingErr := svc.CreateOrUpdate(ctx, "mallory", "B404", hijack)

	if !errors.Is(foreignErr, domain.ErrNotFound) || !errors.Is(missingErr, domain.ErrNotFound) {
		t.Fatalf("expected not found for both, got %v and %v", foreignErr, missingErr)
	}
	if foreignErr.Error() != missingErr.Error() {
		t.Fatalf("foreign and missing updates must look identical: %q vs %q", foreignErr, missingErr)
	}
	if after := repo.builders["B1"]; after.Name != before.Name || after.Version != before.Version {
		t.Fatalf("foreign update mutated builder: %+v", after)
	}
	if len(q.jobs) != 1 {
		t.Fatalf("expected no extra jobs, got %+v", q.jobs)
	}
}

func TestGetBuilder(t *testing.T) {
	repo, q := newMemRepo(), &memQueue{}
	svc := newBuilderService(repo, q)
	ctx := context.Background()

	if _, err := svc.CreateOrUpdate(ctx, "alice", "", top100()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	_, _ = repo.RecordSelection(ctx, domain.Selection{ID: "S1", BuilderID: "B1", ContentType: domain.ContentTypeTSV, Version: 1, Errors: []string{"boom"}})

	view, err := svc.Get(ctx, "alice", "B1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if view.Name != "top100" || view.SelectionErrors["tsv"][0] != "boom" {
		t.Fatalf("unexpected view: %+v", view)
	}

	if _, err := svc.Get(ctx, "mallory", "B1"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := svc.Get(ctx, "alice", "B404"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteBuilder(t *testing.T) {
	repo, q := newMemRepo(), &memQueue{}
	svc := newBuilderService(repo, q)
	ctx := context.Background()

	if _, err := svc.CreateOrUpdate(ctx, "alice", "", top100()); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if ok, err := svc.Delete(ctx, "mallory", "B1"); err != nil || ok {
		t.Fatalf("foreign delete = %v, %v", ok, err)
	}
	if ok, err := svc.Delete(ctx, "alice", "B1"); err != nil || !ok {
		t.Fatalf("owner delete = %v, %v", ok, err)
	}
	if _, err := svc.Get(ctx, "alice", "B1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected deleted builder to be gone, got %v", err)
	}
}

func TestLatestSelectionQueries(t *testing.T) {
	repo, q := newMemRepo(), &memQueue{}
	svc := newBuilderService(repo, q)
	ctx := context.Background()

	if _, err := svc.CreateOrUpdate(ctx, "alice", "", top100()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.LatestSelectionURL(ctx, "B1", "tsv"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found before materialization, got %v", err)
	}

	_, _ = repo.RecordSelection(ctx, domain.Selection{
		ID: "S1", BuilderID: "B1", ContentType: domain.ContentTypeTSV, Version: 1,
		ObjectKey: "selections/B1/1.tsv", ArticleCount: 100,
	})

	url, err := svc.LatestSelectionURL(ctx, "B1", "tsv")
	if err != nil || url != "https://files.example/selections/B1/1.tsv" {
		t.Fatalf("LatestSelectionURL = %q, %v", url, err)
	}
	if _, err := svc.LatestSelectionURL(ctx, "B1", "xls"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown extension, got %v", err)
	}

	count, err := svc.LatestArticleCount(ctx, "alice", "B1")
	if err != nil {
		t.Fatalf("LatestArticleCount failed: %v", err)
	}
	if count.SelectionID != "S1" || count.ArticleCount != 100 || count.MaxArticleCount != domain.MaxZimArticleCount {
		t.Fatalf("unexpected count: %+v", count)
	}
	if _, err := svc.LatestArticleCount(ctx, "mallory", "B1"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
