package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"SelectionBuilder/internal/config"
	"SelectionBuilder/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenIsReentrant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "again.db")
	cfg := config.DatabaseConfig{Driver: "sqlite", DSN: path}

	first, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	_ = first.Close()

	second, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	_ = second.Close()
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.DatabaseConfig{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestBuilderLifecycle(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()

	b := domain.Builder{
		ID:      "B1",
		Name:    "top100",
		UserID:  "alice",
		Project: "en.wikipedia",
		Model:   "popular_articles",
		Params:  domain.Params{"limit": float64(100)},
	}
	if err := repo.CreateBuilder(ctx, b); err != nil {
		t.Fatalf("CreateBuilder failed: %v", err)
	}

	got, err := repo.GetBuilder(ctx, "B1")
	if err != nil {
		t.Fatalf("GetBuilder failed: %v", err)
	}
	if got == nil || got.Name != "top100" || got.Version != 1 || got.Params["limit"] != float64(100) {
		t.Fatalf("unexpected builder: %#v", got)
	}

	b.Name = "top200"
	b.Params = domain.Params{"limit": float64(200)}
	ok, err := repo.UpdateBuilder(ctx, b)
	if err != nil || !ok {
		t.Fatalf("UpdateBuilder = %v, %v", ok, err)
	}

	intruder := b
	intruder.UserID = "mallory"
	intruder.Name = "hijacked"
	ok, err = repo.UpdateBuilder(ctx, intruder)
	if err != nil {
		t.Fatalf("UpdateBuilder(intruder) failed: %v", err)
	}
	if ok {
		t.Fatal("expected update by another user to match nothing")
	}

	got, _ = repo.GetBuilder(ctx, "B1")
	if got.Name != "top200" || got.Version != 2 || got.UserID != "alice" {
		t.Fatalf("unexpected builder after updates: %#v", got)
	}

	list, err := repo.ListBuilders(ctx, "alice")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListBuilders = %v, %v", list, err)
	}

	if ok, _ := repo.DeleteBuilder(ctx, "mallory", "B1"); ok {
		t.Fatal("expected delete by another user to fail")
	}
	if ok, _ := repo.DeleteBuilder(ctx, "alice", "B1"); !ok {
		t.Fatal("expected delete by owner to succeed")
	}
	if ok, _ := repo.DeleteBuilder(ctx, "alice", "B1"); ok {
		t.Fatal("expected second delete to report failure")
	}
	if got, _ := repo.GetBuilder(ctx, "B1"); got != nil {
		t.Fatalf("expected deleted builder to be hidden, got %#v", got)
	}
}

func TestSelections(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()

	first := domain.Selection{ID: "S1", BuilderID: "B1", ContentType: domain.ContentTypeTSV, Version: 1, ObjectKey: "k1", ArticleCount: 10}
	inserted, err := repo.RecordSelection(ctx, first)
	if err != nil || !inserted {
		t.Fatalf("RecordSelection = %v, %v", inserted, err)
	}

	dup := first
	dup.ID = "S1-dup"
	inserted, err = repo.RecordSelection(ctx, dup)
	if err != nil {
		t.Fatalf("RecordSelection(dup) failed: %v", err)
	}
	if inserted {
		t.Fatal("expected duplicate version to be ignored")
	}

	failed := domain.Selection{ID: "S2", BuilderID: "B1", ContentType: domain.ContentTypeTSV, Version: 2, Errors: []string{"petscan returned 502"}}
	if _, err := repo.RecordSelection(ctx, failed); err != nil {
		t.Fatalf("RecordSelection(failed) failed: %v", err)
	}

	latest, err := repo.LatestSelection(ctx, "B1", domain.ContentTypeTSV)
	if err != nil {
		t.Fatalf("LatestSelection failed: %v", err)
	}
	if latest == nil || latest.ID != "S2" || latest.Usable() {
		t.Fatalf("unexpected latest selection: %#v", latest)
	}

	errs, err := repo.LatestSelectionsWithErrors(ctx, "B1")
	if err != nil {
		t.Fatalf("LatestSelectionsWithErrors failed: %v", err)
	}
	if len(errs["tsv"]) != 1 || errs["tsv"][0] != "petscan returned 502" {
		t.Fatalf("unexpected selection errors: %v", errs)
	}

	if none, _ := repo.LatestSelection(ctx, "B404", domain.ContentTypeTSV); none != nil {
		t.Fatalf("expected no selection, got %#v", none)
	}
}

func TestActivateTaskSupersedesPrevious(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC)

	first := domain.ZimTask{TaskID: "T1", BuilderID: "B1", SelectionID: "S1", Status: domain.TaskSubmitted, Title: "t", Description: "d", RequestedAt: now}
	if err := repo.ActivateTask(ctx, first); err != nil {
		t.Fatalf("ActivateTask failed: %v", err)
	}
	second := first
	second.TaskID = "T2"
	second.RequestedAt = now.Add(time.Minute)
	if err := repo.ActivateTask(ctx, second); err != nil {
		t.Fatalf("ActivateTask(second) failed: %v", err)
	}

	old, err := repo.GetTask(ctx, "T1")
	if err != nil || old == nil {
		t.Fatalf("GetTask = %v, %v", old, err)
	}
	if old.Active {
		t.Fatal("expected first task to be superseded")
	}

	active, err := repo.ActiveTask(ctx, "B1")
	if err != nil || active == nil || active.TaskID != "T2" {
		t.Fatalf("ActiveTask = %#v, %v", active, err)
	}

	ready := now.Add(time.Hour)
	active.Status = domain.TaskFileReady
	active.FileURL = "https://dl/a.zim"
	active.UpdatedAt = &ready
	if ok, err := repo.SaveTask(ctx, *active, domain.TaskSubmitted); err != nil || !ok {
		t.Fatalf("SaveTask = %v, %v", ok, err)
	}

	saved, _ := repo.GetTask(ctx, "T2")
	if saved.Status != domain.TaskFileReady || saved.FileURL != "https://dl/a.zim" || saved.UpdatedAt == nil || !saved.UpdatedAt.Equal(ready) {
		t.Fatalf("unexpected saved task: %#v", saved)
	}

	stale := *saved
	stale.Status = domain.TaskEnded
	stale.FileURL = ""
	if ok, err := repo.SaveTask(ctx, stale, domain.TaskSubmitted); err != nil || ok {
		t.Fatalf("expected save from a stale status to be refused, got %v, %v", ok, err)
	}

	superseded := *old
	superseded.Status = domain.TaskFailed
	if ok, _ := repo.SaveTask(ctx, superseded, domain.TaskSubmitted); ok {
		t.Fatal("expected save on an inactive task to be refused")
	}

	if again, _ := repo.GetTask(ctx, "T2"); again.Status != domain.TaskFileReady {
		t.Fatalf("refused saves changed the task: %#v", again)
	}

	if missing, _ := repo.GetTask(ctx, "nope"); missing != nil {
		t.Fatalf("expected nil for unknown task, got %#v", missing)
	}
}

func TestFormatTimeSortsLexically(t *testing.T) {
	a := FormatTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := FormatTime(time.Date(2026, 1, 1, 0, 0, 0, 5000, time.UTC))
	if !(a < b) {
		t.Fatalf("expected %s < %s", a, b)
	}
	if got := ParseTime(a); !got.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("ParseTime round trip failed: %v", got)
	}
}
