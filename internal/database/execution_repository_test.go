package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"geekcatalog/models"
)

func TestExecution_Lifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := db.Executions

	exec := &models.JobExecution{
		ID:         "exec-1",
		JobName:    "updateMoviesJob",
		InstanceID: "inst-1",
		Status:     models.ExecutionStarting,
	}
	if err := repo.Create(ctx, exec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := repo.UpdateStatus(ctx, exec.ID, models.ExecutionStarted, ""); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if err := repo.SaveCheckpoint(ctx, exec.ID, 30); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	got, err := repo.Get(ctx, exec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != models.ExecutionStarted || got.Checkpoint != 30 {
		t.Errorf("unexpected execution: %+v", got)
	}
	if got.StartedAt == nil {
		t.Error("expected StartedAt to be stamped")
	}
	if got.EndedAt != nil {
		t.Error("expected EndedAt to be empty while running")
	}

	if err := repo.UpdateStatus(ctx, exec.ID, models.ExecutionCompleted, "done"); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	got, _ = repo.Get(ctx, exec.ID)
	if got.EndedAt == nil || got.ExitMessage != "done" {
		t.Errorf("expected terminal execution to be closed, got %+v", got)
	}
}

func TestExecution_NotFound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.Executions.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := db.Executions.SaveCheckpoint(ctx, "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExecution_LatestForInstance(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"a", "b"} {
		db.Executions.Create(ctx, &models.JobExecution{
			ID:         id,
			JobName:    "updateSeriesJob",
			InstanceID: "inst",
			Status:     models.ExecutionFailed,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
	}

	latest, err := db.Executions.LatestForInstance(ctx, "inst")
	if err != nil {
		t.Fatalf("LatestForInstance failed: %v", err)
	}
	if latest == nil || latest.ID != "b" {
		t.Errorf("expected b to be latest, got %+v", latest)
	}

	none, err := db.Executions.LatestForInstance(ctx, "other")
	if err != nil || none != nil {
		t.Errorf("expected nil for unknown instance, got %+v (%v)", none, err)
	}

	list, _ := db.Executions.ListByJob(ctx, "updateSeriesJob", 10)
	if len(list) != 2 || list[0].ID != "b" {
		t.Errorf("unexpected list: %+v", list)
	}
}

func TestExecution_MarkOrphaned(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	db.Executions.Create(ctx, &models.JobExecution{ID: "run", JobName: "j", InstanceID: "i1", Status: models.ExecutionStarted})
	db.Executions.Create(ctx, &models.JobExecution{ID: "done", JobName: "j", InstanceID: "i2", Status: models.ExecutionCompleted})

	n, err := db.Executions.MarkOrphaned(ctx, "process restarted")
	if err != nil {
		t.Fatalf("MarkOrphaned failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 orphan, got %d", n)
	}

	got, _ := db.Executions.Get(ctx, "run")
	if got.Status != models.ExecutionFailed {
		t.Errorf("expected FAILED, got %s", got.Status)
	}
	got, _ = db.Executions.Get(ctx, "done")
	if got.Status != models.ExecutionCompleted {
		t.Errorf("completed execution should be untouched, got %s", got.Status)
	}
}

func TestExecution_ExportsInUse(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	create := func(id, instance, export string, status models.ExecutionStatus, minute int) {
		t.Helper()
		exec := &models.JobExecution{ID: id, JobName: "updateMoviesJob", InstanceID: instance,
			Status: status, Export: export, CreatedAt: base.Add(time.Duration(minute) * time.Minute)}
		if err := db.Executions.Create(ctx, exec); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}
	create("failed", "i1", "movie_ids_03_06_2026.json.gz", models.ExecutionFailed, 0)
	create("done", "i2", "movie_ids_03_05_2026.json.gz", models.ExecutionCompleted, 1)
	create("gave-up", "i3", "movie_ids_03_04_2026.json.gz", models.ExecutionAbandoned, 2)
	// i4 failed on one export, then its restart completed
	create("first", "i4", "movie_ids_03_03_2026.json.gz", models.ExecutionFailed, 3)
	create("second", "i4", "movie_ids_03_03_2026.json.gz", models.ExecutionCompleted, 4)
	create("pending", "i5", "", models.ExecutionStarted, 5)

	if err := db.Executions.SaveExport(ctx, "pending", "tv_series_ids_03_07_2026.json.gz"); err != nil {
		t.Fatalf("SaveExport failed: %v", err)
	}
	got, _ := db.Executions.Get(ctx, "pending")
	if got.Export != "tv_series_ids_03_07_2026.json.gz" {
		t.Errorf("expected export to be saved, got %q", got.Export)
	}
	if err := db.Executions.SaveExport(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	names, err := db.Executions.ExportsInUse(ctx)
	if err != nil {
		t.Fatalf("ExportsInUse failed: %v", err)
	}
	want := []string{"movie_ids_03_06_2026.json.gz", "tv_series_ids_03_07_2026.json.gz"}
	if len(names) != len(want) || names[0] != want[0] || names[1] != want[1] {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestCredentials_CompareAndSet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := db.Credentials

	cred, err := repo.Get(ctx, models.CredentialIGDBToken)
	if err != nil || cred != nil {
		t.Fatalf("expected no credential, got %+v (%v)", cred, err)
	}

	cred, err = repo.CompareAndSet(ctx, models.CredentialIGDBToken, 0, "first")
	if err != nil {
		t.Fatalf("CompareAndSet from empty failed: %v", err)
	}
	if cred.Version != 1 || cred.Secret != "first" {
		t.Errorf("unexpected credential: %+v", cred)
	}

	if _, err := repo.CompareAndSet(ctx, models.CredentialIGDBToken, 0, "racer"); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected conflict on stale empty insert, got %v", err)
	}

	cred, err = repo.CompareAndSet(ctx, models.CredentialIGDBToken, 1, "second")
	if err != nil {
		t.Fatalf("CompareAndSet failed: %v", err)
	}
	if cred.Version != 2 {
		t.Errorf("expected version 2, got %d", cred.Version)
	}

	if _, err := repo.CompareAndSet(ctx, models.CredentialIGDBToken, 1, "stale"); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	cred, err = repo.Set(ctx, models.CredentialIGDBToken, "forced")
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if cred.Version != 3 || cred.Secret != "forced" {
		t.Errorf("unexpected credential after Set: %+v", cred)
	}
}
