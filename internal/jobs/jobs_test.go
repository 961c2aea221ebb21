package jobs

import (
	"testing"
	"time"
)

func TestJobLifecycle(t *testing.T) {
	m := NewManager()
	created := m.Create(KindDataset, "faces")
	if created.Status != StatusQueued || created.ID == "" {
		t.Fatalf("Create() = %+v", created)
	}
	if len(created.ID) != 12 {
		t.Fatalf("job id length = %d", len(created.ID))
	}

	m.MarkRunning(created.ID, 3)
	m.UpdateProgress(created.ID, 1, "run 1/3 completed")
	m.AppendLog(created.ID, "note")

	job, ok := m.Get(created.ID)
	if !ok {
		t.Fatalf("Get() missing job")
	}
	if job.Status != StatusRunning || job.Total != 3 || job.Completed != 1 {
		t.Fatalf("job = %+v", job)
	}
	if job.StartedAt == nil {
		t.Fatalf("StartedAt not set")
	}
	if len(job.Logs) != 3 {
		t.Fatalf("logs = %v", job.Logs)
	}

	m.MarkFinished(created.ID, map[string]any{"total_runs": 3})
	job, _ = m.Get(created.ID)
	if job.Status != StatusFinished || job.Completed != 3 || job.FinishedAt == nil {
		t.Fatalf("finished job = %+v", job)
	}
	if job.Result == nil {
		t.Fatalf("result not recorded")
	}
}

func TestMarkFailed(t *testing.T) {
	m := NewManager()
	job := m.Create(KindBatch, "b")
	m.MarkRunning(job.ID, 1)
	m.MarkFailed(job.ID, "server unreachable")

	got, _ := m.Get(job.ID)
	if got.Status != StatusFailed || got.Error != "server unreachable" {
		t.Fatalf("failed job = %+v", got)
	}
}

func TestListOrdersByStartDescending(t *testing.T) {
	m := NewManager()
	first := m.Create(KindBatch, "first")
	second := m.Create(KindBatch, "second")

	m.MarkRunning(first.ID, 1)
	time.Sleep(5 * time.Millisecond)
	m.MarkRunning(second.ID, 1)

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("list = %+v", list)
	}
	if list[0].ID != second.ID {
		t.Fatalf("newest job not first: %+v", list)
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	m := NewManager()
	job := m.Create(KindBatch, "b")
	m.AppendLog(job.ID, "one")

	snap, _ := m.Get(job.ID)
	snap.Logs[0] = "tampered"
	snap.Status = StatusFailed

	again, _ := m.Get(job.ID)
	if again.Logs[0] != "one" || again.Status != StatusQueued {
		t.Fatalf("snapshot mutation leaked: %+v", again)
	}
}

func TestUpdateUnknownJobIsNoOp(t *testing.T) {
	m := NewManager()
	m.MarkRunning("nope", 1)
	m.MarkFailed("nope", "x")
	if _, ok := m.Get("nope"); ok {
		t.Fatalf("unknown id should stay unknown")
	}
}

func TestProgressAdapter(t *testing.T) {
	m := NewManager()
	job := m.Create(KindDataset, "d")
	m.MarkRunning(job.ID, 2)

	p := Progress{Manager: m, JobID: job.ID}
	p.Update(2, 4, "run 2/4 completed")

	got, _ := m.Get(job.ID)
	if got.Completed != 2 || got.Total != 4 {
		t.Fatalf("progress not forwarded: %+v", got)
	}
}
