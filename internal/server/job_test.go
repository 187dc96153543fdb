package server

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()

	config := JobConfig{
		Dir:     "/data/exp1",
		Pattern: `img_(\d+)`,
		MinArea: 1000,
	}

	job := jm.CreateJob(config)

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}

	if job.State != StatePending {
		t.Errorf("Expected state %s, got %s", StatePending, job.State)
	}

	if job.Config.Pattern != config.Pattern {
		t.Errorf("Expected pattern %s, got %s", config.Pattern, job.Config.Pattern)
	}

	if job.StartTime.IsZero() {
		t.Error("StartTime should be set")
	}
}

func TestJobManager_GetJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(JobConfig{Dir: "d", Pattern: `(\d+)`})

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Fatal("Job should exist")
	}

	if retrieved.ID != job.ID {
		t.Errorf("Expected job ID %s, got %s", job.ID, retrieved.ID)
	}

	// Returned jobs are snapshots
	retrieved.State = StateFailed
	again, _ := jm.GetJob(job.ID)
	if again.State != StatePending {
		t.Errorf("Mutating a snapshot changed the stored job: %s", again.State)
	}

	_, exists = jm.GetJob("nonexistent")
	if exists {
		t.Error("Nonexistent job should not exist")
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()

	first := jm.CreateJob(JobConfig{Dir: "d", Pattern: `(\d+)`})
	time.Sleep(time.Millisecond)
	second := jm.CreateJob(JobConfig{Dir: "d", Pattern: `(\d+)`})

	jobs := jm.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != first.ID || jobs[1].ID != second.ID {
		t.Error("Expected jobs oldest first")
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(JobConfig{Dir: "d", Pattern: `(\d+)`})

	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Done = 5
		j.Total = 10
		j.Area = 1234.5
	})
	if err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning {
		t.Errorf("Expected state %s, got %s", StateRunning, updated.State)
	}
	if updated.Done != 5 || updated.Total != 10 {
		t.Errorf("Expected 5/10, got %d/%d", updated.Done, updated.Total)
	}
	if updated.Area != 1234.5 {
		t.Errorf("Expected area 1234.5, got %v", updated.Area)
	}

	if err := jm.UpdateJob("nonexistent", func(j *Job) {}); err == nil {
		t.Error("Expected error for nonexistent job")
	}

	running := jm.GetRunningJobs()
	if len(running) != 1 || running[0].ID != job.ID {
		t.Errorf("Expected 1 running job, got %d", len(running))
	}
}

func TestJobManager_CancelJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{Dir: "d", Pattern: `(\d+)`})

	// No cancel func attached yet
	if jm.CancelJob(job.ID) {
		t.Error("Expected false without a cancel func")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jm.UpdateJob(job.ID, func(j *Job) { j.cancel = cancel })

	if !jm.CancelJob(job.ID) {
		t.Fatal("Expected CancelJob to succeed")
	}
	if ctx.Err() == nil {
		t.Error("Expected context to be cancelled")
	}

	jm.UpdateJob(job.ID, func(j *Job) { j.State = StateCancelled })
	if jm.CancelJob(job.ID) {
		t.Error("Expected false for finished job")
	}
	if jm.CancelJob("nonexistent") {
		t.Error("Expected false for nonexistent job")
	}
}

func TestJobManager_ThreadSafety(t *testing.T) {
	jm := NewJobManager()

	var wg sync.WaitGroup
	numGoroutines := 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job := jm.CreateJob(JobConfig{Dir: "d", Pattern: `(\d+)`})
			jm.UpdateJob(job.ID, func(j *Job) {
				j.Done++
			})
			jm.GetJob(job.ID)
			jm.ListJobs()
		}()
	}

	wg.Wait()

	if len(jm.ListJobs()) != numGoroutines {
		t.Errorf("Expected %d jobs, got %d", numGoroutines, len(jm.ListJobs()))
	}
}
