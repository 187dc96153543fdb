package server

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/millifluidic/internal/pipeline"
	"github.com/cwbudde/millifluidic/internal/store"
)

func TestRunJob_Success(t *testing.T) {
	dir := createTestSeries(t)
	runStore, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	jm := NewJobManager()
	job := jm.CreateJob(testJobConfig(dir))

	if err := runJob(context.Background(), jm, runStore, job.ID); err != nil {
		t.Fatalf("runJob failed: %v", err)
	}

	finished, _ := jm.GetJob(job.ID)
	if finished.State != StateCompleted {
		t.Fatalf("Expected state %s, got %s (%s)", StateCompleted, finished.State, finished.Error)
	}
	if finished.Stage != pipeline.StateFinalized {
		t.Errorf("Expected stage finalized, got %s", finished.Stage)
	}
	if finished.Done != 2 || finished.Total != 2 {
		t.Errorf("Expected 2/2 records, got %d/%d", finished.Done, finished.Total)
	}
	if finished.Area != 2 {
		t.Errorf("Expected final area 2, got %v", finished.Area)
	}
	if !finished.Saved {
		t.Error("Expected run to be saved")
	}
	if finished.EndTime == nil {
		t.Error("EndTime should be set")
	}
	if finished.Result() == nil {
		t.Fatal("Expected result to be attached")
	}

	manifest, err := runStore.LoadManifest(job.ID)
	if err != nil {
		t.Fatalf("Expected saved manifest: %v", err)
	}
	if manifest.Folded != 2 {
		t.Errorf("Expected 2 folded records, got %d", manifest.Folded)
	}

	reader, err := store.NewTraceReader(runStore.BaseDir(), job.ID)
	if err != nil {
		t.Fatalf("Expected trace: %v", err)
	}
	defer reader.Close()
	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read trace: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected 2 trace entries, got %d", len(entries))
	}
}

func TestRunJob_NoImages(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testJobConfig(t.TempDir()))

	if err := runJob(context.Background(), jm, nil, job.ID); err == nil {
		t.Fatal("Expected error for empty directory")
	}

	failed, _ := jm.GetJob(job.ID)
	if failed.State != StateFailed {
		t.Errorf("Expected state %s, got %s", StateFailed, failed.State)
	}
	if failed.Error == "" {
		t.Error("Expected error message")
	}
}

func TestRunJob_Cancellation(t *testing.T) {
	dir := createTestSeries(t)

	jm := NewJobManager()
	job := jm.CreateJob(testJobConfig(dir))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runJob(ctx, jm, nil, job.ID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	cancelled, _ := jm.GetJob(job.ID)
	if cancelled.State != StateCancelled {
		t.Errorf("Expected state %s, got %s", StateCancelled, cancelled.State)
	}
	if cancelled.Result() != nil {
		t.Error("Cancelled job should not carry a result")
	}
}

func TestRunJob_DiscardsUnfinishedRun(t *testing.T) {
	tests := []struct {
		name  string
		dir   string
		ctx   func() context.Context
		state JobState
	}{
		{
			name:  "failed",
			dir:   t.TempDir(),
			ctx:   context.Background,
			state: StateFailed,
		},
		{
			name: "cancelled",
			dir:  createTestSeries(t),
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			state: StateCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runStore, err := store.NewFSStore(t.TempDir())
			if err != nil {
				t.Fatalf("Failed to create store: %v", err)
			}

			jm := NewJobManager()
			job := jm.CreateJob(testJobConfig(tt.dir))

			if err := runJob(tt.ctx(), jm, runStore, job.ID); err == nil {
				t.Fatal("Expected runJob to fail")
			}

			finished, _ := jm.GetJob(job.ID)
			if finished.State != tt.state {
				t.Errorf("Expected state %s, got %s", tt.state, finished.State)
			}
			if _, err := os.Stat(runStore.RunDir(job.ID)); !os.IsNotExist(err) {
				t.Errorf("Expected run directory to be removed, stat returned %v", err)
			}

			infos, err := runStore.ListRuns()
			if err != nil {
				t.Fatalf("ListRuns failed: %v", err)
			}
			if len(infos) != 0 {
				t.Errorf("Expected no stored runs, got %d", len(infos))
			}
		})
	}
}

func TestRunJob_ReleasesSubscribers(t *testing.T) {
	dir := createTestSeries(t)

	jm := NewJobManager()
	job := jm.CreateJob(testJobConfig(dir))
	events := jm.broadcaster.Subscribe(job.ID)

	if err := runJob(context.Background(), jm, nil, job.ID); err != nil {
		t.Fatalf("runJob failed: %v", err)
	}

	var last ProgressEvent
	for event := range events {
		last = event
	}
	if last.State != StateCompleted {
		t.Errorf("Expected final event %s, got %s", StateCompleted, last.State)
	}

	jm.broadcaster.mu.RLock()
	defer jm.broadcaster.mu.RUnlock()
	if len(jm.broadcaster.clients[job.ID]) != 0 {
		t.Error("Expected subscribers to be released")
	}
	if _, ok := jm.broadcaster.lastEvent[job.ID]; ok {
		t.Error("Expected cached event to be dropped")
	}
}

func TestRunJob_NotFound(t *testing.T) {
	if err := runJob(context.Background(), NewJobManager(), nil, "missing"); err == nil {
		t.Error("Expected error for missing job")
	}
}

func testJobConfig(dir string) JobConfig {
	return JobConfig{
		Dir:       dir,
		Extension: ".png",
		Pattern:   `frame_(\d+)`,
		MinArea:   0,
		Workers:   2,
	}
}

// createTestSeries writes three 4x4 frames: a dark reference, then one and
// two bright pixels.
func createTestSeries(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	createTestImage(t, filepath.Join(dir, "frame_0.png"))
	createTestImage(t, filepath.Join(dir, "frame_1.png"), image.Pt(0, 0))
	createTestImage(t, filepath.Join(dir, "frame_2.png"), image.Pt(0, 0), image.Pt(3, 3))
	return dir
}

func createTestImage(t *testing.T, path string, bright ...image.Point) {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for _, p := range bright {
		img.SetGray(p.X, p.Y, color.Gray{Y: 255})
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create test image: %v", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
}

// waitForState polls until the job reaches a terminal state.
func waitForState(t *testing.T, jm *JobManager, jobID string) *Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, _ := jm.GetJob(jobID)
		if isTerminal(job.State) {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Job %s did not finish", jobID)
	return nil
}
