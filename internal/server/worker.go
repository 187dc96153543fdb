package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/millifluidic/internal/metrics"
	"github.com/cwbudde/millifluidic/internal/pipeline"
	"github.com/cwbudde/millifluidic/internal/store"
)

// runJob executes an analysis job in the background.
// If runStore is not nil, the finished result is saved under the job ID.
func runJob(ctx context.Context, jm *JobManager, runStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	slog.Info("Starting job", "job_id", jobID, "dir", job.Config.Dir, "pattern", job.Config.Pattern, "table", job.Config.Table)

	src, err := job.Config.Source()
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	opts, err := job.Config.Options()
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	trace := openTrace(runStore, jobID)
	closeTrace := func() {
		if trace == nil {
			return
		}
		if err := trace.Close(); err != nil {
			slog.Warn("Failed to close trace", "job_id", jobID, "error", err)
		}
		trace = nil
	}
	defer closeTrace()

	observer := func(p pipeline.Progress) {
		jm.UpdateJob(jobID, func(j *Job) {
			j.Stage = p.State
			if p.Total > 0 {
				j.Done = p.Done
				j.Total = p.Total
			}
			if p.Record != nil && p.Skipped == nil {
				j.Area = p.Area
			}
			if p.Skipped != nil {
				j.Skipped++
			}
		})
		if trace != nil {
			if entry, ok := store.EntryFromProgress(p); ok {
				if err := trace.Write(entry); err != nil {
					slog.Warn("Failed to write trace entry", "job_id", jobID, "error", err)
				} else if err := trace.Flush(); err != nil {
					slog.Warn("Failed to flush trace", "job_id", jobID, "error", err)
				}
			}
		}
		if current, ok := jm.GetJob(jobID); ok {
			jm.broadcaster.Broadcast(newProgressEvent(current))
		}
	}

	start := time.Now()
	result, err := pipeline.NewRunner(opts, observer).Run(ctx, src)
	elapsed := time.Since(start)

	if err != nil {
		closeTrace()
		discardRun(runStore, jobID)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			markJobCancelled(jm, jobID)
		} else {
			markJobFailed(jm, jobID, err)
		}
		return err
	}

	saved := false
	if runStore != nil {
		closeTrace()
		if _, err := runStore.SaveRun(jobID, job.Config, result); err != nil {
			slog.Error("Failed to save run", "job_id", jobID, "error", err)
			discardRun(runStore, jobID)
		} else {
			saved = true
		}
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Stage = result.State
		j.Area = result.FinalArea()
		j.Skipped = len(result.Skipped)
		j.Saved = saved
		j.EndTime = &endTime
		j.result = result
	})
	if err != nil {
		return err
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"records", result.Records,
		"skipped", len(result.Skipped),
		"final_area", result.FinalArea(),
	)

	broadcastFinal(jm, jobID)
	return nil
}

// openTrace opens the progress trace when the store is filesystem-backed.
func openTrace(runStore store.Store, jobID string) *store.TraceWriter {
	fs, ok := runStore.(*store.FSStore)
	if !ok {
		return nil
	}
	tw, err := store.NewTraceWriter(fs.BaseDir(), jobID)
	if err != nil {
		slog.Warn("Failed to open trace", "job_id", jobID, "error", err)
		return nil
	}
	slog.Debug("Trace opened", "job_id", jobID, "path", tw.Path())
	return tw
}

// discardRun removes what an unfinished job left in the store.
func discardRun(runStore store.Store, jobID string) {
	if runStore == nil {
		return
	}
	if err := runStore.DeleteRun(jobID); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("Failed to remove unfinished run", "job_id", jobID, "error", err)
	}
}

// broadcastFinal sends the terminal event and releases the job's subscribers.
func broadcastFinal(jm *JobManager, jobID string) {
	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(newProgressEvent(job))
	}
	jm.broadcaster.CleanupJob(jobID)
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	broadcastFinal(jm, jobID)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
	broadcastFinal(jm, jobID)
}
