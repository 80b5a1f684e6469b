package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/axsddlr/prsync/internal/event"
	"github.com/axsddlr/prsync/internal/stats"
)

// SchedulerConfig controls scheduler behavior.
type SchedulerConfig struct {
	Jobs        int      // concurrency bound, >= 1
	SourceRoot  string   // local source directory
	Target      string   // destination argument passed through to the transfer command
	RsyncPath   string   // transfer binary; empty means "rsync"
	RsyncArgs   []string // caller-supplied flags, passed through unmodified
	RemoteShell string   // transfer -e value reusing the control channel; "" for local
	Runner      Runner
	Events      chan<- event.Event
	Stats       *stats.Collector
}

// Scheduler drives one transfer process per bucket through a bounded
// slot pool of cfg.Jobs concurrent workers.
type Scheduler struct {
	cfg SchedulerConfig

	mu   sync.Mutex // serializes terminal-state updates from workers
	jobs []*Job
}

// NewScheduler creates a scheduler with the given config.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Jobs < 1 {
		cfg.Jobs = 1
	}
	if cfg.RsyncPath == "" {
		cfg.RsyncPath = "rsync"
	}
	if cfg.Runner == nil {
		cfg.Runner = &ExecRunner{}
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	return &Scheduler{cfg: cfg}
}

// Run dispatches buckets in id order, keeping at most cfg.Jobs transfers
// running, and blocks until every job reaches a terminal state. A failed
// bucket never halts the run; cancellation marks all remaining jobs
// failed with ErrCancelled and waits for running processes to terminate.
func (s *Scheduler) Run(ctx context.Context, buckets []Bucket) Report {
	start := time.Now()

	s.jobs = make([]*Job, len(buckets))
	for i := range buckets {
		s.jobs[i] = &Job{Bucket: buckets[i], State: Pending}
	}

	slots := make(chan struct{}, s.cfg.Jobs)
	var wg sync.WaitGroup

	for _, job := range s.jobs {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			s.finish(job, -1, 0, ErrCancelled)
			continue
		}

		if ctx.Err() != nil {
			<-slots
			s.finish(job, -1, 0, ErrCancelled)
			continue
		}

		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			defer func() { <-slots }()
			s.runJob(ctx, j)
		}(job)
	}

	wg.Wait()
	return s.report(time.Since(start))
}

func (s *Scheduler) runJob(ctx context.Context, j *Job) {
	begin := time.Now()
	s.setRunning(j)

	listPath, err := writeFileList(j.Bucket)
	if err != nil {
		s.finish(j, -1, time.Since(begin), &SpawnError{BucketID: j.Bucket.ID, Err: err})
		return
	}
	defer os.Remove(listPath)

	argv := s.argv(listPath)
	slog.Debug("dispatching bucket",
		"bucket", j.Bucket.ID, "files", len(j.Bucket.Files), "bytes", j.Bucket.TotalSize)

	code, err := s.cfg.Runner.Run(ctx, argv, func(line string) {
		s.emit(event.Event{
			Type:     event.BucketProgress,
			BucketID: j.Bucket.ID,
			Line:     line,
		})
	})
	elapsed := time.Since(begin)

	switch {
	case ctx.Err() != nil:
		s.finish(j, code, elapsed, ErrCancelled)
	case err != nil:
		s.finish(j, -1, elapsed, &SpawnError{BucketID: j.Bucket.ID, Err: err})
	case code != 0:
		s.finish(j, code, elapsed, &TransferError{BucketID: j.Bucket.ID, ExitCode: code})
	default:
		s.finish(j, 0, elapsed, nil)
	}
}

func (s *Scheduler) setRunning(j *Job) {
	s.mu.Lock()
	j.State = Running
	s.mu.Unlock()

	s.emit(event.Event{
		Type:     event.BucketStarted,
		BucketID: j.Bucket.ID,
		Files:    len(j.Bucket.Files),
		Size:     j.Bucket.TotalSize,
	})
}

// finish records a terminal transition. The mutex serializes concurrent
// completions from multiple workers.
func (s *Scheduler) finish(j *Job, code int, elapsed time.Duration, cause error) {
	s.mu.Lock()
	j.State = Succeeded
	if cause != nil {
		j.State = Failed
	}
	j.ExitCode = code
	j.Err = cause
	j.Elapsed = elapsed
	s.mu.Unlock()

	if cause != nil {
		s.cfg.Stats.AddBucketsFailed(1)
		s.emit(event.Event{
			Type:     event.BucketFailed,
			BucketID: j.Bucket.ID,
			Files:    len(j.Bucket.Files),
			Size:     j.Bucket.TotalSize,
			Elapsed:  elapsed,
			Error:    cause,
		})
		return
	}

	s.cfg.Stats.AddBucketsDone(1)
	s.cfg.Stats.AddFilesSent(int64(len(j.Bucket.Files)))
	s.cfg.Stats.AddBytesSent(j.Bucket.TotalSize)
	s.emit(event.Event{
		Type:     event.BucketCompleted,
		BucketID: j.Bucket.ID,
		Files:    len(j.Bucket.Files),
		Size:     j.Bucket.TotalSize,
		Elapsed:  elapsed,
	})
}

func (s *Scheduler) report(wall time.Duration) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	rep := Report{TotalBuckets: len(s.jobs), WallTime: wall}
	for _, j := range s.jobs {
		if j.State == Succeeded {
			rep.Succeeded++
			continue
		}
		rep.Failed++
		rep.FailedBuckets = append(rep.FailedBuckets, j.Bucket.ID)
	}
	return rep
}

// Jobs returns the job slice for post-run inspection. Only valid after
// Run has returned.
func (s *Scheduler) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs
}

func (s *Scheduler) emit(ev event.Event) {
	if s.cfg.Events == nil {
		return
	}
	ev.Timestamp = time.Now()
	s.cfg.Events <- ev
}

// argv builds the transfer command line for one bucket: pass-through
// flags first, then the shared remote shell, the materialized file list,
// and the source/target pair.
func (s *Scheduler) argv(listPath string) []string {
	argv := []string{s.cfg.RsyncPath}
	argv = append(argv, s.cfg.RsyncArgs...)
	if s.cfg.RemoteShell != "" {
		argv = append(argv, "-e", s.cfg.RemoteShell)
	}
	argv = append(argv,
		"--files-from="+listPath,
		strings.TrimSuffix(s.cfg.SourceRoot, "/")+"/",
		s.cfg.Target,
	)
	return argv
}

// writeFileList materializes a bucket's relative paths as a temp file
// consumed via --files-from.
func writeFileList(b Bucket) (string, error) {
	name := fmt.Sprintf("prsync-bucket%04d-%s.list", b.ID, uuid.New().String()[:8])
	path := filepath.Join(os.TempDir(), name)

	var sb strings.Builder
	for _, f := range b.Files {
		sb.WriteString(f.RelPath)
		sb.WriteByte('\n')
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return "", fmt.Errorf("write file list: %w", err)
	}
	return path, nil
}
