package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/axsddlr/prsync/internal/event"
	"github.com/axsddlr/prsync/internal/session"
	"github.com/axsddlr/prsync/internal/stats"
	"github.com/axsddlr/prsync/internal/transport"
)

// Session is the borrowed view of the shared transfer channel. Workers
// read it; the engine closes it exactly once after the last job is
// terminal.
type Session interface {
	RemoteShell() string
	Close() error
}

// Config describes a transfer run.
type Config struct {
	Source     string
	Target     string
	Jobs       int
	BucketSize int64
	RsyncArgs  []string
	RsyncPath  string
	SSHPath    string
	DryRun     bool

	// OpenSession overrides session establishment; nil means a real SSH
	// control master for remote targets.
	OpenSession func(ctx context.Context, target transport.Location) (Session, error)
	// Runner overrides external command execution; nil means real processes.
	Runner Runner

	Events chan<- event.Event
	Stats  *stats.Collector
}

// Result is the outcome of a transfer run. Err is set only for fatal
// errors and cancellation; per-bucket failures live in the report.
type Result struct {
	Report Report
	Err    error
}

// Run executes a transfer run, blocking until complete: scan, partition,
// open the shared session, dispatch buckets, aggregate, tear down.
func Run(ctx context.Context, cfg Config) Result {
	start := time.Now()

	if err := validate(&cfg); err != nil {
		return Result{Err: err}
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}

	files, totalBytes, err := scanInventory(ctx, cfg)
	if err != nil {
		return Result{Err: err}
	}

	buckets, err := Partition(files, cfg.BucketSize)
	if err != nil {
		return Result{Err: err}
	}
	cfg.Stats.SetBucketsTotal(int64(len(buckets)))

	slog.Info("inventory bucketed",
		"files", len(files),
		"bytes", totalBytes,
		"buckets", len(buckets),
		"bucket_size", cfg.BucketSize,
	)

	if cfg.DryRun {
		return dryRun(cfg, buckets, start)
	}

	target := transport.ParseLocation(cfg.Target)

	openSession := cfg.OpenSession
	if openSession == nil {
		mux := &session.Multiplexer{SSHPath: cfg.SSHPath}
		openSession = func(ctx context.Context, loc transport.Location) (Session, error) {
			return mux.Open(ctx, loc)
		}
	}

	sess, err := openSession(ctx, target)
	if err != nil {
		return Result{Err: err}
	}
	// Closed exactly once, after the scheduler has driven every job to a
	// terminal state — including failure and cancellation paths.
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			slog.Warn("session teardown failed", "error", cerr)
		}
	}()

	sched := NewScheduler(SchedulerConfig{
		Jobs:        cfg.Jobs,
		SourceRoot:  cfg.Source,
		Target:      target.String(),
		RsyncPath:   cfg.RsyncPath,
		RsyncArgs:   cfg.RsyncArgs,
		RemoteShell: sess.RemoteShell(),
		Runner:      cfg.Runner,
		Events:      cfg.Events,
		Stats:       cfg.Stats,
	})

	report := sched.Run(ctx, buckets)
	report.WallTime = time.Since(start)

	if ctx.Err() != nil {
		return Result{Report: report, Err: ErrCancelled}
	}
	return Result{Report: report}
}

func validate(cfg *Config) error {
	if cfg.Jobs < 1 {
		return &ConfigError{Reason: fmt.Sprintf("jobs must be >= 1, got %d", cfg.Jobs)}
	}
	if cfg.BucketSize <= 0 {
		return &ConfigError{
			Reason: fmt.Sprintf("bucket size must be positive, got %d", cfg.BucketSize),
		}
	}

	// Shape check first: a remote-looking source must not surface as a
	// stat failure on a path that was never meant to be local.
	if transport.ParseLocation(cfg.Source).IsRemote() {
		return &ConfigError{Reason: "remote sources are not supported"}
	}

	info, err := os.Stat(cfg.Source)
	if err != nil {
		return &ConfigError{Reason: fmt.Sprintf("source %s: %v", cfg.Source, err)}
	}
	if !info.IsDir() {
		return &ConfigError{Reason: fmt.Sprintf("source %s is not a directory", cfg.Source)}
	}
	return nil
}

func scanInventory(ctx context.Context, cfg Config) ([]FileEntry, int64, error) {
	emit(cfg.Events, event.Event{Type: event.ScanStarted})
	slog.Info("scanning source", "root", cfg.Source)

	scanner := NewScanner(cfg.Source)
	entries, errs := scanner.Scan(ctx)

	// Unreadable entries are skipped, not fatal.
	go func() {
		for err := range errs {
			slog.Warn("skipping unreadable entry", "error", err)
		}
	}()

	var files []FileEntry
	var totalBytes int64
	for e := range entries {
		files = append(files, e)
		totalBytes += e.Size
	}

	if ctx.Err() != nil {
		return nil, 0, ErrCancelled
	}

	cfg.Stats.SetTotals(int64(len(files)), totalBytes)
	emit(cfg.Events, event.Event{
		Type:  event.ScanComplete,
		Files: len(files),
		Size:  totalBytes,
	})
	return files, totalBytes, nil
}

// dryRun publishes the bucket plan as events so the presenter renders
// it on stdout; the plan is the product of the run, not a log line.
func dryRun(cfg Config, buckets []Bucket, start time.Time) Result {
	for _, b := range buckets {
		emit(cfg.Events, event.Event{
			Type:     event.BucketPlanned,
			BucketID: b.ID,
			Files:    len(b.Files),
			Size:     b.TotalSize,
		})
	}
	return Result{Report: Report{
		TotalBuckets: len(buckets),
		WallTime:     time.Since(start),
	}}
}

func emit(events chan<- event.Event, ev event.Event) {
	if events == nil {
		return
	}
	ev.Timestamp = time.Now()
	events <- ev
}
