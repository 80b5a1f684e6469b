package engine

import "time"

// FileEntry is one scanned source file. Immutable once scanned; after
// partitioning it belongs to exactly one bucket.
type FileEntry struct {
	RelPath string
	Size    int64
}

// Bucket is a size-balanced partition of the inventory, transferred by
// one worker process. IDs run 0..N-1 in creation order.
type Bucket struct {
	ID        int
	Files     []FileEntry
	TotalSize int64
}

// JobState is the lifecycle of a bucket transfer.
type JobState int

const (
	Pending JobState = iota
	Running
	Succeeded
	Failed
)

var jobStateNames = [...]string{
	Pending:   "Pending",
	Running:   "Running",
	Succeeded: "Succeeded",
	Failed:    "Failed",
}

func (s JobState) String() string {
	if int(s) < len(jobStateNames) {
		return jobStateNames[s]
	}
	return "Unknown"
}

// Job tracks one bucket through the scheduler. Mutated only by the
// worker goroutine that owns it, under the scheduler's mutex.
type Job struct {
	Bucket   Bucket
	State    JobState
	ExitCode int
	Err      error
	Elapsed  time.Duration
}

// Report is the aggregate outcome of a run. FailedBuckets lists every
// failed bucket id so the caller can re-run just those buckets.
type Report struct {
	TotalBuckets  int
	Succeeded     int
	Failed        int
	FailedBuckets []int
	WallTime      time.Duration
}

// Ok reports whether every bucket succeeded.
func (r Report) Ok() bool { return r.Failed == 0 }
