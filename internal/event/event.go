package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	ScanStarted Type = iota + 1
	ScanComplete
	BucketPlanned
	BucketStarted
	BucketProgress
	BucketCompleted
	BucketFailed
)

var typeNames = [...]string{
	ScanStarted:     "ScanStarted",
	ScanComplete:    "ScanComplete",
	BucketPlanned:   "BucketPlanned",
	BucketStarted:   "BucketStarted",
	BucketProgress:  "BucketProgress",
	BucketCompleted: "BucketCompleted",
	BucketFailed:    "BucketFailed",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single progress event from the engine.
//
// Events for one bucket are emitted by a single worker goroutine and so
// arrive in emission order; no ordering holds across buckets.
type Event struct {
	Type      Type
	Timestamp time.Time
	BucketID  int
	Files     int           // files in the bucket, or total files (ScanComplete)
	Size      int64         // bucket bytes, or total bytes (ScanComplete)
	Line      string        // raw transfer-command output line (BucketProgress)
	Elapsed   time.Duration // set on BucketCompleted/BucketFailed
	Error     error
}
