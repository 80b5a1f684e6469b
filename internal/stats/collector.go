package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Collector tracks transfer statistics using lock-free atomic counters.
// Workers update it concurrently; presenters only read from it.
type Collector struct {
	filesTotal    atomic.Int64
	bytesTotal    atomic.Int64
	bucketsTotal  atomic.Int64
	bucketsDone   atomic.Int64
	bucketsFailed atomic.Int64
	filesSent     atomic.Int64
	bytesSent     atomic.Int64
	startTime     time.Time
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetTotals records scan totals (called once when the scan completes).
func (c *Collector) SetTotals(files, bytes int64) {
	c.filesTotal.Store(files)
	c.bytesTotal.Store(bytes)
}

// SetBucketsTotal records the bucket count (called once after partitioning).
func (c *Collector) SetBucketsTotal(n int64) { c.bucketsTotal.Store(n) }

func (c *Collector) AddBucketsDone(n int64)   { c.bucketsDone.Add(n) }
func (c *Collector) AddBucketsFailed(n int64) { c.bucketsFailed.Add(n) }
func (c *Collector) AddFilesSent(n int64)     { c.filesSent.Add(n) }
func (c *Collector) AddBytesSent(n int64)     { c.bytesSent.Add(n) }

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	FilesTotal    int64
	BytesTotal    int64
	BucketsTotal  int64
	BucketsDone   int64
	BucketsFailed int64
	FilesSent     int64
	BytesSent     int64
	Elapsed       time.Duration
}

// Snapshot returns a consistent point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		FilesTotal:    c.filesTotal.Load(),
		BytesTotal:    c.bytesTotal.Load(),
		BucketsTotal:  c.bucketsTotal.Load(),
		BucketsDone:   c.bucketsDone.Load(),
		BucketsFailed: c.bucketsFailed.Load(),
		FilesSent:     c.filesSent.Load(),
		BytesSent:     c.bytesSent.Load(),
		Elapsed:       c.Elapsed(),
	}
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"buckets=%d/%d failed=%d files=%d bytes=%d",
		s.BucketsDone, s.BucketsTotal, s.BucketsFailed, s.FilesSent, s.BytesSent,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
