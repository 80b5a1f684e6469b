package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axsddlr/prsync/internal/event"
)

var bucketIDRe = regexp.MustCompile(`prsync-bucket(\d{4})-`)

// fakeRunner stands in for the external transfer command.
type fakeRunner struct {
	mu        sync.Mutex
	argvs     [][]string
	fileLists map[int]string // bucket id -> --files-from content

	exitFor  map[int]int   // bucket id -> exit code (default 0)
	spawnErr error         // returned for every bucket when set
	delay    time.Duration // simulated transfer duration
	blockCtx bool          // block until ctx is cancelled
	lines    []string      // emitted to onLine before exiting

	running    atomic.Int32
	maxRunning atomic.Int32
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{fileLists: map[int]string{}, exitFor: map[int]int{}}
}

func (f *fakeRunner) Run(ctx context.Context, argv []string, onLine func(string)) (int, error) {
	if f.spawnErr != nil {
		return -1, f.spawnErr
	}

	cur := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		prev := f.maxRunning.Load()
		if cur <= prev || f.maxRunning.CompareAndSwap(prev, cur) {
			break
		}
	}

	id := bucketIDFromArgv(argv)

	f.mu.Lock()
	f.argvs = append(f.argvs, argv)
	for _, a := range argv {
		if rest, ok := strings.CutPrefix(a, "--files-from="); ok {
			if data, err := os.ReadFile(rest); err == nil {
				f.fileLists[id] = string(data)
			}
		}
	}
	f.mu.Unlock()

	for _, line := range f.lines {
		onLine(line)
	}

	if f.blockCtx {
		<-ctx.Done()
		return -1, nil
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	return f.exitFor[id], nil
}

func bucketIDFromArgv(argv []string) int {
	for _, a := range argv {
		if m := bucketIDRe.FindStringSubmatch(a); m != nil {
			id, _ := strconv.Atoi(m[1])
			return id
		}
	}
	return -1
}

func testBuckets(n int) []Bucket {
	buckets := make([]Bucket, n)
	for i := range buckets {
		buckets[i] = Bucket{
			ID:        i,
			Files:     []FileEntry{{RelPath: fmt.Sprintf("dir/file%d", i), Size: 100}},
			TotalSize: 100,
		}
	}
	return buckets
}

func TestScheduler_AllSucceed(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	sched := NewScheduler(SchedulerConfig{
		Jobs:       4,
		SourceRoot: "/src",
		Target:     "/dst",
		Runner:     fake,
	})

	report := sched.Run(context.Background(), testBuckets(4))

	assert.Equal(t, 4, report.TotalBuckets)
	assert.Equal(t, 4, report.Succeeded)
	assert.Zero(t, report.Failed)
	assert.Empty(t, report.FailedBuckets)
	assert.True(t, report.Ok())

	for _, j := range sched.Jobs() {
		assert.Equal(t, Succeeded, j.State)
		assert.Zero(t, j.ExitCode)
	}
}

func TestScheduler_ConcurrencyBound(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	fake.delay = 30 * time.Millisecond
	sched := NewScheduler(SchedulerConfig{
		Jobs:       3,
		SourceRoot: "/src",
		Target:     "/dst",
		Runner:     fake,
	})

	sched.Run(context.Background(), testBuckets(12))

	assert.LessOrEqual(t, fake.maxRunning.Load(), int32(3),
		"more than jobs transfers ran at once")
	assert.Equal(t, int32(3), fake.maxRunning.Load(),
		"pool never filled all slots")
}

func TestScheduler_PartialFailureIndependence(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	fake.exitFor[2] = 1
	sched := NewScheduler(SchedulerConfig{
		Jobs:       2,
		SourceRoot: "/src",
		Target:     "/dst",
		Runner:     fake,
	})

	report := sched.Run(context.Background(), testBuckets(5))

	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []int{2}, report.FailedBuckets)

	job := sched.Jobs()[2]
	assert.Equal(t, Failed, job.State)
	assert.Equal(t, 1, job.ExitCode)
	var terr *TransferError
	require.ErrorAs(t, job.Err, &terr)
	assert.Equal(t, 2, terr.BucketID)
	assert.Equal(t, 1, terr.ExitCode)
}

func TestScheduler_SpawnFailure(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	fake.spawnErr = errors.New("exec: \"rsync\": executable file not found")
	sched := NewScheduler(SchedulerConfig{
		Jobs:       2,
		SourceRoot: "/src",
		Target:     "/dst",
		Runner:     fake,
	})

	report := sched.Run(context.Background(), testBuckets(3))

	assert.Equal(t, 3, report.Failed)
	for _, j := range sched.Jobs() {
		var serr *SpawnError
		require.ErrorAs(t, j.Err, &serr)
	}
}

func TestScheduler_Cancellation(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	fake.blockCtx = true
	sched := NewScheduler(SchedulerConfig{
		Jobs:       2,
		SourceRoot: "/src",
		Target:     "/dst",
		Runner:     fake,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Let the first two jobs start, then abort the run.
		for fake.running.Load() < 2 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	report := sched.Run(ctx, testBuckets(6))

	assert.Equal(t, 6, report.Failed)
	assert.Zero(t, report.Succeeded)
	for _, j := range sched.Jobs() {
		assert.Equal(t, Failed, j.State)
		assert.ErrorIs(t, j.Err, ErrCancelled)
	}
}

func TestScheduler_ArgvShape(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	sched := NewScheduler(SchedulerConfig{
		Jobs:        1,
		SourceRoot:  "/data/src",
		Target:      "bob@nas:/backup",
		RsyncPath:   "/usr/bin/rsync",
		RsyncArgs:   []string{"-avz", "--progress"},
		RemoteShell: "ssh -o ControlPath=/tmp/ctl",
		Runner:      fake,
	})

	buckets := []Bucket{{
		ID: 0,
		Files: []FileEntry{
			{RelPath: "a.txt", Size: 1},
			{RelPath: "sub/b.txt", Size: 2},
		},
		TotalSize: 3,
	}}
	report := sched.Run(context.Background(), buckets)
	require.True(t, report.Ok())

	require.Len(t, fake.argvs, 1)
	argv := fake.argvs[0]

	assert.Equal(t, "/usr/bin/rsync", argv[0])
	assert.Equal(t, []string{"-avz", "--progress"}, argv[1:3])
	assert.Equal(t, "-e", argv[3])
	assert.Equal(t, "ssh -o ControlPath=/tmp/ctl", argv[4])
	assert.True(t, strings.HasPrefix(argv[5], "--files-from="), argv[5])
	assert.Equal(t, "/data/src/", argv[6])
	assert.Equal(t, "bob@nas:/backup", argv[7])

	assert.Equal(t, "a.txt\nsub/b.txt\n", fake.fileLists[0])
}

func TestScheduler_LocalOmitsRemoteShell(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	sched := NewScheduler(SchedulerConfig{
		Jobs:       1,
		SourceRoot: "/src",
		Target:     "/dst",
		Runner:     fake,
	})

	sched.Run(context.Background(), testBuckets(1))

	require.Len(t, fake.argvs, 1)
	assert.NotContains(t, fake.argvs[0], "-e")
}

func TestScheduler_PerBucketEventOrder(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	fake.lines = []string{"line 1", "line 2", "line 3"}
	events := make(chan event.Event, 64)
	sched := NewScheduler(SchedulerConfig{
		Jobs:       1,
		SourceRoot: "/src",
		Target:     "/dst",
		Runner:     fake,
		Events:     events,
	})

	sched.Run(context.Background(), testBuckets(1))
	close(events)

	var got []event.Type
	var lines []string
	for ev := range events {
		got = append(got, ev.Type)
		if ev.Type == event.BucketProgress {
			lines = append(lines, ev.Line)
		}
	}

	assert.Equal(t, []event.Type{
		event.BucketStarted,
		event.BucketProgress,
		event.BucketProgress,
		event.BucketProgress,
		event.BucketCompleted,
	}, got)
	assert.Equal(t, []string{"line 1", "line 2", "line 3"}, lines)
}

func TestScheduler_FileListCleanedUp(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	sched := NewScheduler(SchedulerConfig{
		Jobs:       1,
		SourceRoot: "/src",
		Target:     "/dst",
		Runner:     fake,
	})

	sched.Run(context.Background(), testBuckets(1))

	for _, argv := range fake.argvs {
		for _, a := range argv {
			if rest, ok := strings.CutPrefix(a, "--files-from="); ok {
				_, err := os.Stat(rest)
				assert.True(t, os.IsNotExist(err), "file list %s not removed", rest)
			}
		}
	}
}
