package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/axsddlr/prsync/internal/event"
	"github.com/axsddlr/prsync/internal/stats"
)

// plainPresenter outputs one line per bucket transition to stdout and
// periodic progress to stderr.
type plainPresenter struct {
	w          io.Writer
	errW       io.Writer
	stats      *stats.Collector
	target     string
	verbose    bool
	noProgress bool
}

func (p *plainPresenter) Run(events <-chan event.Event) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			if !p.noProgress {
				p.printProgress()
			}
		}
	}
}

func (p *plainPresenter) handleEvent(ev event.Event) {
	switch ev.Type {
	case event.ScanStarted:
		fmt.Fprintln(p.errW, "scanning...")
	case event.ScanComplete:
		fmt.Fprintf(p.errW, "found %s files (%s)\n",
			FormatCount(int64(ev.Files)), stats.FormatBytes(ev.Size))
	case event.BucketPlanned:
		fmt.Fprintf(p.w, "bucket %d: plan %s files, %s -> %s\n",
			ev.BucketID, FormatCount(int64(ev.Files)), stats.FormatBytes(ev.Size), p.target)
	case event.BucketStarted:
		fmt.Fprintf(p.w, "bucket %d: %s files, %s -> %s\n",
			ev.BucketID, FormatCount(int64(ev.Files)), stats.FormatBytes(ev.Size), p.target)
	case event.BucketProgress:
		if p.verbose {
			fmt.Fprintf(p.w, "bucket %d: %s\n", ev.BucketID, ev.Line)
		}
	case event.BucketCompleted:
		fmt.Fprintf(p.w, "bucket %d: done %s in %s\n",
			ev.BucketID, stats.FormatBytes(ev.Size), FormatDuration(ev.Elapsed))
	case event.BucketFailed:
		errMsg := "error"
		if ev.Error != nil {
			errMsg = ev.Error.Error()
		}
		fmt.Fprintf(p.w, "bucket %d: FAILED after %s: %s\n",
			ev.BucketID, FormatDuration(ev.Elapsed), errMsg)
	}
}

func (p *plainPresenter) printProgress() {
	snap := p.stats.Snapshot()
	if snap.BucketsTotal == 0 {
		return
	}
	done := snap.BucketsDone + snap.BucketsFailed
	fmt.Fprintf(p.errW, "progress: %d/%d buckets %s/%s\n",
		done, snap.BucketsTotal,
		stats.FormatBytes(snap.BytesSent), stats.FormatBytes(snap.BytesTotal),
	)
}

func (p *plainPresenter) Summary() string {
	return CompletionSummary(p.stats.Snapshot())
}
