package ui

import (
	"fmt"
	"io"

	"github.com/axsddlr/prsync/internal/event"
	"github.com/axsddlr/prsync/internal/stats"
)

// quietPresenter consumes events and stays silent, except for a bucket
// plan the user explicitly asked for.
type quietPresenter struct {
	w     io.Writer
	stats *stats.Collector
}

func (p *quietPresenter) Run(events <-chan event.Event) error {
	// Counters are written by the engine; presenters only read them.
	for ev := range events {
		if ev.Type == event.BucketPlanned && p.w != nil {
			fmt.Fprintf(p.w, "bucket %d: plan %s files, %s\n",
				ev.BucketID, FormatCount(int64(ev.Files)), stats.FormatBytes(ev.Size))
		}
	}
	return nil
}

func (p *quietPresenter) Summary() string {
	return ""
}
