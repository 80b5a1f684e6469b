package engine

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
)

// Scanner walks the source tree and emits the flat file inventory.
// The walk is sequential and lexical so that the resulting bucket
// layout is reproducible run to run.
type Scanner struct {
	root    string
	entries chan FileEntry
	errs    chan error
}

// NewScanner creates a scanner rooted at the given source directory.
func NewScanner(root string) *Scanner {
	return &Scanner{
		root:    root,
		entries: make(chan FileEntry, 256),
		errs:    make(chan error, 16),
	}
}

// Scan starts the walk and returns channels for entries and errors.
// The caller must consume from both channels until they close.
// Unreadable entries produce errors and are skipped; they never abort
// the scan.
func (s *Scanner) Scan(ctx context.Context) (<-chan FileEntry, <-chan error) {
	go func() {
		defer close(s.entries)
		defer close(s.errs)
		s.walk(ctx)
	}()

	return s.entries, s.errs
}

func (s *Scanner) walk(ctx context.Context) {
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.sendErr(fmt.Errorf("scan %s: %w", path, err))
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.sendErr(fmt.Errorf("stat %s: %w", path, err))
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			s.sendErr(fmt.Errorf("rel path for %s: %w", path, err))
			return nil
		}

		select {
		case s.entries <- FileEntry{RelPath: rel, Size: info.Size()}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && ctx.Err() == nil {
		s.sendErr(fmt.Errorf("scan %s: %w", s.root, err))
	}
}

func (s *Scanner) sendErr(err error) {
	select {
	case s.errs <- err:
	default:
	}
}
