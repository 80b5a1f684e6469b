package engine

import (
	"errors"
	"fmt"
)

// ErrCancelled marks jobs aborted by user interrupt. The run proceeds to
// teardown and exits with failure status.
var ErrCancelled = errors.New("transfer cancelled")

// ConfigError reports invalid caller-supplied configuration. Fatal
// before any work starts.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Reason
}

// SpawnError reports that the external transfer command could not be
// launched for a bucket. Recorded as that bucket's failure, never fatal
// to the run.
type SpawnError struct {
	BucketID int
	Err      error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("bucket %d: spawn transfer command: %v", e.BucketID, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// TransferError reports a nonzero exit from the external transfer
// command. Same handling as SpawnError.
type TransferError struct {
	BucketID int
	ExitCode int
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("bucket %d: transfer command exited with code %d", e.BucketID, e.ExitCode)
}
