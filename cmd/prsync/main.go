package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/axsddlr/prsync/internal/config"
	"github.com/axsddlr/prsync/internal/engine"
	"github.com/axsddlr/prsync/internal/event"
	"github.com/axsddlr/prsync/internal/stats"
	"github.com/axsddlr/prsync/internal/transport"
	"github.com/axsddlr/prsync/internal/ui"
)

var version = "dev"

const (
	defaultJobs       = 4
	defaultBucketSize = int64(1_000_000_000)
	defaultRsyncArgs  = "-avz --progress"
)

func main() {
	os.Exit(run())
}

//nolint:gocyclo,revive // cyclomatic: main CLI entry point orchestrates flag parsing and wiring
func run() int {
	var (
		jobs        int
		bucketSize  int64
		rsyncArgs   string
		rsyncPath   string
		sshPath     string
		dryRun      bool
		verbose     bool
		quiet       bool
		noProgress  bool
		logFile     string
		showVersion bool
	)

	rootCmd := &cobra.Command{
		Use:   "prsync [flags] <source> <target>",
		Short: "Parallel rsync with size-balanced buckets and SSH multiplexing",
		Args: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				return nil
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintf(os.Stdout, "prsync %s\n", version)
				return nil
			}

			source := args[0]
			target := args[1]

			if transport.ParseLocation(source).IsRemote() {
				return errors.New("remote sources are not supported; the source must be local")
			}

			// Load optional config file.
			cfg, err := config.Load()
			if err != nil {
				slog.Warn("failed to load config", "error", err)
			}
			applyConfigDefaults(cmd, cfg.Defaults,
				&jobs, &bucketSize, &rsyncArgs, &rsyncPath, &sshPath)

			// Configure logging.
			logLevel := slog.LevelWarn
			if verbose {
				logLevel = slog.LevelDebug
			} else if !quiet {
				logLevel = slog.LevelInfo
			}
			textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: logLevel,
			})
			var logHandler slog.Handler = textHandler
			if logFile != "" {
				lf, lfErr := os.Create(logFile)
				if lfErr != nil {
					return fmt.Errorf("open log file: %w", lfErr)
				}
				defer lf.Close()
				jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{
					Level: slog.LevelDebug,
				})
				logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
			}
			slog.SetDefault(slog.New(logHandler))

			if dryRun {
				slog.Info("dry run mode")
			}

			// Set up context with signal handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			collector := stats.NewCollector()
			events := make(chan event.Event, 256)

			// When --log is set, tee events through a logging goroutine that
			// writes structured records before forwarding to the presenter.
			presenterEvents := (<-chan event.Event)(events)
			if logFile != "" {
				teed := make(chan event.Event, 256)
				go func() {
					for ev := range events {
						attrs := []slog.Attr{
							slog.String("type", ev.Type.String()),
							slog.Int("bucket", ev.BucketID),
							slog.Int("files", ev.Files),
							slog.Int64("size", ev.Size),
						}
						if ev.Error != nil {
							attrs = append(attrs, slog.String("error", ev.Error.Error()))
						}
						slog.LogAttrs(context.Background(), slog.LevelInfo, "prsync.event", attrs...)
						teed <- ev
					}
					close(teed)
				}()
				presenterEvents = teed
			}

			presenter := ui.NewPresenter(ui.Config{
				Writer:     os.Stdout,
				ErrWriter:  os.Stderr,
				Stats:      collector,
				Target:     target,
				Quiet:      quiet,
				Verbose:    verbose,
				NoProgress: noProgress || !ui.IsTTY(os.Stderr.Fd()),
			})

			slog.Debug("starting transfer",
				"source", source,
				"target", target,
				"jobs", jobs,
				"bucket_size", bucketSize,
			)

			var presenterErr error
			var presenterWg sync.WaitGroup
			presenterWg.Add(1)
			go func() {
				defer presenterWg.Done()
				presenterErr = presenter.Run(presenterEvents)
			}()

			result := engine.Run(ctx, engine.Config{
				Source:     source,
				Target:     target,
				Jobs:       jobs,
				BucketSize: bucketSize,
				RsyncArgs:  strings.Fields(rsyncArgs),
				RsyncPath:  rsyncPath,
				SSHPath:    sshPath,
				DryRun:     dryRun,
				Events:     events,
				Stats:      collector,
			})
			stop()
			close(events)
			presenterWg.Wait()
			if presenterErr != nil {
				fmt.Fprintf(os.Stderr, "presenter: %v\n", presenterErr)
			}

			if !quiet {
				if summary := presenter.Summary(); summary != "" {
					fmt.Fprintln(os.Stderr, summary)
				}
			}
			if failed := result.Report.FailedBuckets; len(failed) > 0 {
				fmt.Fprintf(os.Stderr, "failed buckets: %v\n", failed)
			}

			if result.Err != nil {
				slog.Error("transfer failed", "error", result.Err)
				if errors.Is(result.Err, engine.ErrCancelled) {
					return &exitError{code: 1}
				}
				return &exitError{code: 2} // fatal: nothing was dispatched
			}
			if !result.Report.Ok() {
				return &exitError{code: 1}
			}
			return nil
		},
	}

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")
	rootCmd.Flags().IntVarP(&jobs, "jobs", "j", defaultJobs, "number of parallel transfers")
	rootCmd.Flags().
		Int64VarP(&bucketSize, "bucket-size", "s", defaultBucketSize, "target bucket size in bytes")
	rootCmd.Flags().
		StringVar(&rsyncArgs, "rsync-args", defaultRsyncArgs, "extra rsync arguments (passed through unmodified)")
	rootCmd.Flags().StringVar(&rsyncPath, "rsync-path", "rsync", "rsync binary to invoke")
	rootCmd.Flags().StringVar(&sshPath, "ssh-path", "ssh", "ssh binary used for session multiplexing")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "scan and bucket, but transfer nothing")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (includes rsync output lines)")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable periodic progress output")
	rootCmd.Flags().StringVar(&logFile, "log", "", "write structured JSON log to FILE")

	if err := rootCmd.Execute(); err != nil {
		if exitErr, ok := err.(*exitError); ok {
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	return 0
}

// applyConfigDefaults applies config file defaults for flags not explicitly set on the CLI.
func applyConfigDefaults(
	cmd *cobra.Command,
	defaults config.DefaultsConfig,
	jobs *int,
	bucketSize *int64,
	rsyncArgs *string,
	rsyncPath *string,
	sshPath *string,
) {
	if !cmd.Flags().Changed("jobs") && defaults.Jobs != nil {
		*jobs = *defaults.Jobs
	}
	if !cmd.Flags().Changed("bucket-size") && defaults.BucketSize != nil {
		*bucketSize = *defaults.BucketSize
	}
	if !cmd.Flags().Changed("rsync-args") && defaults.RsyncArgs != nil {
		*rsyncArgs = *defaults.RsyncArgs
	}
	if !cmd.Flags().Changed("rsync-path") && defaults.RsyncPath != nil {
		*rsyncPath = *defaults.RsyncPath
	}
	if !cmd.Flags().Changed("ssh-path") && defaults.SSHPath != nil {
		*sshPath = *defaults.SSHPath
	}
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
