package main

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/tendant/cutimage-pipeline/internal/logging"
	"github.com/tendant/cutimage-pipeline/pkg/runner"
)

type rootOpts struct {
	logLevel   string
	logFormat  string
	storageDir string
}

// load reads the configuration with flag overrides. Commands always run
// in-process.
func (o *rootOpts) load() (*runner.Config, zerolog.Logger, error) {
	cfg, err := runner.LoadConfig()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	cfg.DBOSDatabaseURL = ""
	if o.storageDir != "" {
		cfg.StorageDir = o.storageDir
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	return cfg, logging.New(cfg.LogLevel, cfg.LogFormat), nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOpts{}
	rootCmd := &cobra.Command{
		Use:           "cutimage",
		Short:         "Crop product images and rewrite titles listed in an .xlsx workbook",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "console or json (overrides LOG_FORMAT)")
	rootCmd.PersistentFlags().StringVar(&opts.storageDir, "storage-dir", "", "storage directory (overrides STORAGE_DIR)")

	rootCmd.AddCommand(
		newProcessCmd(opts),
		newSubmitCmd(opts),
		newCleanupCmd(opts),
		newListCmd(opts),
	)
	return rootCmd
}

// execute runs the CLI and returns the process exit code. Failures are
// logged to stderr.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger := logging.NewWithWriter(stderr, "info", "json")
		logger.Error().Err(err).Msg("command failed")
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
