package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendant/cutimage-pipeline/internal/sheet"
	"github.com/tendant/cutimage-pipeline/pkg/client"
	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
	"github.com/tendant/cutimage-pipeline/pkg/runner"
	"gitlab.com/tozd/go/errors"
)

func newProcessCmd(opts *rootOpts) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "process <file.xlsx>",
		Short: "Run a batch locally and write the result workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			ctx := logger.WithContext(cmd.Context())

			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Errorf("failed to read input: %w", err)
			}

			r, err := runner.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer r.Shutdown()

			up, err := r.Service().Upload(ctx, filepath.Base(args[0]), data, "")
			if err != nil {
				return err
			}
			res, err := r.Process(ctx, up.BatchID)
			if err != nil {
				return err
			}

			if out == "" {
				out = filepath.Join(filepath.Dir(args[0]), res.FileName)
			}
			rc, _, err := r.Service().OpenResult(ctx, up.BatchID)
			if err != nil {
				return err
			}
			defer rc.Close()
			if err := writeFile(out, rc); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "batch %s: %d rows, %d cell errors\n", up.BatchID, len(res.Rows), len(res.Errors))
			printErrors(w, res.Errors)
			fmt.Fprintf(w, "result written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "result path (default: next to the input)")
	return cmd
}

func newSubmitCmd(opts *rootOpts) *cobra.Command {
	var (
		server   string
		wait     bool
		interval time.Duration
		out      string
	)
	cmd := &cobra.Command{
		Use:   "submit <file.xlsx>",
		Short: "Upload a workbook to a running pipeline server and enqueue it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Errorf("failed to open input: %w", err)
			}
			defer f.Close()

			c := client.New(server)
			up, err := c.Upload(ctx, args[0], f)
			if err != nil {
				return err
			}
			pr, err := c.Process(ctx, up.BatchID)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "batch %s enqueued (run %s, %d rows)\n", up.BatchID, pr.RunID, up.TotalRows)
			if !wait {
				return nil
			}

			b, err := c.WaitForCompletion(ctx, up.BatchID, interval)
			if b != nil {
				printErrors(w, b.Errors)
			}
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			name, err := c.DownloadResult(ctx, up.BatchID, &buf)
			if err != nil {
				return err
			}
			if out == "" {
				if name == "" {
					name = sheet.ResultFileName(filepath.Base(args[0]))
				}
				out = filepath.Join(filepath.Dir(args[0]), name)
			}
			if err := writeFile(out, &buf); err != nil {
				return err
			}
			fmt.Fprintf(w, "result written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "pipeline server URL")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the batch and download the result")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "status poll interval")
	cmd.Flags().StringVarP(&out, "out", "o", "", "result path (default: next to the input)")
	return cmd
}

func newCleanupCmd(opts *rootOpts) *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete cropped images and results older than the retention age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if maxAge > 0 {
				cfg.CleanupMaxAge = maxAge
			}

			r, err := runner.New(logger.WithContext(cmd.Context()), cfg, logger)
			if err != nil {
				return err
			}
			defer r.Shutdown()

			report, err := r.Sweep(logger.WithContext(cmd.Context()))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d files, deleted %d (%d bytes)\n", report.Scanned, report.Deleted, report.Bytes)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "delete files older than this (overrides CLEANUP_MAX_HOURS)")
	return cmd
}

func newListCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			ctx := logger.WithContext(cmd.Context())

			r, err := runner.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer r.Shutdown()

			all, err := r.Service().List(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, b := range all {
				fmt.Fprintf(w, "%s  %-10s  %d/%d rows  %d errors  %s  %s\n",
					b.ID, b.Status, b.ProcessedRows, b.TotalRows, len(b.Errors),
					b.CreatedAt.Format(time.RFC3339), b.OriginalFileName)
			}
			return nil
		},
	}
}

func printErrors(w io.Writer, cellErrors []pipeline.CellError) {
	for _, ce := range cellErrors {
		if ce.Column != nil {
			fmt.Fprintf(w, "  row %d, column %d: %s\n", ce.Row, *ce.Column, ce.Message)
			continue
		}
		fmt.Fprintf(w, "  row %d: %s\n", ce.Row, ce.Message)
	}
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return errors.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
