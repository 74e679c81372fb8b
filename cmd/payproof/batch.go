package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/payproof/internal/engine"
	"github.com/Veraticus/payproof/internal/model"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <directory>",
		Short: "Process every screenshot in a directory",
		Long: `Process all PNG, JPEG and WebP files in a directory concurrently and print a
summary of the outcomes. Identical screenshots are decided only once.

Examples:
  payproof batch ./inbox
  payproof batch ./inbox --workers 4 --currency EUR`,
		Args: cobra.ExactArgs(1),
		RunE: runBatch,
	}

	cmd.Flags().IntP("workers", "w", 0, "concurrent runs (default: engine.max_concurrent_runs)")
	cmd.Flags().Bool("json", false, "print each decision as JSON instead of a summary")
	addProofContextFlags(cmd)

	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	workers, _ := cmd.Flags().GetInt("workers")
	asJSON, _ := cmd.Flags().GetBool("json")

	paths, err := listImages(args[0])
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		slog.Info("No images found", "directory", args[0])
		return nil
	}

	pc := proofContextFromFlags(cmd)
	jobs := make([]engine.Job, 0, len(paths))
	for _, p := range paths {
		raw, mimeType, readErr := readImage(p)
		if readErr != nil {
			return readErr
		}
		jobs = append(jobs, engine.Job{Name: filepath.Base(p), Image: raw, MIMEType: mimeType, Context: pc})
	}

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := shutdownContext(ctx)
		defer cancel()
		_ = rt.Close(shutdownCtx)
	}()

	bar := progressbar.NewOptions(len(jobs),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Processing proofs...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)

	var barMu sync.Mutex
	results, summary := rt.Engine.ProcessBatch(ctx, jobs, workers, func(engine.BatchResult) {
		barMu.Lock()
		defer barMu.Unlock()
		_ = bar.Add(1)
	})

	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, results)
	}

	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(out, "%-32s ERROR  %v\n", r.Name, r.Err)
			continue
		}
		fmt.Fprintf(out, "%-32s %-15s %s\n", r.Name, r.Decision.Outcome, r.Decision.Reason)
	}

	fmt.Fprintf(out, "\nProcessed %d proofs in %s\n", summary.Total, summary.ProcessingTime.Round(time.Millisecond))
	for _, outcome := range []model.Outcome{model.StateAutoApproved, model.StatePendingReview, model.StateUnmatched} {
		fmt.Fprintf(out, "  %-15s %d\n", outcome, summary.Outcomes[outcome])
	}
	if summary.Failed > 0 {
		fmt.Fprintf(out, "  %-15s %d\n", "FAILED", summary.Failed)
	}
	return nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
