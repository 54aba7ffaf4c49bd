package cli

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docbot/config"
	"docbot/internal/adapter/fs"
	"docbot/internal/usecase"
)

var (
	ingestDocID string
	ingestReset bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|dir>...",
	Short: "Ingest documents into the index",
	Long: `Ingest text documents into the embedding index. Directories are walked
and filtered by the index.includes/index.excludes globs. Every line of a
document is a paragraph; short lines are skipped.

The index is stored in .docbot/index.db within the data directory.

Examples:
  docbot ingest report.txt
  docbot ingest ./reports ./notes
  docbot ingest report.txt --doc-id q1-report   # Replace an existing document
  docbot ingest ./reports --reset               # Rebuild from scratch`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestDocID, "doc-id", "", "document id to create or replace (single file only)")
	ingestCmd.Flags().BoolVar(&ingestReset, "reset", false, "clear the index before ingesting")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	walker := fs.NewWalker(cfg.Index.Includes, cfg.Index.Excludes)
	files, err := walker.Collect(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No matching files found.")
		return nil
	}
	if ingestDocID != "" && len(files) != 1 {
		return fmt.Errorf("--doc-id needs exactly one file, got %d", len(files))
	}

	a, err := openApp(cfg, GetRootDir(), appOptions{reset: ingestReset})
	if err != nil {
		return err
	}
	defer a.Close()

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)

	start := time.Now()
	var (
		results  []*usecase.IngestResult
		failures []string
		chunks   int
		bytes    int64
	)

	for _, f := range files {
		if f.Size == 0 {
			failures = append(failures, fmt.Sprintf("%s: empty file", f.Path))
			_ = bar.Add(1)
			continue
		}

		text, err := fs.ReadFile(f.Path)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", f.Path, err))
			_ = bar.Add(1)
			continue
		}

		res, err := a.ingest.Ingest(cmd.Context(), usecase.IngestRequest{
			DocID:    ingestDocID,
			Filename: f.Name,
			Text:     text,
		})
		if err != nil {
			logger.Debug("ingest failed", zap.String("path", f.Path), zap.Error(err))
			failures = append(failures, fmt.Sprintf("%s: %v", f.Path, err))
			_ = bar.Add(1)
			continue
		}

		results = append(results, res)
		chunks += res.Chunks
		bytes += f.Size
		_ = bar.Add(1)
	}

	fmt.Printf("\nIngest complete:\n")
	fmt.Printf("  Documents: %d\n", len(results))
	fmt.Printf("  Chunks:    %d\n", chunks)
	fmt.Printf("  Read:      %.1f KB\n", float64(bytes)/1024)
	fmt.Printf("  Took:      %s\n", formatDuration(time.Since(start)))

	if len(results) > 0 {
		fmt.Printf("\nDocuments:\n")
		for _, r := range results {
			fmt.Printf("  %s  %s (%d chunks)\n", r.DocID, r.Filename, r.Chunks)
		}
	}

	if len(failures) > 0 {
		fmt.Printf("\nFailed:\n")
		for _, f := range failures {
			fmt.Printf("  - %s\n", f)
		}
	}

	fmt.Printf("\nIndex stored at: %s\n", config.IndexDBPath(GetRootDir()))

	if len(results) == 0 {
		return fmt.Errorf("no documents were ingested")
	}
	return nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
