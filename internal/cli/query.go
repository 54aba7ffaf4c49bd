package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docbot/config"
	"docbot/internal/usecase"
)

var (
	queryText  string
	queryDocID string
	queryTopK  int
	queryJSON  bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Ask a question across ingested documents",
	Long: `Retrieve the passages most relevant to a question and summarize them
into themes. Every passage is cited by document, page and paragraph.

Examples:
  docbot query -q "How did revenue change?"
  docbot query -q "hiring costs" --doc-id q1-report -k 3 --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "question to ask (required)")
	queryCmd.Flags().StringVar(&queryDocID, "doc-id", "", "restrict the search to one document")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of passages (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	if _, err := os.Stat(config.IndexDBPath(GetRootDir())); os.IsNotExist(err) {
		return fmt.Errorf("no index found. Run 'docbot ingest' first")
	}

	a, err := openApp(cfg, GetRootDir(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.query.Query(cmd.Context(), usecase.QueryRequest{
		Question: queryText,
		DocID:    queryDocID,
		TopK:     queryTopK,
	})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryJSON {
		output, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(resp.Answers) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Summary:\n%s\n", resp.Summary)
	if len(resp.Citations) > 0 {
		fmt.Printf("\nSources:\n")
		for _, c := range resp.Citations {
			fmt.Printf("  - %s (%s)\n", c, c.DocID)
		}
	}

	fmt.Printf("\nFound %d passages for: %s\n\n", len(resp.Answers), queryText)
	for i, ans := range resp.Answers {
		fmt.Printf("--- [%d] %s, %s (score: %.2f) ---\n", i+1, ans.Citation.DocID, ans.Citation, ans.Score)
		fmt.Println(ans.Content)
		fmt.Println()
	}

	return nil
}
