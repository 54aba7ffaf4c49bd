package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var docsJSON bool

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List ingested documents",
	RunE:  runDocs,
}

var summaryCmd = &cobra.Command{
	Use:   "summary <doc_id>",
	Short: "Show the latest theme summary of a document",
	Long: `Show the summary produced by the most recent query scoped to the document.
A document that has not been queried yet reports "Summary not generated yet."`,
	Args: cobra.ExactArgs(1),
	RunE: runSummary,
}

var removeCmd = &cobra.Command{
	Use:   "remove <doc_id>",
	Short: "Remove a document from the index",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

func init() {
	rootCmd.AddCommand(docsCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(removeCmd)
	docsCmd.Flags().BoolVar(&docsJSON, "json", false, "output as JSON")
}

func runDocs(cmd *cobra.Command, args []string) error {
	a, err := openApp(GetConfig(), GetRootDir(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.query.Documents()
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	if docsJSON {
		output, _ := json.MarshalIndent(docs, "", "  ")
		fmt.Println(string(output))
		return nil
	}
	if len(docs) == 0 {
		fmt.Println("No documents ingested.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOC ID\tFILENAME\tCHUNKS\tINGESTED")
	for _, d := range docs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", d.ID, d.Filename, d.ChunkCount, d.IngestedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runSummary(cmd *cobra.Command, args []string) error {
	a, err := openApp(GetConfig(), GetRootDir(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	syn, err := a.query.LatestSynthesis(args[0])
	if err != nil {
		return err
	}

	if syn.Question != "" {
		fmt.Printf("Question: %s\n\n", syn.Question)
	}
	fmt.Println(syn.Text)
	if len(syn.Citations) > 0 {
		fmt.Printf("\nSources:\n")
		for _, c := range syn.Citations {
			fmt.Printf("  - %s\n", c)
		}
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	a, err := openApp(GetConfig(), GetRootDir(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ingest.Remove(args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}
