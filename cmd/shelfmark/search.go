package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shelfmark/shelfmark/internal/outfmt"
)

var searchCmd = &cobra.Command{
	Use:     "search [query]",
	GroupID: "query",
	Short:   "Search the library index",
	Long: `Search indexed books by title, author, or series.

The index covers every tracked placeholder and every book replaced with
real content. An empty query lists everything.

Examples:
  shelfmark search herbert
  shelfmark search "dune messiah" --limit 5
  shelfmark search --output json lem`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().Int("limit", 20, "Maximum number of results")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	ds, err := openIndex()
	if err != nil {
		return err
	}
	defer ds.Close()

	records, err := ds.Search(ctx, query, limit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	return outfmt.Write(ctx, appUI.Stdout(), records, func(w io.Writer) error {
		if len(records) == 0 {
			fmt.Fprintf(w, "No matches for %q\n", query)
			return nil
		}
		for _, r := range records {
			marker := appUI.Dim("placeholder")
			if !r.Placeholder {
				marker = appUI.Pass("downloaded")
			}
			line := fmt.Sprintf("%s by %s", r.Title, r.Author)
			if r.Series != "" {
				line += fmt.Sprintf(" [%s %s]", r.Series, r.SeriesIndex)
			}
			fmt.Fprintf(w, "%s  %s\n", marker, line)
			fmt.Fprintf(w, "            %s\n", appUI.Dim(displayPath(r.Path)))
		}
		fmt.Fprintf(w, "\n%d result(s)\n", len(records))
		return nil
	})
}
