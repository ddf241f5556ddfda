package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/segment"
)

var (
	inspectTerms []string

	inspectCmd = &cobra.Command{
		Use:   "inspect SNAPSHOT",
		Short: "Print a snapshot's header and optionally term postings",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
)

func init() {
	inspectCmd.Flags().StringSliceVar(&inspectTerms, "term", nil, "print the posting counts of these terms")
}

func runInspect(cmd *cobra.Command, args []string) error {
	r, err := segment.OpenReader(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "path\t%s\n", r.Path())
	fmt.Fprintf(w, "created\t%s\n", r.CreatedAt().Format(time.RFC3339))
	fmt.Fprintf(w, "documents\t%d\n", r.DocCount())
	fmt.Fprintf(w, "terms\t%d\n", r.Terms())
	for _, term := range inspectTerms {
		postings, err := r.Search(term)
		if err != nil {
			return fmt.Errorf("term %q: %w", term, err)
		}
		occurrences := 0
		for _, p := range postings {
			occurrences += p.Frequency
		}
		fmt.Fprintf(w, "term %q\t%d documents, %d occurrences\n", term, len(postings), occurrences)
	}
	return w.Flush()
}
