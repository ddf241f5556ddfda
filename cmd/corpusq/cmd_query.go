package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/segment"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/ast"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/engine"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/parser"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/service"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/proto"
)

// queryFlags are shared by the local and remote query commands.
type queryFlags struct {
	docs        []string
	collections []string
	groupBy     string
	limit       int
	format      string
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.docs, "doc", nil, "restrict to these document ids")
	cmd.Flags().StringSliceVar(&f.collections, "collection", nil, "restrict to these collection ids")
	cmd.Flags().StringVar(&f.groupBy, "group-by", "", "count rows by phrase, document or tag")
	cmd.Flags().IntVar(&f.limit, "limit", 50, "maximum rows to print (0 for the configured maximum)")
	cmd.Flags().StringVar(&f.format, "format", "table", "output format: table or json")
}

func (f *queryFlags) request(query string) proto.QueryRequest {
	return proto.QueryRequest{
		Query:   query,
		GroupBy: f.groupBy,
		Limit:   f.limit,
		Options: proto.QueryOptions{DocumentIDs: f.docs, CollectionIDs: f.collections},
	}
}

var (
	localQuery    queryFlags
	querySnapshot string

	queryCmd = &cobra.Command{
		Use:   "query QUERY",
		Short: "Run a query against a local snapshot",
		Example: `  corpusq query '"rose"' --snapshot data/corpus.cqs
  corpusq query 'tag="/Flower%" where "red"' --group-by document`,
		Args: cobra.ExactArgs(1),
		RunE: runQuery,
	}

	validateCmd = &cobra.Command{
		Use:   "validate QUERY",
		Short: "Check query syntax and print its canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := ast.Parse(args[0])
			if err != nil {
				return describe(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ast.Format(plan))
			return nil
		},
	}
)

func init() {
	localQuery.register(queryCmd)
	queryCmd.Flags().StringVar(&querySnapshot, "snapshot", "", "snapshot path (defaults to corpus.snapshotPath)")
}

func runQuery(cmd *cobra.Command, args []string) error {
	path := querySnapshot
	if path == "" {
		path = cfg.Corpus.SnapshotPath
	}
	idx, err := segment.Load(path)
	if err != nil {
		return err
	}
	eng, err := engine.New(idx, cfg.Query, cfg.Tracing, nil)
	if err != nil {
		return err
	}
	resp, err := service.New(eng, cfg.Query).Run(cmd.Context(), localQuery.request(args[0]))
	if err != nil {
		return describe(err)
	}
	return printResponse(cmd.OutOrStdout(), resp, localQuery.format)
}

// describe turns a query error into a message that points at the
// offending character.
func describe(err error) error {
	var qe *parser.QueryError
	if errors.As(err, &qe) {
		return fmt.Errorf("%s\n  %s\n  %s^", qe.Describe(), qe.Input, strings.Repeat(" ", qe.CharacterIndex))
	}
	return err
}

func printResponse(w io.Writer, resp *proto.QueryResponse, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOCUMENT\tRANGE\tTOKENS\tPHRASE\tTAG")
	for _, r := range resp.Rows {
		tag := ""
		if r.Tag != nil {
			tag = r.Tag.DefinitionPath
			if r.Tag.PropertyName != "" {
				tag += fmt.Sprintf(" [%s=%s]", r.Tag.PropertyName, r.Tag.PropertyValue)
			}
		}
		fmt.Fprintf(tw, "%s\t%d-%d\t%d-%d\t%s\t%s\n",
			r.DocumentID, r.Range.Start, r.Range.End, r.FirstToken, r.LastToken, r.Phrase, tag)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(resp.Groups) > 0 {
		keys := make([]string, 0, len(resp.Groups))
		for k := range resp.Groups {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "GROUP\tROWS")
		for _, k := range keys {
			fmt.Fprintf(tw, "%s\t%d\n", k, resp.Groups[k])
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	suffix := ""
	if resp.Truncated {
		suffix = fmt.Sprintf(", showing %d", len(resp.Rows))
	}
	fmt.Fprintf(w, "\n%d rows%s in %dms\n", resp.Total, suffix, resp.LatencyMs)
	return nil
}
