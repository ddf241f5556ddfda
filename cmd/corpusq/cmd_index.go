package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/bundle"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/segment"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/proto"
)

var (
	indexOutput  string
	indexPublish bool

	indexCmd = &cobra.Command{
		Use:   "index SOURCE",
		Short: "Build a corpus snapshot from a bundle file or directory",
		Long: `index reads a JSON bundle, or a directory of JSON bundles and .txt
documents, validates it and writes a snapshot. With --publish the query
services are told to reload it.`,
		Args: cobra.ExactArgs(1),
		RunE: runIndex,
	}
)

func init() {
	indexCmd.Flags().StringVarP(&indexOutput, "output", "o", "", "snapshot path (defaults to corpus.snapshotPath)")
	indexCmd.Flags().BoolVar(&indexPublish, "publish", false, "announce the snapshot on the snapshot-updated topic")
}

func runIndex(cmd *cobra.Command, args []string) error {
	out := indexOutput
	if out == "" {
		out = cfg.Corpus.SnapshotPath
	}

	start := time.Now()
	b, err := bundle.Load(args[0])
	if err != nil {
		return err
	}
	idx, err := b.Build()
	if err != nil {
		return err
	}
	if err := segment.Write(out, idx.Snapshot()); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	stats := idx.Stats()
	slog.Info("snapshot written",
		"path", out,
		"documents", stats.Documents,
		"terms", stats.Terms,
		"tag_instances", stats.TagInstances,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d documents, %d terms, %d tokens, %d tag instances\n",
		out, stats.Documents, stats.Terms, stats.Tokens, stats.TagInstances)

	if !indexPublish {
		return nil
	}
	if !cfg.Kafka.Enabled {
		return fmt.Errorf("--publish needs kafka.enabled or CQ_KAFKA_BROKERS")
	}
	abs, err := filepath.Abs(out)
	if err != nil {
		return err
	}
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SnapshotUpdated, false)
	defer producer.Close()
	event := proto.SnapshotUpdated{
		Path:         abs,
		Documents:    stats.Documents,
		TagInstances: stats.TagInstances,
		CreatedAt:    time.Now().Unix(),
	}
	if err := producer.Publish(cmd.Context(), kafka.Event{Key: abs, Type: "snapshot.updated", Value: event}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published to %s\n", cfg.Kafka.Topics.SnapshotUpdated)
	return nil
}
