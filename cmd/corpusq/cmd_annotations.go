package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/bundle"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/pgstore"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/resilience"
)

var (
	importBatch int

	annotationsCmd = &cobra.Command{
		Use:   "annotations",
		Short: "Manage annotations held in PostgreSQL",
	}

	annotationsImportCmd = &cobra.Command{
		Use:   "import SOURCE",
		Short: "Load the tag instances of a bundle into PostgreSQL",
		Long: `import validates a bundle against its documents and upserts its tag
instances into the annotation store used when corpus.annotationSource is
"postgres". Documents are not stored; build the snapshot with "index".`,
		Args: cobra.ExactArgs(1),
		RunE: runAnnotationsImport,
	}
)

func init() {
	annotationsImportCmd.Flags().IntVar(&importBatch, "batch", 500, "tag instances per transaction")
	annotationsCmd.AddCommand(annotationsImportCmd)
}

func runAnnotationsImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	b, err := bundle.Load(args[0])
	if err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}

	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	store := pgstore.New(db, resilience.NewCircuitBreaker("annotations-import", resilience.CircuitBreakerConfig{
		IsFailure: pgstore.IsFailure,
	}))
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	if importBatch <= 0 {
		importBatch = len(b.TagInstances)
	}
	written := 0
	for start := 0; start < len(b.TagInstances); start += importBatch {
		end := min(start+importBatch, len(b.TagInstances))
		if err := store.Upsert(ctx, b.TagInstances[start:end]); err != nil {
			return fmt.Errorf("importing tag instances %d-%d: %w", start, end, err)
		}
		written = end
		slog.Debug("batch imported", "written", written, "total", len(b.TagInstances))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d tag instances\n", written)
	return nil
}
