// Package pgstore serves tag instances from PostgreSQL so annotations can
// change without rebuilding the corpus snapshot. Reads go through a circuit
// breaker and are retried on connection-level failures.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/resilience"
)

// Schema creates the table the store reads. Ranges and properties are kept
// as JSONB in the shape of corpus.Range and corpus.Property.
const Schema = `
CREATE TABLE IF NOT EXISTS tag_instances (
    id              TEXT PRIMARY KEY,
    collection_id   TEXT NOT NULL,
    document_id     TEXT NOT NULL,
    definition_id   TEXT NOT NULL,
    definition_name TEXT NOT NULL,
    definition_path TEXT NOT NULL,
    ranges          JSONB NOT NULL,
    properties      JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS tag_instances_document_idx ON tag_instances (document_id);
CREATE INDEX IF NOT EXISTS tag_instances_definition_idx ON tag_instances (definition_name);
CREATE INDEX IF NOT EXISTS tag_instances_properties_idx ON tag_instances USING GIN (properties jsonb_path_ops);
`

const selectColumns = `SELECT id, collection_id, document_id, definition_id, definition_name, definition_path, ranges, properties FROM tag_instances`

type Store struct {
	db      *postgres.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

// New wraps db. The breaker is shared with the health checker so readiness
// reflects it.
func New(db *postgres.Client, breaker *resilience.CircuitBreaker) *Store {
	return &Store{
		db:      db,
		breaker: breaker,
		retry:   resilience.RetryConfig{MaxAttempts: 3, Retryable: isTransient},
		logger:  slog.Default().With("component", "annotation-store"),
	}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.Migrate(ctx, "tag_instances", Schema)
}

// TagInstancesByDefinition returns the tag instances in scope whose
// definition matches pattern (see corpus.MatchTagPattern).
func (s *Store) TagInstancesByDefinition(ctx context.Context, scope corpus.Scope, pattern string) ([]corpus.TagInstance, error) {
	column := "definition_name"
	if strings.HasPrefix(pattern, "/") {
		column = "definition_path"
	}
	q := newQuery(scope)
	q.where(column+` LIKE `+q.arg(likePattern(pattern))+` ESCAPE '\'`)
	tags, err := s.query(ctx, "tags by definition", q)
	if err != nil {
		return nil, err
	}
	return filter(tags, func(ti corpus.TagInstance) bool {
		return corpus.MatchTagPattern(pattern, ti.DefinitionName, ti.DefinitionPath)
	}), nil
}

// TagInstancesByProperty returns the tag instances in scope carrying the
// named property, and when hasValue is set, that value among its values.
func (s *Store) TagInstancesByProperty(ctx context.Context, scope corpus.Scope, name, value string, hasValue bool) ([]corpus.TagInstance, error) {
	probe := map[string]any{"name": name}
	if hasValue {
		probe["values"] = []string{value}
	}
	containment, err := json.Marshal([]any{probe})
	if err != nil {
		return nil, fmt.Errorf("encoding property probe: %w", err)
	}
	q := newQuery(scope)
	q.where(`properties @> ` + q.arg(string(containment)) + `::jsonb`)
	tags, err := s.query(ctx, "tags by property", q)
	if err != nil {
		return nil, err
	}
	return filter(tags, func(ti corpus.TagInstance) bool {
		p, ok := ti.Property(name)
		if !ok {
			return false
		}
		if !hasValue {
			return true
		}
		for _, v := range p.Values {
			if v == value {
				return true
			}
		}
		return false
	}), nil
}

// Upsert writes tag instances in one transaction, replacing existing rows
// with the same id.
func (s *Store) Upsert(ctx context.Context, tags []corpus.TagInstance) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO tag_instances (id, collection_id, document_id, definition_id, definition_name, definition_path, ranges, properties)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				collection_id = EXCLUDED.collection_id,
				document_id = EXCLUDED.document_id,
				definition_id = EXCLUDED.definition_id,
				definition_name = EXCLUDED.definition_name,
				definition_path = EXCLUDED.definition_path,
				ranges = EXCLUDED.ranges,
				properties = EXCLUDED.properties`)
		if err != nil {
			return fmt.Errorf("preparing upsert: %w", err)
		}
		defer stmt.Close()
		for _, ti := range tags {
			ranges, err := json.Marshal(ti.Ranges)
			if err != nil {
				return fmt.Errorf("encoding ranges of %s: %w", ti.ID, err)
			}
			props := ti.Properties
			if props == nil {
				props = []corpus.Property{}
			}
			properties, err := json.Marshal(props)
			if err != nil {
				return fmt.Errorf("encoding properties of %s: %w", ti.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, ti.ID, ti.CollectionID, ti.DocumentID, ti.DefinitionID,
				ti.DefinitionName, ti.DefinitionPath, ranges, properties); err != nil {
				return fmt.Errorf("upserting tag instance %s: %w", ti.ID, err)
			}
		}
		s.logger.Info("tag instances upserted", "count", len(tags))
		return nil
	})
}

func (s *Store) query(ctx context.Context, op string, q *query) ([]corpus.TagInstance, error) {
	var tags []corpus.TagInstance
	err := s.breaker.Execute(func() error {
		return resilience.Retry(ctx, op, s.retry, func() error {
			var err error
			tags, err = s.scan(ctx, q)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("annotation store %s: %w", op, err)
	}
	return tags, nil
}

func (s *Store) scan(ctx context.Context, q *query) ([]corpus.TagInstance, error) {
	rows, err := s.db.DB.QueryContext(ctx, q.sql(), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []corpus.TagInstance
	for rows.Next() {
		var ti corpus.TagInstance
		var ranges, properties []byte
		if err := rows.Scan(&ti.ID, &ti.CollectionID, &ti.DocumentID, &ti.DefinitionID,
			&ti.DefinitionName, &ti.DefinitionPath, &ranges, &properties); err != nil {
			return nil, fmt.Errorf("scanning tag instance: %w", err)
		}
		if err := json.Unmarshal(ranges, &ti.Ranges); err != nil {
			return nil, fmt.Errorf("decoding ranges of %s: %w", ti.ID, err)
		}
		if err := json.Unmarshal(properties, &ti.Properties); err != nil {
			return nil, fmt.Errorf("decoding properties of %s: %w", ti.ID, err)
		}
		out = append(out, ti)
	}
	return out, rows.Err()
}

// isTransient reports connection-level failures worth retrying. Query
// errors and cancellations are returned immediately.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return postgres.IsConnectionError(err)
}

// IsFailure is the circuit breaker predicate for the annotation store:
// caller cancellations do not count against the database.
func IsFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func filter(tags []corpus.TagInstance, keep func(corpus.TagInstance) bool) []corpus.TagInstance {
	out := tags[:0]
	for _, ti := range tags {
		if keep(ti) {
			out = append(out, ti)
		}
	}
	return out
}

// likePattern turns a tag pattern into a LIKE pattern: "%" stays a
// wildcard, LIKE's own metacharacters are escaped.
func likePattern(pattern string) string {
	r := strings.NewReplacer(`\`, `\\`, `_`, `\_`)
	return r.Replace(pattern)
}
