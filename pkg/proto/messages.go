// Package proto defines the messages exchanged with the query service over
// the JSON-over-TCP RPC layer (see pkg/grpc) and over Kafka.
//
// The types are hand-written with JSON struct tags; they mirror the
// service's internal result and option types so that clients need not import
// internal packages.
package proto

import "time"

// ---------- Common ----------

// Range is a half-open character span [Start, End) of a source document.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// HealthCheckResponse answers Health.Check with the gRPC health protocol's
// status names.
type HealthCheckResponse struct {
	Status string `json:"status"` // SERVING, NOT_SERVING
}

// QueryOptions restrict a query to part of the corpus and control how
// phrase literals are tokenized.
type QueryOptions struct {
	DocumentIDs          []string `json:"document_ids,omitempty"`
	CollectionIDs        []string `json:"collection_ids,omitempty"`
	Locale               string   `json:"locale,omitempty"`
	UnseparableSequences []string `json:"unseparable_sequences,omitempty"`
	SeparatorChars       string   `json:"separator_chars,omitempty"`
}

// ---------- Query ----------

// QueryRequest is the input to QueryService.Run.
type QueryRequest struct {
	Query   string       `json:"query" validate:"required"`
	Options QueryOptions `json:"options"`
	// GroupBy is empty, "phrase", "document" or "tag".
	GroupBy string `json:"group_by,omitempty" validate:"omitempty,oneof=phrase document tag"`
	Limit   int    `json:"limit,omitempty" validate:"gte=0"`
}

// QueryResponse is the output of QueryService.Run and of the HTTP query
// endpoint.
type QueryResponse struct {
	Query     string         `json:"query"`
	Total     int            `json:"total"`
	Truncated bool           `json:"truncated"`
	Rows      []Row          `json:"rows"`
	Groups    map[string]int `json:"groups,omitempty"`
	CacheHit  bool           `json:"cache_hit"`
	LatencyMs int64          `json:"latency_ms"`
}

// Row is one match of a query.
type Row struct {
	DocumentID string `json:"document_id"`
	Range      Range  `json:"range"`
	Phrase     string `json:"phrase"`
	FirstToken int    `json:"first_token"`
	LastToken  int    `json:"last_token"`
	Tag        *Tag   `json:"tag,omitempty"`
}

// Tag carries the annotation a tag row was produced from.
type Tag struct {
	CollectionID         string `json:"collection_id"`
	InstanceID           string `json:"tag_instance_id"`
	DefinitionID         string `json:"tag_definition_id"`
	DefinitionPath       string `json:"tag_definition_path"`
	PropertyDefinitionID string `json:"property_definition_id,omitempty"`
	PropertyName         string `json:"property_name,omitempty"`
	PropertyValue        string `json:"property_value,omitempty"`
}

// ValidateRequest is the input to QueryService.Validate.
type ValidateRequest struct {
	Query string `json:"query" validate:"required"`
}

// ValidateResponse reports whether a query parses. Canonical is the
// normalized form of a valid query.
type ValidateResponse struct {
	Valid          bool   `json:"valid"`
	Canonical      string `json:"canonical,omitempty"`
	CharacterIndex int    `json:"character_index,omitempty"`
	Message        string `json:"message,omitempty"`
}

// FrequencyRequest is the input to QueryService.Frequency.
type FrequencyRequest struct {
	Term    string       `json:"term" validate:"required"`
	Options QueryOptions `json:"options"`
}

// FrequencyResponse maps document ids to occurrence counts.
type FrequencyResponse struct {
	Term        string         `json:"term"`
	Frequencies map[string]int `json:"frequencies"`
}

// ---------- Jobs ----------

// JobRequest submits a query as a background job.
type JobRequest struct {
	Name    string       `json:"name,omitempty" validate:"omitempty,max=200"`
	Query   string       `json:"query" validate:"required"`
	Options QueryOptions `json:"options"`
}

// JobRef addresses a job. IncludeRows asks for the rows of a succeeded
// job, at most Limit of them.
type JobRef struct {
	ID          string `json:"id" validate:"required,uuid"`
	IncludeRows bool   `json:"include_rows,omitempty"`
	Limit       int    `json:"limit,omitempty" validate:"gte=0"`
}

// JobStatus describes a job. Result is set only for a succeeded job
// requested with IncludeRows.
type JobStatus struct {
	ID         string         `json:"id"`
	Name       string         `json:"name,omitempty"`
	Query      string         `json:"query"`
	Status     string         `json:"status"`
	Rows       int            `json:"rows"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Result     *QueryResponse `json:"result,omitempty"`
}

// ---------- Corpus ----------

// SnapshotUpdated announces that a new corpus snapshot was written. Query
// services reload it and drop cached results.
type SnapshotUpdated struct {
	Path         string `json:"path"`
	Documents    int    `json:"documents"`
	TagInstances int    `json:"tag_instances"`
	CreatedAt    int64  `json:"created_at"`
}
