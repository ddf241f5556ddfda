// Package analytics turns executed queries into events, ships them in
// batches to Kafka and aggregates them into usage statistics.
package analytics

import "time"

type EventType string

const (
	EventQuery EventType = "query"
	EventJob   EventType = "job"
)

// QueryEvent describes one finished query run.
type QueryEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Canonical string    `json:"canonical,omitempty"`
	// Kinds lists the node kinds of the evaluated plan, e.g. "phrase" or
	// "colloc", once per occurrence.
	Kinds     []string  `json:"kinds,omitempty"`
	Outcome   string    `json:"outcome"`
	Rows      int       `json:"rows"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
}
