package models

import (
	"time"

	"github.com/google/uuid"
)

// RawOffer is one record as returned by a source adapter. Field keys are
// source-specific; nested objects decoded from JSON stay as map[string]any.
type RawOffer struct {
	Source    Source         `json:"source"`
	Fields    map[string]any `json:"fields"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// SourceStats is the per-adapter slice of an ingestion run.
type SourceStats struct {
	Fetched             int    `json:"fetched"`
	Normalized          int    `json:"normalized"`
	NormalizationErrors int    `json:"normalization_errors"`
	ErrorKind           string `json:"error_kind,omitempty"`
	Error               string `json:"error,omitempty"`
	DurationMS          int64  `json:"duration_ms"`
}

// IngestionRun summarizes one pipeline pass. It is reported, never persisted
// in the offer store.
type IngestionRun struct {
	ID                uuid.UUID               `json:"id"`
	StartedAt         time.Time               `json:"started_at"`
	FinishedAt        time.Time               `json:"finished_at"`
	Sources           map[Source]*SourceStats `json:"sources"`
	New               int                     `json:"new"`
	Repeats           int                     `json:"repeats"`
	Merged            int                     `json:"merged"`
	Ambiguous         int                     `json:"ambiguous"`
	FilteredOut       int                     `json:"filtered_out"`
	Retained          int                     `json:"retained"`
	PersistenceErrors int                     `json:"persistence_errors"`
	TrackingCreated   int                     `json:"tracking_created"`
	Rescored          int                     `json:"rescored"`
}

// Fetched returns the total number of raw offers fetched across sources.
func (r *IngestionRun) Fetched() int {
	total := 0
	for _, s := range r.Sources {
		total += s.Fetched
	}
	return total
}

// Errors returns the fetch error message of every failed source.
func (r *IngestionRun) Errors() map[Source]string {
	errs := make(map[Source]string)
	for src, s := range r.Sources {
		if s.Error != "" {
			errs[src] = s.Error
		}
	}
	return errs
}
