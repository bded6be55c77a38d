package models

import "time"

// Implication inference types.
const (
	InferenceNamingPattern = "naming_pattern"
	InferenceCorrelation   = "correlation"
	InferenceManual        = "manual"
)

// Implication statuses. Suggestions are never persisted; only approved
// edges reach the 'implications' table with status "active".
const (
	StatusSuggested = "suggested"
	StatusActive    = "active"
)

// Implication represents a directed "source implies implied" edge
// stored in the 'implications' table.
type Implication struct {
	ID              int64     `db:"id" json:"id"`
	SourceTagID     int64     `db:"source_tag_id" json:"-"`
	ImpliedTagID    int64     `db:"implied_tag_id" json:"-"`
	SourceTag       string    `db:"source_tag" json:"source_tag"`
	SourceCategory  string    `db:"source_category" json:"source_category"`
	ImpliedTag      string    `db:"implied_tag" json:"implied_tag"`
	ImpliedCategory string    `db:"implied_category" json:"implied_category"`
	InferenceType   string    `db:"inference_type" json:"inference_type"`
	Confidence      float64   `db:"confidence" json:"confidence"`
	Status          string    `db:"status" json:"status"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Suggestion is an ephemeral candidate implication produced by the
// miner. It is never written to the database; approval turns it into
// an Implication.
type Suggestion struct {
	SourceTag       string  `json:"source_tag"`
	SourceCategory  string  `json:"source_category"`
	ImpliedTag      string  `json:"implied_tag"`
	ImpliedCategory string  `json:"implied_category"`
	PatternType     string  `json:"pattern_type"`
	Confidence      float64 `json:"confidence"`
	AffectedImages  int     `json:"affected_images"`
	Reason          string  `json:"reason"`
}

// ChainNode is one node of the transitive implication tree returned by
// the chain endpoint.
type ChainNode struct {
	Tag      string       `json:"tag"`
	Category string       `json:"category"`
	Implies  []*ChainNode `json:"implies"`
}

// TagDelta records a manual tag override on an image so user intent can
// be replayed after a structural rebuild.
type TagDelta struct {
	ID        int64     `db:"id" json:"id"`
	ImageID   int64     `db:"image_id" json:"image_id"`
	TagName   string    `db:"tag_name" json:"tag_name"`
	Category  string    `db:"category" json:"category"`
	Operation string    `db:"operation" json:"operation"` // "add" or "remove"
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TagDelta operations.
const (
	DeltaAdd    = "add"
	DeltaRemove = "remove"
)
