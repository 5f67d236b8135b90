// Package engine defines the opaque index engine consumed by the index
// actor, plus the default implementation backed by a bleve full-text
// index and a sqlite document store per index directory.
package engine

import (
	"context"
	"io"
)

// AddMethod selects how an incoming document interacts with an
// existing document that shares its id.
type AddMethod string

const (
	// MethodReplace discards the existing document body entirely.
	MethodReplace AddMethod = "replace"
	// MethodUpdate merges top-level fields into the existing body.
	MethodUpdate AddMethod = "update"
)

// PayloadFormat names the wire encoding of a document payload.
type PayloadFormat string

const (
	FormatJSON   PayloadFormat = "json"
	FormatNDJSON PayloadFormat = "ndjson"
	FormatCSV    PayloadFormat = "csv"
)

// SearchQuery is a read-only query against one index.
type SearchQuery struct {
	Query              string   `json:"q"`
	Offset             int      `json:"offset"`
	Limit              int      `json:"limit"`
	FacetsDistribution []string `json:"facetsDistribution,omitempty"`
}

// SearchResult is the answer to a SearchQuery. Hits carry full
// document bodies from the document store.
type SearchResult struct {
	Hits               []map[string]any          `json:"hits"`
	NbHits             int                       `json:"nbHits"`
	Offset             int                       `json:"offset"`
	Limit              int                       `json:"limit"`
	ProcessingTimeMs   int64                     `json:"processingTimeMs"`
	Query              string                    `json:"query"`
	FacetsDistribution map[string]map[string]int `json:"facetsDistribution,omitempty"`
}

// Settings is the per-index configuration surface. Nil slices mean
// "not provided, keep the current value"; rules the engine does not
// act on are stored and returned verbatim.
type Settings struct {
	RankingRules          []string            `json:"rankingRules,omitempty"`
	DistinctAttribute     *string             `json:"distinctAttribute,omitempty"`
	SearchableAttributes  []string            `json:"searchableAttributes,omitempty"`
	DisplayedAttributes   []string            `json:"displayedAttributes,omitempty"`
	StopWords             []string            `json:"stopWords,omitempty"`
	Synonyms              map[string][]string `json:"synonyms,omitempty"`
	AttributesForFaceting []string            `json:"attributesForFaceting,omitempty"`
}

// Facets is the facet-configuration update payload.
type Facets struct {
	AttributesForFaceting []string `json:"attributesForFaceting"`
}

// UpdateResult reports what a mutation did. PrimaryKey carries the key
// the engine actually used so the caller can persist an inferred one;
// it never appears in status JSON.
type UpdateResult struct {
	DocumentsAffected int    `json:"documentsAffected"`
	PrimaryKey        string `json:"-"`
}

// IndexStats describes one index. IsIndexing is filled by the caller
// from queue state; the engine reports document and field counts.
type IndexStats struct {
	NumberOfDocuments int  `json:"numberOfDocuments"`
	IsIndexing        bool `json:"isIndexing"`
	FieldsCount       int  `json:"fieldsCount"`
}

// Engine is the index engine contract. Mutating calls are serialized
// by the caller (at most one in flight per index); reads may run
// concurrently with each other.
type Engine interface {
	AddDocuments(ctx context.Context, method AddMethod, format PayloadFormat, payload io.Reader, primaryKey string) (UpdateResult, error)
	ClearDocuments(ctx context.Context) (UpdateResult, error)
	DeleteDocuments(ctx context.Context, ids []string) (UpdateResult, error)
	ApplySettings(ctx context.Context, settings Settings) (UpdateResult, error)
	ApplyFacets(ctx context.Context, facets Facets) (UpdateResult, error)
	Search(ctx context.Context, query SearchQuery) (SearchResult, error)
	Settings(ctx context.Context) (Settings, error)
	Documents(ctx context.Context, offset, limit int) ([]map[string]any, error)
	Document(ctx context.Context, id string) (map[string]any, error)
	Stats(ctx context.Context) (IndexStats, error)
	Close() error
}

// Opener creates or reopens an engine rooted at a directory.
type Opener interface {
	Open(path string) (Engine, error)
}
