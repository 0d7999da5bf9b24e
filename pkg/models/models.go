package models

import "time"

// Document is a single source filing handed to ingestion.
type Document struct {
	Text      string `json:"text"`
	EntityTag string `json:"entity_tag"`
	SourceID  string `json:"source_id"`
}

// Chunk is a token-bounded span of a Document.
type Chunk struct {
	Text      string `json:"text"`
	EntityTag string `json:"entity_tag"`
	SourceID  string `json:"source_id"`
	Position  int    `json:"position"`
}

// Record is the persisted unit of the vector store.
type Record struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	EntityTag string    `json:"entity_tag"`
	SourceID  string    `json:"source_id"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchResult is one retrieved record. Lower distance means closer.
type SearchResult struct {
	Record   `json:"record"`
	Distance float64 `json:"distance"`
}

// Source describes a passage that was handed to the generator.
type Source struct {
	Marker    int     `json:"marker"`
	EntityTag string  `json:"entity_tag"`
	SourceID  string  `json:"source_id"`
	Preview   string  `json:"preview"`
	Distance  float64 `json:"distance"`
}

type Answer struct {
	Text             string   `json:"answer"`
	EntityTag        string   `json:"entity_tag,omitempty"`
	Sources          []Source `json:"sources"`
	SourcesCount     int      `json:"sources_count"`
	Citations        []int    `json:"citations"`
	InvalidCitations []int    `json:"invalid_citations,omitempty"`
}
