// Package retriever defines the port for semantic search over the knowledge
// collections.
package retriever

import "context"

// Collection names served by the knowledge backend.
const (
	CollectionPolicies  = "policies"
	CollectionIncidents = "incidents"
	CollectionSystems   = "systems"
)

// Result is one scored hit from a collection search.
type Result struct {
	ID       string         `json:"id"`
	DocID    string         `json:"doc_id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Retriever is the port interface for semantic search.
type Retriever interface {
	// Search returns up to topK results from the named collection, most
	// relevant first. filterTags restricts results to documents carrying at
	// least one of the tags; nil means no filter.
	Search(ctx context.Context, query, collection string, topK int, filterTags []string) ([]Result, error)
}
