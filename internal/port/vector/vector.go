// Package vector defines the port for semantic memory storage and retrieval.
package vector

import "context"

// Document is one entry in the semantic index.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result is a document matched by a similarity query.
type Result struct {
	Document
	Similarity float32 `json:"similarity"`
}

// Index is the port interface for semantic (vector) memory.
type Index interface {
	// Upsert adds or replaces documents in the agent's collection.
	Upsert(ctx context.Context, agentID string, docs []Document) error

	// Query returns up to topK documents from the agent's collection
	// ranked by similarity to the query text.
	Query(ctx context.Context, agentID, query string, topK int) ([]Result, error)

	// DeleteCollection removes all documents stored for an agent.
	DeleteCollection(ctx context.Context, agentID string) error
}
