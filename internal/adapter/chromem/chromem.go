// Package chromem implements the vector index port using philippgille/chromem-go.
// Each agent gets its own collection; documents are embedded on insert and
// retrieved by cosine similarity. Backs the semantic memory tier.
package chromem

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/meshworks/agentmesh/internal/port/vector"
)

const embeddingDims = 256

// Index implements vector.Index over a chromem-go database.
type Index struct {
	mu    sync.Mutex
	db    *chromem.DB
	embed chromem.EmbeddingFunc
}

// New creates a vector index. When persistDir is non-empty the database is
// persisted to disk and reloaded on restart; otherwise it is in-memory only.
// A nil embed falls back to a local feature-hash embedding, which needs no
// external service and is stable across restarts.
func New(persistDir string, embed chromem.EmbeddingFunc) (*Index, error) {
	var db *chromem.DB
	var err error

	if persistDir != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(persistDir, "agentmesh.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("chromem persistent db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	if embed == nil {
		embed = hashEmbedding
	}

	return &Index{db: db, embed: embed}, nil
}

// Upsert adds or replaces documents in the agent's collection.
func (i *Index) Upsert(ctx context.Context, agentID string, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	coll, err := i.collection(agentID)
	if err != nil {
		return err
	}

	for _, d := range docs {
		err := coll.AddDocument(ctx, chromem.Document{
			ID:       d.ID,
			Content:  d.Content,
			Metadata: d.Metadata,
		})
		if err != nil {
			return fmt.Errorf("add document %s: %w", d.ID, err)
		}
	}
	return nil
}

// Query returns up to topK documents ranked by similarity to the query text.
func (i *Index) Query(ctx context.Context, agentID, query string, topK int) ([]vector.Result, error) {
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	if topK <= 0 {
		topK = 5
	}

	coll, err := i.collection(agentID)
	if err != nil {
		return nil, err
	}

	// chromem rejects queries asking for more results than stored documents.
	if n := coll.Count(); n < topK {
		if n == 0 {
			return nil, nil
		}
		topK = n
	}

	matches, err := coll.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	results := make([]vector.Result, 0, len(matches))
	for _, m := range matches {
		results = append(results, vector.Result{
			Document: vector.Document{
				ID:       m.ID,
				Content:  m.Content,
				Metadata: m.Metadata,
			},
			Similarity: m.Similarity,
		})
	}
	return results, nil
}

// DeleteCollection removes all documents stored for an agent.
func (i *Index) DeleteCollection(_ context.Context, agentID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.db.DeleteCollection(collectionName(agentID))
}

func (i *Index) collection(agentID string) (*chromem.Collection, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	coll, err := i.db.GetOrCreateCollection(collectionName(agentID), nil, i.embed)
	if err != nil {
		return nil, fmt.Errorf("collection for %s: %w", agentID, err)
	}
	return coll, nil
}

func collectionName(agentID string) string {
	return "agent-" + agentID
}

// hashEmbedding maps text to a fixed-dimension vector by feature-hashing
// lowercase tokens. It is deterministic and local: no embedding service is
// required, and similar token sets land near each other. Good enough for
// keyword-level recall; callers needing true semantic similarity should
// supply a model-backed EmbeddingFunc.
func hashEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, embeddingDims)

	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]{}")
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		idx := int(sum % embeddingDims)
		// Second hash bit decides sign to keep the expectation centered.
		if sum&(1<<31) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
