package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshworks/agentmesh/internal/config"
	"github.com/meshworks/agentmesh/internal/port/cache"
	"github.com/meshworks/agentmesh/internal/port/vector"
)

// MemoryService manages per-agent memory across three tiers:
//
//   - ephemeral: in-process cache, expires on TTL
//   - working:   remote KV, survives control-plane restarts
//   - semantic:  vector index queried by similarity
//
// The ephemeral and working tiers share one tiered cache; a read checks
// the in-process tier before the remote one.
type MemoryService struct {
	cfg   config.Memory
	cache cache.Cache
	index vector.Index
	log   *slog.Logger

	// keys tracks which working-tier keys each agent holds, so Export can
	// enumerate them. The cache itself has no listing operation.
	mu   sync.Mutex
	keys map[string]map[string]struct{}
}

// NewMemoryService creates a MemoryService over the given cache and vector
// index.
func NewMemoryService(cfg config.Memory, c cache.Cache, idx vector.Index, log *slog.Logger) *MemoryService {
	return &MemoryService{
		cfg:   cfg,
		cache: c,
		index: idx,
		log:   log,
		keys:  make(map[string]map[string]struct{}),
	}
}

// Remember stores a value in the agent's key-value memory. A zero ttl uses
// the configured default.
func (s *MemoryService) Remember(ctx context.Context, agentID, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.cfg.EphemeralTTL
	}
	if err := s.cache.Set(ctx, memKey(agentID, key), value, ttl); err != nil {
		return fmt.Errorf("remember %s/%s: %w", agentID, key, err)
	}

	s.mu.Lock()
	if s.keys[agentID] == nil {
		s.keys[agentID] = make(map[string]struct{})
	}
	s.keys[agentID][key] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Recall reads a value from the agent's key-value memory.
func (s *MemoryService) Recall(ctx context.Context, agentID, key string) ([]byte, bool, error) {
	return s.cache.Get(ctx, memKey(agentID, key))
}

// Forget removes one key from the agent's key-value memory.
func (s *MemoryService) Forget(ctx context.Context, agentID, key string) error {
	s.mu.Lock()
	delete(s.keys[agentID], key)
	s.mu.Unlock()
	return s.cache.Delete(ctx, memKey(agentID, key))
}

// Memorize adds content to the agent's semantic memory.
func (s *MemoryService) Memorize(ctx context.Context, agentID, content string, metadata map[string]string) (string, error) {
	id := uuid.NewString()
	err := s.index.Upsert(ctx, agentID, []vector.Document{{
		ID:       id,
		Content:  content,
		Metadata: metadata,
	}})
	if err != nil {
		return "", fmt.Errorf("memorize %s: %w", agentID, err)
	}
	return id, nil
}

// Search queries the agent's semantic memory by similarity.
func (s *MemoryService) Search(ctx context.Context, agentID, query string, topK int) ([]vector.Result, error) {
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	return s.index.Query(ctx, agentID, query, topK)
}

// Export serializes the agent's working-tier memory for a snapshot.
func (s *MemoryService) Export(ctx context.Context, agentID string) (json.RawMessage, error) {
	s.mu.Lock()
	keys := make([]string, 0, len(s.keys[agentID]))
	for k := range s.keys[agentID] {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	// Values are opaque bytes, not necessarily JSON; []byte marshals as
	// base64, which keeps binary values intact in the dump.
	dump := make(map[string][]byte, len(keys))
	for _, k := range keys {
		val, ok, err := s.cache.Get(ctx, memKey(agentID, k))
		if err != nil {
			return nil, fmt.Errorf("export %s/%s: %w", agentID, k, err)
		}
		if !ok {
			continue // expired since last write
		}
		dump[k] = val
	}

	return json.Marshal(dump)
}

// Import restores working-tier memory from a snapshot export.
func (s *MemoryService) Import(ctx context.Context, agentID string, data json.RawMessage) error {
	var dump map[string][]byte
	if err := json.Unmarshal(data, &dump); err != nil {
		return fmt.Errorf("import %s: %w", agentID, err)
	}

	for k, v := range dump {
		if err := s.Remember(ctx, agentID, k, v, 0); err != nil {
			return err
		}
	}
	return nil
}

// Purge drops all memory tiers for an agent. Used when archiving.
func (s *MemoryService) Purge(ctx context.Context, agentID string) error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.keys[agentID]))
	for k := range s.keys[agentID] {
		keys = append(keys, k)
	}
	delete(s.keys, agentID)
	s.mu.Unlock()

	for _, k := range keys {
		if err := s.cache.Delete(ctx, memKey(agentID, k)); err != nil {
			s.log.Warn("memory purge key failed", "agent_id", agentID, "key", k, "error", err)
		}
	}
	return s.index.DeleteCollection(ctx, agentID)
}

// memKey namespaces a memory key by agent.
func memKey(agentID, key string) string {
	return "mem:" + agentID + ":" + key
}
