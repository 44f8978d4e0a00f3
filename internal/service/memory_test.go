package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/meshworks/agentmesh/internal/config"
	"github.com/meshworks/agentmesh/internal/port/cache"
	"github.com/meshworks/agentmesh/internal/port/vector"
)

var (
	_ cache.Cache  = (*mockCache)(nil)
	_ vector.Index = (*mockIndex)(nil)
)

type cacheEntry struct {
	value []byte
	ttl   time.Duration
}

type mockCache struct {
	entries map[string]cacheEntry
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]cacheEntry)}
}

func (m *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.entries[key]
	return e.value, ok, nil
}

func (m *mockCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.entries[key] = cacheEntry{value: value, ttl: ttl}
	return nil
}

func (m *mockCache) Delete(_ context.Context, key string) error {
	delete(m.entries, key)
	return nil
}

type mockIndex struct {
	collections map[string][]vector.Document
	lastTopK    int
}

func newMockIndex() *mockIndex {
	return &mockIndex{collections: make(map[string][]vector.Document)}
}

func (m *mockIndex) Upsert(_ context.Context, agentID string, docs []vector.Document) error {
	m.collections[agentID] = append(m.collections[agentID], docs...)
	return nil
}

func (m *mockIndex) Query(_ context.Context, agentID, _ string, topK int) ([]vector.Result, error) {
	m.lastTopK = topK
	docs := m.collections[agentID]
	if len(docs) > topK {
		docs = docs[:topK]
	}
	out := make([]vector.Result, len(docs))
	for i, d := range docs {
		out[i] = vector.Result{Document: d, Similarity: 1}
	}
	return out, nil
}

func (m *mockIndex) DeleteCollection(_ context.Context, agentID string) error {
	delete(m.collections, agentID)
	return nil
}

func memoryConfig() config.Memory {
	return config.Memory{EphemeralTTL: 15 * time.Minute, TopK: 5}
}

func newTestMemory() (*MemoryService, *mockCache, *mockIndex) {
	c := newMockCache()
	idx := newMockIndex()
	return NewMemoryService(memoryConfig(), c, idx, testLogger()), c, idx
}

func TestRememberRecallForget(t *testing.T) {
	svc, c, _ := newTestMemory()
	ctx := context.Background()

	if err := svc.Remember(ctx, "a1", "plan", []byte(`"step 1"`), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.entries["mem:a1:plan"].ttl != 15*time.Minute {
		t.Errorf("ttl = %v, want configured default", c.entries["mem:a1:plan"].ttl)
	}

	val, ok, err := svc.Recall(ctx, "a1", "plan")
	if err != nil || !ok {
		t.Fatalf("recall = %v, %v, want hit", ok, err)
	}
	if string(val) != `"step 1"` {
		t.Errorf("value = %s, want stored value", val)
	}

	if err := svc.Forget(ctx, "a1", "plan"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, _ := svc.Recall(ctx, "a1", "plan"); ok {
		t.Error("recall after forget must miss")
	}
}

func TestRememberExplicitTTL(t *testing.T) {
	svc, c, _ := newTestMemory()

	if err := svc.Remember(context.Background(), "a1", "k", []byte("v"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if c.entries["mem:a1:k"].ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", c.entries["mem:a1:k"].ttl)
	}
}

func TestRecallMiss(t *testing.T) {
	svc, _, _ := newTestMemory()

	_, ok, err := svc.Recall(context.Background(), "a1", "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected miss")
	}
}

func TestMemorizeAndSearch(t *testing.T) {
	svc, _, idx := newTestMemory()
	ctx := context.Background()

	id, err := svc.Memorize(ctx, "a1", "the deploy failed on friday", map[string]string{"kind": "incident"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a document ID")
	}

	results, err := svc.Search(ctx, "a1", "deploy failure", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ID != id {
		t.Fatalf("results = %+v, want the memorized document", results)
	}
	if idx.lastTopK != 5 {
		t.Errorf("topK = %d, want configured default", idx.lastTopK)
	}
}

func TestSearchExplicitTopK(t *testing.T) {
	svc, _, idx := newTestMemory()

	if _, err := svc.Search(context.Background(), "a1", "q", 2); err != nil {
		t.Fatal(err)
	}
	if idx.lastTopK != 2 {
		t.Errorf("topK = %d, want 2", idx.lastTopK)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	svc, _, _ := newTestMemory()
	ctx := context.Background()

	_ = svc.Remember(ctx, "a1", "k1", []byte(`"v1"`), 0)
	_ = svc.Remember(ctx, "a1", "k2", []byte(`{"n":2}`), 0)
	_ = svc.Remember(ctx, "other", "k3", []byte(`"v3"`), 0)

	data, err := svc.Export(ctx, "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var dump map[string]json.RawMessage
	if err := json.Unmarshal(data, &dump); err != nil {
		t.Fatal(err)
	}
	if len(dump) != 2 {
		t.Fatalf("exported %d keys, want 2", len(dump))
	}
	if _, ok := dump["k3"]; ok {
		t.Error("export leaked another agent's key")
	}

	// Import into a fresh service restores both keys.
	restored, _, _ := newTestMemory()
	if err := restored.Import(ctx, "a1", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	val, ok, _ := restored.Recall(ctx, "a1", "k2")
	if !ok || string(val) != `{"n":2}` {
		t.Errorf("recall after import = %s/%v, want {\"n\":2}", val, ok)
	}
}

func TestExportBinaryValues(t *testing.T) {
	svc, _, _ := newTestMemory()
	ctx := context.Background()

	// Values are opaque bytes, not guaranteed to be JSON.
	raw := []byte{0x00, 0xff, '"', '\\', 0x1f}
	_ = svc.Remember(ctx, "a1", "blob", raw, 0)

	data, err := svc.Export(ctx, "a1")
	if err != nil {
		t.Fatalf("export with binary value: %v", err)
	}
	if !json.Valid(data) {
		t.Fatalf("export is not valid JSON: %q", data)
	}

	restored, _, _ := newTestMemory()
	if err := restored.Import(ctx, "a1", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	val, ok, _ := restored.Recall(ctx, "a1", "blob")
	if !ok || string(val) != string(raw) {
		t.Errorf("recall after import = %x/%v, want original bytes", val, ok)
	}
}

func TestImportMalformed(t *testing.T) {
	svc, _, _ := newTestMemory()

	if err := svc.Import(context.Background(), "a1", json.RawMessage(`[1,2]`)); err == nil {
		t.Fatal("expected error for malformed export")
	}
}

func TestPurge(t *testing.T) {
	svc, c, idx := newTestMemory()
	ctx := context.Background()

	_ = svc.Remember(ctx, "a1", "k1", []byte("v"), 0)
	if _, err := svc.Memorize(ctx, "a1", "something", nil); err != nil {
		t.Fatal(err)
	}

	if err := svc.Purge(ctx, "a1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.entries) != 0 {
		t.Errorf("cache entries = %d, want 0", len(c.entries))
	}
	if _, ok := idx.collections["a1"]; ok {
		t.Error("semantic collection must be deleted")
	}

	// Export after purge is empty.
	data, err := svc.Export(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}" {
		t.Errorf("export after purge = %s, want {}", data)
	}
}
