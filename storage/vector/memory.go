package vector

import (
	"context"
	"maps"
	"sync"

	"github.com/favbox/gptdb/components/embedding"
	"github.com/favbox/gptdb/schema"
)

// MemoryStore 进程内向量存储，按集合名隔离。
type MemoryStore struct {
	name     string
	embedder embedding.Embedder
	db       *memoryDB
}

type memoryDB struct {
	mu          sync.RWMutex
	collections map[string]map[string]*schema.Chunk
	order       map[string][]string
}

var sharedMemoryDB = newMemoryDB()

func newMemoryDB() *memoryDB {
	return &memoryDB{
		collections: make(map[string]map[string]*schema.Chunk),
		order:       make(map[string][]string),
	}
}

// MemoryOption MemoryStore 选项。
type MemoryOption func(*MemoryStore)

// WithIsolatedDB 使用独立的存储空间，默认同一进程内的 MemoryStore 共享数据。
func WithIsolatedDB() MemoryOption {
	return func(s *MemoryStore) { s.db = newMemoryDB() }
}

// NewMemoryStore 创建集合 name 的存储。
func NewMemoryStore(name string, embedder embedding.Embedder, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{name: name, embedder: embedder, db: sharedMemoryDB}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name 集合名。
func (s *MemoryStore) Name() string { return s.name }

func (s *MemoryStore) Load(ctx context.Context, chunks []*schema.Chunk) ([]string, error) {
	if err := embedChunks(ctx, s.embedder, chunks); err != nil {
		return nil, err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	col, ok := s.db.collections[s.name]
	if !ok {
		col = make(map[string]*schema.Chunk)
		s.db.collections[s.name] = col
	}
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		cp := *c
		cp.Metadata = maps.Clone(c.Metadata)
		if _, exists := col[c.ChunkID]; !exists {
			s.db.order[s.name] = append(s.db.order[s.name], c.ChunkID)
		}
		col[c.ChunkID] = &cp
		ids = append(ids, c.ChunkID)
	}
	return ids, nil
}

func (s *MemoryStore) SimilarSearchWithScores(ctx context.Context, text string, topK int, threshold float64, filters map[string]any) ([]*schema.Chunk, error) {
	query, err := embedQuery(ctx, s.embedder, text)
	if err != nil {
		return nil, err
	}

	s.db.mu.RLock()
	col := s.db.collections[s.name]
	candidates := make([]*schema.Chunk, 0, len(col))
	for _, id := range s.db.order[s.name] {
		c, ok := col[id]
		if ok && matchFilters(c.Metadata, filters) {
			candidates = append(candidates, c)
		}
	}
	s.db.mu.RUnlock()

	return rank(query, candidates, topK, threshold), nil
}

func (s *MemoryStore) DeleteByIDs(_ context.Context, ids []string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	col := s.db.collections[s.name]
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		delete(col, id)
		drop[id] = true
	}
	kept := s.db.order[s.name][:0]
	for _, id := range s.db.order[s.name] {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	s.db.order[s.name] = kept
	return nil
}

func (s *MemoryStore) DeleteVectorName(_ context.Context, name string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	delete(s.db.collections, name)
	delete(s.db.order, name)
	return nil
}

func (s *MemoryStore) VectorNameExists(context.Context) (bool, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return len(s.db.collections[s.name]) > 0, nil
}

// Count 集合中的片段数。
func (s *MemoryStore) Count() int {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return len(s.db.collections[s.name])
}
