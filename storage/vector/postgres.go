package vector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/lib/pq"

	"github.com/favbox/gptdb/components/embedding"
	"github.com/favbox/gptdb/schema"
)

const defaultPGTable = "gptdb_vector_chunks"

const createPGTableSQL = `CREATE TABLE IF NOT EXISTS %s (
    id         TEXT PRIMARY KEY,
    collection TEXT NOT NULL,
    content    TEXT NOT NULL,
    metadata   JSONB,
    embedding  FLOAT8[] NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const createPGIndexSQL = `CREATE INDEX IF NOT EXISTS %s ON %s (collection)`

// PGStore 以 float8[] 保存向量的 PostgreSQL 存储，相似度在进程内计算。
type PGStore struct {
	db         *sql.DB
	collection string
	table      string
	rawTable   string
	embedder   embedding.Embedder
}

// PGOption PGStore 选项。
type PGOption func(*PGStore)

// WithPGTable 指定表名，默认 gptdb_vector_chunks。
func WithPGTable(name string) PGOption {
	return func(s *PGStore) {
		s.rawTable = name
		s.table = pq.QuoteIdentifier(name)
	}
}

// NewPGStore db 通常由 sql.Open("postgres", dsn) 创建。
func NewPGStore(db *sql.DB, collection string, embedder embedding.Embedder, opts ...PGOption) *PGStore {
	s := &PGStore{
		db:         db,
		collection: collection,
		embedder:   embedder,
		rawTable:   defaultPGTable,
		table:      pq.QuoteIdentifier(defaultPGTable),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name 集合名。
func (s *PGStore) Name() string { return s.collection }

// EnsureSchema 创建表与索引。
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(createPGTableSQL, s.table)); err != nil {
		return fmt.Errorf("pgvector: create table: %w", err)
	}
	idx := pq.QuoteIdentifier("idx_" + s.rawTable + "_collection")
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(createPGIndexSQL, idx, s.table)); err != nil {
		return fmt.Errorf("pgvector: create index: %w", err)
	}
	return nil
}

func (s *PGStore) Load(ctx context.Context, chunks []*schema.Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if err := embedChunks(ctx, s.embedder, chunks); err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(s.table)
	b.WriteString(" (id, collection, content, metadata, embedding) VALUES ")
	args := make([]any, 0, len(chunks)*5)
	ids := make([]string, 0, len(chunks))
	for i, c := range chunks {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5))
		meta, err := sonic.Marshal(c.Metadata)
		if err != nil {
			return nil, fmt.Errorf("pgvector: marshal metadata: %w", err)
		}
		args = append(args, c.ChunkID, s.collection, c.Content, meta, pq.Float64Array(c.Vector))
		ids = append(ids, c.ChunkID)
	}
	b.WriteString(" ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding")

	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		return nil, fmt.Errorf("pgvector: insert chunks: %w", err)
	}
	return ids, nil
}

func (s *PGStore) SimilarSearchWithScores(ctx context.Context, text string, topK int, threshold float64, filters map[string]any) ([]*schema.Chunk, error) {
	query, err := embedQuery(ctx, s.embedder, text)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf("SELECT id, content, metadata, embedding FROM %s WHERE collection = $1", s.table)
	args := []any{s.collection}
	if len(filters) > 0 {
		raw, err := sonic.Marshal(filters)
		if err != nil {
			return nil, fmt.Errorf("pgvector: marshal filters: %w", err)
		}
		q += " AND metadata @> $2"
		args = append(args, raw)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector: query: %w", err)
	}
	defer rows.Close()

	var candidates []*schema.Chunk
	for rows.Next() {
		var (
			c    schema.Chunk
			meta []byte
			vec  pq.Float64Array
		)
		if err = rows.Scan(&c.ChunkID, &c.Content, &meta, &vec); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		if len(meta) > 0 {
			if err = sonic.Unmarshal(meta, &c.Metadata); err != nil {
				return nil, fmt.Errorf("pgvector: unmarshal metadata: %w", err)
			}
		}
		c.Vector = vec
		candidates = append(candidates, &c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: rows: %w", err)
	}
	return rank(query, candidates, topK, threshold), nil
}

func (s *PGStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE collection = $1 AND id = ANY($2)", s.table)
	if _, err := s.db.ExecContext(ctx, q, s.collection, pq.Array(ids)); err != nil {
		return fmt.Errorf("pgvector: delete by ids: %w", err)
	}
	return nil
}

func (s *PGStore) DeleteVectorName(ctx context.Context, name string) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE collection = $1", s.table)
	if _, err := s.db.ExecContext(ctx, q, name); err != nil {
		return fmt.Errorf("pgvector: delete collection: %w", err)
	}
	return nil
}

func (s *PGStore) VectorNameExists(ctx context.Context) (bool, error) {
	q := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE collection = $1)", s.table)
	var exists bool
	if err := s.db.QueryRowContext(ctx, q, s.collection).Scan(&exists); err != nil {
		return false, fmt.Errorf("pgvector: exists: %w", err)
	}
	return exists, nil
}

var (
	_ IndexStore = (*PGStore)(nil)
	_ IndexStore = (*MemoryStore)(nil)
)
