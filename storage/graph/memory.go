package graph

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore 进程内图存储，点按名称去重，边按三元组去重。
type MemoryStore struct {
	mu  sync.RWMutex
	out map[string][]Triplet
	in  map[string][]Triplet
}

// NewMemoryStore 创建空图。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{out: make(map[string][]Triplet), in: make(map[string][]Triplet)}
}

func normalize(t Triplet) Triplet {
	return Triplet{
		Subject:  strings.TrimSpace(t.Subject),
		Relation: strings.TrimSpace(t.Relation),
		Object:   strings.TrimSpace(t.Object),
	}
}

func (s *MemoryStore) InsertTriplet(_ context.Context, t Triplet) error {
	t = normalize(t)
	if t.Subject == "" || t.Object == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.out[t.Subject] {
		if e == t {
			return nil
		}
	}
	s.out[t.Subject] = append(s.out[t.Subject], t)
	s.in[t.Object] = append(s.in[t.Object], t)
	return nil
}

func (s *MemoryStore) GetTriplets(_ context.Context, subject string) ([]Triplet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Triplet(nil), s.out[subject]...), nil
}

func (s *MemoryStore) DeleteTriplet(_ context.Context, t Triplet) error {
	t = normalize(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out[t.Subject] = without(s.out[t.Subject], t)
	s.in[t.Object] = without(s.in[t.Object], t)
	return nil
}

func without(es []Triplet, t Triplet) []Triplet {
	out := es[:0]
	for _, e := range es {
		if e != t {
			out = append(out, e)
		}
	}
	return out
}

func (s *MemoryStore) Drop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = make(map[string][]Triplet)
	s.in = make(map[string][]Triplet)
	return nil
}

// Explore 从 subjects 出发按广度优先探索子图，只包含图中存在的起点。
func (s *MemoryStore) Explore(_ context.Context, subjects []string, opts ExploreOptions) (*Graph, error) {
	if opts.Depth <= 0 {
		opts.Depth = 3
	}
	if opts.Direction == "" {
		opts.Direction = DirectionOut
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	vertices := make(map[string]bool)
	seenEdge := make(map[Triplet]bool)
	var edges []Triplet
	var frontier []string
	for _, sub := range subjects {
		if len(s.out[sub]) > 0 || len(s.in[sub]) > 0 {
			if !vertices[sub] {
				vertices[sub] = true
				frontier = append(frontier, sub)
			}
		}
	}

	for depth := 0; depth < opts.Depth && len(frontier) > 0; depth++ {
		var next []string
		for _, v := range frontier {
			expanded := 0
			for _, e := range s.neighbors(v, opts.Direction) {
				if opts.Fanout > 0 && expanded >= opts.Fanout {
					break
				}
				if seenEdge[e] {
					continue
				}
				if opts.Limit > 0 && len(edges) >= opts.Limit {
					return &Graph{Vertices: sortedKeys(vertices), Edges: edges}, nil
				}
				seenEdge[e] = true
				edges = append(edges, e)
				expanded++
				for _, n := range []string{e.Subject, e.Object} {
					if !vertices[n] {
						vertices[n] = true
						next = append(next, n)
					}
				}
			}
		}
		frontier = next
	}
	return &Graph{Vertices: sortedKeys(vertices), Edges: edges}, nil
}

func (s *MemoryStore) neighbors(v string, d Direction) []Triplet {
	switch d {
	case DirectionIn:
		return s.in[v]
	case DirectionBoth:
		return append(append([]Triplet(nil), s.out[v]...), s.in[v]...)
	default:
		return s.out[v]
	}
}

var _ Store = (*MemoryStore)(nil)
