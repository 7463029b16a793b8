// Package graph 知识图谱的图存储。
package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Direction 探索方向。
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// Triplet 主谓宾三元组。
type Triplet struct {
	Subject  string `json:"subject"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

// String 格式为 (subject)-[relation]->(object)。
func (t Triplet) String() string {
	return fmt.Sprintf("(%s)-[%s]->(%s)", t.Subject, t.Relation, t.Object)
}

// Graph 探索得到的子图。
type Graph struct {
	Vertices []string  `json:"vertices"`
	Edges    []Triplet `json:"edges"`
}

// Empty 子图是否没有边和点。
func (g *Graph) Empty() bool {
	return g == nil || (len(g.Vertices) == 0 && len(g.Edges) == 0)
}

// Format 将子图转为可放入提示词的文本，每行一条边。
func (g *Graph) Format() string {
	if g.Empty() {
		return ""
	}
	var sb strings.Builder
	for i, e := range g.Edges {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(e.String())
	}
	if len(g.Edges) == 0 {
		sb.WriteString(strings.Join(g.Vertices, "\n"))
	}
	return sb.String()
}

// ExploreOptions 子图探索参数。
type ExploreOptions struct {
	Direction Direction
	// Depth 为 0 时默认 3
	Depth int
	// Fanout 每个节点最多展开的边数，0 表示不限
	Fanout int
	// Limit 返回的最多边数，0 表示不限
	Limit int
}

// Store 图存储。
type Store interface {
	InsertTriplet(ctx context.Context, t Triplet) error
	// GetTriplets 以 subject 为起点的 (relation, object)
	GetTriplets(ctx context.Context, subject string) ([]Triplet, error)
	DeleteTriplet(ctx context.Context, t Triplet) error
	Explore(ctx context.Context, subjects []string, opts ExploreOptions) (*Graph, error)
	// Drop 清空图
	Drop(ctx context.Context) error
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
