package awel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passthrough(id string) *MapOperator[any, any] {
	return NewMapOperator(func(_ context.Context, in any) (any, error) { return in, nil }, WithNodeID(id))
}

func TestDAGBuild(t *testing.T) {
	t.Run("connect adds nodes", func(t *testing.T) {
		d := NewDAG("build")
		a, b, c := passthrough("a"), passthrough("b"), passthrough("c")
		require.NoError(t, d.Chain(a, b, c))

		assert.Len(t, d.Nodes(), 3)
		assert.Equal(t, []Operator{a}, d.RootNodes())
		assert.Equal(t, []Operator{c}, d.LeafNodes())
		assert.Equal(t, []Operator{a}, b.Upstreams())
		assert.Equal(t, []Operator{c}, b.Downstreams())
		assert.Equal(t, d, a.DAG())
	})

	t.Run("duplicate node is sticky", func(t *testing.T) {
		d := NewDAG("dup")
		require.NoError(t, d.AddNode(passthrough("a")))
		err := d.AddNode(passthrough("a"))
		assert.EqualError(t, err, "node 'a' already present")

		// 之后的所有修改都返回同一个错误
		assert.Equal(t, err, d.AddNode(passthrough("b")))
		assert.Equal(t, err, d.Err())
	})

	t.Run("edge needs nodes", func(t *testing.T) {
		d := NewDAG("edge")
		a := passthrough("a")
		err := d.AddEdge(a, passthrough("b"))
		assert.EqualError(t, err, "edge start node 'a' needs to be added to DAG first")
	})

	t.Run("cycle rejected", func(t *testing.T) {
		d := NewDAG("cycle")
		a, b, c := passthrough("a"), passthrough("b"), passthrough("c")
		require.NoError(t, d.Chain(a, b, c))
		err := d.Connect(c, a)
		assert.True(t, errors.Is(err, ErrCycle))
	})

	t.Run("self loop rejected", func(t *testing.T) {
		d := NewDAG("self")
		a := passthrough("a")
		assert.ErrorIs(t, d.Connect(a, a), ErrCycle)
	})

	t.Run("sealed after run", func(t *testing.T) {
		d := NewDAG("sealed")
		a := passthrough("a")
		require.NoError(t, d.AddNode(a))
		_, err := CallOperator(context.Background(), a, 1)
		require.NoError(t, err)
		assert.True(t, d.Sealed())
		assert.ErrorIs(t, d.AddNode(passthrough("b")), ErrDAGSealed)
	})

	t.Run("node belongs to one dag", func(t *testing.T) {
		a := passthrough("a")
		require.NoError(t, NewDAG("one").AddNode(a))
		assert.Error(t, NewDAG("two").AddNode(a))
	})
}

func TestDescribe(t *testing.T) {
	d := NewDAG("describe")
	a, b := passthrough("a"), passthrough("b")
	require.NoError(t, d.Connect(a, b))

	info := d.Describe()
	assert.Equal(t, "describe", info.Name)
	require.Len(t, info.Nodes, 2)
	assert.Equal(t, OperatorTypeMap, info.Nodes[0].OperatorType)
	assert.Equal(t, "MapOperator", info.Nodes[0].GoType)
	assert.Equal(t, []EdgeInfo{{Source: "a", Target: "b"}}, info.Edges)
}
