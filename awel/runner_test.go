package awel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/gptdb/callbacks"
	"github.com/favbox/gptdb/schema"
)

func upper() *MapOperator[string, string] {
	return NewMapOperator(func(_ context.Context, s string) (string, error) {
		return strings.ToUpper(s), nil
	}, WithNodeID("upper"))
}

func TestCallOperator(t *testing.T) {
	convey.Convey("map chain", t, func() {
		d := NewDAG("chain")
		in := NewInputOperator(CallDataInputSource(), WithNodeID("in"))
		up := upper()
		exclaim := NewMapOperator(func(_ context.Context, s string) (string, error) {
			return s + "!", nil
		})
		convey.So(d.Chain(in, up, exclaim), convey.ShouldBeNil)

		out, err := CallOperator(context.Background(), exclaim, "hi")
		convey.So(err, convey.ShouldBeNil)
		convey.So(out, convey.ShouldEqual, "HI!")
	})

	convey.Convey("only the leaf sub-graph runs", t, func() {
		d := NewDAG("sub")
		var ran sync.Map
		mk := func(id string) *MapOperator[any, any] {
			return NewMapOperator(func(_ context.Context, in any) (any, error) {
				ran.Store(id, true)
				return in, nil
			}, WithNodeID(id))
		}
		a, b, c := mk("a"), mk("b"), mk("c")
		convey.So(d.Connect(a, b), convey.ShouldBeNil)
		convey.So(d.Connect(a, c), convey.ShouldBeNil)

		_, err := CallOperator(context.Background(), b, 1)
		convey.So(err, convey.ShouldBeNil)
		_, ranC := ran.Load("c")
		convey.So(ranC, convey.ShouldBeFalse)
	})

	convey.Convey("type mismatch", t, func() {
		d := NewDAG("mismatch")
		up := upper()
		convey.So(d.AddNode(up), convey.ShouldBeNil)
		_, err := CallOperator(context.Background(), up, 42)
		convey.So(err, convey.ShouldNotBeNil)
		convey.So(err.Error(), convey.ShouldContainSubstring, "unexpected input type")
	})
}

func TestJoinOrder(t *testing.T) {
	d := NewDAG("join")
	in := NewInputOperator(CallDataInputSource())
	slow := NewMapOperator(func(_ context.Context, n int) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return fmt.Sprintf("slow-%d", n), nil
	})
	fast := NewMapOperator(func(_ context.Context, n int) (string, error) {
		return fmt.Sprintf("fast-%d", n), nil
	})
	join := NewJoinOperator(func(_ context.Context, values []any) (any, error) {
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = v.(string)
		}
		return strings.Join(parts, ","), nil
	})
	require.NoError(t, d.Connect(in, slow))
	require.NoError(t, d.Connect(in, fast))
	require.NoError(t, d.Connect(slow, join))
	require.NoError(t, d.Connect(fast, join))

	out, err := CallOperator(context.Background(), join, 7)
	require.NoError(t, err)
	assert.Equal(t, "slow-7,fast-7", out)
}

func TestJoinOperator2(t *testing.T) {
	d := NewDAG("join2")
	in := NewInputOperator(CallDataInputSource())
	double := NewMapOperator(func(_ context.Context, n int) (int, error) { return n * 2, nil })
	str := NewMapOperator(func(_ context.Context, n int) (string, error) { return fmt.Sprint(n), nil })
	join := NewJoinOperator2(func(_ context.Context, a int, b string) (string, error) {
		return fmt.Sprintf("%s=%d", b, a), nil
	})
	require.NoError(t, d.Connect(in, double))
	require.NoError(t, d.Connect(in, str))
	require.NoError(t, d.Connect(double, join))
	require.NoError(t, d.Connect(str, join))

	out, err := CallOperator(context.Background(), join, 3)
	require.NoError(t, err)
	assert.Equal(t, "3=6", out)
}

func TestBranch(t *testing.T) {
	build := func() (*DAG, *BranchJoinOperator, *atomic.Int32) {
		d := NewDAG("branch")
		var tail atomic.Int32
		in := NewInputOperator(CallDataInputSource())
		even := NewMapOperator(func(_ context.Context, n int) (string, error) { return "even", nil }, WithNodeID("even"))
		odd := NewMapOperator(func(_ context.Context, n int) (string, error) { return "odd", nil }, WithNodeID("odd"))
		oddTail := NewMapOperator(func(_ context.Context, s string) (string, error) {
			tail.Add(1)
			return s + "-tail", nil
		}, WithNodeID("odd_tail"))
		br := NewBranchOperator([]Branch{
			{Cond: func(_ context.Context, v any) (bool, error) { return v.(int)%2 == 0, nil }, Target: even},
			{Cond: func(_ context.Context, v any) (bool, error) { return v.(int)%2 == 1, nil }, Target: odd},
		})
		merge := NewBranchJoinOperator(WithNodeID("merge"))
		require.NoError(t, d.Chain(in, br, even, merge))
		require.NoError(t, d.Chain(br, odd, oddTail, merge))
		return d, merge, &tail
	}

	t.Run("even", func(t *testing.T) {
		_, merge, tail := build()
		out, err := CallOperator(context.Background(), merge, 4)
		require.NoError(t, err)
		assert.Equal(t, "even", out)
		// 跳过沿 odd 分支传播
		assert.Equal(t, int32(0), tail.Load())
	})

	t.Run("odd", func(t *testing.T) {
		_, merge, tail := build()
		out, err := CallOperator(context.Background(), merge, 3)
		require.NoError(t, err)
		assert.Equal(t, "odd-tail", out)
		assert.Equal(t, int32(1), tail.Load())
	})

	t.Run("skipped leaf yields nil", func(t *testing.T) {
		d := NewDAG("skip_leaf")
		in := NewInputOperator(CallDataInputSource())
		target := passthrough("target")
		br := NewBranchOperator([]Branch{{
			Cond:   func(context.Context, any) (bool, error) { return false, nil },
			Target: target,
		}})
		require.NoError(t, d.Chain(in, br, target))
		out, err := CallOperator(context.Background(), target, "x")
		require.NoError(t, err)
		assert.Nil(t, out)
	})
}

func countdown(n int) *schema.StreamReader[int] {
	items := make([]int, 0, n)
	for i := n; i > 0; i-- {
		items = append(items, i)
	}
	return schema.StreamReaderFromArray(items)
}

func TestStreamOperators(t *testing.T) {
	convey.Convey("streamify, map over stream, reduce", t, func() {
		d := NewDAG("stream")
		in := NewInputOperator(CallDataInputSource())
		spread := NewStreamifyOperator(func(_ context.Context, n int) (*schema.StreamReader[int], error) {
			return countdown(n), nil
		})
		square := NewMapOperator(func(_ context.Context, n int) (int, error) { return n * n, nil })
		sum := NewReduceStreamOperator(0, func(_ context.Context, acc, n int) (int, error) { return acc + n, nil })
		convey.So(d.Chain(in, spread, square, sum), convey.ShouldBeNil)

		out, err := CallOperator(context.Background(), sum, 3)
		convey.So(err, convey.ShouldBeNil)
		convey.So(out, convey.ShouldEqual, 14)
	})

	convey.Convey("stream copied to every consumer", t, func() {
		d := NewDAG("copy")
		in := NewInputOperator(CallDataInputSource())
		spread := NewStreamifyOperator(func(_ context.Context, n int) (*schema.StreamReader[int], error) {
			return countdown(n), nil
		})
		count := NewUnstreamifyOperator(func(_ context.Context, sr *schema.StreamReader[int]) (int, error) {
			n := 0
			for {
				_, err := sr.Recv()
				if errors.Is(err, io.EOF) {
					return n, nil
				}
				if err != nil {
					return 0, err
				}
				n++
			}
		})
		total := NewReduceStreamOperator(0, func(_ context.Context, acc, n int) (int, error) { return acc + n, nil })
		join := NewJoinOperator2(func(_ context.Context, c, s int) (string, error) {
			return fmt.Sprintf("%d/%d", c, s), nil
		})
		convey.So(d.Chain(in, spread, count, join), convey.ShouldBeNil)
		convey.So(d.Chain(spread, total, join), convey.ShouldBeNil)

		out, err := CallOperator(context.Background(), join, 4)
		convey.So(err, convey.ShouldBeNil)
		convey.So(out, convey.ShouldEqual, "4/10")
	})

	convey.Convey("transform stream and stream call", t, func() {
		d := NewDAG("transform")
		in := NewInputOperator(CallDataInputSource())
		spread := NewStreamifyOperator(func(_ context.Context, n int) (*schema.StreamReader[int], error) {
			return countdown(n), nil
		})
		label := NewTransformStreamOperator(func(_ context.Context, sr *schema.StreamReader[int]) (*schema.StreamReader[string], error) {
			return schema.StreamReaderWithConvert(sr, func(n int) (string, error) { return fmt.Sprint("#", n), nil }), nil
		})
		convey.So(d.Chain(in, spread, label), convey.ShouldBeNil)

		sr, err := StreamOperator(context.Background(), label, 2)
		convey.So(err, convey.ShouldBeNil)
		defer sr.Close()
		var got []any
		for {
			v, err := sr.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			convey.So(err, convey.ShouldBeNil)
			got = append(got, v)
		}
		convey.So(got, convey.ShouldResemble, []any{"#2", "#1"})
	})

	convey.Convey("stream call on value leaf", t, func() {
		d := NewDAG("value_stream")
		up := upper()
		convey.So(d.AddNode(up), convey.ShouldBeNil)
		sr, err := StreamOperator(context.Background(), up, "ok")
		convey.So(err, convey.ShouldBeNil)
		v, err := sr.Recv()
		convey.So(err, convey.ShouldBeNil)
		convey.So(v, convey.ShouldEqual, "OK")
		_, err = sr.Recv()
		convey.So(errors.Is(err, io.EOF), convey.ShouldBeTrue)
	})

	convey.Convey("call collects stream with merge", t, func() {
		d := NewDAG("merge")
		in := NewInputOperator(CallDataInputSource())
		spread := NewStreamifyOperator(func(_ context.Context, n int) (*schema.StreamReader[int], error) {
			return countdown(n), nil
		})
		convey.So(d.Chain(in, spread), convey.ShouldBeNil)

		last, err := CallOperator(context.Background(), spread, 3)
		convey.So(err, convey.ShouldBeNil)
		convey.So(last, convey.ShouldEqual, 1)

		d2 := NewDAG("merge2")
		in2 := NewInputOperator(CallDataInputSource())
		spread2 := NewStreamifyOperator(func(_ context.Context, n int) (*schema.StreamReader[int], error) {
			return countdown(n), nil
		})
		convey.So(d2.Chain(in2, spread2), convey.ShouldBeNil)
		sum, err := CallOperator(context.Background(), spread2, 3, WithStreamMerge(func(acc, next any) any {
			return acc.(int) + next.(int)
		}))
		convey.So(err, convey.ShouldBeNil)
		convey.So(sum, convey.ShouldEqual, 6)
	})
}

func TestRunErrors(t *testing.T) {
	t.Run("node error carries path", func(t *testing.T) {
		d := NewDAG("fail")
		in := NewInputOperator(CallDataInputSource(), WithNodeID("in"))
		boom := NewMapOperator(func(context.Context, any) (any, error) {
			return nil, errors.New("boom")
		}, WithNodeID("boom"))
		after := passthrough("after")
		require.NoError(t, d.Chain(in, boom, after))

		_, err := CallOperator(context.Background(), after, 1)
		require.Error(t, err)
		var ne *NodeError
		require.True(t, errors.As(err, &ne))
		assert.Equal(t, "boom", ne.NodeID())
		assert.Contains(t, err.Error(), "node path: [boom]")
		assert.Contains(t, err.Error(), "[NodeRunError] boom")
	})

	t.Run("panic converted", func(t *testing.T) {
		d := NewDAG("panic")
		p := NewMapOperator(func(context.Context, any) (any, error) {
			panic("kaboom")
		}, WithNodeID("p"))
		require.NoError(t, d.AddNode(p))
		_, err := CallOperator(context.Background(), p, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic error: kaboom")
	})

	t.Run("timeout", func(t *testing.T) {
		d := NewDAG("timeout")
		slow := NewMapOperator(func(ctx context.Context, in any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return in, nil
			}
		})
		require.NoError(t, d.AddNode(slow))
		_, err := CallOperator(context.Background(), slow, 1, WithTimeout(10*time.Millisecond))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestMaxConcurrency(t *testing.T) {
	d := NewDAG("concurrency")
	in := NewInputOperator(CallDataInputSource())
	var running, peak atomic.Int32
	var values []Operator
	for i := 0; i < 6; i++ {
		op := NewMapOperator(func(_ context.Context, n int) (int, error) {
			cur := running.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return n, nil
		})
		require.NoError(t, d.Connect(in, op))
		values = append(values, op)
	}
	join := NewJoinOperator(func(_ context.Context, vs []any) (any, error) { return len(vs), nil })
	for _, op := range values {
		require.NoError(t, d.Connect(op, join))
	}

	out, err := CallOperator(context.Background(), join, 1, WithMaxConcurrency(2))
	require.NoError(t, err)
	assert.Equal(t, 6, out)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDAGContextShareData(t *testing.T) {
	d := NewDAG("share")
	in := NewInputOperator(CallDataInputSource())
	save := NewMapOperator(func(ctx context.Context, s string) (string, error) {
		dc := DAGContextFrom(ctx)
		dc.SaveToShareData("k", s+"-shared", false)
		return s, nil
	})
	read := NewMapOperator(func(ctx context.Context, s string) (string, error) {
		dc := DAGContextFrom(ctx)
		v, ok := dc.GetFromShareData("k")
		if !ok {
			return "", errors.New("missing")
		}
		assert.False(t, dc.SaveToShareData("k", "other", false))
		return v.(string), nil
	})
	require.NoError(t, d.Chain(in, save, read))

	out, err := CallOperator(context.Background(), read, "v")
	require.NoError(t, err)
	assert.Equal(t, "v-shared", out)
}

func TestRunnerCallbacks(t *testing.T) {
	var mu sync.Mutex
	var started, ended []string
	h := callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
			mu.Lock()
			defer mu.Unlock()
			started = append(started, info.Name)
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackOutput) context.Context {
			mu.Lock()
			defer mu.Unlock()
			ended = append(ended, info.Name)
			return ctx
		}).Build()

	d := NewDAG("cb")
	in := NewInputOperator(CallDataInputSource(), WithNodeName("input"))
	up := NewMapOperator(func(_ context.Context, s string) (string, error) { return s, nil }, WithNodeName("echo"))
	require.NoError(t, d.Chain(in, up))

	_, err := CallOperator(context.Background(), up, "x", WithCallbacks(h))
	require.NoError(t, err)
	assert.Equal(t, []string{"input", "echo"}, started)
	assert.Equal(t, []string{"input", "echo"}, ended)
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsHandler(reg)

	d := NewDAG("metrics")
	in := NewInputOperator(CallDataInputSource())
	fail := NewMapOperator(func(context.Context, any) (any, error) { return nil, errors.New("x") })
	require.NoError(t, d.Connect(in, fail))

	_, err := CallOperator(context.Background(), fail, 1, WithCallbacks(m))
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("InputOperator", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("MapOperator", "failure")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))
}
