package callbacks

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/gptdb/components"
	"github.com/favbox/gptdb/schema"
)

func TestHandlerLifecycle(t *testing.T) {
	var events []string
	h := NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *RunInfo, input CallbackInput) context.Context {
			events = append(events, "start:"+info.Name+":"+input.(string))
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *RunInfo, output CallbackOutput) context.Context {
			events = append(events, "end:"+info.Name+":"+output.(string))
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *RunInfo, err error) context.Context {
			events = append(events, "error:"+err.Error())
			return ctx
		}).
		Build()

	ctx := InitCallbacks(context.Background(), &RunInfo{Name: "node", Component: components.ComponentOfOperator}, h)
	ctx = OnStart(ctx, "in")
	ctx = OnEnd(ctx, "out")
	_ = OnError(ctx, errors.New("boom"))

	assert.Equal(t, []string{"start:node:in", "end:node:out", "error:boom"}, events)
}

func TestHandlerStreamOutput(t *testing.T) {
	var seen []any
	done := make(chan struct{})
	h := NewHandlerBuilder().
		OnEndWithStreamOutputFn(func(ctx context.Context, info *RunInfo, output *schema.StreamReader[CallbackOutput]) context.Context {
			go func() {
				defer close(done)
				defer output.Close()
				for {
					v, err := output.Recv()
					if errors.Is(err, io.EOF) {
						return
					}
					seen = append(seen, v)
				}
			}()
			return ctx
		}).
		Build()

	ctx := InitCallbacks(context.Background(), &RunInfo{Name: "s"}, h)
	_, out := OnEndWithStreamOutput(ctx, schema.StreamReaderFromArray([]int{1, 2}))

	var got []int
	for {
		v, err := out.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, v)
	}
	out.Close()
	<-done

	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, []any{1, 2}, seen)
}

func TestNoHandlers(t *testing.T) {
	ctx := EnsureRunInfo(context.Background(), "T", components.ComponentOfLLMClient)
	ctx = OnStart(ctx, 1)
	assert.NotNil(t, OnEnd(ctx, 2))
}

func TestHandlerForComponents(t *testing.T) {
	var names []string
	b := NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *RunInfo, _ CallbackInput) context.Context {
			names = append(names, info.Name)
			return ctx
		}).
		ForComponents(components.ComponentOfLLMClient)
	h := b.Build()
	b.ForComponents(components.ComponentOfOperator)

	_ = OnStart(InitCallbacks(context.Background(), &RunInfo{Name: "llm", Component: components.ComponentOfLLMClient}, h), "q")
	_ = OnStart(InitCallbacks(context.Background(), &RunInfo{Name: "op", Component: components.ComponentOfOperator}, h), "q")

	assert.Equal(t, []string{"llm"}, names)
	assert.False(t, h.(*builtHandler).Needed(context.Background(), nil, TimingOnStart))
}
