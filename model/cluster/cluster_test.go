package cluster

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/gptdb/components/llm"
	"github.com/favbox/gptdb/schema"
)

type fakeClient struct {
	reply    string
	fail     error
	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (f *fakeClient) GetType() string    { return "Fake" }
func (f *fakeClient) ContextLength() int { return 2048 }

func (f *fakeClient) Generate(_ context.Context, req *schema.ModelRequest, _ ...llm.Option) (*schema.ModelOutput, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.delay)
	if f.fail != nil {
		return nil, f.fail
	}
	return &schema.ModelOutput{Text: f.reply + ":" + req.Messages[len(req.Messages)-1].Content}, nil
}

func (f *fakeClient) GenerateStream(_ context.Context, _ *schema.ModelRequest, _ ...llm.Option) (*schema.StreamReader[*schema.ModelOutput], error) {
	if f.fail != nil {
		return nil, f.fail
	}
	var outs []*schema.ModelOutput
	for i := range f.reply {
		outs = append(outs, &schema.ModelOutput{Text: f.reply[:i+1]})
	}
	return schema.StreamReaderFromArray(outs), nil
}

func (f *fakeClient) Models(context.Context) ([]*schema.ModelMetadata, error) { return nil, nil }

func (f *fakeClient) CountToken(_ context.Context, _ string, prompt string) (int, error) {
	return len(strings.Fields(prompt)), nil
}

func request(model, content string) *schema.ModelRequest {
	return &schema.ModelRequest{Model: model, Messages: []*schema.ModelMessage{schema.HumanMessage(content)}}
}

func TestLocalWorkerManagerRouting(t *testing.T) {
	m := NewLocalWorkerManager()
	require.NoError(t, m.AddWorker("moonshot-v1-8k", &fakeClient{reply: "moon"}, "moonshot_proxyllm"))
	require.NoError(t, m.AddWorker("gpt-4o", &fakeClient{reply: "gpt"}))
	assert.Error(t, m.AddWorker("gpt-4o", &fakeClient{}))
	assert.Equal(t, "moonshot-v1-8k", m.DefaultModel())

	ctx := context.Background()
	out, err := m.Generate(ctx, request("gpt-4o", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "gpt:hi", out.Text)

	out, err = m.Generate(ctx, request("moonshot_proxyllm", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "moon:hi", out.Text)

	out, err = m.Generate(ctx, request("", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "moon:hi", out.Text)

	out, err = m.Generate(ctx, request("unknown", "hi"))
	require.NoError(t, err)
	assert.Equal(t, ErrCodeModelNotFound, out.ErrorCode)
	assert.Contains(t, out.Text, "model 'unknown' not found")

	infos, err := m.SupportedModels(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "gpt-4o", infos[0].ModelName)
	assert.Equal(t, "Fake", infos[1].WorkerType)
	assert.Equal(t, 2048, infos[1].ContextLength)

	n, err := m.CountToken(ctx, "gpt-4o", "a b c")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	m.RemoveWorker("moonshot-v1-8k")
	assert.Equal(t, "gpt-4o", m.DefaultModel())
	out, _ = m.Generate(ctx, request("moonshot_proxyllm", "hi"))
	assert.False(t, out.Success())
}

func TestLocalWorkerManagerFailures(t *testing.T) {
	ctx := context.Background()
	empty := NewLocalWorkerManager()
	out, err := empty.Generate(ctx, request("", "x"))
	require.NoError(t, err)
	assert.Contains(t, out.Text, ErrNoWorker.Error())

	m := NewLocalWorkerManager()
	require.NoError(t, m.AddWorker("broken", &fakeClient{fail: errors.New("upstream 500")}))
	out, err = m.Generate(ctx, request("broken", "x"))
	require.NoError(t, err)
	assert.Equal(t, ErrCodeWorkerFailed, out.ErrorCode)
	assert.Error(t, out.Err())

	sr, err := m.GenerateStream(ctx, request("broken", "x"))
	require.NoError(t, err)
	last, err := schema.ConcatStream(sr, nil)
	require.NoError(t, err)
	assert.Equal(t, ErrCodeWorkerFailed, last.ErrorCode)

	_, err = m.Generate(ctx, nil)
	assert.ErrorIs(t, err, schema.ErrInvalidRequest)
}

func TestLocalWorkerManagerConcurrency(t *testing.T) {
	fc := &fakeClient{reply: "r", delay: 20 * time.Millisecond}
	m := NewLocalWorkerManager(WithWorkerConcurrency(2))
	require.NoError(t, m.AddWorker("m", fc))

	done := make(chan struct{})
	for i := 0; i < 6; i++ {
		go func() {
			_, _ = m.Generate(context.Background(), request("m", "x"))
			done <- struct{}{}
		}()
	}
	for i := 0; i < 6; i++ {
		<-done
	}
	assert.LessOrEqual(t, fc.peak.Load(), int32(2))
}

func TestDefaultLLMClient(t *testing.T) {
	m := NewLocalWorkerManager()
	require.NoError(t, m.AddWorker("moonshot-v1-8k", &fakeClient{reply: "moon"}))
	fac := &StaticFactory{Manager: m}
	assert.Equal(t, "worker_manager_factory", fac.Name())

	var c llm.LLMClient = NewDefaultLLMClient(fac.Create())
	ctx := context.Background()

	out, err := c.Generate(ctx, request("other", "hi"), llm.WithModel("moonshot-v1-8k"))
	require.NoError(t, err)
	assert.Equal(t, "moon:hi", out.Text)

	sr, err := c.GenerateStream(ctx, request("moonshot-v1-8k", "hi"))
	require.NoError(t, err)
	last, err := schema.ConcatStream(sr, nil)
	require.NoError(t, err)
	assert.Equal(t, "moon", last.Text)

	models, err := c.Models(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "moonshot-v1-8k", models[0].Model)
}
