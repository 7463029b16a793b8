package operators

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/gptdb/awel"
	"github.com/favbox/gptdb/awel/flow"
	"github.com/favbox/gptdb/component"
	"github.com/favbox/gptdb/components/llm"
	"github.com/favbox/gptdb/internal/logging"
	"github.com/favbox/gptdb/model/cluster"
	"github.com/favbox/gptdb/schema"
)

type echoClient struct {
	prefix string
	code   int
}

func (e *echoClient) Generate(_ context.Context, req *schema.ModelRequest, _ ...llm.Option) (*schema.ModelOutput, error) {
	text := e.prefix + req.Messages[len(req.Messages)-1].Content
	return &schema.ModelOutput{Text: text, ErrorCode: e.code}, nil
}

func (e *echoClient) GenerateStream(_ context.Context, req *schema.ModelRequest, _ ...llm.Option) (*schema.StreamReader[*schema.ModelOutput], error) {
	text := e.prefix + req.Messages[len(req.Messages)-1].Content
	outs := make([]*schema.ModelOutput, 0, len(text))
	for i := range text {
		outs = append(outs, &schema.ModelOutput{Text: text[:i+1], ErrorCode: e.code})
	}
	return schema.StreamReaderFromArray(outs), nil
}

func (e *echoClient) Models(context.Context) ([]*schema.ModelMetadata, error) { return nil, nil }

func (e *echoClient) CountToken(context.Context, string, string) (int, error) { return 0, nil }

func captureLogs() (context.Context, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logging.NewContext(context.Background(), logger), buf
}

func humanReq(content string) *schema.ModelRequest {
	return &schema.ModelRequest{Model: "m", Messages: []*schema.ModelMessage{schema.HumanMessage(content)}}
}

func TestClientResolution(t *testing.T) {
	t.Run("explicit client", func(t *testing.T) {
		explicit := &echoClient{}
		r := NewClientResolver(explicit, component.NewSystemApp())
		c, err := r.LLMClient(context.Background())
		require.NoError(t, err)
		assert.Same(t, explicit, c)
	})

	t.Run("worker manager factory", func(t *testing.T) {
		wm := cluster.NewLocalWorkerManager()
		require.NoError(t, wm.AddWorker("m", &echoClient{prefix: "wm:"}))
		sys := component.NewSystemApp()
		require.NoError(t, sys.Register(&cluster.StaticFactory{Manager: wm}))

		r := NewClientResolver(nil, sys)
		c, err := r.LLMClient(context.Background())
		require.NoError(t, err)
		assert.IsType(t, &cluster.DefaultLLMClient{}, c)
		out, err := c.Generate(context.Background(), humanReq("hi"))
		require.NoError(t, err)
		assert.Equal(t, "wm:hi", out.Text)
	})

	t.Run("broken factory falls back with warning", func(t *testing.T) {
		sys := component.NewSystemApp()
		require.NoError(t, sys.RegisterAs(component.WorkerManagerFactory, "not a factory"))
		fallback := &echoClient{prefix: "fb:"}
		r := NewClientResolver(nil, sys).WithFallback(func() (llm.LLMClient, error) { return fallback, nil })

		ctx, logs := captureLogs()
		c, err := r.LLMClient(ctx)
		require.NoError(t, err)
		assert.Same(t, fallback, c)
		assert.Contains(t, logs.String(), "Load worker manager failed")
		assert.Contains(t, logs.String(), "Can't find worker manager factory, use OpenAILLMClient.")
	})

	t.Run("no factory uses fallback without warning", func(t *testing.T) {
		r := NewClientResolver(nil, component.NewSystemApp()).WithFallback(func() (llm.LLMClient, error) { return &echoClient{}, nil })
		ctx, logs := captureLogs()
		_, err := r.LLMClient(ctx)
		require.NoError(t, err)
		assert.NotContains(t, logs.String(), "Load worker manager failed")
		assert.Contains(t, logs.String(), "Can't find worker manager factory")
	})

	t.Run("fallback error is not cached", func(t *testing.T) {
		calls := 0
		r := NewClientResolver(nil, nil).WithFallback(func() (llm.LLMClient, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("missing key")
			}
			return &echoClient{}, nil
		})
		_, err := r.LLMClient(context.Background())
		assert.ErrorContains(t, err, "missing key")
		_, err = r.LLMClient(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})
}

func TestLLMOperator(t *testing.T) {
	dag := awel.NewDAG("llm")
	input := awel.NewInputOperator(awel.CallDataInputSource())
	op := NewLLMOperator(&echoClient{prefix: "re:"}, nil)
	dag.Connect(input, op)

	out, err := awel.CallOperator(context.Background(), op, humanReq("hello"))
	require.NoError(t, err)
	assert.Equal(t, "re:hello", out.(*schema.ModelOutput).Text)

	_, err = awel.CallOperator(context.Background(), op, "not a request")
	assert.ErrorContains(t, err, "expects *schema.ModelRequest")
}

func TestLLMOperatorErrorOutput(t *testing.T) {
	dag := awel.NewDAG("llm_error")
	input := awel.NewInputOperator(awel.CallDataInputSource())
	op := NewLLMOperator(&echoClient{code: 1}, nil, awel.WithNodeID("llm"))
	dag.Connect(input, op)

	_, err := awel.CallOperator(context.Background(), op, humanReq("x"))
	require.Error(t, err)
	var nodeErr *awel.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Contains(t, err.Error(), "model error (code 1)")
}

func TestStreamingLLMOperator(t *testing.T) {
	dag := awel.NewDAG("streaming_llm")
	input := awel.NewInputOperator(awel.CallDataInputSource())
	op := NewStreamingLLMOperator(&echoClient{prefix: ">"}, nil)
	dag.Connect(input, op)

	sr, err := awel.StreamOperator(context.Background(), op, humanReq("ab"))
	require.NoError(t, err)
	var texts []string
	for {
		v, err := sr.Recv()
		if err != nil {
			break
		}
		texts = append(texts, v.(*schema.ModelOutput).Text)
	}
	sr.Close()
	assert.Equal(t, []string{">", ">a", ">ab"}, texts)

	failing := NewStreamingLLMOperator(&echoClient{code: 2}, nil)
	dag2 := awel.NewDAG("streaming_llm_error")
	dag2.Connect(awel.NewInputOperator(awel.CallDataInputSource()), failing)
	sr, err = awel.StreamOperator(context.Background(), failing, humanReq("x"))
	require.NoError(t, err)
	_, err = sr.Recv()
	assert.ErrorContains(t, err, "model error (code 2)")
	sr.Close()
}

func TestFlowOperators(t *testing.T) {
	reg := flow.NewRegistry()
	require.NoError(t, flow.RegisterBuiltins(reg))
	sys := component.NewSystemApp()
	require.NoError(t, RegisterFlowOperators(reg, sys))
	assert.Error(t, RegisterFlowOperators(reg, sys))

	metas, err := reg.List(flow.CategoryLLM)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, awel.OperatorTypeStreamify, metas[1].OperatorType)
	assert.True(t, metas[1].Outputs[0].IsList)

	require.NoError(t, sys.RegisterAs("my_llm", &echoClient{prefix: "flow:"}))
	data := &flow.FlowData{
		Nodes: []flow.FlowNode{
			{ID: "req", Data: flow.FlowNodeData{Name: flow.OperatorRequestBuilder, Parameters: map[string]any{"model": "m"}}},
			{ID: "llm", Data: flow.FlowNodeData{Name: OperatorLLM, Parameters: map[string]any{"llm_client": "my_llm"}}},
			{ID: "text", Data: flow.FlowNodeData{Name: flow.OperatorModelOutputToText}},
		},
		Edges: []flow.FlowEdge{{Source: "req", Target: "llm"}, {Source: "llm", Target: "text"}},
	}
	dag, err := flow.BuildDAG(context.Background(), reg, "chat", data, sys)
	require.NoError(t, err)
	leaf, err := flow.Leaf(dag)
	require.NoError(t, err)

	out, err := awel.CallOperator(context.Background(), leaf, "what is awel")
	require.NoError(t, err)
	assert.Equal(t, "flow:what is awel", out)

	data.Nodes[1].Data.Parameters["llm_client"] = "unknown"
	_, err = flow.BuildDAG(context.Background(), reg, "chat", data, sys)
	assert.ErrorIs(t, err, component.ErrComponentNotFound)
}
