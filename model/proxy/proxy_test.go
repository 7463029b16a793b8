package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/gptdb/schema"
)

func clearProxyEnv(t *testing.T) {
	for _, k := range []string{"OPENAI_API_KEY", "OPENAI_API_BASE", "PROXY_API_KEY", "MOONSHOT_API_KEY", "MOONSHOT_API_BASE", "ANTHROPIC_API_KEY"} {
		t.Setenv(k, "")
	}
}

func newChatServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"bad key"}`)
			return
		}
		var req chatRequest
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, sonic.Unmarshal(raw, &req))
		last := req.Messages[len(req.Messages)-1].Content

		if !req.Stream {
			_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"echo: `+last+`"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"ec", "ho", ": " + last} {
			_, _ = io.WriteString(w, `data: {"choices":[{"delta":{"content":"`+piece+`"}}]}`+"\n\n")
		}
		_, _ = io.WriteString(w, ": keep-alive\n\n")
		_, _ = io.WriteString(w, `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`+"\n\ndata: [DONE]\n\n")
	})
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"id":"gpt-4o"},{"id":"gpt-3.5-turbo"}]}`)
	})
	return httptest.NewServer(mux)
}

func humanRequest(model, content string) *schema.ModelRequest {
	return &schema.ModelRequest{Model: model, Messages: []*schema.ModelMessage{
		schema.SystemMessage("you are helpful"),
		{Role: schema.View, Content: "only for ui"},
		schema.HumanMessage(content),
	}}
}

func TestOpenAIGenerate(t *testing.T) {
	clearProxyEnv(t)
	srv := newChatServer(t)
	defer srv.Close()

	c, err := NewOpenAILLMClient(&OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL + "/"})
	require.NoError(t, err)
	assert.Equal(t, "OpenAI", c.GetType())

	out, err := c.Generate(context.Background(), humanRequest("chatgpt_proxyllm", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out.Text)
	assert.Equal(t, "stop", out.FinishReason)
	assert.Equal(t, 5, out.Usage.TotalTokens)
	assert.True(t, out.Success())

	_, err = c.Generate(context.Background(), &schema.ModelRequest{Model: "gpt-4o"})
	assert.ErrorIs(t, err, schema.ErrInvalidRequest)
}

func TestOpenAIGenerateUnauthorized(t *testing.T) {
	clearProxyEnv(t)
	srv := newChatServer(t)
	defer srv.Close()

	c, err := NewOpenAILLMClient(&OpenAIConfig{APIKey: "sk-wrong", APIBase: srv.URL})
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), humanRequest("", "hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestOpenAIGenerateStream(t *testing.T) {
	clearProxyEnv(t)
	srv := newChatServer(t)
	defer srv.Close()

	c, err := NewOpenAILLMClient(&OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL})
	require.NoError(t, err)

	sr, err := c.GenerateStream(context.Background(), humanRequest("", "hi"))
	require.NoError(t, err)
	defer sr.Close()

	var texts []string
	var last *schema.ModelOutput
	for {
		out, err := sr.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		texts = append(texts, out.Text)
		last = out
	}
	assert.Equal(t, []string{"ec", "echo", "echo: hi", "echo: hi"}, texts)
	assert.Equal(t, "stop", last.FinishReason)
}

func TestOpenAIModels(t *testing.T) {
	clearProxyEnv(t)
	srv := newChatServer(t)
	defer srv.Close()

	c, err := NewOpenAILLMClient(&OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL})
	require.NoError(t, err)
	models, err := c.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "gpt-4o", models[0].Model)
	assert.Equal(t, []string{"chatgpt_proxyllm"}, models[1].Aliases)

	// 不支持 /models 时退回到配置的模型
	c2, err := NewOpenAILLMClient(&OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL + "/missing", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	models, err = c2.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "gpt-4o-mini", models[0].Model)
}

func TestOpenAIConstruction(t *testing.T) {
	clearProxyEnv(t)

	_, err := NewOpenAILLMClient(nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	t.Setenv("PROXY_API_KEY", "sk-env")
	c, err := NewOpenAILLMClient(nil)
	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5-turbo", c.DefaultModel())
	assert.Equal(t, 4096, c.ContextLength())
	assert.Equal(t, "chatgpt_proxyllm", c.ModelAlias())

	_, err = NewOpenAILLMClient(&OpenAIConfig{ProtocolVersion: "0.9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ">= 1.0")

	_, err = NewOpenAILLMClient(&OpenAIConfig{ProtocolVersion: "1.2.0"})
	assert.NoError(t, err)
}

func TestCompareVersion(t *testing.T) {
	assert.Equal(t, 0, compareVersion("1.0", "1"))
	assert.Equal(t, -1, compareVersion("0.28.1", "1.0"))
	assert.Equal(t, 1, compareVersion("1.10", "1.9"))
}

func TestMoonshotDefaults(t *testing.T) {
	clearProxyEnv(t)

	_, err := NewMoonshotLLMClient(nil)
	require.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Contains(t, err.Error(), "MOONSHOT_API_KEY")

	t.Setenv("MOONSHOT_API_KEY", "mk")
	c, err := NewMoonshotLLMClient(nil)
	require.NoError(t, err)
	assert.Equal(t, "moonshot-v1-8k", c.DefaultModel())
	assert.Equal(t, "moonshot_proxyllm", c.ModelAlias())
	assert.Equal(t, "Moonshot", c.GetType())
	assert.Equal(t, "https://api.moonshot.cn/v1", c.cfg.APIBase)
	assert.Equal(t, defaultMoonshotTimeout, c.cfg.Timeout)

	cases := map[string]int{
		"moonshot-v1-8k":   8192,
		"moonshot-v1-32k":  32768,
		"moonshot-v1-128k": 131072,
	}
	for model, want := range cases {
		c, err := NewMoonshotLLMClient(&OpenAIConfig{Model: model})
		require.NoError(t, err)
		assert.Equal(t, want, c.ContextLength(), model)
	}

	t.Setenv("MOONSHOT_API_BASE", "http://localhost:9000/v1")
	c, err = NewMoonshotLLMClient(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/v1", c.cfg.APIBase)
}

func TestMoonshotGenerate(t *testing.T) {
	clearProxyEnv(t)
	srv := newChatServer(t)
	defer srv.Close()

	c, err := NewMoonshotLLMClient(&OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL})
	require.NoError(t, err)
	out, err := c.Generate(context.Background(), humanRequest("moonshot_proxyllm", "你好"))
	require.NoError(t, err)
	assert.Equal(t, "echo: 你好", out.Text)
}

func TestClaudeClient(t *testing.T) {
	clearProxyEnv(t)

	_, err := NewClaudeLLMClient(nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	c, err := NewClaudeLLMClient(&ClaudeConfig{APIKey: "ak"})
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-sonnet-latest", c.DefaultModel())
	assert.Equal(t, 200000, c.ContextLength())

	temp := float32(0.5)
	params, err := c.buildParams(&schema.ModelRequest{
		Temperature: &temp,
		Stop:        []string{"END"},
		Messages: []*schema.ModelMessage{
			schema.SystemMessage("rule one"),
			schema.SystemMessage("rule two"),
			schema.HumanMessage("q1"),
			schema.AIMessage("a1"),
			schema.HumanMessage("q2"),
		},
	})
	require.NoError(t, err)
	require.Len(t, params.System, 1)
	assert.Equal(t, "rule one\nrule two", params.System[0].Text)
	assert.Len(t, params.Messages, 3)
	assert.Equal(t, int64(defaultClaudeMaxTokens), params.MaxTokens)
	assert.Equal(t, []string{"END"}, params.StopSequences)
}

func TestClaudeGenerate(t *testing.T) {
	clearProxyEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-sonnet-latest",
"content":[{"type":"text","text":"hello from claude"}],"stop_reason":"end_turn","usage":{"input_tokens":4,"output_tokens":3}}`)
	}))
	defer srv.Close()

	c, err := NewClaudeLLMClient(&ClaudeConfig{APIKey: "ak", APIBase: srv.URL})
	require.NoError(t, err)
	out, err := c.Generate(context.Background(), humanRequest("", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello from claude", out.Text)
	assert.Equal(t, "end_turn", out.FinishReason)
	assert.Equal(t, 7, out.Usage.TotalTokens)
}

func TestClaudeGenerateStream(t *testing.T) {
	clearProxyEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`event: message_start` + "\n" + `data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-sonnet-latest","content":[],"usage":{"input_tokens":4,"output_tokens":0}}}`,
			`event: content_block_start` + "\n" + `data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`event: content_block_delta` + "\n" + `data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hello "}}`,
			`event: content_block_delta` + "\n" + `data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"claude"}}`,
			`event: content_block_stop` + "\n" + `data: {"type":"content_block_stop","index":0}`,
			`event: message_stop` + "\n" + `data: {"type":"message_stop"}`,
		}
		for _, e := range events {
			_, _ = io.WriteString(w, e+"\n\n")
		}
	}))
	defer srv.Close()

	c, err := NewClaudeLLMClient(&ClaudeConfig{APIKey: "ak", APIBase: srv.URL})
	require.NoError(t, err)
	sr, err := c.GenerateStream(context.Background(), humanRequest("", "hi"))
	require.NoError(t, err)
	defer sr.Close()

	var texts []string
	for {
		out, err := sr.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		texts = append(texts, out.Text)
	}
	assert.Equal(t, []string{"hello ", "hello claude"}, texts)
}

func TestRegistry(t *testing.T) {
	clearProxyEnv(t)
	t.Setenv("PROXY_API_KEY", "sk")
	t.Setenv("MOONSHOT_API_KEY", "mk")
	t.Setenv("ANTHROPIC_API_KEY", "ak")
	reg := DefaultRegistry()

	cases := []struct {
		serverType, model, want string
	}{
		{"", "gpt-4o", "OpenAI"},
		{"", "chatgpt_proxyllm", "OpenAI"},
		{"", "moonshot-v1-32k", "Moonshot"},
		{"", "claude-3-opus", "Claude"},
		{"moonshot", "my-model", "Moonshot"},
		{"OpenAI", "deepseek-chat", "OpenAI"},
	}
	for _, tc := range cases {
		c, err := reg.NewClient(context.Background(), tc.serverType, tc.model, ProviderConfig{})
		require.NoError(t, err, tc.model)
		typer, ok := c.(interface{ GetType() string })
		require.True(t, ok)
		assert.Equal(t, tc.want, typer.GetType(), tc.model)
	}

	_, err := reg.NewClient(context.Background(), "", "llama-3", ProviderConfig{})
	assert.Error(t, err)
	_, err = reg.NewClient(context.Background(), "baidu", "x", ProviderConfig{})
	assert.Error(t, err)

	m, err := reg.NewClient(context.Background(), "", "moonshot_proxyllm", ProviderConfig{})
	require.NoError(t, err)
	assert.Equal(t, "moonshot-v1-8k", m.(*MoonshotLLMClient).DefaultModel())

	r := NewRegistry()
	assert.Error(t, r.Register("bad", []string{"("}, nil))
}
