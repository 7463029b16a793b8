package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/gptdb/component"
	"github.com/favbox/gptdb/components/llm"
	"github.com/favbox/gptdb/schema"
	"github.com/favbox/gptdb/serve/core"
)

// echoClient 回复 "echo: <最后一条消息>"，并记录收到的请求。
type echoClient struct {
	mu   sync.Mutex
	reqs []*schema.ModelRequest
}

func (c *echoClient) record(req *schema.ModelRequest) string {
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	c.mu.Unlock()
	return "echo: " + req.Messages[len(req.Messages)-1].Content
}

func (c *echoClient) last() *schema.ModelRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reqs[len(c.reqs)-1]
}

func (c *echoClient) Generate(_ context.Context, req *schema.ModelRequest, _ ...llm.Option) (*schema.ModelOutput, error) {
	return &schema.ModelOutput{Text: c.record(req), Usage: &schema.Usage{TotalTokens: 3}}, nil
}

func (c *echoClient) GenerateStream(_ context.Context, req *schema.ModelRequest, _ ...llm.Option) (*schema.StreamReader[*schema.ModelOutput], error) {
	text := c.record(req)
	words := strings.SplitAfter(text, " ")
	outs := make([]*schema.ModelOutput, 0, len(words))
	acc := ""
	for _, w := range words {
		acc += w
		outs = append(outs, &schema.ModelOutput{Text: acc})
	}
	return schema.StreamReaderFromArray(outs), nil
}

func (c *echoClient) Models(context.Context) ([]*schema.ModelMetadata, error) { return nil, nil }

func (c *echoClient) CountToken(context.Context, string, string) (int, error) { return 0, nil }

type failingClient struct{ echoClient }

func (c *failingClient) Generate(context.Context, *schema.ModelRequest, ...llm.Option) (*schema.ModelOutput, error) {
	return nil, errors.New("model unavailable")
}

func newTestServe(t *testing.T, client llm.LLMClient, cfg map[string]any) *Serve {
	if cfg == nil {
		cfg = map[string]any{"gptdb.serve.conversation.default_model": "proxyllm"}
	}
	sys := component.NewSystemApp(component.WithConfig(component.NewAppConfig(cfg)))
	s := NewServe(WithLLMClient(client))
	require.NoError(t, sys.Register(s))
	return s
}

func TestConfig(t *testing.T) {
	s := newTestServe(t, &echoClient{}, map[string]any{"gptdb.serve.conversation.keep_end_rounds": 3})
	cfg := s.Service().Config()
	assert.Equal(t, 3, cfg.KeepEndRounds)
	assert.Equal(t, DefaultSystemPrompt, cfg.SystemPrompt)
	assert.Empty(t, cfg.DefaultModel)

	_, err := s.Service().Complete(context.Background(), &CompletionRequest{UserInput: "hi"})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestConversations(t *testing.T) {
	ctx := context.Background()

	Convey("对话管理", t, func() {
		svc := newTestServe(t, &echoClient{}, nil).Service()

		c, err := svc.NewConversation(ctx, &ServeRequest{UserName: "alice", SysCode: "gptdb"})
		So(err, ShouldBeNil)
		So(c.ConvUID, ShouldNotBeEmpty)
		So(c.ChatMode, ShouldEqual, ChatModeNormal)

		Convey("不支持的场景", func() {
			_, err := svc.NewConversation(ctx, &ServeRequest{ChatMode: "chat_excel"})
			So(err, ShouldWrap, core.ErrInvalidArgument)
		})

		Convey("分页", func() {
			_, err := svc.NewConversation(ctx, &ServeRequest{UserName: "alice"})
			So(err, ShouldBeNil)
			_, err = svc.NewConversation(ctx, &ServeRequest{UserName: "bob"})
			So(err, ShouldBeNil)

			page, err := svc.List(ctx, &ServeRequest{UserName: "alice"}, 1, 10)
			So(err, ShouldBeNil)
			So(page.TotalCount, ShouldEqual, 2)
		})

		Convey("删除对话同时删除消息", func() {
			_, err := svc.Complete(ctx, &CompletionRequest{ConvUID: c.ConvUID, UserInput: "hello"})
			So(err, ShouldBeNil)

			_, err = svc.Delete(ctx, c.ConvUID)
			So(err, ShouldBeNil)
			_, err = svc.Messages(ctx, c.ConvUID)
			So(err, ShouldWrap, core.ErrNotFound)
			n, err := svc.msgs.Count(ctx, nil)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})
	})
}

func TestComplete(t *testing.T) {
	ctx := context.Background()
	client := &echoClient{}
	svc := newTestServe(t, client, map[string]any{
		"gptdb.serve.conversation.default_model":   "proxyllm",
		"gptdb.serve.conversation.keep_end_rounds": 2,
	}).Service()

	out, err := svc.Complete(ctx, &CompletionRequest{UserInput: "round 1"})
	require.NoError(t, err)
	assert.Equal(t, "echo: round 1", out.Text)
	assert.Equal(t, "proxyllm", out.Model)
	convUID := out.ConvUID

	req := client.last()
	assert.Equal(t, "proxyllm", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, schema.System, req.Messages[0].Role)
	assert.Equal(t, DefaultSystemPrompt, req.Messages[0].Content)
	assert.Equal(t, convUID, req.Context.ConvUID)

	for i := 2; i <= 4; i++ {
		_, err = svc.Complete(ctx, &CompletionRequest{ConvUID: convUID, UserInput: fmt.Sprintf("round %d", i), ModelName: "other"})
		require.NoError(t, err)
	}

	// 系统提示 + 最近 2 轮 + 本轮输入
	req = client.last()
	assert.Equal(t, "other", req.Model)
	require.Len(t, req.Messages, 6)
	assert.Equal(t, "round 2", req.Messages[1].Content)
	assert.Equal(t, "echo: round 3", req.Messages[4].Content)
	assert.Equal(t, "round 4", req.Messages[5].Content)
	assert.Equal(t, 4, req.Messages[5].RoundIndex)

	msgs, err := svc.Messages(ctx, convUID)
	require.NoError(t, err)
	require.Len(t, msgs, 8)
	assert.Equal(t, "human", msgs[0].Role)
	assert.Equal(t, "ai", msgs[7].Role)
	assert.Equal(t, 4, msgs[7].Order)
	assert.Equal(t, "other", msgs[7].ModelName)

	conv, err := svc.Get(ctx, convUID)
	require.NoError(t, err)
	assert.Equal(t, "round 1", conv.Summary)
	assert.Equal(t, 8, conv.MessageCount)
}

func TestCompleteFailure(t *testing.T) {
	ctx := context.Background()
	svc := newTestServe(t, &failingClient{}, nil).Service()

	_, err := svc.Complete(ctx, &CompletionRequest{ConvUID: "c1", UserInput: "hi"})
	require.ErrorContains(t, err, "model unavailable")
	msgs, err := svc.Messages(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCompleteStream(t *testing.T) {
	ctx := context.Background()
	svc := newTestServe(t, &echoClient{}, nil).Service()

	read := func(sr *schema.StreamReader[*schema.ModelOutput]) []string {
		defer sr.Close()
		var texts []string
		for {
			o, err := sr.Recv()
			if errors.Is(err, io.EOF) {
				return texts
			}
			require.NoError(t, err)
			texts = append(texts, o.Text)
		}
	}

	convUID, sr, err := svc.CompleteStream(ctx, &CompletionRequest{UserInput: "a b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo: ", "echo: a ", "echo: a b"}, read(sr))

	_, sr, err = svc.CompleteStream(ctx, &CompletionRequest{ConvUID: convUID, UserInput: "c d", Incremental: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo: ", "c ", "d"}, read(sr))

	msgs, err := svc.Messages(ctx, convUID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "echo: a b", msgs[1].Context)
	assert.Equal(t, "echo: c d", msgs[3].Context)

	// 读取方提前关闭时本轮不保存
	_, sr, err = svc.CompleteStream(ctx, &CompletionRequest{ConvUID: convUID, UserInput: "e f g"})
	require.NoError(t, err)
	first, err := sr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "echo: ", first.Text)
	sr.Close()

	msgs, err = svc.Messages(ctx, convUID)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestEndpoints(t *testing.T) {
	s := newTestServe(t, &echoClient{}, nil)
	mux := http.NewServeMux()
	s.Mount(mux, core.NewHTTPMetrics(nil))
	do := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(method, APIPrefix+path, strings.NewReader(body)))
		return w
	}

	w := do(http.MethodPost, "/new?user_name=alice", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"user_name":"alice"`)

	w = do(http.MethodPost, "/completions", `{"conv_uid":"c1","user_input":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"text":"echo: hi"`)

	w = do(http.MethodPost, "/completions", `{"conv_uid":"c1","user_input":"x\ny","stream":true,"incremental":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "c1", w.Header().Get("X-Conv-Uid"))
	assert.Equal(t, "data: echo: \n\ndata: x\\ny\n\ndata: [DONE]\n\n", w.Body.String())

	w = do(http.MethodGet, "/c1/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"context":"echo: hi"`)

	w = do(http.MethodGet, "/list?user_name=alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_count":1`)

	w = do(http.MethodDelete, "/c1", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = do(http.MethodGet, "/c1/messages", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(http.MethodPost, "/completions", `{"user_input":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
