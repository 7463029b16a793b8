package prompt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/gptdb/component"
	"github.com/favbox/gptdb/serve/core"
)

func defaultRequest() *ServeRequest {
	return &ServeRequest{
		ChatScene:    "chat_data",
		SubChatScene: "excel",
		PromptType:   "common",
		PromptName:   "my_prompt_1",
		Content:      "Write a qsort function in python.",
		UserName:     "zhangsan",
		SysCode:      "gptdb",
	}
}

func newTestServe(t *testing.T, cfg map[string]any) (*Serve, *component.SystemApp) {
	sys := component.NewSystemApp(component.WithConfig(component.NewAppConfig(cfg)))
	s := NewServe(nil)
	require.NoError(t, sys.Register(s))
	return s, sys
}

func TestConfig(t *testing.T) {
	s, sys := newTestServe(t, map[string]any{
		"gptdb.serve.prompt.default_user":     "gptdb",
		"gptdb.serve.prompt.default_sys_code": "gptdb",
		core.GlobalAPIKeysKey:                 "k1",
	})
	cfg := s.Service().Config()
	assert.Equal(t, "gptdb", cfg.DefaultUser)
	assert.Equal(t, "gptdb", cfg.DefaultSysCode)
	assert.Equal(t, "k1", cfg.APIKeys)

	svc, err := component.GetComponentAs[*Service](sys, ServeServiceComponentName)
	require.NoError(t, err)
	assert.Same(t, s.Service(), svc)
}

func TestService(t *testing.T) {
	ctx := context.Background()

	Convey("提示词服务", t, func() {
		s, _ := newTestServe(t, map[string]any{
			"gptdb.serve.prompt.default_user":     "gptdb",
			"gptdb.serve.prompt.default_sys_code": "gptdb",
		})
		svc := s.Service()

		Convey("create", func() {
			res, err := svc.Create(ctx, defaultRequest())
			So(err, ShouldBeNil)
			So(res.ID, ShouldEqual, int64(1))
			So(res.ChatScene, ShouldEqual, "chat_data")
			So(res.SubChatScene, ShouldEqual, "excel")
			So(res.UserName, ShouldEqual, "zhangsan")
			So(res.GmtCreated, ShouldNotBeEmpty)
			So(res.GmtModified, ShouldNotBeEmpty)

			_, err = svc.Create(ctx, defaultRequest())
			So(err, ShouldWrap, core.ErrAlreadyExists)
		})

		Convey("create 使用默认用户与 sys_code", func() {
			res, err := svc.Create(ctx, &ServeRequest{PromptName: "p"})
			So(err, ShouldBeNil)
			So(res.UserName, ShouldEqual, "gptdb")
			So(res.SysCode, ShouldEqual, "gptdb")

			_, err = svc.Create(ctx, &ServeRequest{})
			So(err, ShouldWrap, core.ErrInvalidArgument)
		})

		Convey("update", func() {
			created, err := svc.Create(ctx, defaultRequest())
			So(err, ShouldBeNil)
			req := defaultRequest()
			req.Content = "Write a merge sort."
			res, err := svc.Update(ctx, req)
			So(err, ShouldBeNil)
			So(res.ID, ShouldEqual, created.ID)
			So(res.Content, ShouldEqual, "Write a merge sort.")
			So(res.PromptType, ShouldEqual, "common")

			_, err = svc.Update(ctx, &ServeRequest{PromptName: "missing"})
			So(err, ShouldWrap, core.ErrNotFound)
		})

		Convey("get 与 delete", func() {
			_, err := svc.Create(ctx, defaultRequest())
			So(err, ShouldBeNil)
			res, err := svc.Get(ctx, defaultRequest())
			So(err, ShouldBeNil)
			So(res.PromptName, ShouldEqual, "my_prompt_1")

			_, err = svc.Delete(ctx, defaultRequest())
			So(err, ShouldBeNil)
			_, err = svc.Get(ctx, defaultRequest())
			So(err, ShouldWrap, core.ErrNotFound)
		})
	})
}

func TestServiceList(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServe(t, nil)
	svc := s.Service()
	for _, name := range []string{"prompt_0", "prompt_1", "prompt_2"} {
		_, err := svc.Create(ctx, &ServeRequest{PromptName: name, SysCode: "gptdb"})
		require.NoError(t, err)
	}

	list, err := svc.GetList(ctx, &ServeRequest{SysCode: "gptdb"})
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, e := range list {
		assert.Equal(t, "gptdb", e.SysCode)
		assert.Equal(t, []string{"prompt_0", "prompt_1", "prompt_2"}[i], e.PromptName)
	}

	page, err := svc.GetListByPage(ctx, &ServeRequest{SysCode: "gptdb"}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "prompt_0", page.Items[0].PromptName)
	assert.Equal(t, "prompt_1", page.Items[1].PromptName)
}

func TestRender(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServe(t, map[string]any{"gptdb.serve.prompt.default_sys_code": "gptdb"})
	svc := s.Service()
	_, err := svc.Create(ctx, &ServeRequest{PromptName: "hello", Content: "Hello {name}!"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, &ServeRequest{PromptName: "hello_j2", Content: "Hello {{ name }}!"})
	require.NoError(t, err)

	out, err := svc.Render(ctx, &RenderRequest{PromptName: "hello", Variables: map[string]any{"name": "gptdb"}})
	require.NoError(t, err)
	assert.Equal(t, "Hello gptdb!", out)

	out, err = svc.Render(ctx, &RenderRequest{PromptName: "hello_j2", TemplateFormat: "jinja2", Variables: map[string]any{"name": "gptdb"}})
	require.NoError(t, err)
	assert.Equal(t, "Hello gptdb!", out)

	_, err = svc.Render(ctx, &RenderRequest{PromptName: "hello", TemplateFormat: "mustache"})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = svc.Render(ctx, &RenderRequest{PromptName: "nope"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestEndpoints(t *testing.T) {
	s, _ := newTestServe(t, map[string]any{"gptdb.serve.prompt.api_keys": "secret"})
	mux := http.NewServeMux()
	s.Mount(mux, nil)

	do := func(method, path, body string, auth bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, APIPrefix+path, strings.NewReader(body))
		if auth {
			req.Header.Set("Authorization", "Bearer secret")
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/health", "", false).Code)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/test_auth", "", true).Code)

	rec := do(http.MethodPost, "/prompts", `{"prompt_name":"p1","content":"c","sys_code":"s"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"prompt_name":"p1"`)

	rec = do(http.MethodGet, "/prompts?page=1&page_size=10&sys_code=s", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_count":1`)

	rec = do(http.MethodGet, "/prompts/1", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(http.MethodDelete, "/prompts/1", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(http.MethodGet, "/prompts/1", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
