package flow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	awelflow "github.com/favbox/gptdb/awel/flow"
	"github.com/favbox/gptdb/component"
	"github.com/favbox/gptdb/serve/core"
)

func extractFlow(path string) *awelflow.FlowData {
	return &awelflow.FlowData{
		Nodes: []awelflow.FlowNode{{
			ID: "extract",
			Data: awelflow.FlowNodeData{
				Name:       awelflow.OperatorJSONPathExtract,
				Parameters: map[string]any{"path": path},
			},
		}},
	}
}

func brokenFlow() *awelflow.FlowData {
	return &awelflow.FlowData{
		Nodes: []awelflow.FlowNode{{ID: "x", Data: awelflow.FlowNodeData{Name: "no_such_operator"}}},
	}
}

func newTestServe(t *testing.T, opts ...Option) (*Serve, *component.SystemApp) {
	sys := component.NewSystemApp()
	s := NewServe(opts...)
	require.NoError(t, sys.Register(s))
	return s, sys
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, validateName("my-flow_1"))
	for _, name := range []string{"", "My Flow", "中文", "a.b"} {
		assert.ErrorIs(t, validateName(name), core.ErrInvalidArgument, name)
	}
}

func TestInitApp(t *testing.T) {
	s, sys := newTestServe(t)
	assert.Equal(t, DefaultLoadInterval, s.cfg.LoadGptdbsInterval)

	reg, err := component.GetComponentAs[*awelflow.Registry](sys, component.FlowRegistryName)
	require.NoError(t, err)
	assert.Same(t, reg, s.Service().Registry())
	nodes, err := s.Service().Nodes("")
	require.NoError(t, err)
	assert.NotEmpty(t, nodes)

	cfg := component.NewAppConfig(map[string]any{"gptdb.serve.flow.load_gptdbs_interval": 30})
	sys2 := component.NewSystemApp(component.WithConfig(cfg))
	s2 := NewServe()
	require.NoError(t, sys2.Register(s2))
	assert.Equal(t, 30, s2.cfg.LoadGptdbsInterval)
}

func TestService(t *testing.T) {
	ctx := context.Background()

	Convey("流程服务", t, func() {
		s, _ := newTestServe(t)
		svc := s.Service()

		Convey("创建后可以运行", func() {
			p, err := svc.CreateAndSaveDAG(ctx, &FlowPanel{Name: "extract-name", FlowData: extractFlow("$.name")})
			So(err, ShouldBeNil)
			So(p.UID, ShouldNotBeEmpty)
			So(p.State, ShouldEqual, string(StateDeployed))
			So(p.Label, ShouldEqual, "extract-name")
			So(*p.Editable, ShouldBeTrue)
			So(p.DefineType, ShouldEqual, DefineTypeJSON)

			out, err := svc.Run(ctx, p.UID, map[string]any{"name": "gptdb"})
			So(err, ShouldBeNil)
			So(out, ShouldEqual, "gptdb")

			_, err = svc.CreateAndSaveDAG(ctx, &FlowPanel{Name: "extract-name", FlowData: extractFlow("$.name")})
			So(err, ShouldWrap, core.ErrAlreadyExists)
		})

		Convey("构建失败", func() {
			_, err := svc.CreateAndSaveDAG(ctx, &FlowPanel{Name: "broken", FlowData: brokenFlow()})
			So(err, ShouldWrap, core.ErrInvalidArgument)

			p, err := svc.CreateAndSaveDAG(ctx, &FlowPanel{Name: "broken", FlowData: brokenFlow(), SaveFailedFlow: true})
			So(err, ShouldBeNil)
			So(p.State, ShouldEqual, string(StateLoadFailed))
			So(p.ErrorMessage, ShouldContainSubstring, "no_such_operator")

			_, err = svc.Run(ctx, p.UID, nil)
			So(err, ShouldWrap, core.ErrNotFound)
		})

		Convey("更新后重新部署", func() {
			p, err := svc.CreateAndSaveDAG(ctx, &FlowPanel{Name: "f", FlowData: extractFlow("$.a")})
			So(err, ShouldBeNil)

			updated, err := svc.UpdateFlow(ctx, &FlowPanel{UID: p.UID, Label: "F", FlowData: extractFlow("$.b")})
			So(err, ShouldBeNil)
			So(updated.Label, ShouldEqual, "F")
			out, err := svc.Run(ctx, p.UID, map[string]any{"a": 1, "b": "bee"})
			So(err, ShouldBeNil)
			So(out, ShouldEqual, "bee")

			_, err = svc.UpdateFlow(ctx, &FlowPanel{UID: p.UID, State: string(StateDisabled)})
			So(err, ShouldBeNil)
			_, err = svc.Run(ctx, p.UID, nil)
			So(err, ShouldWrap, core.ErrNotFound)

			_, err = svc.UpdateFlow(ctx, &FlowPanel{UID: p.UID, State: "paused"})
			So(err, ShouldWrap, core.ErrInvalidArgument)
		})

		Convey("没有节点的流程先保存再编排", func() {
			p, err := svc.CreateAndSaveDAG(ctx, &FlowPanel{Name: "draft", Description: "a draft", Owner: "me"})
			So(err, ShouldBeNil)
			So(p.State, ShouldEqual, string(StateInitializing))
			_, err = svc.Run(ctx, p.UID, nil)
			So(err, ShouldWrap, core.ErrNotFound)

			raw, err := sonic.MarshalString(p)
			So(err, ShouldBeNil)
			So(raw, ShouldContainSubstring, `"desc":"a draft"`)

			_, err = svc.CreateAndSaveDAG(ctx, &FlowPanel{Name: "empty-deployed", State: string(StateDeployed)})
			So(err, ShouldWrap, core.ErrInvalidArgument)

			updated, err := svc.UpdateFlow(ctx, &FlowPanel{UID: p.UID, FlowData: extractFlow("$.x")})
			So(err, ShouldBeNil)
			So(updated.State, ShouldEqual, string(StateDeployed))
			out, err := svc.Run(ctx, p.UID, map[string]any{"x": "ok"})
			So(err, ShouldBeNil)
			So(out, ShouldEqual, "ok")
		})

		Convey("删除与分页", func() {
			for _, n := range []string{"a", "b", "c"} {
				_, err := svc.CreateAndSaveDAG(ctx, &FlowPanel{Name: n, Owner: "me", FlowData: extractFlow("$.x")})
				So(err, ShouldBeNil)
			}
			page, err := svc.GetListByPage(ctx, &FlowPanel{Owner: "me"}, 1, 2)
			So(err, ShouldBeNil)
			So(page.TotalCount, ShouldEqual, 3)
			So(page.TotalPages, ShouldEqual, 2)
			So(len(page.Items), ShouldEqual, 2)

			uid := page.Items[0].UID
			_, err = svc.Delete(ctx, uid)
			So(err, ShouldBeNil)
			_, err = svc.Get(ctx, uid)
			So(err, ShouldWrap, core.ErrNotFound)
			_, err = svc.Run(ctx, uid, nil)
			So(err, ShouldWrap, core.ErrNotFound)
		})
	})
}

type fakePackages struct {
	pkgs []*FlowPackage
}

func (f *fakePackages) InstalledFlowPackages(context.Context) ([]*FlowPackage, error) {
	return f.pkgs, nil
}

func TestLoadPackages(t *testing.T) {
	ctx := context.Background()
	src := &fakePackages{pkgs: []*FlowPackage{{
		Name:       "awel-flow-extract",
		Label:      "Extract",
		Repo:       "eosphoros/gptdbs",
		Version:    "0.1.0",
		Definition: []byte(`{"flow":{"flow_data":{"nodes":[{"id":"n1","data":{"name":"jsonpath_extract_operator","parameters":{"path":"$.q"}}}],"edges":[]}}}`),
	}}}
	s, _ := newTestServe(t, WithPackageSource(src))
	svc := s.Service()

	require.NoError(t, svc.LoadPackages(ctx, src))
	page, err := svc.GetListByPage(ctx, &FlowPanel{Source: SourceGptdbs}, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	p := page.Items[0]
	assert.Equal(t, "awel-flow-extract", p.Name)
	assert.Equal(t, "Extract", p.Label)
	assert.False(t, *p.Editable)

	out, err := svc.Run(ctx, p.UID, map[string]any{"q": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	// 用户不能修改安装包流程
	_, err = svc.UpdateFlow(ctx, &FlowPanel{UID: p.UID, Label: "mine"})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = svc.UpdateFlow(ctx, &FlowPanel{UID: p.UID, Label: "mine", Source: SourceGptdbs})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	kept, err := svc.Get(ctx, p.UID)
	require.NoError(t, err)
	assert.Equal(t, "Extract", kept.Label)

	src.pkgs[0].Version = "0.2.0"
	require.NoError(t, svc.LoadPackages(ctx, src))
	got, err := svc.Get(ctx, p.UID)
	require.NoError(t, err)
	assert.Equal(t, "0.2.0", got.Version)

	_, err = svc.CreateAndSaveDAG(ctx, &FlowPanel{Name: "taken", FlowData: extractFlow("$.q")})
	require.NoError(t, err)
	src.pkgs = append(src.pkgs, &FlowPackage{Name: "taken", Definition: []byte(`{"name":"taken"}`)})
	assert.ErrorIs(t, svc.LoadPackages(ctx, src), core.ErrAlreadyExists)
}

func TestLoaderLifecycle(t *testing.T) {
	src := &fakePackages{pkgs: []*FlowPackage{{
		Name:       "pkg",
		Definition: []byte(`{"flow_data":{"nodes":[{"id":"n1","data":{"name":"jsonpath_extract_operator","parameters":{"path":"$.q"}}}]}}`),
	}}}
	s, sys := newTestServe(t, WithPackageSource(src))
	ctx := context.Background()
	require.NoError(t, sys.BeforeStart(ctx))
	require.NoError(t, sys.AfterStart(ctx))

	assert.Eventually(t, func() bool {
		page, err := s.Service().GetListByPage(ctx, &FlowPanel{Name: "pkg"}, 1, 1)
		return err == nil && page.TotalCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, sys.BeforeStop(stopCtx))
}

func TestEndpoints(t *testing.T) {
	s, _ := newTestServe(t)
	mux := http.NewServeMux()
	s.Mount(mux, nil)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(method, APIPrefix+path, strings.NewReader(body)))
		return rec
	}

	rec := do(http.MethodPost, "/flows", `{"name":"echo","flow_data":{"nodes":[{"id":"n","data":{"name":"jsonpath_extract_operator","parameters":{"path":"$.msg"}}}]}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page, err := s.Service().GetListByPage(context.Background(), &FlowPanel{Name: "echo"}, 1, 1)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	uid := page.Items[0].UID

	rec = do(http.MethodPost, "/flows", `{"name":"Bad Name"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPost, "/flows/"+uid+"/run", `{"msg":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"err_code":null,"err_msg":null,"data":"hello"}`, rec.Body.String())

	rec = do(http.MethodPost, "/flows/"+uid+"/run?stream=true", `{"msg":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "data: hello\n\n", rec.Body.String())

	rec = do(http.MethodGet, "/flows?page=1&page_size=5", "")
	assert.Contains(t, rec.Body.String(), `"total_count":1`)

	rec = do(http.MethodGet, "/nodes?category=output_parser", "")
	assert.Contains(t, rec.Body.String(), awelflow.OperatorJSONPathExtract)

	rec = do(http.MethodDelete, "/flows/"+uid, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(http.MethodGet, "/flows/"+uid, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(http.MethodPost, "/flows/"+uid+"/run", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
