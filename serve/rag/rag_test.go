package rag

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/gptdb/component"
	"github.com/favbox/gptdb/rag/chunk"
	"github.com/favbox/gptdb/rag/embedding"
	"github.com/favbox/gptdb/serve/core"
	"github.com/favbox/gptdb/storage/vector"
)

const sampleText = "GPT-DB manages knowledge spaces for databases.\n\nDocuments are split into chunks and stored in vector stores."

// isolatedIndexes 每个空间使用独立的进程内向量库。
func isolatedIndexes(_ context.Context, space *SpaceEntity, _ string) (vector.IndexStore, error) {
	return vector.NewMemoryStore(space.Name, embedding.NewHashingEmbedder(0), vector.WithIsolatedDB()), nil
}

func newTestServe(t *testing.T, cfg map[string]any, opts ...Option) (*Serve, *component.SystemApp) {
	sys := component.NewSystemApp(component.WithConfig(component.NewAppConfig(cfg)))
	s := NewServe(opts...)
	require.NoError(t, sys.Register(s))
	return s, sys
}

func TestConfigDefaults(t *testing.T) {
	s, _ := newTestServe(t, map[string]any{
		"gptdb.serve.rag.default_chunk_size": 256,
		"gptdb.serve.rag.max_threads":        2,
	}, WithIndexStoreFactory(isolatedIndexes))
	cfg := s.Service().Config()
	assert.Equal(t, 256, cfg.DefaultChunkSize)
	assert.Equal(t, 0, cfg.DefaultChunkOverlap)
	assert.Equal(t, 2, cfg.MaxThreads)
	assert.Equal(t, 10, cfg.MaxChunksOnceLoad)
	assert.NotEmpty(t, cfg.UploadDir)

	s2, _ := newTestServe(t, nil, WithIndexStoreFactory(isolatedIndexes))
	assert.Equal(t, chunk.DefaultChunkSize, s2.Service().Config().DefaultChunkSize)
	assert.Equal(t, chunk.DefaultChunkOverlap, s2.Service().Config().DefaultChunkOverlap)
}

func TestService(t *testing.T) {
	ctx := context.Background()

	Convey("知识服务", t, func() {
		s, _ := newTestServe(t, nil, WithIndexStoreFactory(isolatedIndexes))
		svc := s.Service()

		space, err := svc.CreateSpace(ctx, &SpaceServeRequest{Name: "docs", Desc: "test space", Owner: "gptdb"})
		So(err, ShouldBeNil)
		So(space.VectorType, ShouldEqual, VectorTypeVectorStore)
		So(space.DomainType, ShouldEqual, DomainTypeNormal)

		Convey("空间名称唯一", func() {
			_, err := svc.CreateSpace(ctx, &SpaceServeRequest{Name: "docs"})
			So(err, ShouldWrap, core.ErrAlreadyExists)
			_, err = svc.CreateSpace(ctx, &SpaceServeRequest{Name: "x", VectorType: "Faiss"})
			So(err, ShouldWrap, core.ErrInvalidArgument)
			_, err = svc.CreateSpace(ctx, &SpaceServeRequest{})
			So(err, ShouldWrap, core.ErrInvalidArgument)
		})

		Convey("更新空间", func() {
			updated, err := svc.UpdateSpace(ctx, &SpaceServeRequest{Name: "docs", Desc: "new desc"})
			So(err, ShouldBeNil)
			So(updated.Desc, ShouldEqual, "new desc")
			So(updated.Owner, ShouldEqual, "gptdb")

			page, err := svc.SpacePage(ctx, &SpaceServeRequest{Owner: "gptdb"}, 1, 10)
			So(err, ShouldBeNil)
			So(page.TotalCount, ShouldEqual, 1)
		})

		Convey("文档校验", func() {
			_, err := svc.CreateDocument(ctx, &DocumentServeRequest{DocName: "a", DocType: DocTypeText, SpaceID: "docs"}, nil, "")
			So(err, ShouldWrap, core.ErrInvalidArgument)
			_, err = svc.CreateDocument(ctx, &DocumentServeRequest{DocName: "a", DocType: DocTypeURL, SpaceID: "docs", Content: "ftp://x"}, nil, "")
			So(err, ShouldWrap, core.ErrInvalidArgument)
			_, err = svc.CreateDocument(ctx, &DocumentServeRequest{DocName: "a", DocType: "PDF", SpaceID: "docs"}, nil, "")
			So(err, ShouldWrap, core.ErrInvalidArgument)
			_, err = svc.CreateDocument(ctx, &DocumentServeRequest{DocName: "a", DocType: DocTypeText, SpaceID: "nope", Content: "x"}, nil, "")
			So(err, ShouldWrap, core.ErrNotFound)

			_, err = svc.CreateDocument(ctx, &DocumentServeRequest{DocName: "a", DocType: DocTypeText, SpaceID: "docs", Content: "x"}, nil, "")
			So(err, ShouldBeNil)
			_, err = svc.CreateDocument(ctx, &DocumentServeRequest{DocName: "a", DocType: DocTypeText, SpaceID: "docs", Content: "y"}, nil, "")
			So(err, ShouldWrap, core.ErrAlreadyExists)
		})

		Convey("同步并检索", func() {
			doc, err := svc.CreateDocument(ctx, &DocumentServeRequest{
				DocName: "intro", DocType: DocTypeText, SpaceID: "docs", Content: sampleText,
			}, nil, "")
			So(err, ShouldBeNil)
			So(doc.Status, ShouldEqual, string(StatusTodo))

			synced, err := svc.SyncDocument(ctx, &KnowledgeSyncRequest{DocID: doc.ID, SpaceID: "docs"})
			So(err, ShouldBeNil)
			So(synced.Status, ShouldEqual, string(StatusFinished))
			So(synced.ChunkSize, ShouldEqual, 1)
			So(synced.VectorIDs, ShouldNotBeEmpty)
			So(synced.LastSync, ShouldNotBeEmpty)

			chunks, err := svc.DocumentChunks(ctx, doc.ID, 1, 10)
			So(err, ShouldBeNil)
			So(chunks.TotalCount, ShouldEqual, 1)
			So(chunks.Items[0].Content, ShouldEqual, sampleText)
			So(chunks.Items[0].MetaInfo, ShouldContainSubstring, `"space":"docs"`)

			found, err := svc.Retrieve(ctx, "docs", &RetrieveRequest{Query: "knowledge spaces for databases"})
			So(err, ShouldBeNil)
			So(len(found), ShouldEqual, 1)
			So(found[0].Score, ShouldBeGreaterThan, 0)

			// 再次同步会替换旧的片段
			_, err = svc.SyncDocument(ctx, &KnowledgeSyncRequest{DocID: doc.ID, ChunkParameters: &chunk.Parameters{
				Strategy: chunk.StrategyByParagraph, ChunkSize: 60,
			}})
			So(err, ShouldBeNil)
			chunks, err = svc.DocumentChunks(ctx, doc.ID, 1, 10)
			So(err, ShouldBeNil)
			So(chunks.TotalCount, ShouldEqual, 2)
			found, err = svc.Retrieve(ctx, "docs", &RetrieveRequest{Query: "vector stores", TopK: 10})
			So(err, ShouldBeNil)
			So(len(found), ShouldEqual, 2)

			_, err = svc.DeleteDocument(ctx, doc.ID)
			So(err, ShouldBeNil)
			found, err = svc.Retrieve(ctx, "docs", &RetrieveRequest{Query: "vector stores"})
			So(err, ShouldBeNil)
			So(found, ShouldBeEmpty)
		})

		Convey("非法切分参数", func() {
			doc, err := svc.CreateDocument(ctx, &DocumentServeRequest{
				DocName: "intro", DocType: DocTypeText, SpaceID: "docs", Content: sampleText,
			}, nil, "")
			So(err, ShouldBeNil)
			_, err = svc.SyncDocuments(ctx, []*KnowledgeSyncRequest{{
				DocID: doc.ID, ChunkParameters: &chunk.Parameters{ChunkSize: 10, ChunkOverlap: 10},
			}})
			So(err, ShouldWrap, core.ErrInvalidArgument)
			got, err := svc.GetDocument(ctx, doc.ID)
			So(err, ShouldBeNil)
			So(got.Status, ShouldEqual, string(StatusTodo))
		})

		Convey("后台同步", func() {
			var reqs []*KnowledgeSyncRequest
			for _, name := range []string{"a", "b", "c"} {
				doc, err := svc.CreateDocument(ctx, &DocumentServeRequest{
					DocName: name, DocType: DocTypeText, SpaceID: "docs", Content: sampleText,
				}, nil, "")
				So(err, ShouldBeNil)
				reqs = append(reqs, &KnowledgeSyncRequest{DocID: doc.ID, SpaceID: "docs"})
			}
			ids, err := svc.SyncDocuments(ctx, reqs)
			So(err, ShouldBeNil)
			So(len(ids), ShouldEqual, 3)
			svc.Wait()

			page, err := svc.DocumentPage(ctx, DocumentQuery{SpaceID: "docs", Status: string(StatusFinished)}, 1, 10)
			So(err, ShouldBeNil)
			So(page.TotalCount, ShouldEqual, 3)
		})

		Convey("删除空间级联删除文档", func() {
			doc, err := svc.CreateDocument(ctx, &DocumentServeRequest{
				DocName: "intro", DocType: DocTypeText, SpaceID: "docs", Content: sampleText,
			}, nil, "")
			So(err, ShouldBeNil)
			_, err = svc.SyncDocument(ctx, &KnowledgeSyncRequest{DocID: doc.ID})
			So(err, ShouldBeNil)

			_, err = svc.DeleteSpace(ctx, space.ID)
			So(err, ShouldBeNil)
			_, err = svc.GetDocument(ctx, doc.ID)
			So(err, ShouldWrap, core.ErrNotFound)
			_, err = svc.GetSpace(ctx, space.ID)
			So(err, ShouldWrap, core.ErrNotFound)
			_, err = svc.Retrieve(ctx, "docs", &RetrieveRequest{Query: "x"})
			So(err, ShouldWrap, core.ErrNotFound)
		})
	})
}

func TestSyncFailure(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServe(t, nil)
	svc := s.Service()

	// 没有注册 LLM 客户端时知识图谱空间无法打开
	_, err := svc.CreateSpace(ctx, &SpaceServeRequest{Name: "graph", VectorType: "KnowledgeGraph"})
	require.NoError(t, err)
	doc, err := svc.CreateDocument(ctx, &DocumentServeRequest{
		DocName: "g", DocType: DocTypeText, SpaceID: "graph", Content: sampleText,
	}, nil, "")
	require.NoError(t, err)

	_, err = svc.SyncDocument(ctx, &KnowledgeSyncRequest{DocID: doc.ID})
	require.Error(t, err)
	got, err := svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusFailed), got.Status)
	assert.Contains(t, got.Result, "knowledge graph space 'graph'")

	// 失败的文档可以再次同步
	_, err = svc.SyncDocuments(ctx, []*KnowledgeSyncRequest{{DocID: doc.ID}})
	require.NoError(t, err)
	svc.Wait()
	got, err = svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusFailed), got.Status)
}

// flakyDeleteStore 在 failDelete 为 true 时拒绝删除向量。
type flakyDeleteStore struct {
	vector.IndexStore
	failDelete bool
}

func (f *flakyDeleteStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if f.failDelete {
		return errors.New("index unavailable")
	}
	return f.IndexStore.DeleteByIDs(ctx, ids)
}

func TestResyncKeepsVectorIDsOnFailedClear(t *testing.T) {
	ctx := context.Background()
	store := &flakyDeleteStore{}
	s, _ := newTestServe(t, nil, WithIndexStoreFactory(func(ctx context.Context, space *SpaceEntity, model string) (vector.IndexStore, error) {
		inner, err := isolatedIndexes(ctx, space, model)
		store.IndexStore = inner
		return store, err
	}))
	svc := s.Service()

	_, err := svc.CreateSpace(ctx, &SpaceServeRequest{Name: "docs"})
	require.NoError(t, err)
	doc, err := svc.CreateDocument(ctx, &DocumentServeRequest{
		DocName: "intro", DocType: DocTypeText, SpaceID: "docs", Content: sampleText,
	}, nil, "")
	require.NoError(t, err)

	synced, err := svc.SyncDocument(ctx, &KnowledgeSyncRequest{DocID: doc.ID})
	require.NoError(t, err)
	require.NotEmpty(t, synced.VectorIDs)

	store.failDelete = true
	_, err = svc.SyncDocument(ctx, &KnowledgeSyncRequest{DocID: doc.ID})
	require.ErrorContains(t, err, "index unavailable")
	got, err := svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusFailed), got.Status)
	assert.Equal(t, synced.VectorIDs, got.VectorIDs)

	// 恢复后再次同步会清理旧向量并写入新向量
	store.failDelete = false
	again, err := svc.SyncDocument(ctx, &KnowledgeSyncRequest{DocID: doc.ID})
	require.NoError(t, err)
	assert.Equal(t, string(StatusFinished), again.Status)
	assert.NotEqual(t, synced.VectorIDs, again.VectorIDs)
	assert.Equal(t, synced.ChunkSize, again.ChunkSize)
}

func TestKnowledgeConfig(t *testing.T) {
	s, _ := newTestServe(t, nil, WithIndexStoreFactory(isolatedIndexes))
	cfg := s.Service().KnowledgeConfig()
	require.Len(t, cfg.Storage, 2)
	assert.Equal(t, VectorTypeVectorStore, cfg.Storage[0].Name)
	assert.Equal(t, VectorTypeKnowledgeGraph, cfg.Storage[1].Name)
	assert.Equal(t, DomainTypeNormal, cfg.Storage[1].DomainTypes[0].Name)
}

func TestEndpoints(t *testing.T) {
	dir := t.TempDir()
	s, _ := newTestServe(t, map[string]any{"gptdb.serve.rag.upload_dir": dir}, WithIndexStoreFactory(isolatedIndexes))
	mux := http.NewServeMux()
	s.Mount(mux, core.NewHTTPMetrics(nil))

	do := func(req *http.Request) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		return w
	}

	w := do(httptest.NewRequest(http.MethodPost, APIPrefix+"/spaces", strings.NewReader(`{"name":"upload","desc":"d"}`)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"name":"upload"`)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("doc_type", DocTypeDocument))
	require.NoError(t, mw.WriteField("space_id", "upload"))
	fw, err := mw.CreateFormFile("doc_file", "notes.md")
	require.NoError(t, err)
	_, err = fw.Write([]byte("# Notes\n\nuploaded markdown content"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, APIPrefix+"/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w = do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"doc_name":"notes.md"`)
	saved, err := os.ReadFile(filepath.Join(dir, "upload", "notes.md"))
	require.NoError(t, err)
	assert.Contains(t, string(saved), "uploaded markdown content")

	w = do(httptest.NewRequest(http.MethodPost, APIPrefix+"/documents/sync", strings.NewReader(`[{"doc_id":1,"space_id":"upload"}]`)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"data":[1]`)
	s.Service().Wait()

	w = do(httptest.NewRequest(http.MethodGet, APIPrefix+"/documents/1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"FINISHED"`)

	w = do(httptest.NewRequest(http.MethodGet, APIPrefix+"/documents?space_id=upload", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_count":1`)

	w = do(httptest.NewRequest(http.MethodPost, APIPrefix+"/spaces/upload/retrieve", strings.NewReader(`{"query":"markdown content"}`)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "uploaded markdown content")

	w = do(httptest.NewRequest(http.MethodGet, APIPrefix+"/knowledge/config", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"KnowledgeGraph"`)

	w = do(httptest.NewRequest(http.MethodGet, APIPrefix+"/spaces/99", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(httptest.NewRequest(http.MethodPost, APIPrefix+"/documents/sync", strings.NewReader(`[]`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
