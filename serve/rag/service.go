package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/semaphore"

	baseretriever "github.com/favbox/gptdb/components/retriever"
	"github.com/favbox/gptdb/internal/logging"
	"github.com/favbox/gptdb/internal/safe"
	"github.com/favbox/gptdb/rag/assembler"
	"github.com/favbox/gptdb/rag/chunk"
	"github.com/favbox/gptdb/rag/knowledge"
	"github.com/favbox/gptdb/rag/retriever"
	"github.com/favbox/gptdb/schema"
	"github.com/favbox/gptdb/serve/core"
	"github.com/favbox/gptdb/storage/metadata"
)

// Stores 知识服务的三张表。
type Stores struct {
	Spaces    metadata.Store[SpaceEntity]
	Documents metadata.Store[DocumentEntity]
	Chunks    metadata.Store[ChunkEntity]
}

// Service 知识空间、文档与片段管理，以及文档同步。
type Service struct {
	cfg       *ServeConfig
	spaces    *core.Service[SpaceEntity, SpaceServeRequest, SpaceServeResponse]
	docs      metadata.Store[DocumentEntity]
	chunks    metadata.Store[ChunkEntity]
	indexes   *indexCache
	knowledge *knowledge.Factory
	logger    *slog.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewService 创建服务。
func NewService(stores Stores, factory IndexStoreFactory, cfg *ServeConfig) *Service {
	if cfg == nil {
		cfg = &ServeConfig{}
	}
	cfg.applyDefaults()
	return &Service{
		cfg: cfg,
		spaces: &core.Service[SpaceEntity, SpaceServeRequest, SpaceServeResponse]{
			Store:      stores.Spaces,
			ToEntity:   spaceToEntity,
			ToResponse: spaceToResponse,
			Merge:      mergeSpace,
		},
		docs:      stores.Documents,
		chunks:    stores.Chunks,
		indexes:   newIndexCache(factory),
		knowledge: knowledge.NewFactory(nil),
		logger:    logging.L().With(slog.String("serve", ServeAppName)),
		sem:       semaphore.NewWeighted(int64(cfg.MaxThreads)),
	}
}

// Config 服务配置。
func (s *Service) Config() *ServeConfig { return s.cfg }

// ====== 知识空间 ======

// CreateSpace 新建空间，名称必填且唯一。
func (s *Service) CreateSpace(ctx context.Context, req *SpaceServeRequest) (*SpaceServeResponse, error) {
	if req == nil || strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: space name is required", core.ErrInvalidArgument)
	}
	vt, err := normalizeVectorType(req.VectorType)
	if err != nil {
		return nil, err
	}
	r := *req
	r.ID = 0
	r.VectorType = vt
	if r.DomainType == "" {
		r.DomainType = DomainTypeNormal
	}
	if _, err = s.spaces.Store.Get(ctx, metadata.Query{"name": r.Name}); err == nil {
		return nil, fmt.Errorf("%w: space name '%s' already exists", core.ErrAlreadyExists, r.Name)
	} else if !errors.Is(err, metadata.ErrNotFound) {
		return nil, err
	}
	return s.spaces.Create(ctx, &r)
}

// UpdateSpace 按 id 更新，id 为空时按名称。
func (s *Service) UpdateSpace(ctx context.Context, req *SpaceServeRequest) (*SpaceServeResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is nil", core.ErrInvalidArgument)
	}
	q := metadata.Query{"id": req.ID}
	if req.ID == 0 {
		if req.Name == "" {
			return nil, fmt.Errorf("%w: space id or name is required", core.ErrInvalidArgument)
		}
		q = metadata.Query{"name": req.Name}
	}
	return s.spaces.Update(ctx, q, req)
}

// GetSpace 按 id 查找空间。
func (s *Service) GetSpace(ctx context.Context, id int64) (*SpaceServeResponse, error) {
	return s.spaces.Get(ctx, metadata.Query{"id": id})
}

// SpacePage 按请求中的非空字段过滤并分页。
func (s *Service) SpacePage(ctx context.Context, req *SpaceServeRequest, page, pageSize int) (*core.PaginationResult[*SpaceServeResponse], error) {
	q := metadata.Query{}
	if req != nil {
		var err error
		if q, err = s.spaces.QueryOf(req); err != nil {
			return nil, err
		}
	}
	return s.spaces.Page(ctx, q, page, pageSize)
}

// DeleteSpace 依次删除片段、文档与索引数据，最后删除空间。
func (s *Service) DeleteSpace(ctx context.Context, id int64) (*SpaceServeResponse, error) {
	space, err := s.spaces.Store.Get(ctx, metadata.Query{"id": id})
	if err != nil {
		return nil, err
	}
	docs, err := s.docs.List(ctx, metadata.Query{"space": space.Name})
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if _, err = s.chunks.Delete(ctx, metadata.Query{"document_id": d.ID}); err != nil {
			return nil, err
		}
	}
	if len(docs) > 0 {
		if _, err = s.docs.Delete(ctx, metadata.Query{"space": space.Name}); err != nil {
			return nil, err
		}
	}
	if store, err := s.indexes.get(ctx, space, ""); err != nil {
		s.logger.Warn("open index store failed, skip index cleanup", slog.String("space", space.Name), slog.Any("error", err))
	} else if err = store.DeleteVectorName(ctx, space.Name); err != nil {
		return nil, fmt.Errorf("delete index of space '%s': %w", space.Name, err)
	}
	s.indexes.forget(space.Name)
	if _, err = s.spaces.Store.Delete(ctx, metadata.Query{"id": id}); err != nil {
		return nil, err
	}
	s.logger.Info("space deleted", slog.String("space", space.Name), slog.Int("documents", len(docs)))
	return spaceToResponse(space), nil
}

// space 解析空间引用，纯数字视为 id，否则视为名称。
func (s *Service) space(ctx context.Context, ref string) (*SpaceEntity, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: space_id is required", core.ErrInvalidArgument)
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		e, err := s.spaces.Store.Get(ctx, metadata.Query{"id": id})
		if err == nil || !errors.Is(err, metadata.ErrNotFound) {
			return e, err
		}
	}
	e, err := s.spaces.Store.Get(ctx, metadata.Query{"name": ref})
	if errors.Is(err, metadata.ErrNotFound) {
		return nil, fmt.Errorf("%w: space '%s'", core.ErrNotFound, ref)
	}
	return e, err
}

// ====== 文档 ======

// CreateDocument 新建待同步文档。DOCUMENT 类型从 file 读取内容并保存到上传目录，
// 保存路径作为文档内容。
func (s *Service) CreateDocument(ctx context.Context, req *DocumentServeRequest, file io.Reader, filename string) (*DocumentVO, error) {
	if req == nil || strings.TrimSpace(req.DocName) == "" {
		return nil, fmt.Errorf("%w: doc_name is required", core.ErrInvalidArgument)
	}
	space, err := s.space(ctx, req.SpaceID)
	if err != nil {
		return nil, err
	}
	docType := strings.ToUpper(strings.TrimSpace(req.DocType))
	content := req.Content
	switch docType {
	case DocTypeText:
		if strings.TrimSpace(content) == "" {
			return nil, fmt.Errorf("%w: content is required for TEXT document", core.ErrInvalidArgument)
		}
	case DocTypeURL:
		if !strings.HasPrefix(content, "http://") && !strings.HasPrefix(content, "https://") {
			return nil, fmt.Errorf("%w: invalid document url '%s'", core.ErrInvalidArgument, content)
		}
	case DocTypeDocument:
		if file == nil {
			return nil, fmt.Errorf("%w: doc_file is required for DOCUMENT document", core.ErrInvalidArgument)
		}
		if filename == "" {
			filename = req.DocName
		}
		if _, err = knowledge.DocumentTypeFromPath(filename); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
		}
		if content, err = s.saveUpload(space.Name, filename, file); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unsupported doc_type '%s'", core.ErrInvalidArgument, req.DocType)
	}

	doc := &DocumentEntity{
		DocName:   req.DocName,
		DocType:   docType,
		Space:     space.Name,
		Status:    string(StatusTodo),
		Content:   content,
		DocSource: req.DocSource,
	}
	if err = s.docs.Create(ctx, doc); err != nil {
		if errors.Is(err, metadata.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: document '%s' already exists in space '%s'", core.ErrAlreadyExists, req.DocName, space.Name)
		}
		return nil, err
	}
	return documentToVO(doc), nil
}

func (s *Service) saveUpload(space, filename string, r io.Reader) (string, error) {
	dir := filepath.Join(s.cfg.UploadDir, space)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(filename))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	defer f.Close()
	if _, err = io.Copy(f, r); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

// GetDocument 按 id 查找文档。
func (s *Service) GetDocument(ctx context.Context, id int64) (*DocumentVO, error) {
	doc, err := s.docs.Get(ctx, metadata.Query{"id": id})
	if err != nil {
		return nil, err
	}
	return documentToVO(doc), nil
}

// DocumentQuery 文档列表过滤条件。
type DocumentQuery struct {
	SpaceID string
	DocName string
	DocType string
	Status  string
}

// DocumentPage 分页查询文档。
func (s *Service) DocumentPage(ctx context.Context, dq DocumentQuery, page, pageSize int) (*core.PaginationResult[*DocumentVO], error) {
	q := metadata.Query{}
	if dq.SpaceID != "" {
		space, err := s.space(ctx, dq.SpaceID)
		if err != nil {
			return nil, err
		}
		q["space"] = space.Name
	}
	for col, v := range map[string]string{"doc_name": dq.DocName, "doc_type": dq.DocType, "status": dq.Status} {
		if v != "" {
			q[col] = v
		}
	}
	p, err := s.docs.Page(ctx, q, page, pageSize)
	if err != nil {
		return nil, err
	}
	items := make([]*DocumentVO, 0, len(p.Items))
	for _, d := range p.Items {
		items = append(items, documentToVO(d))
	}
	return core.NewPaginationResult(items, p.Total, p.Page, p.PageSize), nil
}

// DeleteDocument 删除文档及其向量与片段。
func (s *Service) DeleteDocument(ctx context.Context, id int64) (*DocumentVO, error) {
	doc, err := s.docs.Get(ctx, metadata.Query{"id": id})
	if err != nil {
		return nil, err
	}
	if err = s.clearDocument(ctx, doc); err != nil {
		return nil, err
	}
	if _, err = s.docs.Delete(ctx, metadata.Query{"id": id}); err != nil {
		return nil, err
	}
	return documentToVO(doc), nil
}

// clearDocument 删除文档已写入的向量与片段。
func (s *Service) clearDocument(ctx context.Context, doc *DocumentEntity) error {
	if ids := doc.vectorIDs(); len(ids) > 0 {
		space, err := s.spaces.Store.Get(ctx, metadata.Query{"name": doc.Space})
		if err != nil {
			return err
		}
		store, err := s.indexes.get(ctx, space, "")
		if err != nil {
			return err
		}
		if err = store.DeleteByIDs(ctx, ids); err != nil {
			return fmt.Errorf("delete vectors of document %d: %w", doc.ID, err)
		}
	}
	_, err := s.chunks.Delete(ctx, metadata.Query{"document_id": doc.ID})
	return err
}

// DocumentChunks 分页查询文档片段。
func (s *Service) DocumentChunks(ctx context.Context, docID int64, page, pageSize int) (*core.PaginationResult[*DocumentChunkVO], error) {
	if _, err := s.docs.Get(ctx, metadata.Query{"id": docID}); err != nil {
		return nil, err
	}
	p, err := s.chunks.Page(ctx, metadata.Query{"document_id": docID}, page, pageSize)
	if err != nil {
		return nil, err
	}
	items := make([]*DocumentChunkVO, 0, len(p.Items))
	for _, c := range p.Items {
		items = append(items, chunkToVO(c))
	}
	return core.NewPaginationResult(items, p.Total, p.Page, p.PageSize), nil
}

// ====== 同步 ======

type syncJob struct {
	space  *SpaceEntity
	doc    *DocumentEntity
	params chunk.Parameters
	model  string
}

// prepare 校验请求并将文档标记为 RUNNING。
func (s *Service) prepare(ctx context.Context, req *KnowledgeSyncRequest) (*syncJob, error) {
	if req == nil || req.DocID == 0 {
		return nil, fmt.Errorf("%w: doc_id is required", core.ErrInvalidArgument)
	}
	doc, err := s.docs.Get(ctx, metadata.Query{"id": req.DocID})
	if err != nil {
		return nil, err
	}
	var space *SpaceEntity
	if req.SpaceID != "" {
		if space, err = s.space(ctx, req.SpaceID); err != nil {
			return nil, err
		}
		if space.Name != doc.Space {
			return nil, fmt.Errorf("%w: document %d does not belong to space '%s'", core.ErrInvalidArgument, doc.ID, space.Name)
		}
	} else if space, err = s.spaces.Store.Get(ctx, metadata.Query{"name": doc.Space}); err != nil {
		return nil, err
	}
	if doc.Status == string(StatusRunning) {
		return nil, fmt.Errorf("%w: document %d is already syncing", core.ErrInvalidArgument, doc.ID)
	}

	params := chunk.Parameters{ChunkSize: s.cfg.DefaultChunkSize, ChunkOverlap: s.cfg.DefaultChunkOverlap}
	if req.ChunkParameters != nil {
		params = *req.ChunkParameters
	}
	params = params.WithDefaults()
	if err = params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}

	doc.Status = string(StatusRunning)
	doc.Result = ""
	if err = s.docs.Update(ctx, doc); err != nil {
		return nil, err
	}
	return &syncJob{space: space, doc: doc, params: params, model: req.ModelName}, nil
}

// SyncDocuments 校验全部请求后在后台同步，返回文档 id。任一请求不合法时不启动任何同步。
// Wait 等待后台同步结束。
func (s *Service) SyncDocuments(ctx context.Context, reqs []*KnowledgeSyncRequest) ([]int64, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: sync request is empty", core.ErrInvalidArgument)
	}
	jobs := make([]*syncJob, 0, len(reqs))
	for _, r := range reqs {
		job, err := s.prepare(ctx, r)
		if err != nil {
			s.rollback(ctx, jobs)
			return nil, err
		}
		jobs = append(jobs, job)
	}

	ids := make([]int64, 0, len(jobs))
	bg := context.WithoutCancel(ctx)
	for _, job := range jobs {
		ids = append(ids, job.doc.ID)
		s.wg.Add(1)
		safe.Go(func() {
			defer s.wg.Done()
			if err := s.sem.Acquire(bg, 1); err != nil {
				s.finish(bg, job, nil, err)
				return
			}
			defer s.sem.Release(1)
			ids, err := s.run(bg, job)
			s.finish(bg, job, ids, err)
		}, func(err error) {
			s.finish(bg, job, nil, err)
		})
	}
	return ids, nil
}

// rollback 将已标记为 RUNNING 的文档恢复为 TODO。
func (s *Service) rollback(ctx context.Context, jobs []*syncJob) {
	for _, job := range jobs {
		job.doc.Status = string(StatusTodo)
		if err := s.docs.Update(ctx, job.doc); err != nil {
			s.logger.Warn("rollback document status failed", slog.Int64("doc_id", job.doc.ID), slog.Any("error", err))
		}
	}
}

// SyncDocument 同步单个文档并返回同步后的文档。
func (s *Service) SyncDocument(ctx context.Context, req *KnowledgeSyncRequest) (*DocumentVO, error) {
	job, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	ids, err := s.run(ctx, job)
	s.finish(context.WithoutCancel(ctx), job, ids, err)
	if err != nil {
		return nil, err
	}
	return documentToVO(job.doc), nil
}

// Wait 等待所有后台同步结束。
func (s *Service) Wait() { s.wg.Wait() }

// run 加载、切分并写入索引，随后保存片段记录。
func (s *Service) run(ctx context.Context, job *syncJob) ([]string, error) {
	store, err := s.indexes.get(ctx, job.space, job.model)
	if err != nil {
		return nil, err
	}
	if err = s.clearDocument(ctx, job.doc); err != nil {
		return nil, err
	}
	job.doc.VectorIDs = ""

	k, err := s.newKnowledge(job.doc)
	if err != nil {
		return nil, err
	}
	asm, err := assembler.LoadFromKnowledge(ctx, k, job.params, store,
		assembler.WithRetrieverStrategy(strategyOf(job.space)),
		assembler.WithBatch(s.cfg.MaxChunksOnceLoad, s.cfg.MaxThreads))
	if err != nil {
		return nil, err
	}
	ids, err := asm.Persist(ctx)
	if err != nil {
		return nil, err
	}

	for i, c := range asm.Chunks() {
		meta, err := sonic.MarshalString(c.Metadata)
		if err != nil {
			return ids, fmt.Errorf("marshal chunk metadata: %w", err)
		}
		row := &ChunkEntity{
			DocumentID: job.doc.ID,
			DocName:    job.doc.DocName,
			DocType:    job.doc.DocType,
			Content:    c.Content,
			MetaInfo:   meta,
		}
		if i < len(ids) {
			row.VectorID = ids[i]
		}
		if err = s.chunks.Create(ctx, row); err != nil {
			return ids, err
		}
	}
	return ids, nil
}

// finish 写回同步结果。失败时 result 为错误信息；旧向量未清理成功时保留原 id，
// 已写入的新向量 id 仍记录下来以便再次同步时清理。
func (s *Service) finish(ctx context.Context, job *syncJob, ids []string, runErr error) {
	doc := job.doc
	if len(ids) > 0 {
		doc.VectorIDs = strings.Join(ids, ",")
	}
	doc.LastSync = time.Now()
	if runErr != nil {
		doc.Status = string(StatusFailed)
		doc.Result = runErr.Error()
		s.logger.Error("document sync failed", slog.Int64("doc_id", doc.ID), slog.String("space", doc.Space), slog.Any("error", runErr))
	} else {
		doc.Status = string(StatusFinished)
		doc.ChunkSize = len(ids)
		doc.Result = ""
		s.logger.Info("document synced", slog.Int64("doc_id", doc.ID), slog.String("space", doc.Space), slog.Int("chunks", len(ids)))
	}
	if err := s.docs.Update(ctx, doc); err != nil {
		s.logger.Error("update document status failed", slog.Int64("doc_id", doc.ID), slog.Any("error", err))
	}
}

func (s *Service) newKnowledge(doc *DocumentEntity) (knowledge.Knowledge, error) {
	opts := knowledge.Options{Metadata: map[string]any{
		schema.MetaDataKeySpace: doc.Space,
		schema.MetaDataKeyDocID: doc.ID,
	}}
	switch doc.DocType {
	case DocTypeText:
		return s.knowledge.FromText(doc.Content, doc.DocName, opts), nil
	case DocTypeURL:
		return s.knowledge.FromURL(doc.Content, opts)
	case DocTypeDocument:
		return s.knowledge.FromFilePath(doc.Content, opts)
	}
	return nil, fmt.Errorf("%w: unsupported doc_type '%s'", core.ErrInvalidArgument, doc.DocType)
}

func strategyOf(space *SpaceEntity) retriever.Strategy {
	if space.VectorType == VectorTypeKnowledgeGraph {
		return retriever.StrategyGraph
	}
	return retriever.StrategyEmbedding
}

// ====== 检索 ======

// SpaceRetriever 返回空间的检索器，可作为流程中的 Retriever 资源。
func (s *Service) SpaceRetriever(ctx context.Context, ref string) (*retriever.EmbeddingRetriever, error) {
	space, err := s.space(ctx, ref)
	if err != nil {
		return nil, err
	}
	store, err := s.indexes.get(ctx, space, "")
	if err != nil {
		return nil, err
	}
	return retriever.NewEmbeddingRetriever(store, retriever.DefaultTopK, retriever.WithStrategy(strategyOf(space))), nil
}

// Retrieve 在空间中检索与查询相关的片段。
func (s *Service) Retrieve(ctx context.Context, ref string, req *RetrieveRequest) ([]*schema.Chunk, error) {
	if req == nil || strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", core.ErrInvalidArgument)
	}
	r, err := s.SpaceRetriever(ctx, ref)
	if err != nil {
		return nil, err
	}
	topK := req.TopK
	if topK <= 0 {
		topK = r.TopK()
	}
	return r.RetrieveWithScores(ctx, req.Query, req.ScoreThreshold, baseretriever.WithTopK(topK))
}

// KnowledgeConfig 支持的存储类型与领域类型。
func (s *Service) KnowledgeConfig() *KnowledgeConfigResponse {
	normal := []KnowledgeDomainType{{Name: DomainTypeNormal, Desc: "Normal knowledge space"}}
	return &KnowledgeConfigResponse{Storage: []KnowledgeStorageType{
		{Name: VectorTypeVectorStore, Desc: "Vector Store", DomainTypes: normal},
		{Name: VectorTypeKnowledgeGraph, Desc: "Knowledge Graph", DomainTypes: normal},
	}}
}
