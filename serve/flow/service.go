package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/favbox/gptdb/awel"
	awelflow "github.com/favbox/gptdb/awel/flow"
	"github.com/favbox/gptdb/internal/logging"
	"github.com/favbox/gptdb/schema"
	"github.com/favbox/gptdb/serve/core"
	"github.com/favbox/gptdb/storage/metadata"
)

// FlowPackage 已安装的流程包。
type FlowPackage struct {
	Name        string
	Label       string
	Description string
	Repo        string
	Version     string
	// Definition 流程定义 JSON，可以是 FlowPanel 或 {"flow": FlowPanel}
	Definition []byte
}

// PackageSource 提供已安装的流程包。
type PackageSource interface {
	InstalledFlowPackages(ctx context.Context) ([]*FlowPackage, error)
}

// Service 流程的保存、部署与运行。
type Service struct {
	cfg       *ServeConfig
	crud      *core.Service[Entity, FlowPanel, FlowPanel]
	registry  *awelflow.Registry
	resources awelflow.ResourceResolver
	logger    *slog.Logger

	mu   sync.RWMutex
	dags map[string]*awel.DAG
}

// NewService 创建服务，resources 用于解析算子的资源参数。
func NewService(store metadata.Store[Entity], registry *awelflow.Registry, resources awelflow.ResourceResolver, cfg *ServeConfig) *Service {
	if cfg == nil {
		cfg = &ServeConfig{}
	}
	return &Service{
		cfg: cfg,
		crud: &core.Service[Entity, FlowPanel, FlowPanel]{
			Store:      store,
			ToEntity:   toEntity,
			ToResponse: toPanel,
			Merge:      merge,
		},
		registry:  registry,
		resources: resources,
		logger:    logging.L(),
		dags:      make(map[string]*awel.DAG),
	}
}

// Registry 算子注册表。
func (s *Service) Registry() *awelflow.Registry { return s.registry }

// build 按 flow_data 构建 DAG 并校验只有一个叶子节点。
func (s *Service) build(ctx context.Context, e *Entity) (*awel.DAG, error) {
	dag, err := awelflow.BuildDAG(ctx, s.registry, e.Name, e.FlowData, s.resources)
	if err != nil {
		return nil, err
	}
	if _, err = awelflow.Leaf(dag); err != nil {
		return nil, err
	}
	return dag, nil
}

// prepare 构建失败时，saveFailed 为 true 则记为 load_failed，否则返回参数错误。
// 没有节点的流程不构建 DAG，以 initializing 或给定的非运行状态保存。
func (s *Service) prepare(ctx context.Context, e *Entity, saveFailed bool) (*awel.DAG, error) {
	if e.FlowData == nil || len(e.FlowData.Nodes) == 0 {
		if e.State == "" || e.State == string(StateLoadFailed) {
			e.State = string(StateInitializing)
		}
		st, err := parseState(e.State)
		if err != nil {
			return nil, err
		}
		if st.Runnable() {
			return nil, fmt.Errorf("%w: flow '%s' has no nodes and cannot be %s",
				core.ErrInvalidArgument, e.Name, st)
		}
		e.ErrorMessage = ""
		return nil, nil
	}
	if e.State == "" || e.State == string(StateInitializing) {
		e.State = string(StateDeployed)
	}
	if _, err := parseState(e.State); err != nil {
		return nil, err
	}
	dag, err := s.build(ctx, e)
	if err != nil {
		if !saveFailed {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
		}
		logging.FromContext(ctx).Warn("save failed flow",
			slog.String("name", e.Name), slog.Any("error", err))
		e.State = string(StateLoadFailed)
		e.ErrorMessage = err.Error()
		return nil, nil
	}
	if e.State == string(StateLoadFailed) {
		e.State = string(StateDeployed)
	}
	e.ErrorMessage = ""
	return dag, nil
}

func (s *Service) deploy(e *Entity, dag *awel.DAG) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dag == nil || !State(e.State).Runnable() {
		delete(s.dags, e.UID)
		return
	}
	s.dags[e.UID] = dag
}

// CreateAndSaveDAG 校验并保存流程，已部署状态的流程同时注册到运行表。
func (s *Service) CreateAndSaveDAG(ctx context.Context, req *FlowPanel) (*FlowPanel, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: flow is required", core.ErrInvalidArgument)
	}
	if err := validateName(req.Name); err != nil {
		return nil, err
	}
	e := toEntity(req)
	if e.UID == "" {
		e.UID = uuid.NewString()
	}
	if e.Label == "" {
		e.Label = e.Name
	}
	dag, err := s.prepare(ctx, e, req.SaveFailedFlow)
	if err != nil {
		return nil, err
	}
	if err = s.crud.Store.Create(ctx, e); err != nil {
		return nil, err
	}
	s.deploy(e, dag)
	logging.FromContext(ctx).Info("flow created",
		slog.String("uid", e.UID), slog.String("name", e.Name), slog.String("state", e.State))
	return toPanel(e), nil
}

// UpdateFlow 按 uid 更新流程并重新部署。
func (s *Service) UpdateFlow(ctx context.Context, req *FlowPanel) (*FlowPanel, error) {
	if req == nil || req.UID == "" {
		return nil, fmt.Errorf("%w: flow uid is required", core.ErrInvalidArgument)
	}
	e, err := s.crud.Store.Get(ctx, metadata.Query{"uid": req.UID})
	if err != nil {
		return nil, err
	}
	if !e.Editable {
		return nil, fmt.Errorf("%w: flow '%s' is not editable", core.ErrInvalidArgument, e.Name)
	}
	return s.update(ctx, e, req)
}

// update 合并请求后重新构建、保存并部署。
func (s *Service) update(ctx context.Context, e *Entity, req *FlowPanel) (*FlowPanel, error) {
	merge(e, req)
	dag, err := s.prepare(ctx, e, req.SaveFailedFlow)
	if err != nil {
		return nil, err
	}
	if err = s.crud.Store.Update(ctx, e); err != nil {
		return nil, err
	}
	s.deploy(e, dag)
	return toPanel(e), nil
}

// Get 按 uid 查找。
func (s *Service) Get(ctx context.Context, uid string) (*FlowPanel, error) {
	return s.crud.Get(ctx, metadata.Query{"uid": uid})
}

// Delete 删除流程并从运行表移除。
func (s *Service) Delete(ctx context.Context, uid string) (*FlowPanel, error) {
	p, err := s.crud.Delete(ctx, metadata.Query{"uid": uid})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	delete(s.dags, uid)
	s.mu.Unlock()
	return p, nil
}

// GetListByPage 按 owner、user_name、sys_code、name 等非空字段过滤分页。
func (s *Service) GetListByPage(ctx context.Context, filter *FlowPanel, page, pageSize int) (*core.PaginationResult[*FlowPanel], error) {
	q := metadata.Query{}
	if filter != nil {
		for k, v := range map[string]string{
			"owner":         filter.Owner,
			"user_name":     filter.UserName,
			"sys_code":      filter.SysCode,
			"name":          filter.Name,
			"state":         filter.State,
			"flow_category": filter.FlowCategory,
			"source":        filter.Source,
		} {
			if v != "" {
				q[k] = v
			}
		}
	}
	return s.crud.Page(ctx, q, page, pageSize)
}

// Nodes 返回算子元数据，category 为空时返回全部。
func (s *Service) Nodes(category string) ([]*awelflow.ViewMetadata, error) {
	return s.registry.List(awelflow.OperatorCategory(category))
}

func (s *Service) leaf(uid string) (awel.Operator, error) {
	s.mu.RLock()
	dag, ok := s.dags[uid]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: flow '%s' is not deployed", core.ErrNotFound, uid)
	}
	return awelflow.Leaf(dag)
}

// Run 以 input 作为调用数据运行流程。
func (s *Service) Run(ctx context.Context, uid string, input any) (any, error) {
	leaf, err := s.leaf(uid)
	if err != nil {
		return nil, err
	}
	return awel.CallOperator(ctx, leaf, input)
}

// Stream 流式运行流程。
func (s *Service) Stream(ctx context.Context, uid string, input any) (*schema.StreamReader[any], error) {
	leaf, err := s.leaf(uid)
	if err != nil {
		return nil, err
	}
	return awel.StreamOperator(ctx, leaf, input)
}

// LoadFromDB 部署已保存的全部可运行流程，单个失败只记日志。
func (s *Service) LoadFromDB(ctx context.Context) error {
	rows, err := s.crud.Store.List(ctx, metadata.Query{})
	if err != nil {
		return err
	}
	for _, e := range rows {
		if !State(e.State).Runnable() {
			continue
		}
		dag, err := s.build(ctx, e)
		if err != nil {
			logging.FromContext(ctx).Warn("load flow failed",
				slog.String("name", e.Name), slog.Any("error", err))
			continue
		}
		s.deploy(e, dag)
	}
	return nil
}

// LoadPackages 将已安装的流程包写入为 gptdbs 来源的流程，已存在则更新。
func (s *Service) LoadPackages(ctx context.Context, src PackageSource) error {
	pkgs, err := src.InstalledFlowPackages(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, pkg := range pkgs {
		if err = s.upsertPackage(ctx, pkg); err != nil {
			errs = append(errs, fmt.Errorf("load flow package '%s': %w", pkg.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) upsertPackage(ctx context.Context, pkg *FlowPackage) error {
	panel, err := parseDefinition(pkg.Definition)
	if err != nil {
		return err
	}
	if panel.Name == "" {
		panel.Name = pkg.Name
	}
	if panel.Label == "" {
		panel.Label = pkg.Label
	}
	if panel.Description == "" {
		panel.Description = pkg.Description
	}
	editable := false
	panel.Editable = &editable
	panel.Source = SourceGptdbs
	panel.SourceURL = pkg.Repo
	panel.Version = pkg.Version
	panel.SaveFailedFlow = true

	existing, err := s.crud.Store.Get(ctx, metadata.Query{"name": panel.Name})
	switch {
	case errors.Is(err, metadata.ErrNotFound):
		panel.UID = ""
		_, err = s.CreateAndSaveDAG(ctx, panel)
		return err
	case err != nil:
		return err
	}
	if existing.Source != SourceGptdbs {
		return fmt.Errorf("%w: flow '%s' already exists", core.ErrAlreadyExists, panel.Name)
	}
	if existing.Version == panel.Version {
		return nil
	}
	panel.UID = existing.UID
	_, err = s.update(ctx, existing, panel)
	return err
}

func parseDefinition(data []byte) (*FlowPanel, error) {
	var wrapped struct {
		Flow *FlowPanel `json:"flow"`
	}
	if err := sonic.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: invalid flow definition: %v", core.ErrInvalidArgument, err)
	}
	if wrapped.Flow != nil {
		return wrapped.Flow, nil
	}
	p := new(FlowPanel)
	if err := sonic.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: invalid flow definition: %v", core.ErrInvalidArgument, err)
	}
	return p, nil
}
