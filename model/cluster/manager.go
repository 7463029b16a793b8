// Package cluster 托管模型 worker，并把 worker manager 适配为 llm.LLMClient。
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/favbox/gptdb/component"
	"github.com/favbox/gptdb/components/llm"
	"github.com/favbox/gptdb/internal/logging"
	"github.com/favbox/gptdb/internal/safe"
	"github.com/favbox/gptdb/schema"
)

// 与模型服务约定的错误码
const (
	ErrCodeModelNotFound = 1
	ErrCodeWorkerFailed  = 2
)

// ErrNoWorker 没有可用的 worker。
var ErrNoWorker = errors.New("no model worker available")

// WorkerInfo worker 的描述信息。
type WorkerInfo struct {
	ModelName     string   `json:"model_name"`
	WorkerType    string   `json:"worker_type"`
	Aliases       []string `json:"aliases,omitempty"`
	Healthy       bool     `json:"healthy"`
	ContextLength int      `json:"context_length"`
}

// WorkerManager 管理若干模型 worker，按 ModelRequest.Model 路由请求。
//
// 模型调用失败以 ErrorCode 非 0 的 ModelOutput 返回，error 只用于请求本身不合法。
type WorkerManager interface {
	Generate(ctx context.Context, req *schema.ModelRequest) (*schema.ModelOutput, error)
	GenerateStream(ctx context.Context, req *schema.ModelRequest) (*schema.StreamReader[*schema.ModelOutput], error)
	SupportedModels(ctx context.Context) ([]*WorkerInfo, error)
	CountToken(ctx context.Context, model, prompt string) (int, error)
}

// WorkerManagerFactory 以组件形式注册到 SystemApp，名称为 worker_manager_factory。
type WorkerManagerFactory interface {
	Create() WorkerManager
}

// StaticFactory 总是返回同一个 WorkerManager 的工厂。
type StaticFactory struct {
	Manager WorkerManager
}

func (f *StaticFactory) Name() string { return component.WorkerManagerFactory }

func (f *StaticFactory) Create() WorkerManager { return f.Manager }

// ====== LocalWorkerManager ======

type worker struct {
	name   string
	client llm.LLMClient
	sem    *semaphore.Weighted
	info   *WorkerInfo
}

// LocalWorkerManager 在进程内托管 LLMClient 作为 worker。
type LocalWorkerManager struct {
	mu           sync.RWMutex
	workers      map[string]*worker
	aliases      map[string]string
	defaultModel string
	concurrency  int64
}

// LocalOption LocalWorkerManager 选项。
type LocalOption func(*LocalWorkerManager)

// WithWorkerConcurrency 单个 worker 的最大并发请求数，默认 16。
func WithWorkerConcurrency(n int) LocalOption {
	return func(m *LocalWorkerManager) {
		if n > 0 {
			m.concurrency = int64(n)
		}
	}
}

// NewLocalWorkerManager 创建空的 worker manager。
func NewLocalWorkerManager(opts ...LocalOption) *LocalWorkerManager {
	m := &LocalWorkerManager{
		workers:     make(map[string]*worker),
		aliases:     make(map[string]string),
		concurrency: 16,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddWorker 注册 worker，第一个注册的 worker 作为默认模型。
func (m *LocalWorkerManager) AddWorker(name string, client llm.LLMClient, aliases ...string) error {
	if name == "" || client == nil {
		return errors.New("worker name and client are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workers[name]; ok {
		return fmt.Errorf("worker '%s' already exists", name)
	}
	info := &WorkerInfo{ModelName: name, Aliases: aliases, Healthy: true}
	if t, ok := client.(interface{ GetType() string }); ok {
		info.WorkerType = t.GetType()
	}
	if cl, ok := client.(interface{ ContextLength() int }); ok {
		info.ContextLength = cl.ContextLength()
	}
	m.workers[name] = &worker{name: name, client: client, sem: semaphore.NewWeighted(m.concurrency), info: info}
	for _, a := range aliases {
		m.aliases[a] = name
	}
	if m.defaultModel == "" {
		m.defaultModel = name
	}
	return nil
}

// RemoveWorker 移除 worker 及其别名。
func (m *LocalWorkerManager) RemoveWorker(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workers, name)
	for a, n := range m.aliases {
		if n == name {
			delete(m.aliases, a)
		}
	}
	if m.defaultModel == name {
		m.defaultModel = ""
		for n := range m.workers {
			m.defaultModel = n
			break
		}
	}
}

func (m *LocalWorkerManager) lookup(model string) (*worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if model == "" {
		model = m.defaultModel
	}
	if w, ok := m.workers[model]; ok {
		return w, nil
	}
	if n, ok := m.aliases[model]; ok {
		return m.workers[n], nil
	}
	if len(m.workers) == 0 {
		return nil, ErrNoWorker
	}
	return nil, fmt.Errorf("model '%s' not found in worker manager", model)
}

func (m *LocalWorkerManager) Generate(ctx context.Context, req *schema.ModelRequest) (out *schema.ModelOutput, err error) {
	if req == nil {
		return nil, schema.ErrInvalidRequest
	}
	w, err := m.lookup(req.Model)
	if err != nil {
		return schema.ErrorOutput(ErrCodeModelNotFound, err), nil
	}
	if err = w.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer w.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			out, err = schema.ErrorOutput(ErrCodeWorkerFailed, safe.NewPanicErr(r, debug.Stack())), nil
		}
	}()
	out, genErr := w.client.Generate(ctx, req)
	if genErr != nil {
		logging.FromContext(ctx).Warn("model worker generate failed", slog.String("model", w.name), slog.Any("error", genErr))
		return schema.ErrorOutput(ErrCodeWorkerFailed, genErr), nil
	}
	return out, nil
}

// GenerateStream 并发许可在流结束或关闭后释放。
func (m *LocalWorkerManager) GenerateStream(ctx context.Context, req *schema.ModelRequest) (*schema.StreamReader[*schema.ModelOutput], error) {
	if req == nil {
		return nil, schema.ErrInvalidRequest
	}
	w, err := m.lookup(req.Model)
	if err != nil {
		return errorStream(schema.ErrorOutput(ErrCodeModelNotFound, err)), nil
	}
	if err = w.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	src, err := w.client.GenerateStream(ctx, req)
	if err != nil {
		w.sem.Release(1)
		logging.FromContext(ctx).Warn("model worker stream failed", slog.String("model", w.name), slog.Any("error", err))
		return errorStream(schema.ErrorOutput(ErrCodeWorkerFailed, err)), nil
	}

	sr, sw := schema.Pipe[*schema.ModelOutput](1)
	go func() {
		defer w.sem.Release(1)
		defer sw.Close()
		defer src.Close()
		for {
			chunk, err := src.Recv()
			if err != nil {
				if !isEOF(err) {
					sw.Send(schema.ErrorOutput(ErrCodeWorkerFailed, err), nil)
				}
				return
			}
			if closed := sw.Send(chunk, nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

func (m *LocalWorkerManager) SupportedModels(context.Context) ([]*WorkerInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*WorkerInfo, 0, len(m.workers))
	for _, w := range m.workers {
		info := *w.info
		out = append(out, &info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelName < out[j].ModelName })
	return out, nil
}

func (m *LocalWorkerManager) CountToken(ctx context.Context, model, prompt string) (int, error) {
	w, err := m.lookup(model)
	if err != nil {
		return 0, err
	}
	return w.client.CountToken(ctx, w.name, prompt)
}

// DefaultModel 未指定模型时使用的 worker。
func (m *LocalWorkerManager) DefaultModel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultModel
}

func errorStream(out *schema.ModelOutput) *schema.StreamReader[*schema.ModelOutput] {
	return schema.StreamReaderFromArray([]*schema.ModelOutput{out})
}
