package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/favbox/gptdb/component"
	"github.com/favbox/gptdb/components/llm"
	"github.com/favbox/gptdb/config"
	"github.com/favbox/gptdb/model/cluster"
	"github.com/favbox/gptdb/model/proxy"
	"github.com/favbox/gptdb/serve/core"
	"github.com/favbox/gptdb/serve/rag"
)

// NewModelClient 按 PROXY_SERVER_TYPE 或模型名创建代理客户端。
func NewModelClient(ctx context.Context, cfg config.ModelConfig) (llm.LLMClient, error) {
	client, err := proxy.DefaultRegistry().NewClient(ctx, cfg.ProxyServerType, cfg.Name, proxy.ProviderConfig{
		APIKey:  cfg.APIKey,
		APIBase: cfg.APIBase,
	})
	if err != nil {
		return nil, fmt.Errorf("create model client '%s': %w", cfg.Name, err)
	}
	return client, nil
}

// RegisterModel 以 client 启动本地 worker manager，并注册为默认 LLM 客户端。
func RegisterModel(sys *component.SystemApp, name string, client llm.LLMClient) error {
	wm := cluster.NewLocalWorkerManager()
	if err := wm.AddWorker(name, client); err != nil {
		return err
	}
	if err := sys.Register(&cluster.StaticFactory{Manager: wm}); err != nil {
		return err
	}
	return sys.RegisterAs(component.DefaultLLMClientName, cluster.NewDefaultLLMClient(wm))
}

// OpenDatabases 按 DSN 打开元数据库（pgx 连接池）与向量库（lib/pq），DSN 为空的跳过。
// 返回的 close 关闭已打开的连接。
func OpenDatabases(ctx context.Context, sys *component.SystemApp, cfg config.DatabaseConfig) (func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open metadata db: %w", err)
		}
		closers = append(closers, pool.Close)
		if err = pool.Ping(ctx); err != nil {
			closeAll()
			return nil, fmt.Errorf("ping metadata db: %w", err)
		}
		if err = sys.RegisterAs(core.MetadataDBName, pool); err != nil {
			closeAll()
			return nil, err
		}
		sys.Logger().Info("metadata db connected", slog.String("component", core.MetadataDBName))
	}

	if cfg.VectorDSN != "" {
		db, err := sql.Open("postgres", cfg.VectorDSN)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open vector db: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		if err = db.PingContext(ctx); err != nil {
			closeAll()
			return nil, fmt.Errorf("ping vector db: %w", err)
		}
		if err = sys.RegisterAs(rag.VectorDBName, db); err != nil {
			closeAll()
			return nil, err
		}
		sys.Logger().Info("vector db connected", slog.String("component", rag.VectorDBName))
	}
	return closeAll, nil
}
