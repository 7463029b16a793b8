package app

import (
	"context"
	"log/slog"

	"github.com/favbox/gptdb/internal/logging"
	serveflow "github.com/favbox/gptdb/serve/flow"
	"github.com/favbox/gptdb/util/gptdbs"
)

// PackageSource 将已安装的 gptdbs 流程包提供给流程服务。
type PackageSource struct {
	manager *gptdbs.Manager
}

func NewPackageSource(m *gptdbs.Manager) *PackageSource {
	return &PackageSource{manager: m}
}

// InstalledFlowPackages 读取失败的包记录日志后跳过。
func (s *PackageSource) InstalledFlowPackages(ctx context.Context) ([]*serveflow.FlowPackage, error) {
	installed, err := s.manager.ListInstalled()
	if err != nil {
		return nil, err
	}
	var pkgs []*serveflow.FlowPackage
	for _, p := range installed {
		if p.Type != gptdbs.TypeFlow {
			continue
		}
		def, err := p.ReadDefinition()
		if err != nil {
			logging.FromContext(ctx).Warn("read flow package definition failed",
				slog.String("package", p.Name), slog.Any("error", err))
			continue
		}
		pkgs = append(pkgs, &serveflow.FlowPackage{
			Name:        p.Name,
			Label:       p.Label,
			Description: p.Description,
			Repo:        p.Repo,
			Version:     p.Version,
			Definition:  def,
		})
	}
	return pkgs, nil
}
