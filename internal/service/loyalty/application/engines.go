// internal/service/loyalty/application/engines.go
package application

import (
	"context"
	"sync/atomic"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/service/loyalty/domain"
)

// EngineHolder 持有当前生效的引擎集合，配置热更新时整体替换。
// 正在执行的重算继续使用它开始时拿到的引擎，不会看到半新半旧的配置。
type EngineHolder struct {
	current  atomic.Pointer[domain.Engines]
	compiler domain.ConditionCompiler
}

// NewEngineHolder 用初始配置构建引擎，配置不合法时返回错误，服务应拒绝启动。
func NewEngineHolder(cfg domain.EngineConfig, compiler domain.ConditionCompiler) (*EngineHolder, error) {
	engines, err := domain.NewEngines(cfg, compiler)
	if err != nil {
		return nil, err
	}
	h := &EngineHolder{compiler: compiler}
	h.current.Store(engines)
	return h, nil
}

func (h *EngineHolder) Load() *domain.Engines {
	return h.current.Load()
}

// Reload 校验新配置，通过后原子替换；校验失败时保留原有引擎并返回错误。
func (h *EngineHolder) Reload(cfg domain.EngineConfig) error {
	engines, err := domain.NewEngines(cfg, h.compiler)
	if err != nil {
		logger.Ctx(context.Background()).Error().Err(err).Msg("🚨 rejected engine config reload, keeping previous engines")
		return err
	}
	h.current.Store(engines)
	logger.Ctx(context.Background()).Info().Msg("✅ Engine config reloaded")
	return nil
}
