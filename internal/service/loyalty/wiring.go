// internal/service/loyalty/wiring.go
package loyalty

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"loyaltyhub/internal/pkg/bootstrap"
	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/redis"
	"loyaltyhub/internal/service/loyalty/application"
	"loyaltyhub/internal/service/loyalty/domain"
	"loyaltyhub/internal/service/loyalty/domain/port"
	"loyaltyhub/internal/service/loyalty/infrastructure/cache"
	"loyaltyhub/internal/service/loyalty/infrastructure/lock"
	"loyaltyhub/internal/service/loyalty/infrastructure/memory"
	"loyaltyhub/internal/service/loyalty/infrastructure/persistence"
	"loyaltyhub/internal/service/loyalty/infrastructure/rule"
	"loyaltyhub/internal/zookeeper"
)

const ServiceName = "loyalty-service"

// Runtime 持有按配置装配好的应用服务和它打开的基础设施连接。
type Runtime struct {
	Service *application.LoyaltyService
	Engines *application.EngineHolder
	// Dedup 供 Kafka 消费者过滤重复投递
	Dedup port.MessageDeduplicator

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// EngineConfigFrom 以默认引擎配置为底，叠加配置文件中的 engine 段。
func EngineConfigFrom(cfg *bootstrap.Config) (domain.EngineConfig, error) {
	ec := domain.DefaultEngineConfig()
	if _, err := cfg.DecodeEngine(&ec); err != nil {
		return ec, err
	}
	return ec, nil
}

// Build 按配置选择存储、快照和锁的实现，并组装 LoyaltyService。
// publisher 和 signals 为 nil 时分别丢弃事件、使用中性信号。
func Build(ctx context.Context, cfg *bootstrap.Config, publisher port.EventPublisher, signals port.SignalSource) (*Runtime, error) {
	rt := &Runtime{}
	ok := false
	defer func() {
		if !ok {
			rt.Close(ctx)
		}
	}()

	ec, err := EngineConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	engines, err := application.NewEngineHolder(ec, rule.NewCELCompilerAdapter())
	if err != nil {
		return nil, errors.Wrap(err, "build engines")
	}
	rt.Engines = engines

	deps := application.Deps{
		Publisher: publisher,
		Signals:   signals,
		Engines:   engines,
		Tracer:    otel.Tracer(ServiceName),
	}

	// 1. 账本与分群存储
	var db *gorm.DB
	switch cfg.App.Storage {
	case "mysql":
		db, err = persistence.Open(ctx, cfg.Infra.MySQL.DSN)
		if err != nil {
			return nil, err
		}
		if err := persistence.Migrate(ctx, db); err != nil {
			return nil, err
		}
		rt.addCloser("mysql", func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
		ledger := persistence.NewGormLedgerRepository(db)
		deps.Accounts, deps.Ledger, deps.Visits = ledger, ledger, ledger
		deps.Segments = persistence.NewGormSegmentRepository(db)
		deps.CustomSegments = persistence.NewGormCustomSegmentRepository(db)
	case "memory":
		ledger := memory.NewLedgerStore()
		deps.Accounts, deps.Ledger, deps.Visits = ledger, ledger, ledger
		deps.Segments = memory.NewSegmentStore()
		deps.CustomSegments = memory.NewCustomSegmentStore()
	default:
		return nil, errors.Errorf("unknown storage backend %q", cfg.App.Storage)
	}

	// 2. Redis 只在快照、锁或去重需要时连接
	var rdb *redis.Client
	if cfg.App.SnapshotStore == "redis" || cfg.App.Lock.Backend == "redis" || cfg.App.Dedup.Backend == "redis" {
		rdb, err = redis.NewClient(cfg.Infra.Redis.Addrs)
		if err != nil {
			return nil, err
		}
		rt.addCloser("redis", rdb.Close)
	}

	// 3. 健康分快照
	switch cfg.App.SnapshotStore {
	case "redis":
		deps.Snapshots = cache.NewRedisSnapshotStore(rdb, 0)
	case "mysql":
		if db == nil {
			return nil, errors.New("mysql snapshot store requires mysql storage")
		}
		deps.Snapshots = persistence.NewGormSnapshotStore(db)
	case "memory":
		deps.Snapshots = memory.NewSnapshotStore()
	default:
		return nil, errors.Errorf("unknown snapshot store %q", cfg.App.SnapshotStore)
	}

	// 4. 客户锁
	switch cfg.App.Lock.Backend {
	case "redis":
		l, err := lock.NewRedisLocker(rdb, cfg.App.Lock.TTL, cfg.App.Lock.Wait)
		if err != nil {
			return nil, err
		}
		deps.Locker = l
	case "zookeeper":
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return nil, err
		}
		rt.addCloser("zookeeper", func() error {
			conn.Close()
			return nil
		})
		deps.Locker = lock.NewZKLocker(conn, cfg.App.Lock.Wait)
	case "local":
		if cfg.App.Storage == "mysql" {
			logger.Ctx(ctx).Warn().Msg("local customer lock with shared mysql storage is only safe for a single instance")
		}
		deps.Locker = lock.NewLocalLocker()
	default:
		return nil, errors.Errorf("unknown lock backend %q", cfg.App.Lock.Backend)
	}

	// 5. 入站消息去重
	switch cfg.App.Dedup.Backend {
	case "redis":
		rt.Dedup = cache.NewRedisDeduplicator(rdb, cfg.App.Dedup.TTL)
	case "memory":
		rt.Dedup = memory.NewDeduplicator(cfg.App.Dedup.TTL)
	default:
		return nil, errors.Errorf("unknown dedup backend %q", cfg.App.Dedup.Backend)
	}

	rt.Service = application.NewLoyaltyService(deps, application.Options{
		Retry: application.RetryPolicy{
			MaxTries:   cfg.App.Retry.MaxTries,
			MaxElapsed: cfg.App.Retry.MaxElapsed,
		},
		LockWait:    cfg.App.Lock.Wait,
		Parallelism: cfg.App.BatchParallelism,
	})
	ok = true
	logger.Ctx(ctx).Info().
		Str("storage", cfg.App.Storage).
		Str("snapshots", cfg.App.SnapshotStore).
		Str("lock", cfg.App.Lock.Backend).
		Str("dedup", cfg.App.Dedup.Backend).
		Msg("✅ Loyalty service assembled")
	return rt, nil
}

// WatchEngineConfig 在配置中心推送新配置时重建引擎；新配置不合法时保留旧引擎。
func (r *Runtime) WatchEngineConfig() {
	bootstrap.OnConfigChange(func(cfg *bootstrap.Config) {
		ec, err := EngineConfigFrom(cfg)
		if err != nil {
			logger.Ctx(context.Background()).Error().Err(err).Msg("🚨 could not decode pushed engine config")
			return
		}
		_ = r.Engines.Reload(ec)
	})
}

func (r *Runtime) addCloser(name string, fn func() error) {
	r.closers = append(r.closers, closer{name: name, fn: fn})
}

// Close 按打开的逆序关闭连接。
func (r *Runtime) Close(ctx context.Context) error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].fn(); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("component", r.closers[i].name).Msg("error closing component")
			if first == nil {
				first = err
			}
		}
	}
	r.closers = nil
	return first
}
