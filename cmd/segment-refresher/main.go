// cmd/segment-refresher/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"loyaltyhub/internal/pkg/bootstrap"
	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/mq"
	"loyaltyhub/internal/pkg/tracing"
	"loyaltyhub/internal/service/loyalty"
	"loyaltyhub/internal/service/loyalty/domain/port"
	"loyaltyhub/internal/service/loyalty/infrastructure/adapter"
)

const serviceName = "segment-refresher"

// segment-refresher 是由定时任务拉起的一次性批处理：刷新全部客户的分群和健康分后退出。
func main() {
	os.Exit(execute())
}

func execute() int {
	customerID := flag.String("customer", "", "only refresh this customer")
	replay := flag.Bool("replay", false, "replay the ledger of -customer before refreshing")
	flag.Parse()

	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log := logger.Ctx(ctx)

	tp, err := tracing.InitTracerProvider(serviceName, cfg.Infra.Jaeger.Endpoint, cfg.App.TraceSampleRatio)
	if err != nil {
		log.Fatal().Err(err).Msg("🛑 failed to initialize tracer provider")
	}
	defer tp.Shutdown(context.Background())

	var publisher port.EventPublisher = adapter.DiscardPublisher{}
	if k := cfg.Infra.Kafka; len(k.Brokers) > 0 && k.EventTopic != "" {
		writer := mq.NewKafkaWriter(k.Brokers, k.EventTopic)
		defer writer.Close()
		publisher = adapter.NewEventKafkaAdapter(writer)
	}

	rt, err := loyalty.Build(ctx, cfg, publisher, adapter.NoSignals{})
	if err != nil {
		log.Fatal().Err(err).Msg("🛑 failed to assemble loyalty service")
	}
	defer rt.Close(context.Background())

	return run(ctx, rt, *customerID, *replay)
}

func run(ctx context.Context, rt *loyalty.Runtime, customerID string, replay bool) int {
	log := logger.Ctx(ctx)
	if customerID != "" {
		if replay {
			res, err := rt.Service.Replay(ctx, customerID)
			if err != nil {
				log.Error().Err(err).Str("customer_id", customerID).Msg("🚨 ledger replay failed")
				if res != nil {
					log.Error().Int64("stored", res.StoredBalance).Int64("replayed", res.ReplayedBalance).Msg("ledger divergence")
				}
				return 1
			}
			log.Info().Str("customer_id", customerID).Int("transactions", res.TransactionCount).Msg("✅ ledger consistent")
		}
		res, err := rt.Service.RefreshCustomer(ctx, customerID)
		if err != nil {
			log.Error().Err(err).Str("customer_id", customerID).Msg("customer refresh failed")
			return 1
		}
		log.Info().
			Str("customer_id", customerID).
			Str("tier", string(res.Outcome.Tier)).
			Str("segment", string(res.Outcome.Segment)).
			Float64("health_score", res.Outcome.HealthScore).
			Msg("✅ customer refreshed")
		return 0
	}

	report, err := rt.Service.UpdateAllCustomerSegments(ctx)
	if err != nil {
		log.Error().Err(err).Msg("segment refresh failed")
		return 1
	}
	ev := log.Info().
		Int("processed", report.Processed).
		Int("changed", report.Changed).
		Int("failed", report.Failed).
		Dur("took", report.FinishedAt.Sub(report.StartedAt))
	for seg, n := range report.SegmentDistribution {
		ev = ev.Int(string(seg), n)
	}
	ev.Msg("✅ segment refresh finished")
	if report.Failed > 0 {
		return 2
	}
	return 0
}
