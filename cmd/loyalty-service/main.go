// cmd/loyalty-service/main.go
package main

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"loyaltyhub/internal/pkg/bootstrap"
	"loyaltyhub/internal/pkg/httpclient"
	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/mq"
	"loyaltyhub/internal/service/loyalty"
	"loyaltyhub/internal/service/loyalty/domain/port"
	"loyaltyhub/internal/service/loyalty/infrastructure/adapter"
	"loyaltyhub/internal/service/loyalty/interfaces"
)

func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:      loyalty.ServiceName,
		Port:             cfg.App.Port,
		RegisterHandlers: registerHandlers,
	})
}

func registerHandlers(app bootstrap.AppCtx) {
	ctx := app.Ctx
	cfg := app.Config
	kafkaCfg := cfg.Infra.Kafka

	// 1. 事件出口：看板推送 + Kafka
	feed := interfaces.NewFeedHub()
	go feed.Run(ctx)
	sinks := []port.EventPublisher{feed}
	if len(kafkaCfg.Brokers) > 0 && kafkaCfg.EventTopic != "" {
		writer := mq.NewKafkaWriter(kafkaCfg.Brokers, kafkaCfg.EventTopic)
		app.OnShutdown("kafka-event-writer", func(context.Context) error { return writer.Close() })
		sinks = append(sinks, adapter.NewEventKafkaAdapter(writer))
	}
	publisher := adapter.NewFanoutPublisher(sinks...)

	// 2. 互动信号：通过 Nacos 发现协作服务
	var signals port.SignalSource = adapter.NoSignals{}
	if app.Nacos != nil && cfg.App.SignalsService != "" {
		client := httpclient.NewClient(otel.Tracer(loyalty.ServiceName))
		signals = adapter.NewSignalsHTTPAdapter(client, app.Nacos, cfg.App.SignalsService, cfg.App.SignalsTimeout)
	}

	rt, err := loyalty.Build(ctx, cfg, publisher, signals)
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("🛑 failed to assemble loyalty service")
	}
	app.OnShutdown("loyalty-runtime", rt.Close)
	rt.WatchEngineConfig()

	// 3. HTTP 路由
	interfaces.NewLoyaltyHandler(rt.Service).RegisterRoutes(app.Mux)
	app.Mux.HandleFunc("GET /ws/feed", feed.ServeWS)

	// 4. Kafka 消费者
	if len(kafkaCfg.Brokers) > 0 {
		startConsumers(app, rt)
	}

	// 5. 定时分群刷新
	if cfg.App.RefreshEvery > 0 {
		go scheduleRefresh(ctx, rt, cfg.App.RefreshEvery)
	}
}

func startConsumers(app bootstrap.AppCtx, rt *loyalty.Runtime) {
	k := app.Config.Infra.Kafka
	var failure interfaces.DeadLetterSink = loggingSink{}
	if k.DLTTopic != "" {
		dltWriter := mq.NewKafkaWriter(k.Brokers, k.DLTTopic)
		app.OnShutdown("kafka-dlt-writer", func(context.Context) error { return dltWriter.Close() })
		failure = mq.NewFailureHandler(dltWriter, k.DLTTopic)

		dlt := interfaces.NewDltConsumerAdapter(mq.NewKafkaReader(k.Brokers, k.DLTTopic, k.GroupID+"-dlt"), k.DLTTopic)
		start(app, "dlt-consumer", dlt.Start, dlt.Stop)
	}
	for topic, kind := range map[string]interfaces.MessageKind{
		k.VisitTopic:  interfaces.KindVisit,
		k.PointsTopic: interfaces.KindPoints,
	} {
		if topic == "" {
			continue
		}
		c := interfaces.NewLedgerConsumerAdapter(mq.NewKafkaReader(k.Brokers, topic, k.GroupID), topic, kind, rt.Service, failure, rt.Dedup)
		start(app, topic+"-consumer", c.Start, c.Stop)
	}
}

func start(app bootstrap.AppCtx, name string, startFn func(context.Context) error, stopFn func(context.Context)) {
	if err := startFn(app.Ctx); err != nil {
		logger.Ctx(app.Ctx).Fatal().Err(err).Str("component", name).Msg("🛑 failed to start consumer")
	}
	app.OnShutdown(name, func(ctx context.Context) error {
		stopFn(ctx)
		return nil
	})
}

// loggingSink 在没有配置死信主题时只记录失败。
type loggingSink struct{}

func (loggingSink) Handle(ctx context.Context, msg kafka.Message, cause error) error {
	logger.Ctx(ctx).Error().Err(cause).Str("topic", msg.Topic).Int64("offset", msg.Offset).
		Msg("🚨 message processing failed and no dead letter topic is configured")
	return nil
}

func scheduleRefresh(ctx context.Context, rt *loyalty.Runtime, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := rt.Service.UpdateAllCustomerSegments(ctx)
			if err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("scheduled segment refresh failed")
				continue
			}
			logger.Ctx(ctx).Info().
				Int("processed", report.Processed).
				Int("changed", report.Changed).
				Int("failed", report.Failed).
				Msg("✅ scheduled segment refresh finished")
		}
	}
}
