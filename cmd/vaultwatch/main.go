package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fsvault/internal/application"
	"fsvault/internal/config"
	"fsvault/internal/infrastructure/clickhouse"
	"fsvault/internal/infrastructure/logging"
	"fsvault/internal/infrastructure/telemetry"
	"fsvault/internal/interfaces/httpapi"
	"fsvault/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	if len(cfg.KafkaBrokers) == 0 {
		slog.Error("KAFKA_BROKERS is required for the event archive")
		os.Exit(1)
	}

	logCloser, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		slog.Error("logger init error", "err", err)
	} else if logCloser != nil {
		defer logCloser.Close()
	}

	shutdownTracing, err := telemetry.InitTracer(context.Background(), telemetry.Config{
		ServiceName: "fsvault-watch",
		Version:     version,
		Endpoint:    cfg.OtelEndpoint,
	})
	if err != nil {
		slog.Warn("tracing init error", "err", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("tracing shutdown error", "err", err)
		}
	}()

	archive, err := clickhouse.NewRepository(cfg.ClickhouseDSN)
	if err != nil {
		slog.Error("clickhouse error", "err", err)
		os.Exit(1)
	}
	defer archive.Close()

	metrics := httpapi.NewMetrics()
	httpServer, err := httpapi.NewArchiveServer(archive, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		slog.Info("http server listening", "addr", cfg.WatchHTTPAddr)
		if err := httpServer.ListenAndServe(ctx, cfg.WatchHTTPAddr); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("http server error", "err", err)
			cancel()
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    cfg.KafkaTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	slog.Info("event archive started", "topic", cfg.KafkaTopic, "group", cfg.KafkaGroupID)
	consumeStream(ctx, reader, archive, metrics, cfg)
	slog.Info("event archive stopped")
}

func consumeStream(ctx context.Context, reader *kafka.Reader, sink application.EventSink, metrics *httpapi.Metrics, cfg config.Config) {
	tracer := otel.Tracer("fsvault/watch")
	batch := application.NewBatch()

	flush := func(reason string) {
		if batch.Len() == 0 {
			return
		}
		events := batch.EventCount()
		if err := batch.Flush(ctx, sink, reader); err != nil {
			metrics.IncKafkaFlushErr()
			slog.Error("batch flush error", "reason", reason, "err", err)
			return
		}
		metrics.OnFlush(events)
	}

	for {
		// The fetch timeout doubles as the flush interval under low traffic.
		fetchCtx, cancel := context.WithTimeout(ctx, cfg.FlushInterval)
		message, err := reader.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				flush("timeout")
				continue
			}
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			metrics.IncKafkaFetchErr()
			slog.Error("kafka fetch error", "err", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		metrics.ObserveKafkaMessage(message.Partition, message.Offset, message.Time)

		decoded, err := streaming.Decode(message.Value)
		if err != nil {
			slog.Warn("message decode error", "offset", message.Offset, "err", err)
			metrics.IncKafkaDecodeErr()
			batch.Skip(message)
			continue
		}

		messageCtx := telemetry.MessageContext(ctx, message.Headers, decoded.TraceID)
		_, span := tracer.Start(messageCtx, "watch.process_event", trace.WithSpanKind(trace.SpanKindConsumer))
		span.SetAttributes(
			attribute.String("event.type", string(decoded.Type)),
			attribute.String("call.id", decoded.CallID),
			attribute.Int("event.sequence", decoded.Sequence),
		)
		if err := batch.Add(decoded, message); err != nil {
			slog.Warn("message convert error", "offset", message.Offset, "err", err)
			metrics.IncKafkaDecodeErr()
			span.RecordError(err)
			batch.Skip(message)
		}
		span.End()

		if batch.Len() >= int(cfg.BatchSize) {
			flush("size")
		}
	}
}
