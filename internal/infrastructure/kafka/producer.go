package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"fsvault/internal/domain"
	"fsvault/internal/infrastructure/telemetry"
	"fsvault/internal/streaming"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTopic = "fsvault-events"

// MessageWriter is the part of kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer MessageWriter
	topic  string
}

type ProducerConfig struct {
	Brokers []string
	Topic   string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 500 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return NewProducerWithWriter(writer, cfg.Topic), nil
}

func NewProducerWithWriter(writer MessageWriter, topic string) *Producer {
	if strings.TrimSpace(topic) == "" {
		topic = DefaultTopic
	}
	return &Producer{writer: writer, topic: topic}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishEvents writes one message per event. Events of one call share a
// trace id. Keys are the account so a consumer sees an account in order.
func (p *Producer) PublishEvents(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	tracer := otel.Tracer("fsvault/kafka")

	traceCtx := ctx
	traceIDHex := ""
	if !trace.SpanContextFromContext(ctx).IsValid() {
		if traceID, hexID, ok := telemetry.NewTraceID(); ok {
			if spanCtx, ok := telemetry.NewSpanContext(traceID); ok {
				traceCtx = trace.ContextWithSpanContext(ctx, spanCtx)
				traceIDHex = hexID
			}
		}
	} else {
		traceIDHex = trace.SpanContextFromContext(ctx).TraceID().String()
	}

	messages := make([]kafka.Message, 0, len(events))
	spans := make([]trace.Span, 0, len(events))
	for _, event := range events {
		spanCtx, span := tracer.Start(traceCtx, "vault.publish_event", trace.WithSpanKind(trace.SpanKindProducer))
		span.SetAttributes(
			attribute.String("event.type", string(event.Type)),
			attribute.String("call.id", event.CallID.String()),
			attribute.Int("event.sequence", event.Sequence),
			attribute.String("asset", event.Asset.String()),
		)

		msg := streaming.FromEvent(event)
		msg.TraceID = traceIDHex
		payload, err := streaming.Encode(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			for _, s := range spans {
				s.End()
			}
			return err
		}
		headers := make([]kafka.Header, 0, 2)
		telemetry.InjectKafkaHeaders(spanCtx, &headers)
		messages = append(messages, kafka.Message{
			Topic:   p.topic,
			Key:     []byte(messageKey(event)),
			Value:   payload,
			Headers: headers,
		})
		spans = append(spans, span)
	}
	err := p.writer.WriteMessages(ctx, messages...)
	if err != nil {
		for _, span := range spans {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	for _, span := range spans {
		span.End()
	}
	return err
}

// messageKey picks the account an event is about: the depositor or the
// withdrawer, the sender of a transfer and the owner of an approval. Mints
// are keyed by the recipient.
func messageKey(event domain.Event) string {
	if event.Type == domain.EventWithdraw || event.From == (common.Address{}) {
		return domain.FormatAddress(event.To)
	}
	return domain.FormatAddress(event.From)
}
