package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fsvault/internal/domain"
	"fsvault/internal/streaming"

	"github.com/segmentio/kafka-go"
)

// EventSink archives committed ledger events.
type EventSink interface {
	StoreEvents(ctx context.Context, events []domain.Event) error
}

// Batch accumulates consumed event messages until they are flushed to a sink
// and their offsets committed.
type Batch struct {
	events    []domain.Event
	messages  []kafka.Message
	calls     map[string]struct{}
	minOffset map[int]int64
	maxOffset map[int]int64
}

func NewBatch() *Batch {
	return &Batch{
		calls:     make(map[string]struct{}),
		minOffset: make(map[int]int64),
		maxOffset: make(map[int]int64),
	}
}

func (b *Batch) Add(msg streaming.Message, kafkaMsg kafka.Message) error {
	event, err := msg.Event()
	if err != nil {
		return err
	}
	b.events = append(b.events, event)
	b.messages = append(b.messages, kafkaMsg)
	b.calls[msg.CallID] = struct{}{}

	partition := kafkaMsg.Partition
	offset := kafkaMsg.Offset
	if min, ok := b.minOffset[partition]; !ok || offset < min {
		b.minOffset[partition] = offset
	}
	if max, ok := b.maxOffset[partition]; !ok || offset > max {
		b.maxOffset[partition] = offset
	}
	return nil
}

// Skip tracks a message that carries no event so its offset is still
// committed with the batch.
func (b *Batch) Skip(kafkaMsg kafka.Message) {
	b.messages = append(b.messages, kafkaMsg)
}

func (b *Batch) Len() int {
	return len(b.messages)
}

// EventCount is the number of pending events, excluding skipped messages.
func (b *Batch) EventCount() int {
	return len(b.events)
}

type Committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func (b *Batch) Flush(ctx context.Context, sink EventSink, committer Committer) error {
	if b.Len() == 0 {
		return nil
	}

	start := time.Now()

	if len(b.events) > 0 {
		if err := sink.StoreEvents(ctx, b.events); err != nil {
			return fmt.Errorf("failed to store events: %w", err)
		}
	}

	if err := committer.CommitMessages(ctx, b.messages...); err != nil {
		return fmt.Errorf("failed to commit kafka messages: %w", err)
	}

	slog.Info("flushed batch",
		"count", b.Len(),
		"events", len(b.events),
		"calls", len(b.calls),
		"duration", time.Since(start),
	)

	b.Reset()
	return nil
}

func (b *Batch) Reset() {
	b.events = b.events[:0]
	b.messages = b.messages[:0]
	clear(b.calls)
	clear(b.minOffset)
	clear(b.maxOffset)
}
