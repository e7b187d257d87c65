package application

import (
	"context"
	"errors"
	"testing"

	"fsvault/internal/domain"
	"fsvault/internal/streaming"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type mockSink struct {
	events []domain.Event
	err    error
}

func (m *mockSink) StoreEvents(ctx context.Context, events []domain.Event) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, events...)
	return nil
}

type mockCommitter struct {
	committed []kafka.Message
}

func (m *mockCommitter) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.committed = append(m.committed, msgs...)
	return nil
}

func TestBatch_AddAndFlush(t *testing.T) {
	batch := NewBatch()
	sink := &mockSink{}
	committer := &mockCommitter{}
	ctx := context.Background()
	callID := uuid.NewString()

	if err := batch.Add(streaming.Message{
		Type:   streaming.MessageTypeDeposit,
		CallID: callID,
		Asset:  "native",
		From:   "0x00000000000000000000000000000000000000a1",
		To:     "0x00000000000000000000000000000000000000f5",
		Amount: "5",
	}, kafka.Message{Offset: 1}); err != nil {
		t.Fatalf("add deposit: %v", err)
	}

	if err := batch.Add(streaming.Message{
		Type:     streaming.MessageTypeNativeTransfer,
		CallID:   callID,
		Sequence: 1,
		Asset:    "native",
		From:     "0x00000000000000000000000000000000000000a1",
		To:       "0x00000000000000000000000000000000000000f5",
		Amount:   "5",
	}, kafka.Message{Offset: 2}); err != nil {
		t.Fatalf("add transfer: %v", err)
	}
	batch.Skip(kafka.Message{Offset: 3})

	if batch.Len() != 3 {
		t.Errorf("expected batch len 3, got %d", batch.Len())
	}

	if err := batch.Flush(ctx, sink, committer); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	if len(sink.events) != 2 {
		t.Errorf("expected 2 events, got %d", len(sink.events))
	}
	if got := sink.events[0].Amount.Uint64(); got != 5 {
		t.Errorf("expected amount 5, got %d", got)
	}
	if len(committer.committed) != 3 {
		t.Errorf("expected 3 committed messages, got %d", len(committer.committed))
	}
	if batch.Len() != 0 {
		t.Errorf("expected batch len 0 after reset, got %d", batch.Len())
	}
}

func TestBatch_FlushKeepsMessagesOnSinkError(t *testing.T) {
	batch := NewBatch()
	sink := &mockSink{err: errors.New("clickhouse down")}
	committer := &mockCommitter{}

	if err := batch.Add(streaming.Message{
		Type:   streaming.MessageTypeWithdraw,
		CallID: uuid.NewString(),
		Asset:  "native",
		Amount: "1",
	}, kafka.Message{Offset: 7}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := batch.Flush(context.Background(), sink, committer); err == nil {
		t.Fatal("expected flush error")
	}
	if len(committer.committed) != 0 {
		t.Errorf("expected no commits, got %d", len(committer.committed))
	}
	if batch.Len() != 1 {
		t.Errorf("expected batch to keep 1 message, got %d", batch.Len())
	}
}

func TestBatch_AddRejectsBadMessage(t *testing.T) {
	batch := NewBatch()
	err := batch.Add(streaming.Message{
		Type:   streaming.MessageTypeDeposit,
		CallID: "not-a-uuid",
		Asset:  "native",
		Amount: "1",
	}, kafka.Message{})
	if err == nil {
		t.Fatal("expected error for invalid call id")
	}
	if batch.Len() != 0 {
		t.Errorf("expected empty batch, got %d", batch.Len())
	}
}
