package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fsvault/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxCallDepth = 64

var ErrCallDepth = errors.New("call depth exceeded")

// Call is one top-level invocation: who calls, what it targets and the
// native value attached to it.
type Call struct {
	Method string
	From   common.Address
	To     common.Address
	Value  *uint256.Int
}

// Host runs calls one at a time, each inside its own store transaction.
// A call either commits every write and event it produced or none of them.
type Host struct {
	store     Store
	native    NativeCurrency
	publisher EventPublisher
	observer  HostObserver
	now       func() time.Time

	mu sync.Mutex
}

func NewHost(store Store, native NativeCurrency, publisher EventPublisher, observer HostObserver) (*Host, error) {
	if store == nil || native == nil {
		return nil, errors.New("host dependencies must not be nil")
	}
	return &Host{store: store, native: native, publisher: publisher, observer: observer, now: time.Now}, nil
}

// Execute moves the attached value to call.To, then runs fn. Events are
// published only after the transaction commits.
func (h *Host) Execute(ctx context.Context, call Call, fn func(s *Session) error) (domain.Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	value := new(uint256.Int)
	if call.Value != nil {
		value.Set(call.Value)
	}

	ctx, span := otel.Tracer("fsvault/host").Start(ctx, "host."+call.Method,
		trace.WithAttributes(
			attribute.String("call.from", domain.FormatAddress(call.From)),
			attribute.String("call.to", domain.FormatAddress(call.To)),
			attribute.String("call.value", value.Dec()),
		),
	)
	defer span.End()

	callID := uuid.New()
	var events []domain.Event
	err := h.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		events = events[:0]
		root := &Session{ctx: ctx, tx: tx, sender: call.From, value: value, events: &events}
		if !value.IsZero() {
			if err := h.native.Transfer(root, call.From, call.To, value); err != nil {
				return err
			}
		}
		return fn(root)
	})
	if h.observer != nil {
		h.observer.OnCall(call.Method, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Debug("call reverted", "method", call.Method, "from", domain.FormatAddress(call.From), "err", err)
		return domain.Receipt{}, err
	}

	committed := h.now().UTC()
	for i := range events {
		events[i].CallID = callID
		events[i].Sequence = i
		events[i].Timestamp = committed
	}
	receipt := domain.Receipt{
		CallID:    callID,
		Method:    call.Method,
		From:      call.From,
		Value:     value,
		Events:    events,
		Committed: committed,
	}
	span.SetAttributes(attribute.String("call.id", callID.String()), attribute.Int("event.count", len(events)))
	h.publish(ctx, events)
	return receipt, nil
}

func (h *Host) publish(ctx context.Context, events []domain.Event) {
	if h.publisher == nil || len(events) == 0 {
		return
	}
	err := h.publisher.PublishEvents(ctx, events)
	if err != nil {
		slog.Warn("event publish error", "events", len(events), "err", err)
	}
	if h.observer != nil {
		h.observer.OnPublish(len(events), err)
	}
}

// Session is a call frame. Nested frames share the transaction and the event
// log of the top-level call.
type Session struct {
	ctx    context.Context
	tx     Tx
	sender common.Address
	value  *uint256.Int
	events *[]domain.Event
	depth  int
}

func (s *Session) Context() context.Context {
	return s.ctx
}

// Sender is the immediate caller of the current frame.
func (s *Session) Sender() common.Address {
	return s.sender
}

// Value is the native amount attached to the current frame.
func (s *Session) Value() *uint256.Int {
	return new(uint256.Int).Set(s.value)
}

func (s *Session) Get(key domain.BalanceKey) (*uint256.Int, error) {
	return s.tx.Get(s.ctx, key)
}

func (s *Session) Put(key domain.BalanceKey, amount *uint256.Int) error {
	return s.tx.Put(s.ctx, key, amount)
}

func (s *Session) Emit(event domain.Event) {
	if event.Amount != nil {
		event.Amount = new(uint256.Int).Set(event.Amount)
	}
	*s.events = append(*s.events, event)
}

// Call opens a nested frame whose sender is from, without attached value.
func (s *Session) Call(from common.Address) (*Session, error) {
	if s.depth+1 > maxCallDepth {
		return nil, fmt.Errorf("%w: %d", ErrCallDepth, maxCallDepth)
	}
	return &Session{
		ctx:    s.ctx,
		tx:     s.tx,
		sender: from,
		value:  new(uint256.Int),
		events: s.events,
		depth:  s.depth + 1,
	}, nil
}

// credit adds amount to key, failing instead of wrapping past 2^256-1.
func credit(s *Session, key domain.BalanceKey, amount *uint256.Int) error {
	current, err := s.Get(key)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return fmt.Errorf("%w: %s", domain.ErrBalanceOverflow, key)
	}
	return s.Put(key, sum)
}
