package streaming

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fsvault/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type MessageType string

const (
	MessageTypeDeposit        MessageType = MessageType(domain.EventDeposit)
	MessageTypeWithdraw       MessageType = MessageType(domain.EventWithdraw)
	MessageTypeTransfer       MessageType = MessageType(domain.EventTransfer)
	MessageTypeApproval       MessageType = MessageType(domain.EventApproval)
	MessageTypeNativeTransfer MessageType = MessageType(domain.EventNativeTransfer)
)

// Message is the wire form of a committed ledger event.
type Message struct {
	Type      MessageType `json:"type"`
	CallID    string      `json:"call_id"`
	Sequence  int         `json:"sequence"`
	TraceID   string      `json:"trace_id,omitempty"`
	Asset     string      `json:"asset"`
	From      string      `json:"from,omitempty"`
	To        string      `json:"to,omitempty"`
	Amount    string      `json:"amount"`
	Timestamp time.Time   `json:"timestamp"`
}

func FromEvent(event domain.Event) Message {
	msg := Message{
		Type:      MessageType(event.Type),
		CallID:    event.CallID.String(),
		Sequence:  event.Sequence,
		Asset:     event.Asset.String(),
		Amount:    "0",
		Timestamp: event.Timestamp,
	}
	if event.From != (common.Address{}) {
		msg.From = domain.FormatAddress(event.From)
	}
	if event.To != (common.Address{}) {
		msg.To = domain.FormatAddress(event.To)
	}
	if event.Amount != nil {
		msg.Amount = event.Amount.Dec()
	}
	return msg
}

// Event converts a decoded message back to a domain event.
func (m Message) Event() (domain.Event, error) {
	callID, err := uuid.Parse(m.CallID)
	if err != nil {
		return domain.Event{}, fmt.Errorf("invalid call_id: %w", err)
	}
	asset, err := domain.ParseAsset(m.Asset)
	if err != nil {
		return domain.Event{}, err
	}
	amount, err := uint256.FromDecimal(m.Amount)
	if err != nil {
		return domain.Event{}, fmt.Errorf("invalid amount: %w", err)
	}
	event := domain.Event{
		Type:      domain.EventType(m.Type),
		Asset:     asset,
		Amount:    amount,
		CallID:    callID,
		Sequence:  m.Sequence,
		Timestamp: m.Timestamp,
	}
	if m.From != "" {
		if event.From, err = domain.ParseAddress(m.From); err != nil {
			return domain.Event{}, err
		}
	}
	if m.To != "" {
		if event.To, err = domain.ParseAddress(m.To); err != nil {
			return domain.Event{}, err
		}
	}
	return event, nil
}

func Encode(msg Message) ([]byte, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if err := validate(msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func validate(msg Message) error {
	switch msg.Type {
	case MessageTypeDeposit, MessageTypeWithdraw, MessageTypeTransfer, MessageTypeApproval, MessageTypeNativeTransfer:
	case "":
		return errors.New("message type is missing")
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	if msg.CallID == "" {
		return errors.New("call_id is missing")
	}
	if msg.Asset == "" {
		return errors.New("asset is missing")
	}
	return nil
}
