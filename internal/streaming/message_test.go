package streaming

import (
	"testing"
	"time"

	"fsvault/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageFromEvent(t *testing.T) {
	event := domain.Event{
		Type:      domain.EventWithdraw,
		Asset:     domain.Token(common.HexToAddress("0xf5")),
		From:      common.HexToAddress("0xfa"),
		To:        common.HexToAddress("0xa1"),
		Amount:    uint256.NewInt(500),
		CallID:    uuid.New(),
		Sequence:  2,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	msg := FromEvent(event)
	payload, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)

	back, err := decoded.Event()
	require.NoError(t, err)
	assert.Equal(t, event, back)
}

func TestMessageMintHasNoSender(t *testing.T) {
	msg := FromEvent(domain.Event{
		Type:   domain.EventTransfer,
		Asset:  domain.Token(common.HexToAddress("0xf5")),
		To:     common.HexToAddress("0xa1"),
		Amount: uint256.NewInt(1),
		CallID: uuid.New(),
	})
	assert.Empty(t, msg.From)

	event, err := msg.Event()
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, event.From)
}

func TestDecodeRejectsInvalidMessages(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"missing type":  `{"call_id":"x","asset":"native"}`,
		"unknown type":  `{"type":"mint","call_id":"x","asset":"native"}`,
		"missing call":  `{"type":"deposit","asset":"native"}`,
		"missing asset": `{"type":"deposit","call_id":"x"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			assert.Error(t, err)
		})
	}
}

func TestMessageEventRejectsBadFields(t *testing.T) {
	base := Message{Type: MessageTypeDeposit, CallID: uuid.NewString(), Asset: "native", Amount: "1"}

	bad := base
	bad.CallID = "nope"
	_, err := bad.Event()
	assert.Error(t, err)

	bad = base
	bad.Amount = "-1"
	_, err = bad.Event()
	assert.Error(t, err)

	bad = base
	bad.From = "0x12"
	_, err = bad.Event()
	assert.Error(t, err)
}
