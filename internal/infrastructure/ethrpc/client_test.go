package ethrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     uint64            `json:"id"`
}

func newRPCServer(t *testing.T, handle func(call recordedCall) (any, *rpcError)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call recordedCall
		require.NoError(t, json.NewDecoder(r.Body).Decode(&call))
		result, rpcErr := handle(call)
		resp := map[string]any{"jsonrpc": "2.0", "id": call.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClient_BlockNumberAndChainID(t *testing.T) {
	server := newRPCServer(t, func(call recordedCall) (any, *rpcError) {
		switch call.Method {
		case "eth_blockNumber":
			return "0x1b4", nil
		case "eth_chainId":
			return "0x7a69", nil
		}
		return nil, &rpcError{Code: -32601, Message: "method not found"}
	})
	client, err := NewClient(Config{URL: server.URL})
	require.NoError(t, err)

	block, err := client.LatestBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(436), block)

	chainID, err := client.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(31337), chainID)
}

func TestClient_NativeBalance(t *testing.T) {
	account := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	server := newRPCServer(t, func(call recordedCall) (any, *rpcError) {
		require.Equal(t, "eth_getBalance", call.Method)
		var addr string
		require.NoError(t, json.Unmarshal(call.Params[0], &addr))
		assert.True(t, strings.EqualFold(account.Hex(), addr))
		return "0x0de0b6b3a7640000", nil
	})
	client, err := NewClient(Config{URL: server.URL})
	require.NoError(t, err)

	balance, err := client.NativeBalance(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", balance.Dec())
}

func TestClient_TokenBalanceAndAllowance(t *testing.T) {
	token := common.HexToAddress("0x00000000000000000000000000000000000000f5")
	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	spender := common.HexToAddress("0x00000000000000000000000000000000000000fa")

	server := newRPCServer(t, func(call recordedCall) (any, *rpcError) {
		require.Equal(t, "eth_call", call.Method)
		var msg struct {
			To   string `json:"to"`
			Data string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(call.Params[0], &msg))
		assert.True(t, strings.EqualFold(token.Hex(), msg.To))
		data, err := hexutil.Decode(msg.Data)
		require.NoError(t, err)

		word := make([]byte, 32)
		switch {
		case len(data) == 4+32 && string(data[:4]) == string(selectorBalanceOf):
			word[31] = 42
		case len(data) == 4+64 && string(data[:4]) == string(selectorAllowance):
			assert.Equal(t, spender.Bytes(), data[4+32+12:])
			word[31] = 7
		default:
			return nil, &rpcError{Code: 3, Message: "execution reverted"}
		}
		return hexutil.Encode(word), nil
	})
	client, err := NewClient(Config{URL: server.URL})
	require.NoError(t, err)

	balance, err := client.TokenBalance(context.Background(), token, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), balance.Uint64())

	allowance, err := client.Allowance(context.Background(), token, owner, spender)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), allowance.Uint64())

	_, err = client.SupportsInterface(context.Background(), token, [4]byte{0x36, 0x37, 0x2b, 0x07})
	assert.ErrorContains(t, err, "execution reverted")
}

func TestClient_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	client, err := NewClient(Config{URL: server.URL})
	require.NoError(t, err)

	_, err = client.LatestBlockNumber(context.Background())
	assert.ErrorContains(t, err, "rpc status 502")
}

func TestSelectors(t *testing.T) {
	assert.Equal(t, "0x70a08231", hexutil.Encode(selectorBalanceOf))
	assert.Equal(t, "0xdd62ed3e", hexutil.Encode(selectorAllowance))
	assert.Equal(t, "0x01ffc9a7", hexutil.Encode(selectorSupportsInterface))
}

func TestNormalizeQuantity(t *testing.T) {
	assert.Equal(t, "0x0", normalizeQuantity("0x0000"))
	assert.Equal(t, "0x1f", normalizeQuantity("0x001f"))
}
