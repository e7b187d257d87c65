package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	selectorBalanceOf         = selector("balanceOf(address)")
	selectorAllowance         = selector("allowance(address,address)")
	selectorSupportsInterface = selector("supportsInterface(bytes4)")
)

// Client reads balances from a deployed chain over JSON-RPC.
type Client struct {
	url        string
	httpClient *http.Client
	idCounter  uint64
	block      string
}

type Config struct {
	URL     string
	Timeout time.Duration
	// Block is the block tag reads are pinned to; "latest" when empty.
	Block string
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Block == "" {
		cfg.Block = "latest"
	}
	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		block:      cfg.Block,
	}, nil
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := c.call(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := c.call(ctx, "eth_chainId", []any{}, &result); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

func (c *Client) NativeBalance(ctx context.Context, account common.Address) (*uint256.Int, error) {
	var result string
	if err := c.call(ctx, "eth_getBalance", []any{account.Hex(), c.block}, &result); err != nil {
		return nil, err
	}
	return uint256.FromHex(normalizeQuantity(result))
}

func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*uint256.Int, error) {
	out, err := c.ethCall(ctx, token, selectorBalanceOf, common.LeftPadBytes(owner.Bytes(), 32))
	if err != nil {
		return nil, err
	}
	return decodeWord(out)
}

func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*uint256.Int, error) {
	out, err := c.ethCall(ctx, token, selectorAllowance,
		common.LeftPadBytes(owner.Bytes(), 32),
		common.LeftPadBytes(spender.Bytes(), 32),
	)
	if err != nil {
		return nil, err
	}
	return decodeWord(out)
}

// SupportsInterface asks contract whether it reports interface id.
func (c *Client) SupportsInterface(ctx context.Context, contract common.Address, id [4]byte) (bool, error) {
	out, err := c.ethCall(ctx, contract, selectorSupportsInterface, common.RightPadBytes(id[:], 32))
	if err != nil {
		return false, err
	}
	word, err := decodeWord(out)
	if err != nil {
		return false, err
	}
	return !word.IsZero(), nil
}

func (c *Client) ethCall(ctx context.Context, to common.Address, sel []byte, args ...[]byte) ([]byte, error) {
	data := make([]byte, 0, len(sel)+32*len(args))
	data = append(data, sel...)
	for _, arg := range args {
		data = append(data, arg...)
	}
	msg := map[string]any{
		"to":   to.Hex(),
		"data": hexutil.Encode(data),
	}
	var result hexutil.Bytes
	if err := c.call(ctx, "eth_call", []any{msg, c.block}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	id := atomic.AddUint64(&c.idCounter, 1)
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return err
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if result == nil {
		return nil
	}
	if len(decoded.Result) == 0 {
		return errors.New("rpc result is empty")
	}
	return json.Unmarshal(decoded.Result, result)
}

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func decodeWord(out []byte) (*uint256.Int, error) {
	if len(out) < 32 {
		return nil, fmt.Errorf("short return data: %d bytes", len(out))
	}
	return new(uint256.Int).SetBytes32(out[:32]), nil
}

// normalizeQuantity strips leading zeros, which uint256.FromHex rejects.
func normalizeQuantity(value string) string {
	trimmed := strings.TrimLeft(strings.TrimPrefix(value, "0x"), "0")
	if trimmed == "" {
		return "0x0"
	}
	return "0x" + trimmed
}
