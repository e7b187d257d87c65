package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fsvault/internal/application"
	"fsvault/internal/domain"
	"fsvault/internal/infrastructure/leveldb"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testVault = common.HexToAddress("0x00000000000000000000000000000000000f5a17")
	testToken = common.HexToAddress("0x0000000000000000000000000000000000f5f5f5")
	testOwner = common.HexToAddress("0x000000000000000000000000000000000000a11c")
)

func newTestServer(t *testing.T, chain ChainReader) *Server {
	t.Helper()
	store, err := leveldb.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	token, err := application.NewToken(testToken, "FST")
	require.NoError(t, err)
	tokens, err := application.NewTokens(token)
	require.NoError(t, err)
	native := application.NewNativeLedger()
	vault, err := application.NewVault(application.VaultConfig{Address: testVault, RegisteredToken: testToken}, tokens, native)
	require.NoError(t, err)
	metrics := NewMetrics()
	host, err := application.NewHost(store, native, nil, metrics)
	require.NoError(t, err)
	svc, err := application.NewService(store, host, vault, tokens, native)
	require.NoError(t, err)
	_, err = svc.Bootstrap(context.Background(), application.Genesis{
		Owner:       testOwner,
		Supplies:    map[common.Address]*uint256.Int{testToken: application.WholeTokens(1000)},
		NativeAlloc: map[common.Address]*uint256.Int{testOwner: application.WholeTokens(10)},
	})
	require.NoError(t, err)

	server, err := NewServer(svc, chain, metrics, BuildInfo{Version: "test"})
	require.NoError(t, err)
	return server
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_NativeDepositWithdraw(t *testing.T) {
	handler := newTestServer(t, nil).Handler()
	owner := domain.FormatAddress(testOwner)

	rec := doJSON(t, handler, http.MethodPost, "/vault/deposit", map[string]string{
		"from": owner, "asset": "native", "amount_ether": "1.5",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	receipt := decode[receiptResponse](t, rec)
	assert.Equal(t, "depositEth", receipt.Method)
	assert.Equal(t, "1500000000000000000", receipt.Value)
	require.Len(t, receipt.Events, 2)

	rec = doJSON(t, handler, http.MethodGet, "/vault/balance?account="+owner+"&asset=native", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decode[balanceResponse](t, rec)
	assert.Equal(t, "1500000000000000000", balance.Amount)
	assert.Equal(t, "1.5", balance.Ether)

	rec = doJSON(t, handler, http.MethodPost, "/vault/withdraw", map[string]string{
		"from": owner, "asset": "native", "amount": "2000000000000000000",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	callErr := decode[callErrorResponse](t, rec)
	assert.Equal(t, "InsufficientWithdrawAmount", callErr.Code)
	assert.Equal(t, []string{"2000000000000000000", "1500000000000000000"}, callErr.Args)
}

func TestServer_TokenFlow(t *testing.T) {
	handler := newTestServer(t, nil).Handler()
	owner := domain.FormatAddress(testOwner)
	token := domain.FormatAddress(testToken)

	rec := doJSON(t, handler, http.MethodPost, "/vault/deposit", map[string]string{
		"from": owner, "asset": token, "amount": "10",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	callErr := decode[callErrorResponse](t, rec)
	assert.Equal(t, "InsufficientAllowance", callErr.Code)
	assert.Equal(t, []string{"0", "10"}, callErr.Args)

	rec = doJSON(t, handler, http.MethodPost, "/tokens/approve", map[string]string{
		"owner": owner, "token": token, "amount": "10",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodGet, "/tokens/allowance?token="+token+"&owner="+owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	allowance := decode[balanceResponse](t, rec)
	assert.Equal(t, "10", allowance.Amount)
	assert.Equal(t, domain.FormatAddress(testVault), allowance.Spender)

	rec = doJSON(t, handler, http.MethodPost, "/vault/deposit", map[string]string{
		"from": owner, "asset": token, "amount": "10",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "depositFST", decode[receiptResponse](t, rec).Method)

	rec = doJSON(t, handler, http.MethodGet, "/vault/balances?account="+owner+"&nonzero=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balances := decode[[]balanceResponse](t, rec)
	require.Len(t, balances, 1)
	assert.Equal(t, token, balances[0].Asset)
	assert.Equal(t, "10", balances[0].Amount)
}

func TestServer_VaultCannotCallItself(t *testing.T) {
	handler := newTestServer(t, nil).Handler()
	vault := domain.FormatAddress(testVault)
	token := domain.FormatAddress(testToken)

	requests := []struct {
		path string
		body map[string]string
	}{
		{path: "/tokens/approve", body: map[string]string{"owner": vault, "token": token, "amount": "10"}},
		{path: "/tokens/transfer", body: map[string]string{"from": vault, "token": token, "to": domain.FormatAddress(testOwner), "amount": "1"}},
		{path: "/vault/deposit", body: map[string]string{"from": vault, "asset": token, "amount": "0"}},
		{path: "/vault/withdraw", body: map[string]string{"from": vault, "asset": "native", "amount": "0"}},
	}
	for _, req := range requests {
		t.Run(req.path, func(t *testing.T) {
			rec := doJSON(t, handler, http.MethodPost, req.path, req.body)
			require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
			assert.Equal(t, "VaultCaller", decode[callErrorResponse](t, rec).Code)
		})
	}
}

func TestServer_BadRequests(t *testing.T) {
	handler := newTestServer(t, nil).Handler()
	owner := domain.FormatAddress(testOwner)

	cases := []struct {
		name string
		body map[string]string
	}{
		{name: "missing from", body: map[string]string{"asset": "native", "amount": "1"}},
		{name: "bad asset", body: map[string]string{"from": owner, "asset": "gold", "amount": "1"}},
		{name: "missing amount", body: map[string]string{"from": owner, "asset": "native"}},
		{name: "both amounts", body: map[string]string{"from": owner, "asset": "native", "amount": "1", "amount_ether": "1"}},
		{name: "fractional wei", body: map[string]string{"from": owner, "asset": "native", "amount_ether": "0.0000000000000000001"}},
		{name: "huge exponent", body: map[string]string{"from": owner, "asset": "native", "amount_ether": "1e200000000"}},
		{name: "tiny exponent", body: map[string]string{"from": owner, "asset": "native", "amount_ether": "1e-200000000"}},
		{name: "unknown field", body: map[string]string{"from": owner, "asset": "native", "amount": "1", "memo": "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, handler, http.MethodPost, "/vault/deposit", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := doJSON(t, handler, http.MethodGet, "/vault/deposit", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_UnknownToken(t *testing.T) {
	handler := newTestServer(t, nil).Handler()
	unknown := "0x0000000000000000000000000000000000000dea"

	rec := doJSON(t, handler, http.MethodPost, "/vault/deposit", map[string]string{
		"from": domain.FormatAddress(testOwner), "asset": unknown, "amount": "1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/tokens/balance?token="+unknown+"&account="+domain.FormatAddress(testOwner), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_InfoAndMetrics(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/vault/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[map[string]any](t, rec)
	assert.Equal(t, "0x36372b07", info["interface_id"])
	assert.Equal(t, domain.FormatAddress(testToken), info["registered_token"])

	doJSON(t, handler, http.MethodPost, "/vault/deposit", map[string]string{
		"from": domain.FormatAddress(testOwner), "asset": "native", "amount": "0",
	})

	rec = doJSON(t, handler, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `fsvault_calls_total{method="genesis",status="ok"} 1`)
	assert.Contains(t, body, `fsvault_reverts_total{code="InsufficientDepositAmount"} 1`)

	rec = doJSON(t, handler, http.MethodGet, "/version", nil)
	assert.Equal(t, "test", decode[BuildInfo](t, rec).Version)
}

type fakeChain struct {
	err error
}

func (f fakeChain) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return 1, f.err
}

func (f fakeChain) NativeBalance(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return uint256.NewInt(42), f.err
}

func (f fakeChain) TokenBalance(ctx context.Context, token, owner common.Address) (*uint256.Int, error) {
	return uint256.NewInt(7), f.err
}

func TestServer_ChainBalance(t *testing.T) {
	account := domain.FormatAddress(testOwner)

	rec := doJSON(t, newTestServer(t, nil).Handler(), http.MethodGet, "/chain/balance?account="+account, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	handler := newTestServer(t, fakeChain{}).Handler()
	rec = doJSON(t, handler, http.MethodGet, "/chain/balance?account="+account, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", decode[balanceResponse](t, rec).Amount)

	rec = doJSON(t, handler, http.MethodGet, "/chain/balance?account="+account+"&token="+domain.FormatAddress(testToken), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "7", decode[balanceResponse](t, rec).Amount)

	broken := newTestServer(t, fakeChain{err: errors.New("down")}).Handler()
	rec = doJSON(t, broken, http.MethodGet, "/chain/balance?account="+account, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	rec = doJSON(t, broken, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeEvents struct {
	events []domain.Event
	filter application.EventQueryFilter
}

func (f *fakeEvents) QueryEvents(ctx context.Context, filter application.EventQueryFilter) ([]domain.Event, error) {
	f.filter = filter
	return f.events, nil
}

func (f *fakeEvents) Ping(ctx context.Context) error {
	return nil
}

func TestArchiveServer_Events(t *testing.T) {
	store := &fakeEvents{events: []domain.Event{{
		Type:   domain.EventDeposit,
		Asset:  domain.Native(),
		From:   testOwner,
		To:     testVault,
		Amount: uint256.NewInt(5),
	}}}
	server, err := NewArchiveServer(store, nil, BuildInfo{})
	require.NoError(t, err)
	handler := server.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/events?account="+domain.FormatAddress(testOwner)+"&type=deposit&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"type":"deposit"`))
	require.NotNil(t, store.filter.Account)
	assert.Equal(t, testOwner, *store.filter.Account)
	assert.Equal(t, domain.EventDeposit, store.filter.Type)
	assert.Equal(t, 5, store.filter.Limit)

	rec = doJSON(t, handler, http.MethodGet, "/events?type=mint", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
