package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fsvault/internal/application"
	"fsvault/internal/domain"
	"fsvault/internal/streaming"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Ledger is the vault surface the API drives. *application.Service
// implements it.
type Ledger interface {
	Deposit(ctx context.Context, from common.Address, asset domain.Asset, amount *uint256.Int) (domain.Receipt, error)
	Withdraw(ctx context.Context, from common.Address, asset domain.Asset, amount *uint256.Int) (domain.Receipt, error)
	Approve(ctx context.Context, owner, token, spender common.Address, amount *uint256.Int) (domain.Receipt, error)
	Transfer(ctx context.Context, from, token, to common.Address, amount *uint256.Int) (domain.Receipt, error)
	Balance(ctx context.Context, account common.Address, asset domain.Asset) (*uint256.Int, error)
	Balances(ctx context.Context, filter application.BalanceQueryFilter) ([]domain.Balance, error)
	TokenBalance(ctx context.Context, token, account common.Address) (*uint256.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*uint256.Int, error)
	TotalSupply(ctx context.Context, token common.Address) (*uint256.Int, error)
	NativeBalance(ctx context.Context, account common.Address) (*uint256.Int, error)
	Tokens() []*application.Token
	Vault() *application.Vault
	Ping(ctx context.Context) error
}

// ChainReader reads balances from a deployed chain.
type ChainReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	NativeBalance(ctx context.Context, account common.Address) (*uint256.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*uint256.Int, error)
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type Server struct {
	ledger    Ledger
	chain     ChainReader
	metrics   *Metrics
	buildInfo BuildInfo
}

// NewServer wires the API over ledger. chain may be nil.
func NewServer(ledger Ledger, chain ChainReader, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if ledger == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{ledger: ledger, chain: chain, metrics: metrics, buildInfo: buildInfo}, nil
}

func (s *Server) MetricsObserver() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/vault/info", s.handleInfo)
	mux.HandleFunc("/vault/deposit", s.handleDeposit)
	mux.HandleFunc("/vault/withdraw", s.handleWithdraw)
	mux.HandleFunc("/vault/balance", s.handleBalance)
	mux.HandleFunc("/vault/balances", s.handleBalances)
	mux.HandleFunc("/tokens/approve", s.handleApprove)
	mux.HandleFunc("/tokens/transfer", s.handleTransfer)
	mux.HandleFunc("/tokens/balance", s.handleTokenBalance)
	mux.HandleFunc("/tokens/allowance", s.handleAllowance)
	mux.HandleFunc("/native/balance", s.handleNativeBalance)
	mux.HandleFunc("/chain/balance", s.handleChainBalance)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/version", s.handleVersion)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	return serve(ctx, addr, s.Handler())
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.ledger.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	if s.chain != nil {
		if _, err := s.chain.LatestBlockNumber(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "rpc not ready")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type tokenInfo struct {
	Address     string `json:"address"`
	Symbol      string `json:"symbol"`
	Decimals    int    `json:"decimals"`
	TotalSupply string `json:"total_supply"`
	Registered  bool   `json:"registered"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	vault := s.ledger.Vault()
	id := vault.InterfaceID()
	tokens := make([]tokenInfo, 0)
	for _, token := range s.ledger.Tokens() {
		supply, err := s.ledger.TotalSupply(r.Context(), token.Address())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "supply read failed")
			return
		}
		tokens = append(tokens, tokenInfo{
			Address:     domain.FormatAddress(token.Address()),
			Symbol:      token.Symbol(),
			Decimals:    token.Decimals(),
			TotalSupply: supply.Dec(),
			Registered:  token.Address() == vault.RegisteredToken(),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"address":          domain.FormatAddress(vault.Address()),
		"registered_token": domain.FormatAddress(vault.RegisteredToken()),
		"interface_id":     "0x" + hex.EncodeToString(id[:]),
		"tokens":           tokens,
	})
}

type vaultRequest struct {
	From        string `json:"from"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	AmountEther string `json:"amount_ether"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleVaultCall(w, r, s.ledger.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleVaultCall(w, r, s.ledger.Withdraw)
}

type vaultCall func(ctx context.Context, from common.Address, asset domain.Asset, amount *uint256.Int) (domain.Receipt, error)

func (s *Server) handleVaultCall(w http.ResponseWriter, r *http.Request, call vaultCall) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req vaultRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := parseAddressField("from", req.From)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := domain.ParseAsset(req.Asset)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmountFields(req.Amount, req.AmountEther)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := call(r.Context(), from, asset, amount)
	if err != nil {
		respondCallError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

type approveRequest struct {
	Owner       string `json:"owner"`
	Token       string `json:"token"`
	Spender     string `json:"spender"`
	Amount      string `json:"amount"`
	AmountEther string `json:"amount_ether"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req approveRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parseAddressField("owner", req.Owner)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := parseAddressField("token", req.Token)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var spender common.Address
	if req.Spender != "" {
		if spender, err = parseAddressField("spender", req.Spender); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	amount, err := parseAmountFields(req.Amount, req.AmountEther)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := s.ledger.Approve(r.Context(), owner, token, spender, amount)
	if err != nil {
		respondCallError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

type transferRequest struct {
	From        string `json:"from"`
	Token       string `json:"token"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	AmountEther string `json:"amount_ether"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req transferRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := parseAddressField("from", req.From)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := parseAddressField("token", req.Token)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseAddressField("to", req.To)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmountFields(req.Amount, req.AmountEther)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := s.ledger.Transfer(r.Context(), from, token, to, amount)
	if err != nil {
		respondCallError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddressParam(r, "account")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := domain.ParseAsset(r.URL.Query().Get("asset"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := s.ledger.Balance(r.Context(), account, asset)
	if err != nil {
		respondReadError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newBalanceResponse(domain.VaultKey(account, asset), amount))
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	filter, err := parseBalanceFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	balances, err := s.ledger.Balances(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	response := make([]balanceResponse, 0, len(balances))
	for _, balance := range balances {
		response = append(response, newBalanceResponse(balance.Key, balance.Amount))
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	token, err := parseAddressParam(r, "token")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := parseAddressParam(r, "account")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := s.ledger.TokenBalance(r.Context(), token, account)
	if err != nil {
		respondReadError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newBalanceResponse(domain.TokenBalanceKey(token, account), amount))
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	token, err := parseAddressParam(r, "token")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parseAddressParam(r, "owner")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	spender := s.ledger.Vault().Address()
	if r.URL.Query().Get("spender") != "" {
		if spender, err = parseAddressParam(r, "spender"); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	amount, err := s.ledger.Allowance(r.Context(), token, owner, spender)
	if err != nil {
		respondReadError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newBalanceResponse(domain.AllowanceKey(token, owner, spender), amount))
}

func (s *Server) handleNativeBalance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddressParam(r, "account")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := s.ledger.NativeBalance(r.Context(), account)
	if err != nil {
		respondReadError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newBalanceResponse(domain.NativeKey(account), amount))
}

func (s *Server) handleChainBalance(w http.ResponseWriter, r *http.Request) {
	if s.chain == nil {
		respondError(w, http.StatusNotFound, "rpc not configured")
		return
	}
	account, err := parseAddressParam(r, "account")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	key := domain.NativeKey(account)
	var amount *uint256.Int
	if r.URL.Query().Get("token") != "" {
		var token common.Address
		if token, err = parseAddressParam(r, "token"); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		key = domain.TokenBalanceKey(token, account)
		amount, err = s.chain.TokenBalance(ctx, token, account)
	} else {
		amount, err = s.chain.NativeBalance(ctx, account)
	}
	if err != nil {
		slog.Warn("chain balance read failed", "account", domain.FormatAddress(account), "err", err)
		respondError(w, http.StatusBadGateway, "rpc read failed")
		return
	}
	respondJSON(w, http.StatusOK, newBalanceResponse(key, amount))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.metrics.Snapshot().WritePrometheus(w)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

type receiptResponse struct {
	CallID    string              `json:"call_id"`
	Method    string              `json:"method"`
	From      string              `json:"from"`
	Value     string              `json:"value"`
	Committed time.Time           `json:"committed"`
	Events    []streaming.Message `json:"events"`
}

func newReceiptResponse(receipt domain.Receipt) receiptResponse {
	events := make([]streaming.Message, 0, len(receipt.Events))
	for _, event := range receipt.Events {
		events = append(events, streaming.FromEvent(event))
	}
	value := "0"
	if receipt.Value != nil {
		value = receipt.Value.Dec()
	}
	return receiptResponse{
		CallID:    receipt.CallID.String(),
		Method:    receipt.Method,
		From:      domain.FormatAddress(receipt.From),
		Value:     value,
		Committed: receipt.Committed,
		Events:    events,
	}
}

type balanceResponse struct {
	Book    string `json:"book"`
	Asset   string `json:"asset"`
	Owner   string `json:"owner,omitempty"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
	Ether   string `json:"amount_ether"`
}

func newBalanceResponse(key domain.BalanceKey, amount *uint256.Int) balanceResponse {
	resp := balanceResponse{
		Book:   string(key.Book),
		Asset:  key.Asset.String(),
		Amount: "0",
		Ether:  domain.FromBaseUnits(amount, domain.EtherDecimals).String(),
	}
	if key.Owner != (common.Address{}) {
		resp.Owner = domain.FormatAddress(key.Owner)
	}
	if key.Book == domain.BookAllowance {
		resp.Spender = domain.FormatAddress(key.Spender)
	}
	if amount != nil {
		resp.Amount = amount.Dec()
	}
	return resp
}

func parseBalanceFilter(r *http.Request) (application.BalanceQueryFilter, error) {
	query := r.URL.Query()
	limit, err := parseLimit(r)
	if err != nil {
		return application.BalanceQueryFilter{}, err
	}
	filter := application.BalanceQueryFilter{Limit: limit, NonZero: query.Get("nonzero") == "true"}
	if raw := query.Get("book"); raw != "" {
		book, err := domain.ParseBook(raw)
		if err != nil {
			return application.BalanceQueryFilter{}, err
		}
		filter.Book = book
	}
	if query.Get("account") != "" {
		account, err := parseAddressParam(r, "account")
		if err != nil {
			return application.BalanceQueryFilter{}, err
		}
		filter.Owner = &account
	}
	if raw := query.Get("asset"); raw != "" {
		asset, err := domain.ParseAsset(raw)
		if err != nil {
			return application.BalanceQueryFilter{}, err
		}
		filter.Asset = &asset
	}
	return filter, nil
}

func parseLimit(r *http.Request) (int, error) {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return 0, errors.New("invalid limit")
		}
		return value, nil
	}
	return 100, nil
}

func parseAddressParam(r *http.Request, key string) (common.Address, error) {
	return parseAddressField(key, r.URL.Query().Get(key))
}

func parseAddressField(key, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, fmt.Errorf("%s is required", key)
	}
	addr, err := domain.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid %s", key)
	}
	return addr, nil
}

// parseAmountFields accepts exactly one of a base-unit amount or an ether
// amount scaled by 18 decimals.
func parseAmountFields(amount, ether string) (*uint256.Int, error) {
	switch {
	case amount != "" && ether != "":
		return nil, errors.New("amount and amount_ether are mutually exclusive")
	case amount != "":
		return domain.ParseAmount(amount)
	case ether != "":
		value, err := decimal.NewFromString(ether)
		if err != nil {
			return nil, fmt.Errorf("invalid amount_ether %q", ether)
		}
		return domain.ToBaseUnits(value, domain.EtherDecimals)
	default:
		return nil, application.ErrAmountRequired
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

type callErrorResponse struct {
	Error string   `json:"error"`
	Code  string   `json:"code"`
	Args  []string `json:"args"`
}

// respondCallError reports a reverted call. Ledger errors carry their custom
// error name and arguments.
func respondCallError(w http.ResponseWriter, err error) {
	described, ok := domain.DescribeError(err)
	if !ok {
		if errors.Is(err, application.ErrCallDepth) {
			respondJSON(w, http.StatusConflict, callErrorResponse{Error: err.Error(), Code: "CallDepthExceeded", Args: []string{}})
			return
		}
		slog.Error("call failed", "err", err)
		respondError(w, http.StatusInternalServerError, "call failed")
		return
	}
	status := http.StatusConflict
	if described.Code == "UnknownToken" {
		status = http.StatusNotFound
	}
	args := described.Args
	if args == nil {
		args = []string{}
	}
	respondJSON(w, status, callErrorResponse{Error: err.Error(), Code: described.Code, Args: args})
}

func respondReadError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrUnknownToken) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, "read failed")
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
