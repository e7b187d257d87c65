package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"fsvault/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	BackendLevelDB = "leveldb"
	BackendSQLite  = "sqlite"
	BackendMySQL   = "mysql"
)

var (
	defaultVaultAddress = common.HexToAddress("0x00000000000000000000000000000000000f5a17")
	defaultTokenAddress = common.HexToAddress("0x0000000000000000000000000000000000f5f5f5")
	defaultOwnerAddress = common.HexToAddress("0x000000000000000000000000000000000000a11c")
)

// TokenSpec is one hosted token: its contract address and its initial supply
// in whole tokens, minted to the owner at genesis.
type TokenSpec struct {
	Address       common.Address
	Symbol        string
	InitialSupply uint64
}

// NativeAlloc funds an account with native currency at genesis. Amount is in
// ether.
type NativeAlloc struct {
	Account common.Address
	Amount  decimal.Decimal
}

type Config struct {
	HTTPAddr      string
	WatchHTTPAddr string
	StoreBackend  string
	LevelDBPath   string
	SQLitePath    string
	DBDSN         string
	RedisAddr     string
	CacheTTL      time.Duration
	ClickhouseDSN string
	RPCURL        string
	OtelEndpoint  string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroupID  string
	BatchSize     uint64
	FlushInterval time.Duration

	VaultAddress common.Address
	OwnerAddress common.Address
	Token        TokenSpec
	ExtraTokens  []TokenSpec
	GenesisAlloc []NativeAlloc

	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

// DefaultEnvFile is read by dev builds unless FSVAULT_ENV_FILE names another file.
const DefaultEnvFile = ".env"

// LoadFromEnv reads the process environment. Dev builds first merge the env
// file into it; variables already set in the process win.
func LoadFromEnv() (Config, error) {
	path := os.Getenv("FSVAULT_ENV_FILE")
	if path == "" {
		path = DefaultEnvFile
	}
	if err := loadEnvFile(path); err != nil {
		return Config{}, fmt.Errorf("env file %s: %w", path, err)
	}
	return Load(FromEnviron())
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	backend := strings.ToLower(lookupDefault(source, "STORE_BACKEND", BackendLevelDB))
	switch backend {
	case BackendLevelDB, BackendSQLite, BackendMySQL:
	default:
		return Config{}, fmt.Errorf("invalid STORE_BACKEND: %q", backend)
	}

	dbDSN := lookupDefault(source, "DB_DSN", "")
	if backend == BackendMySQL && dbDSN == "" {
		return Config{}, errors.New("DB_DSN is required for the mysql backend")
	}

	cacheTTL, err := parseDurationEnv(source, "CACHE_TTL", time.Hour)
	if err != nil {
		return Config{}, err
	}
	flushInterval, err := parseDurationEnv(source, "FLUSH_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	batchSize, err := parseUintEnv(source, "BATCH_SIZE", 500)
	if err != nil {
		return Config{}, err
	}
	if batchSize == 0 {
		return Config{}, errors.New("BATCH_SIZE must be positive")
	}

	kafkaBrokers, err := parseList(source, "KAFKA_BROKERS", "")
	if err != nil {
		return Config{}, err
	}

	vaultAddress, err := parseAddressEnv(source, "VAULT_ADDRESS", defaultVaultAddress)
	if err != nil {
		return Config{}, err
	}
	ownerAddress, err := parseAddressEnv(source, "OWNER_ADDRESS", defaultOwnerAddress)
	if err != nil {
		return Config{}, err
	}
	tokenAddress, err := parseAddressEnv(source, "TOKEN_ADDRESS", defaultTokenAddress)
	if err != nil {
		return Config{}, err
	}
	initialSupply, err := parseUintEnv(source, "TOKEN_INITIAL_SUPPLY", 100000)
	if err != nil {
		return Config{}, err
	}
	token := TokenSpec{
		Address:       tokenAddress,
		Symbol:        lookupDefault(source, "TOKEN_SYMBOL", "FST"),
		InitialSupply: initialSupply,
	}

	extraTokens, err := parseTokenList(source, "EXTRA_TOKENS")
	if err != nil {
		return Config{}, err
	}
	for _, extra := range extraTokens {
		if extra.Address == token.Address || extra.Address == vaultAddress {
			return Config{}, fmt.Errorf("invalid EXTRA_TOKENS: address %s is already in use", domain.FormatAddress(extra.Address))
		}
	}
	if tokenAddress == vaultAddress {
		return Config{}, errors.New("TOKEN_ADDRESS must differ from VAULT_ADDRESS")
	}

	genesisAlloc, err := parseAllocList(source, "GENESIS_ALLOC")
	if err != nil {
		return Config{}, err
	}

	logMaxSize, err := parseUintEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseUintEnv(source, "LOG_MAX_BACKUPS", 14)
	if err != nil {
		return Config{}, err
	}

	return Config{
		HTTPAddr:      lookupDefault(source, "HTTP_ADDR", ":8080"),
		WatchHTTPAddr: lookupDefault(source, "WATCH_HTTP_ADDR", ":8081"),
		StoreBackend:  backend,
		LevelDBPath:   lookupDefault(source, "LEVELDB_PATH", "data/ledger"),
		SQLitePath:    lookupDefault(source, "SQLITE_PATH", "data/ledger.db"),
		DBDSN:         dbDSN,
		RedisAddr:     lookupDefault(source, "REDIS_ADDR", ""),
		CacheTTL:      cacheTTL,
		ClickhouseDSN: lookupDefault(source, "CLICKHOUSE_DSN", "clickhouse://127.0.0.1:9000?database=fsvault"),
		RPCURL:        lookupDefault(source, "RPC_URL", ""),
		OtelEndpoint:  lookupDefault(source, "OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		KafkaBrokers:  kafkaBrokers,
		KafkaTopic:    lookupDefault(source, "KAFKA_TOPIC", "fsvault-events"),
		KafkaGroupID:  lookupDefault(source, "KAFKA_GROUP_ID", "fsvault-watch"),
		BatchSize:     batchSize,
		FlushInterval: flushInterval,
		VaultAddress:  vaultAddress,
		OwnerAddress:  ownerAddress,
		Token:         token,
		ExtraTokens:   extraTokens,
		GenesisAlloc:  genesisAlloc,
		LogLevel:      lookupDefault(source, "LOG_LEVEL", "info"),
		LogFormat:     lookupDefault(source, "LOG_FORMAT", "text"),
		LogFile:       lookupDefault(source, "LOG_FILE", ""),
		LogMaxSizeMB:  int(logMaxSize),
		LogMaxBackups: int(logMaxBackups),
	}, nil
}

func lookupDefault(source EnvSource, key, defaultValue string) string {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue
	}
	return strings.TrimSpace(raw)
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return duration, nil
}

func parseAddressEnv(source EnvSource, key string, defaultValue common.Address) (common.Address, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	addr, err := domain.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("invalid %s: %w", key, domain.ErrZeroAddress)
	}
	return addr, nil
}

// parseList returns nil when the key is unset and no default is given.
func parseList(source EnvSource, key string, defaultValue string) ([]string, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = defaultValue
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	items := strings.Split(raw, ",")
	var values []string
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s is required", key)
	}
	return values, nil
}

// parseTokenList reads "addr:SYMBOL:supply" entries.
func parseTokenList(source EnvSource, key string) ([]TokenSpec, error) {
	items, err := parseList(source, key, "")
	if err != nil || len(items) == 0 {
		return nil, err
	}
	seen := make(map[common.Address]struct{}, len(items))
	tokens := make([]TokenSpec, 0, len(items))
	for _, item := range items {
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid %s entry %q: want addr:SYMBOL:supply", key, item)
		}
		addr, err := domain.ParseAddress(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", key, item, err)
		}
		if _, dup := seen[addr]; dup {
			return nil, fmt.Errorf("invalid %s: duplicate token %s", key, domain.FormatAddress(addr))
		}
		seen[addr] = struct{}{}
		supply, err := strconv.ParseUint(strings.TrimSpace(parts[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", key, item, err)
		}
		tokens = append(tokens, TokenSpec{Address: addr, Symbol: strings.TrimSpace(parts[1]), InitialSupply: supply})
	}
	return tokens, nil
}

// parseAllocList reads "addr=ether" entries.
func parseAllocList(source EnvSource, key string) ([]NativeAlloc, error) {
	items, err := parseList(source, key, "")
	if err != nil || len(items) == 0 {
		return nil, err
	}
	allocs := make([]NativeAlloc, 0, len(items))
	for _, item := range items {
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid %s entry %q: want addr=ether", key, item)
		}
		addr, err := domain.ParseAddress(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", key, item, err)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", key, item, err)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("invalid %s entry %q: negative amount", key, item)
		}
		allocs = append(allocs, NativeAlloc{Account: addr, Amount: amount})
	}
	return allocs, nil
}
