package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fsvault/internal/application"
	"fsvault/internal/config"
	"fsvault/internal/domain"
	"fsvault/internal/infrastructure/ethrpc"
	"fsvault/internal/infrastructure/kafka"
	"fsvault/internal/infrastructure/logging"
	"fsvault/internal/infrastructure/storage"
	"fsvault/internal/infrastructure/telemetry"
	"fsvault/internal/interfaces/httpapi"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logCloser, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		slog.Error("logger init error", "err", err)
	} else if logCloser != nil {
		defer logCloser.Close()
	}

	shutdownTracing, err := telemetry.InitTracer(context.Background(), telemetry.Config{
		ServiceName: "fsvault-vaultd",
		Version:     version,
		Endpoint:    cfg.OtelEndpoint,
	})
	if err != nil {
		slog.Warn("tracing init error", "err", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("tracing shutdown error", "err", err)
		}
	}()

	store, err := storage.Open(storage.Config{
		Backend:     cfg.StoreBackend,
		LevelDBPath: cfg.LevelDBPath,
		SQLitePath:  cfg.SQLitePath,
		MySQLDSN:    cfg.DBDSN,
		RedisAddr:   cfg.RedisAddr,
		CacheTTL:    cfg.CacheTTL,
	})
	if err != nil {
		slog.Error("store error", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	specs := append([]config.TokenSpec{cfg.Token}, cfg.ExtraTokens...)
	hosted := make([]*application.Token, 0, len(specs))
	for _, spec := range specs {
		token, err := application.NewToken(spec.Address, spec.Symbol)
		if err != nil {
			slog.Error("token error", "err", err)
			os.Exit(1)
		}
		hosted = append(hosted, token)
	}
	tokens, err := application.NewTokens(hosted...)
	if err != nil {
		slog.Error("token registry error", "err", err)
		os.Exit(1)
	}

	native := application.NewNativeLedger()
	vault, err := application.NewVault(application.VaultConfig{
		Address:         cfg.VaultAddress,
		RegisteredToken: cfg.Token.Address,
	}, tokens, native)
	if err != nil {
		slog.Error("vault error", "err", err)
		os.Exit(1)
	}

	metrics := httpapi.NewMetrics()

	var publisher application.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			slog.Error("kafka producer error", "err", err)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = producer
		slog.Info("event publishing enabled", "topic", cfg.KafkaTopic, "brokers", len(cfg.KafkaBrokers))
	}

	host, err := application.NewHost(store, native, publisher, metrics)
	if err != nil {
		slog.Error("host error", "err", err)
		os.Exit(1)
	}
	svc, err := application.NewService(store, host, vault, tokens, native)
	if err != nil {
		slog.Error("service error", "err", err)
		os.Exit(1)
	}

	genesis, err := buildGenesis(cfg, specs)
	if err != nil {
		slog.Error("genesis error", "err", err)
		os.Exit(1)
	}
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	applied, err := svc.Bootstrap(bootCtx, genesis)
	bootCancel()
	if err != nil {
		slog.Error("genesis error", "err", err)
		os.Exit(1)
	}
	if !applied {
		slog.Info("genesis already applied")
	}

	var chain httpapi.ChainReader
	if cfg.RPCURL != "" {
		rpcClient, err := ethrpc.NewClient(ethrpc.Config{URL: cfg.RPCURL})
		if err != nil {
			slog.Error("rpc error", "err", err)
			os.Exit(1)
		}
		checkDeployment(rpcClient, cfg.VaultAddress, vault.InterfaceID())
		chain = rpcClient
	}

	httpServer, err := httpapi.NewServer(svc, chain, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("vault started",
		"addr", cfg.HTTPAddr,
		"vault", domain.FormatAddress(cfg.VaultAddress),
		"token", domain.FormatAddress(cfg.Token.Address),
		"backend", cfg.StoreBackend,
	)
	if err := httpServer.ListenAndServe(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}
	slog.Info("vault stopped")
}

func buildGenesis(cfg config.Config, specs []config.TokenSpec) (application.Genesis, error) {
	genesis := application.Genesis{
		Owner:       cfg.OwnerAddress,
		Supplies:    make(map[common.Address]*uint256.Int, len(specs)),
		NativeAlloc: make(map[common.Address]*uint256.Int, len(cfg.GenesisAlloc)),
	}
	for _, spec := range specs {
		if spec.InitialSupply == 0 {
			continue
		}
		genesis.Supplies[spec.Address] = application.WholeTokens(spec.InitialSupply)
	}
	for _, alloc := range cfg.GenesisAlloc {
		amount, err := domain.ToBaseUnits(alloc.Amount, domain.EtherDecimals)
		if err != nil {
			return application.Genesis{}, err
		}
		if existing, ok := genesis.NativeAlloc[alloc.Account]; ok {
			sum, overflow := new(uint256.Int).AddOverflow(existing, amount)
			if overflow {
				return application.Genesis{}, domain.ErrBalanceOverflow
			}
			amount = sum
		}
		genesis.NativeAlloc[alloc.Account] = amount
	}
	return genesis, nil
}

// checkDeployment logs whether the configured vault address on chain answers
// supportsInterface for the vault interface id.
func checkDeployment(client *ethrpc.Client, vault common.Address, id [4]byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		slog.Warn("rpc unreachable", "err", err)
		return
	}
	ok, err := client.SupportsInterface(ctx, vault, id)
	if err != nil {
		slog.Warn("deployed vault check failed", "chain_id", chainID, "err", err)
		return
	}
	slog.Info("deployed vault checked", "chain_id", chainID, "supports_interface", ok)
}
