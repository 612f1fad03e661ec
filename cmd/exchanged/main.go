package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tspoff/ethexchange/params"
	"github.com/tspoff/ethexchange/pkg/api"
	"github.com/tspoff/ethexchange/pkg/exchange"
	"github.com/tspoff/ethexchange/pkg/exchange/token"
	"github.com/tspoff/ethexchange/pkg/storage"
	"github.com/tspoff/ethexchange/pkg/util"
)

// exchangeAddr is the engine's custody identity with external tokens.
var exchangeAddr = common.HexToAddress("0x00000000000000000000000000000000000e7c4e")

func main() {
	cfg := params.Load(os.Getenv("CONFIG_FILE"))

	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		log.Fatalf("data dir: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	store, err := storage.Open(filepath.Join(cfg.Node.DataDir, "exchange.db"))
	if err != nil {
		sugar.Fatalw("storage_open_failed", "err", err)
	}

	eng := exchange.New(exchange.Options{
		Address: exchangeAddr,
		Store:   store,
		Logger:  sugar,
	})
	defer eng.Close()

	if cfg.Demo.Enabled && !eng.HasToken(cfg.Demo.TokenSymbol) {
		deployer := exchangeAddr // demo supply starts in engine custody
		tok := token.NewFixedSupplyToken(cfg.Demo.TokenSymbol, deployer, cfg.Demo.TokenSupply)
		contract := common.BytesToAddress([]byte(cfg.Demo.TokenSymbol))
		if _, err := eng.AddToken(deployer, cfg.Demo.TokenSymbol, contract, tok); err != nil {
			sugar.Fatalw("demo_token_failed", "err", err)
		}
		sugar.Infow("demo_token_registered",
			"symbol", cfg.Demo.TokenSymbol, "supply", cfg.Demo.TokenSupply)
	}

	server := api.NewServer(eng, sugar)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.Node.ListenAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		sugar.Infow("shutting_down", "signal", sig.String())
	case err := <-errCh:
		sugar.Errorw("server_stopped", "err", err)
	}
}
