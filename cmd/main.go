// Command ruletrader trades a single symbol on Binance spot following the entry,
// exit, stop-loss and take-profit rules of a strategy artifact.
//
// Usage:
//
//	ruletrader --strategy strategy.json
//	ruletrader --config config.yaml --web :8080
//	ruletrader --setup
//
// Environment variables:
//
//	testnet: TESTNET_API_KEY, TESTNET_SECRET (orders), BINANCE_API_KEY, BINANCE_API_SECRET (optional, market data)
//	live:    BINANCE_API_KEY, BINANCE_API_SECRET
//	NTFY_TOPIC, NTFY_SERVER enable push notifications
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/ruletrader/config"
	"github.com/vadiminshakov/ruletrader/internal"
	"github.com/vadiminshakov/ruletrader/internal/clients"
	"github.com/vadiminshakov/ruletrader/internal/domain"
	"github.com/vadiminshakov/ruletrader/internal/events"
	"github.com/vadiminshakov/ruletrader/internal/services/exchange"
	"github.com/vadiminshakov/ruletrader/internal/services/notifier"
	"github.com/vadiminshakov/ruletrader/internal/services/strategy"
	"github.com/vadiminshakov/ruletrader/internal/setup"
	"github.com/vadiminshakov/ruletrader/internal/storage/portfolio"
	"github.com/vadiminshakov/ruletrader/internal/storage/simstate"
	"github.com/vadiminshakov/ruletrader/internal/storage/transactions"
	"github.com/vadiminshakov/ruletrader/internal/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	if cfg.Setup {
		path, err := setup.RunTUI(cfg)
		if err != nil {
			log.Fatal(err)
		}
		if cfg, err = config.LoadFile(cfg, path); err != nil {
			log.Fatal(err)
		}
		if err := cfg.Validate(); err != nil {
			log.Fatal(err)
		}
	}

	logger, err := newLogger(cfg.Debug, cfg.LogFile)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Fatal("trading session failed", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger, cfg config.Config) error {
	artifact, err := strategy.LoadArtifact(logger, cfg.StrategyFile)
	if err != nil {
		return err
	}

	pair, err := domain.PairFromSymbol(artifact.Strategy.CoinSymbol, cfg.QuoteAsset)
	if err != nil {
		return errors.Wrap(domain.ErrInvalidStrategy, err.Error())
	}

	ex, err := newExchange(ctx, logger, cfg, pair)
	if err != nil {
		return err
	}

	var n interface {
		Notify(ctx context.Context, message string) error
	} = notifier.NewNop(logger)
	if cfg.Ntfy.Topic != "" {
		if n, err = notifier.NewNtfy(logger, cfg.Ntfy.Server, cfg.Ntfy.Topic); err != nil {
			return err
		}
	}

	txStore, err := transactions.NewWALStore(filepath.Join(cfg.WALDir, "transactions"))
	if err != nil {
		return err
	}
	defer txStore.Close()

	pfStore, err := portfolio.NewWALStore(filepath.Join(cfg.WALDir, "portfolio"))
	if err != nil {
		return err
	}
	defer pfStore.Close()

	snapshots := events.NewBroadcaster[domain.SessionSnapshot](0)

	bot, err := internal.NewTradingBot(logger, cfg, artifact, ex,
		internal.WithNotifier(n),
		internal.WithTransactionStore(txStore),
		internal.WithPortfolioStore(pfStore),
		internal.WithBroadcaster(snapshots),
		internal.WithReportOutput(os.Stdout))
	if err != nil {
		return err
	}

	fmt.Println(bot.StrategyCard())

	if err := bot.Initialize(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Run(gctx)
	})
	if cfg.WebAddr != "" {
		g.Go(func() error {
			return web.NewServer(logger, cfg.WebAddr, bot, snapshots, pfStore).Start(gctx)
		})
	}

	return g.Wait()
}

func newExchange(ctx context.Context, logger *zap.Logger, cfg config.Config, pair domain.Pair) (internal.Exchange, error) {
	creds := cfg.Credentials

	switch cfg.Mode {
	case config.ModeTestnet:
		ex, err := exchange.NewBinanceExchange(logger,
			clients.NewBinanceClient(creds.DataKey, creds.DataSecret),
			clients.NewBinanceTestnetClient(creds.TradeKey, creds.TradeSecret))
		if err != nil {
			return nil, err
		}
		if err := ex.SyncTime(ctx); err != nil {
			logger.Warn("failed to sync server time", zap.Error(err))
		}
		return ex, nil
	case config.ModeLive:
		client := clients.NewBinanceClient(creds.DataKey, creds.DataSecret)
		ex, err := exchange.NewBinanceExchange(logger, client, client)
		if err != nil {
			return nil, err
		}
		if err := ex.SyncTime(ctx); err != nil {
			logger.Warn("failed to sync server time", zap.Error(err))
		}
		return ex, nil
	case config.ModeSimulate:
		public := clients.NewBinanceClient("", "")
		market, err := exchange.NewBinanceExchange(logger, public, public)
		if err != nil {
			return nil, err
		}
		store, err := simstate.NewStore(filepath.Join(cfg.WALDir, "simulate"), pair)
		if err != nil {
			return nil, err
		}
		sim, err := exchange.NewSimulatedExchange(logger, market, pair, cfg.SimulatedQuoteBalance, store)
		if err != nil {
			return nil, err
		}
		return sim, nil
	default:
		return nil, errors.Errorf("unknown mode %q", cfg.Mode)
	}
}
