// Command papertrade runs the memecoin paper-trading service: both price
// synchronizers, the simulated ledger and the web UI.
//
// Usage:
//
//	papertrade -config config.yaml
//	papertrade -config config.yaml -user alice
//	papertrade -quote WIF
//	papertrade -quote 0x6982508145454ce325ddbe47a25d4ec3d2311933
//
// Optional environment variables:
//
//	PAPERTRADE_COINGECKO_API_KEY, PAPERTRADE_POSTGRES_DSN, PAPERTRADE_REDIS_PASSWORD
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vadiminshakov/papertrade/config"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"github.com/vadiminshakov/papertrade/internal/observability"
	"github.com/vadiminshakov/papertrade/internal/quote"
	"github.com/vadiminshakov/papertrade/internal/services/ledger"
	"github.com/vadiminshakov/papertrade/internal/services/pricer"
	"github.com/vadiminshakov/papertrade/internal/services/pricesync"
	"github.com/vadiminshakov/papertrade/internal/services/reconciler"
	"github.com/vadiminshakov/papertrade/internal/storage/pricecache"
	"github.com/vadiminshakov/papertrade/internal/storage/tradejournal"
	"github.com/vadiminshakov/papertrade/internal/web"
	"github.com/vadiminshakov/papertrade/pkg/retrier"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, flags, err := config.Get(os.Args[1:], os.Stderr)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.Quote != "" {
		if err := runQuote(ctx, cfg, flags.Quote, logger); err != nil {
			logger.Fatal("quote failed", zap.Error(err))
		}
		return
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("papertrade stopped", zap.Error(err))
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrapf(err, "incorrect 'log.level' param %q", cfg.Level)
	}
	zcfg.Level = level

	return zcfg.Build()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics("papertrade")

	feeds := pricer.NewSet(cfg.Providers, cfg.Sync.FetchTimeout, logger)
	if len(feeds.All()) == 0 {
		return errors.New("no price providers enabled")
	}
	gatherer := pricesync.NewGatherer(feeds, reconciler.New(cfg.Sync.Tolerance), logger, metrics)
	settings := pricesync.SettingsFromConfig(cfg.Sync)

	asset := pricesync.NewAssetSync(gatherer, settings, logger, pricesync.WithMetrics(metrics))
	defer asset.Close()
	portfolio := pricesync.NewPortfolioSync(gatherer, settings, logger, pricesync.WithMetrics(metrics))
	defer portfolio.Close()

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	journal, err := tradejournal.Open(cfg.Account.JournalDir)
	if err != nil {
		return errors.Wrap(err, "open trade journal")
	}
	defer journal.Close()

	account, err := ledger.Open(ctx, cfg.Account.UserID, store, logger,
		ledger.WithInitialBalance(cfg.Account.InitialBalance),
		ledger.WithJournal(journal),
		ledger.WithMetrics(metrics),
		ledger.WithRetrier(retrier.New(retrier.WithMaxRetries(cfg.Storage.MaxRetries))),
	)
	if err != nil {
		return err
	}

	// fresh prices from either synchronizer revalue the held positions
	asset.OnPrice(account.ApplyPrice)
	portfolio.OnPrice(account.ApplyPrice)

	tracked, invalid := pricesync.TrackPositions(account.Positions())
	if len(invalid) > 0 {
		logger.Warn("saved positions not tracked", zap.Strings("assets", invalid))
	}
	if err := portfolio.SetAssets(tracked); err != nil {
		return errors.Wrap(err, "track saved positions")
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache := pricecache.New(rdb, cfg.Redis.Prefix, cfg.Redis.TTL, logger)
		defer cache.Close()

		defer asset.Subscribe(cache.Observe)()
		defer portfolio.Subscribe(cache.Observe)()
		g.Go(func() error {
			cache.Run(gctx)
			return nil
		})
		logger.Info("mirroring prices to redis", zap.String("addr", cfg.Redis.Addr), zap.String("channel", cache.Channel()))
	}

	server := web.NewServer(cfg.Server.Addr, web.Services{
		Asset:     asset,
		Portfolio: portfolio,
		Account:   account,
		Journal:   journal,
		Resolvers: feeds.Resolvers(),
		Metrics:   metrics,
	}, logger)
	g.Go(func() error {
		return server.Start(gctx)
	})

	logger.Info("papertrade started",
		zap.String("addr", cfg.Server.Addr),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("anonymous", account.Anonymous()),
		zap.Int("feeds", len(feeds.All())),
		zap.Int("positions", len(tracked)))

	return g.Wait()
}

func runQuote(ctx context.Context, cfg config.Config, q string, logger *zap.Logger) error {
	id, err := domain.ParseQuery(q)
	if err != nil {
		return err
	}

	feeds := pricer.NewSet(cfg.Providers, cfg.Sync.FetchTimeout, logger)
	id, token := pricer.Describe(ctx, feeds.Resolvers(), id)

	got := pricesync.NewGatherer(feeds, reconciler.New(cfg.Sync.Tolerance), logger, nil).Gather(ctx, id)
	fmt.Print(quote.Render(id, token, got))
	if !got.OK {
		return errors.Errorf("no price for %s", id)
	}
	return nil
}
