package pricer

import (
	"context"
	"net/http"
	"time"

	"github.com/vadiminshakov/papertrade/config"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"go.uber.org/zap"
)

// Set is the collection of enabled adapters.
type Set struct {
	adapters []Adapter
}

// NewSet builds the enabled adapters from configuration. All REST adapters share one
// HTTP client; each request still gets its own deadline.
func NewSet(cfg config.ProvidersConfig, timeout time.Duration, logger *zap.Logger) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &http.Client{Transport: http.DefaultTransport}
	var adapters []Adapter

	if cfg.DexScreener.Enabled {
		adapters = append(adapters, NewDexScreener(cfg.DexScreener.BaseURL, client, timeout, cfg.DexScreener.RatePerMinute))
	}
	if cfg.Jupiter.Enabled {
		adapters = append(adapters, NewJupiter(cfg.Jupiter.BaseURL, client, timeout, cfg.Jupiter.RatePerMinute))
	}
	if cfg.CoinGecko.Enabled {
		adapters = append(adapters, NewCoinGecko(cfg.CoinGecko.BaseURL, cfg.CoinGecko.APIKey, cfg.CoinGecko.KnownIDs,
			client, timeout, cfg.CoinGecko.RatePerMinute))
	}
	if cfg.Binance.Enabled {
		adapters = append(adapters, NewBinance(cfg.Binance.BaseURL, timeout))
	}
	if cfg.Bybit.Enabled {
		adapters = append(adapters, NewBybit(cfg.Bybit.BaseURL, timeout))
	}
	if cfg.Hyperliquid.Enabled {
		hl, err := NewHyperliquid(cfg.Hyperliquid.BaseURL, timeout)
		if err != nil {
			logger.Warn("hyperliquid adapter disabled", zap.Error(err))
		} else {
			adapters = append(adapters, hl)
		}
	}

	names := make([]string, 0, len(adapters))
	for _, a := range adapters {
		names = append(names, a.Name())
	}
	logger.Info("price adapters configured", zap.Strings("adapters", names), zap.Duration("fetch_timeout", timeout))

	return &Set{adapters: adapters}
}

// NewSetOf wraps explicit adapters.
func NewSetOf(adapters ...Adapter) *Set {
	return &Set{adapters: adapters}
}

// All returns every adapter.
func (s *Set) All() []Adapter {
	return s.adapters
}

// For returns the adapters able to price id, in registration order.
func (s *Set) For(id domain.AssetIdentity) []Adapter {
	var out []Adapter
	for _, a := range s.adapters {
		if a.Supports(id) {
			out = append(out, a)
		}
	}
	return out
}

// Resolvers returns the adapters that can describe tokens by address.
func (s *Set) Resolvers() []Resolver {
	var out []Resolver
	for _, a := range s.adapters {
		if r, ok := a.(Resolver); ok {
			out = append(out, r)
		}
	}
	return out
}

// Describe asks each resolver in turn and returns id enriched with the first answer:
// the token's symbol when id has none, and its coin id. The token is nil when no
// resolver knows the address.
func Describe(ctx context.Context, resolvers []Resolver, id domain.AssetIdentity) (domain.AssetIdentity, *TokenInfo) {
	if !id.HasAddress() {
		return id, nil
	}
	for _, r := range resolvers {
		info, err := r.Resolve(ctx, id)
		if err != nil {
			continue
		}
		if id.Symbol == "" {
			if named, err := domain.NewAssetIdentity(info.Symbol, ""); err == nil {
				id.Symbol = named.Symbol
			}
		}
		if info.ID != "" {
			id.CoinID = info.ID
		}
		return id, &info
	}
	return id, nil
}
