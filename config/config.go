package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	defaultPollInterval       = 60 * time.Second
	defaultStaleCheckInterval = 30 * time.Second
	defaultStaleAfter         = 120 * time.Second
	defaultAssetDelay         = 500 * time.Millisecond
	defaultFetchTimeout       = 8 * time.Second
	maxFetchTimeout           = 10 * time.Second
	minFetchTimeout           = time.Second
	defaultHistorySize        = 10
	defaultConsistencyWindow  = 3
	defaultTolerance          = "0.10"
	defaultInitialBalance     = "10000"
	defaultAddr               = ":8080"
	defaultJournalDir         = "./wal/trades"
)

// Storage backends.
const (
	StorageNone     = "none"
	StorageFile     = "file"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config is the validated runtime configuration.
type Config struct {
	Log       LogConfig
	Sync      SyncConfig
	Providers ProvidersConfig
	Account   AccountConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Server    ServerConfig
}

type LogConfig struct {
	Level       string
	Development bool
}

// SyncConfig drives both synchronizers.
type SyncConfig struct {
	PollInterval       time.Duration
	StaleCheckInterval time.Duration
	StaleAfter         time.Duration
	AssetDelay         time.Duration
	FetchTimeout       time.Duration
	HistorySize        int
	ConsistencyWindow  int
	Tolerance          decimal.Decimal
}

type ProvidersConfig struct {
	DexScreener ProviderConfig
	Jupiter     ProviderConfig
	CoinGecko   CoinGeckoConfig
	Binance     ProviderConfig
	Bybit       ProviderConfig
	Hyperliquid ProviderConfig
}

// ProviderConfig configures one HTTP price feed.
type ProviderConfig struct {
	Enabled bool
	BaseURL string
	// RatePerMinute limits outgoing requests; zero means unlimited.
	RatePerMinute int
}

type CoinGeckoConfig struct {
	ProviderConfig
	APIKey string
	// KnownIDs maps ticker symbols to CoinGecko coin ids.
	KnownIDs map[string]string
}

type AccountConfig struct {
	UserID         string
	InitialBalance decimal.Decimal
	JournalDir     string
}

// Anonymous reports whether the session has no user and therefore no persistence.
func (a AccountConfig) Anonymous() bool {
	return a.UserID == ""
}

type StorageConfig struct {
	Backend    string
	Path       string
	DSN        string
	MaxRetries int
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

type ServerConfig struct {
	Addr string
}

// ConfigTmp mirrors the on-disk layout before decimals and defaults are applied.
type ConfigTmp struct {
	Log struct {
		Level       string `yaml:"level" toml:"level"`
		Development bool   `yaml:"development" toml:"development"`
	} `yaml:"log" toml:"log"`
	Sync struct {
		PollInterval       time.Duration `yaml:"poll_interval" toml:"poll_interval"`
		StaleCheckInterval time.Duration `yaml:"stale_check_interval" toml:"stale_check_interval"`
		StaleAfter         time.Duration `yaml:"stale_after" toml:"stale_after"`
		AssetDelay         time.Duration `yaml:"asset_delay" toml:"asset_delay"`
		FetchTimeout       time.Duration `yaml:"fetch_timeout" toml:"fetch_timeout"`
		HistorySize        int           `yaml:"history_size" toml:"history_size"`
		ConsistencyWindow  int           `yaml:"consistency_window" toml:"consistency_window"`
		Tolerance          string        `yaml:"tolerance" toml:"tolerance"`
	} `yaml:"sync" toml:"sync"`
	Providers struct {
		DexScreener providerTmp  `yaml:"dexscreener" toml:"dexscreener"`
		Jupiter     providerTmp  `yaml:"jupiter" toml:"jupiter"`
		CoinGecko   coingeckoTmp `yaml:"coingecko" toml:"coingecko"`
		Binance     providerTmp  `yaml:"binance" toml:"binance"`
		Bybit       providerTmp  `yaml:"bybit" toml:"bybit"`
		Hyperliquid providerTmp  `yaml:"hyperliquid" toml:"hyperliquid"`
	} `yaml:"providers" toml:"providers"`
	Account struct {
		UserID         string `yaml:"user_id" toml:"user_id"`
		InitialBalance string `yaml:"initial_balance" toml:"initial_balance"`
		JournalDir     string `yaml:"journal_dir" toml:"journal_dir"`
	} `yaml:"account" toml:"account"`
	Storage struct {
		Backend    string `yaml:"backend" toml:"backend"`
		Path       string `yaml:"path" toml:"path"`
		DSN        string `yaml:"dsn" toml:"dsn"`
		MaxRetries int    `yaml:"max_retries" toml:"max_retries"`
	} `yaml:"storage" toml:"storage"`
	Redis struct {
		Enabled  bool          `yaml:"enabled" toml:"enabled"`
		Addr     string        `yaml:"addr" toml:"addr"`
		Password string        `yaml:"password" toml:"password"`
		DB       int           `yaml:"db" toml:"db"`
		Prefix   string        `yaml:"prefix" toml:"prefix"`
		TTL      time.Duration `yaml:"ttl" toml:"ttl"`
	} `yaml:"redis" toml:"redis"`
	Server struct {
		Addr string `yaml:"addr" toml:"addr"`
	} `yaml:"server" toml:"server"`
}

type providerTmp struct {
	Enabled       *bool  `yaml:"enabled" toml:"enabled"`
	BaseURL       string `yaml:"base_url" toml:"base_url"`
	RatePerMinute int    `yaml:"rate_per_minute" toml:"rate_per_minute"`
}

type coingeckoTmp struct {
	Enabled       *bool             `yaml:"enabled" toml:"enabled"`
	BaseURL       string            `yaml:"base_url" toml:"base_url"`
	RatePerMinute int               `yaml:"rate_per_minute" toml:"rate_per_minute"`
	APIKey        string            `yaml:"api_key" toml:"api_key"`
	KnownIDs      map[string]string `yaml:"known_ids" toml:"known_ids"`
}

// Load reads a YAML or TOML file (chosen by extension). An empty path yields defaults.
func Load(path string) (Config, error) {
	var raw ConfigTmp

	if path != "" {
		if err := decodeFile(path, &raw); err != nil {
			return Config{}, err
		}
	}

	return fromRaw(raw)
}

func decodeFile(path string, raw *ConfigTmp) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, raw); err != nil {
			return errors.Wrapf(err, "decode toml config %s", path)
		}
		return nil
	default:
		f, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(f, raw); err != nil {
			return errors.Wrapf(err, "decode yaml config %s", path)
		}
		return nil
	}
}

func fromRaw(raw ConfigTmp) (Config, error) {
	var cfg Config

	cfg.Log = LogConfig{Level: raw.Log.Level, Development: raw.Log.Development}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	s := raw.Sync
	cfg.Sync = SyncConfig{
		PollInterval:       orDuration(s.PollInterval, defaultPollInterval),
		StaleCheckInterval: orDuration(s.StaleCheckInterval, defaultStaleCheckInterval),
		StaleAfter:         orDuration(s.StaleAfter, defaultStaleAfter),
		AssetDelay:         orDuration(s.AssetDelay, defaultAssetDelay),
		FetchTimeout:       orDuration(s.FetchTimeout, defaultFetchTimeout),
		HistorySize:        s.HistorySize,
		ConsistencyWindow:  s.ConsistencyWindow,
	}
	if cfg.Sync.HistorySize <= 0 {
		cfg.Sync.HistorySize = defaultHistorySize
	}
	if cfg.Sync.ConsistencyWindow <= 0 {
		cfg.Sync.ConsistencyWindow = defaultConsistencyWindow
	}
	tolerance, err := decimalOr(s.Tolerance, defaultTolerance)
	if err != nil {
		return Config{}, errors.Wrap(err, "incorrect 'sync.tolerance' param")
	}
	cfg.Sync.Tolerance = tolerance

	p := raw.Providers
	cfg.Providers = ProvidersConfig{
		DexScreener: provider(p.DexScreener, true, "https://api.dexscreener.com", 300),
		Jupiter:     provider(p.Jupiter, true, "https://lite-api.jup.ag", 600),
		CoinGecko: CoinGeckoConfig{
			ProviderConfig: provider(providerTmp{
				Enabled:       p.CoinGecko.Enabled,
				BaseURL:       p.CoinGecko.BaseURL,
				RatePerMinute: p.CoinGecko.RatePerMinute,
			}, true, "https://api.coingecko.com/api/v3", 30),
			APIKey:         p.CoinGecko.APIKey,
			KnownIDs:       knownIDs(p.CoinGecko.KnownIDs),
		},
		Binance:     provider(p.Binance, false, "", 0),
		Bybit:       provider(p.Bybit, false, "", 0),
		Hyperliquid: provider(p.Hyperliquid, false, "https://api.hyperliquid.xyz", 0),
	}
	if key := os.Getenv("PAPERTRADE_COINGECKO_API_KEY"); key != "" {
		cfg.Providers.CoinGecko.APIKey = key
	}

	balance, err := decimalOr(raw.Account.InitialBalance, defaultInitialBalance)
	if err != nil {
		return Config{}, errors.Wrap(err, "incorrect 'account.initial_balance' param")
	}
	cfg.Account = AccountConfig{
		UserID:         strings.TrimSpace(raw.Account.UserID),
		InitialBalance: balance,
		JournalDir:     raw.Account.JournalDir,
	}
	if cfg.Account.JournalDir == "" {
		cfg.Account.JournalDir = defaultJournalDir
	}

	cfg.Storage = StorageConfig{
		Backend:    strings.ToLower(raw.Storage.Backend),
		Path:       raw.Storage.Path,
		DSN:        raw.Storage.DSN,
		MaxRetries: raw.Storage.MaxRetries,
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageNone
	}
	if dsn := os.Getenv("PAPERTRADE_POSTGRES_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
	}
	if cfg.Storage.MaxRetries <= 0 {
		cfg.Storage.MaxRetries = 2
	}

	r := raw.Redis
	cfg.Redis = RedisConfig{Enabled: r.Enabled, Addr: r.Addr, Password: r.Password, DB: r.DB, Prefix: r.Prefix, TTL: r.TTL}
	if pw := os.Getenv("PAPERTRADE_REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "papertrade"
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 2 * cfg.Sync.StaleAfter
	}

	cfg.Server.Addr = raw.Server.Addr
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultAddr
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Sync.FetchTimeout < minFetchTimeout {
		c.Sync.FetchTimeout = minFetchTimeout
	}
	if c.Sync.FetchTimeout > maxFetchTimeout {
		c.Sync.FetchTimeout = maxFetchTimeout
	}
	if c.Sync.Tolerance.LessThanOrEqual(decimal.Zero) || c.Sync.Tolerance.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.Errorf("sync.tolerance must be in (0, 1), got %s", c.Sync.Tolerance)
	}
	if c.Sync.ConsistencyWindow > c.Sync.HistorySize {
		return errors.Errorf("sync.consistency_window (%d) exceeds sync.history_size (%d)", c.Sync.ConsistencyWindow, c.Sync.HistorySize)
	}
	if c.Account.InitialBalance.LessThanOrEqual(decimal.Zero) {
		return errors.New("account.initial_balance must be positive")
	}

	switch c.Storage.Backend {
	case StorageNone:
	case StorageFile, StorageSQLite:
		if c.Storage.Path == "" {
			return errors.Errorf("storage.path is required for %s backend", c.Storage.Backend)
		}
	case StoragePostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for postgres backend")
		}
	default:
		return errors.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}

	if !c.Account.Anonymous() && c.Storage.Backend == StorageNone {
		return errors.New("account.user_id is set but storage.backend is none")
	}

	return nil
}

func provider(raw providerTmp, enabled bool, baseURL string, rate int) ProviderConfig {
	cfg := ProviderConfig{Enabled: enabled, BaseURL: baseURL, RatePerMinute: rate}
	if raw.Enabled != nil {
		cfg.Enabled = *raw.Enabled
	}
	if raw.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(raw.BaseURL, "/")
	}
	if raw.RatePerMinute > 0 {
		cfg.RatePerMinute = raw.RatePerMinute
	}
	return cfg
}

func knownIDs(extra map[string]string) map[string]string {
	ids := map[string]string{
		"BTC": "bitcoin",
		"ETH": "ethereum",
		"SOL": "solana",
	}
	for sym, id := range extra {
		ids[strings.ToUpper(sym)] = id
	}
	return ids
}

func orDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func decimalOr(v, def string) (decimal.Decimal, error) {
	if strings.TrimSpace(v) == "" {
		v = def
	}
	return decimal.NewFromString(strings.TrimSpace(v))
}
