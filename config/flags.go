package config

import (
	"flag"
	"io"
)

// Flags are the command line options of the papertrade binary.
type Flags struct {
	ConfigPath string
	Quote      string
	Addr       string
	UserID     string
}

// ParseFlags parses args (without the program name).
func ParseFlags(args []string, output io.Writer) (Flags, error) {
	var f Flags

	fs := flag.NewFlagSet("papertrade", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	fs.StringVar(&f.ConfigPath, "config", "", "path to yaml or toml config")
	fs.StringVar(&f.Quote, "quote", "", "print a reconciled quote for a symbol or contract address and exit")
	fs.StringVar(&f.Addr, "addr", "", "http listen address, overrides server.addr")
	fs.StringVar(&f.UserID, "user", "", "user id for persisted sessions, overrides account.user_id")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	return f, nil
}

// Get parses flags and loads the config they point to, applying overrides.
func Get(args []string, output io.Writer) (Config, Flags, error) {
	f, err := ParseFlags(args, output)
	if err != nil {
		return Config{}, Flags{}, err
	}

	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return Config{}, Flags{}, err
	}

	if f.Addr != "" {
		cfg.Server.Addr = f.Addr
	}
	if f.UserID != "" {
		cfg.Account.UserID = f.UserID
		if err := cfg.validate(); err != nil {
			return Config{}, Flags{}, err
		}
	}

	return cfg, f, nil
}
