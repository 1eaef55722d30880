package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"time"

	"github.com/BurntSushi/toml"

	"ChatLink/internal/authfetch"
	"ChatLink/internal/session"
)

// Endpoints are the path templates of one conversation kind. Each may
// contain an {id} placeholder.
type Endpoints struct {
	History string `toml:"history"`
	Send    string `toml:"send"`
	Late    string `toml:"late"`
	Socket  string `toml:"socket"`
}

// Config holds application configuration
type Config struct {
	BaseURL        string `toml:"base_url"`
	Debug          bool   `toml:"debug"`
	LogDir         string `toml:"log_dir"`
	DBPath         string `toml:"db_path"`
	PollIntervalMS int    `toml:"poll_interval_ms"`
	RefreshPath    string `toml:"refresh_path"`
	LoginPath      string `toml:"login_path"`

	Direct Endpoints `toml:"direct"`
	Group  Endpoints `toml:"group"`
}

func endpointsOf(d session.Dialect) Endpoints {
	return Endpoints{History: d.HistoryPath, Send: d.SendPath, Late: d.LatePath, Socket: d.SocketPath}
}

// Default matches the chat server's stock routes.
func Default() Config {
	return Config{
		BaseURL:        "http://localhost:8000",
		LogDir:         "logs",
		DBPath:         "chatlink.db",
		PollIntervalMS: 1000,
		RefreshPath:    authfetch.DefaultRefreshPath,
		LoginPath:      authfetch.DefaultLoginPath,
		Direct:         endpointsOf(session.DirectDialect()),
		Group:          endpointsOf(session.GroupDialect()),
	}
}

// Load decodes the TOML file at path over base. Keys missing from the file
// keep base's values.
func Load(path string, base Config) (Config, error) {
	cfg := base
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return base, fmt.Errorf("failed to read config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return base, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
	}
	return cfg, nil
}

// Parse reads command line flags. When -config names a file it is loaded
// first and flags given explicitly override it.
func Parse(name string, args []string) (Config, error) {
	cfg := Default()
	var path string

	fs := flagSet(name, &cfg, &path)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if path != "" {
		fileCfg, err := Load(path, Default())
		if err != nil {
			return cfg, err
		}
		cfg = fileCfg
		fs = flagSet(name, &cfg, &path)
		if err := fs.Parse(args); err != nil {
			return cfg, err
		}
	}

	return cfg, cfg.Validate()
}

func flagSet(name string, cfg *Config, path *string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(path, "config", *path, "Path to a TOML config file")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Chat server base URL (http or https)")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for log, trace and metric files")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite transcript database")
	fs.IntVar(&cfg.PollIntervalMS, "poll-interval-ms", cfg.PollIntervalMS, "History poll period in milliseconds")
	return fs
}

// PollInterval is PollIntervalMS as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Dialects builds the endpoint sets for both conversation kinds.
func (c Config) Dialects() []session.Dialect {
	return []session.Dialect{
		{
			Kind:        session.KindDirect,
			HistoryPath: c.Direct.History,
			SendPath:    c.Direct.Send,
			LatePath:    c.Direct.Late,
			SocketPath:  c.Direct.Socket,
		},
		{
			Kind:        session.KindGroup,
			HistoryPath: c.Group.History,
			SendPath:    c.Group.Send,
			LatePath:    c.Group.Late,
			SocketPath:  c.Group.Socket,
		},
	}
}

// Validate checks the base URL, the poll interval and every endpoint template.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base url must be http or https, got %q", c.BaseURL)
	}
	if c.PollIntervalMS <= 0 {
		return errors.New("poll interval must be positive")
	}
	for _, d := range c.Dialects() {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return nil
}
