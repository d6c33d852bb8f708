// Package config loads server and client options from defaults, a TOML
// file, environment variables and command-line flags, in that order of
// increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TLSOptions locates the server PKI.
type TLSOptions struct {
	CertFile  string `toml:"cert_file"`
	KeyFile   string `toml:"key_file"`
	CAFile    string `toml:"ca_file"`
	CAKeyFile string `toml:"ca_key_file"`
}

// VaultOptions selects where file content is stored.
type VaultOptions struct {
	// Kind is one of fs, memory or s3.
	Kind     string `toml:"kind"`
	Root     string `toml:"root"`
	Bucket   string `toml:"bucket"`
	Prefix   string `toml:"prefix"`
	Region   string `toml:"region"`
	Endpoint string `toml:"endpoint"`
}

// Options holds the configuration values of the registry server.
type Options struct {
	// Addr defines the server's listening address (ip:port).
	Addr string `toml:"addr"`

	// DatabaseDSN holds the database connection string for the application.
	DatabaseDSN string `toml:"database_dsn"`

	TLS   TLSOptions   `toml:"tls"`
	Vault VaultOptions `toml:"vault"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	// OrphanSweepInterval is how often unlinked files are reported. Zero disables the sweep.
	OrphanSweepInterval time.Duration `toml:"orphan_sweep_interval"`
	// OrphanRetention is how long an unlinked file may exist before it is reported.
	OrphanRetention time.Duration `toml:"orphan_retention"`

	// Config is the path to the config file.
	Config string `toml:"-"`
}

// DefaultOptions returns the server defaults.
func DefaultOptions() *Options {
	return &Options{
		Addr: "localhost:8080",
		TLS: TLSOptions{
			CertFile:  "certs/server.crt",
			KeyFile:   "certs/server.key",
			CAFile:    "certs/ca.crt",
			CAKeyFile: "certs/ca.key",
		},
		Vault:               VaultOptions{Kind: "fs", Root: "vault"},
		LogLevel:            "info",
		LogFormat:           "json",
		OrphanSweepInterval: time.Hour,
		OrphanRetention:     24 * time.Hour,
		Config:              "config.toml",
	}
}

func (o *Options) bind(fs *flag.FlagSet) {
	fs.StringVar(&o.Addr, "a", o.Addr, "run on ip:port server")
	fs.StringVar(&o.DatabaseDSN, "d", o.DatabaseDSN, "db address")
	fs.StringVar(&o.Config, "config", o.Config, "path to config file")
	fs.StringVar(&o.Config, "c", o.Config, "path to config file (shorthand)")
	fs.StringVar(&o.TLS.CertFile, "tls-cert", o.TLS.CertFile, "server certificate")
	fs.StringVar(&o.TLS.KeyFile, "tls-key", o.TLS.KeyFile, "server private key")
	fs.StringVar(&o.TLS.CAFile, "ca", o.TLS.CAFile, "CA certificate")
	fs.StringVar(&o.TLS.CAKeyFile, "ca-key", o.TLS.CAKeyFile, "CA private key used to issue user certificates")
	fs.StringVar(&o.Vault.Kind, "vault", o.Vault.Kind, "file vault kind: fs | memory | s3")
	fs.StringVar(&o.Vault.Root, "vault-root", o.Vault.Root, "fs vault root folder")
	fs.StringVar(&o.Vault.Bucket, "vault-bucket", o.Vault.Bucket, "s3 vault bucket")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "log level")
	fs.DurationVar(&o.OrphanSweepInterval, "orphan-sweep", o.OrphanSweepInterval, "unlinked file report interval, 0 disables")
}

func (o *Options) applyEnv(getenv func(string) string) error {
	setString(getenv, &o.Addr, "SERVER_ADDRESS", "PLMSYNC_ADDR")
	setString(getenv, &o.DatabaseDSN, "DATABASE_DSN", "PLMSYNC_DATABASE_DSN")
	setString(getenv, &o.TLS.CertFile, "PLMSYNC_TLS_CERT")
	setString(getenv, &o.TLS.KeyFile, "PLMSYNC_TLS_KEY")
	setString(getenv, &o.TLS.CAFile, "PLMSYNC_CA")
	setString(getenv, &o.TLS.CAKeyFile, "PLMSYNC_CA_KEY")
	setString(getenv, &o.Vault.Kind, "PLMSYNC_VAULT_KIND")
	setString(getenv, &o.Vault.Root, "PLMSYNC_VAULT_ROOT")
	setString(getenv, &o.Vault.Bucket, "PLMSYNC_VAULT_BUCKET")
	setString(getenv, &o.Vault.Prefix, "PLMSYNC_VAULT_PREFIX")
	setString(getenv, &o.Vault.Region, "PLMSYNC_VAULT_REGION", "AWS_REGION")
	setString(getenv, &o.Vault.Endpoint, "PLMSYNC_VAULT_ENDPOINT")
	setString(getenv, &o.LogLevel, "PLMSYNC_LOG_LEVEL")
	setString(getenv, &o.LogFormat, "PLMSYNC_LOG_FORMAT")
	if err := setDuration(getenv, &o.OrphanSweepInterval, "PLMSYNC_ORPHAN_SWEEP_INTERVAL"); err != nil {
		return err
	}
	return setDuration(getenv, &o.OrphanRetention, "PLMSYNC_ORPHAN_RETENTION")
}

// Validate checks option combinations.
func (o *Options) Validate() error {
	if strings.TrimSpace(o.Addr) == "" {
		return errors.New("server config missing addr")
	}
	switch o.Vault.Kind {
	case "fs":
		if o.Vault.Root == "" {
			return errors.New("fs vault requires a root folder")
		}
	case "memory":
	case "s3":
		if o.Vault.Bucket == "" {
			return errors.New("s3 vault requires a bucket")
		}
	default:
		return fmt.Errorf("unknown vault kind %q", o.Vault.Kind)
	}
	if o.OrphanSweepInterval < 0 || o.OrphanRetention < 0 {
		return errors.New("orphan sweep durations must not be negative")
	}
	return nil
}

// Parse builds server options from args and the environment.
//
// Flags are parsed twice: once to find the config file, and again after the
// file and environment are applied so explicit flags win.
func Parse(args []string, getenv func(string) string) (*Options, error) {
	opts := DefaultOptions()
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	opts.bind(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Override flags with environment variables if set
	if path := firstEnv(getenv, "CONFIG", "PLMSYNC_CONFIG"); path != "" && !isFlagSet(fs, "config", "c") {
		opts.Config = path
	}
	if err := loadFile(opts.Config, opts, isFlagSet(fs, "config", "c")); err != nil {
		return nil, err
	}
	if err := opts.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// loadFile decodes path into out. A missing file is only an error when required.
func loadFile(path string, out any, required bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if _, err := toml.DecodeFile(path, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func isFlagSet(fs *flag.FlagSet, names ...string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		for _, n := range names {
			if f.Name == n {
				set = true
			}
		}
	})
	return set
}

func firstEnv(getenv func(string) string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func setString(getenv func(string) string, dst *string, keys ...string) {
	if v := firstEnv(getenv, keys...); v != "" {
		*dst = v
	}
}

func setDuration(getenv func(string) string, dst *time.Duration, key string) error {
	v := firstEnv(getenv, key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}
