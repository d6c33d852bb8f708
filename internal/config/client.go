package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/atinyakov/PLMSync/internal/engine"
	"github.com/atinyakov/PLMSync/internal/models"
)

// ClientOptions configures the CLI and the engine it drives.
type ClientOptions struct {
	ServerURL   string `toml:"server_url"`
	CertFile    string `toml:"cert_file"`
	KeyFile     string `toml:"key_file"`
	CAFile      string `toml:"ca_file"`
	SessionFile string `toml:"session_file"`

	// CallTimeout bounds every registry call.
	CallTimeout time.Duration `toml:"call_timeout"`
	// EditableState is the only lifecycle state check-in accepts.
	EditableState string `toml:"editable_state"`

	// CadOpenCommand opens a downloaded file in the CAD tool; the path is appended.
	CadOpenCommand []string `toml:"cad_open_command"`
	CadExtensions  []string `toml:"cad_extensions"`

	// LinkStrategies overrides the per item type link fallback order.
	LinkStrategies map[string][]engine.LinkMethod `toml:"link_strategies"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	Config string `toml:"-"`
}

// DefaultClientOptions returns the client defaults. sessionFile is the
// platform session location.
func DefaultClientOptions(sessionFile string) *ClientOptions {
	return &ClientOptions{
		ServerURL:     "https://localhost:8080",
		CertFile:      "client.crt",
		KeyFile:       "client.key",
		CAFile:        "certs/ca.crt",
		SessionFile:   sessionFile,
		CallTimeout:   engine.DefaultCallTimeout,
		EditableState: models.StatePreliminary,
		CadExtensions: append([]string(nil), engine.DefaultCadExtensions...),
		LogLevel:      "warn",
		LogFormat:     "console",
	}
}

// LoadClient applies the TOML file at path and then the environment on top
// of defaults. An empty path falls back to PLMSYNC_CONFIG; a missing file is
// only an error when the path was given explicitly.
func LoadClient(defaults *ClientOptions, path string, getenv func(string) string) (*ClientOptions, error) {
	opts := defaults
	required := path != ""
	if path == "" {
		path = firstEnv(getenv, "PLMSYNC_CONFIG", "CONFIG")
		required = path != ""
	}
	if path == "" {
		path = "plmsync.toml"
	}
	opts.Config = path
	if err := loadFile(path, opts, required); err != nil {
		return nil, err
	}

	setString(getenv, &opts.ServerURL, "PLMSYNC_SERVER_URL")
	setString(getenv, &opts.CertFile, "PLMSYNC_CERT")
	setString(getenv, &opts.KeyFile, "PLMSYNC_KEY")
	setString(getenv, &opts.CAFile, "PLMSYNC_CA")
	setString(getenv, &opts.SessionFile, "PLMSYNC_SESSION")
	setString(getenv, &opts.EditableState, "PLMSYNC_EDITABLE_STATE")
	setString(getenv, &opts.LogLevel, "PLMSYNC_LOG_LEVEL")
	if v := firstEnv(getenv, "PLMSYNC_CAD_COMMAND"); v != "" {
		opts.CadOpenCommand = strings.Fields(v)
	}
	if err := setDuration(getenv, &opts.CallTimeout, "PLMSYNC_CALL_TIMEOUT"); err != nil {
		return nil, err
	}

	if _, err := opts.Strategies(); err != nil {
		return nil, err
	}
	return opts, nil
}

// BindConnection registers the flags that locate the registry and identity.
func (o *ClientOptions) BindConnection(fs *flag.FlagSet) {
	fs.StringVar(&o.ServerURL, "url", o.ServerURL, "server base URL")
	fs.StringVar(&o.CertFile, "cert", o.CertFile, "path to client cert")
	fs.StringVar(&o.KeyFile, "key", o.KeyFile, "path to client key")
	fs.StringVar(&o.CAFile, "ca", o.CAFile, "path to CA cert")
}

// BindEngine registers the flags that tune synchronization.
func (o *ClientOptions) BindEngine(fs *flag.FlagSet) {
	fs.DurationVar(&o.CallTimeout, "timeout", o.CallTimeout, "timeout of each registry call")
	fs.StringVar(&o.EditableState, "editable-state", o.EditableState, "lifecycle state check-in accepts")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "log level")
}

// Strategies converts and validates the configured link strategies.
func (o *ClientOptions) Strategies() (map[models.ItemType][]engine.LinkMethod, error) {
	if len(o.LinkStrategies) == 0 {
		return nil, nil
	}
	out := make(map[models.ItemType][]engine.LinkMethod, len(o.LinkStrategies))
	for t, methods := range o.LinkStrategies {
		out[models.ItemType(t)] = methods
	}
	if err := engine.ValidateLinkStrategies(out); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return out, nil
}
