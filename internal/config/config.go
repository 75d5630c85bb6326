// Package config loads the TOML configuration file and keeps it hot
// reloadable: the external interfaces (auth providers, MOTD, limitations,
// advanced-user seed data) are swapped in place on a file change without
// restarting any listener.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"cosmowire/server/internal/auth"
)

// DefaultConfigPath matches the CONFIG environment variable's documented
// default.
const DefaultConfigPath = "config.toml"

// MOTD mirrors the configuration schema's motd table.
type MOTD struct {
	DisplayServerInfo bool   `mapstructure:"displayServerInfo"`
	CustomText        string `mapstructure:"customText"`
	SInfoUptime       bool   `mapstructure:"sInfoUptime"`
	SInfoAuthClients  bool   `mapstructure:"sInfoAuthClients"`
	SInfoDrawIndent   bool   `mapstructure:"sInfoDrawIndent"`
}

// Limitations mirrors the configuration schema's limitations table.
type Limitations struct {
	MaxAvatarSize int `mapstructure:"maxAvatarSize"` // KiB
	MaxAvatars    int `mapstructure:"maxAvatars"`
}

// AdvancedUser mirrors one entry of the configuration schema's
// advancedUsers map.
type AdvancedUser struct {
	Username string `mapstructure:"username"`
	Banned   bool   `mapstructure:"banned"`
	Special  [6]int `mapstructure:"special"`
	Pride    [25]int `mapstructure:"pride"`
}

// Config is the fully-parsed configuration file.
type Config struct {
	Listen        string                  `mapstructure:"listen"`
	Token         string                  `mapstructure:"token"`
	MOTD          MOTD                    `mapstructure:"motd"`
	AuthProviders []auth.Provider         `mapstructure:"authProviders"`
	Limitations   Limitations             `mapstructure:"limitations"`
	McFolder      string                  `mapstructure:"mcFolder"`
	AdvancedUsers map[string]AdvancedUser `mapstructure:"advancedUsers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("limitations.maxAvatarSize", 1024)
	v.SetDefault("limitations.maxAvatars", 1)
	v.SetDefault("authProviders", []map[string]string{
		{"name": "Mojang", "url": "https://sessionserver.mojang.com/session/minecraft/hasJoined"},
		{"name": "Ely.by", "url": "https://authserver.ely.by/session/hasJoined"},
	})
}

// Loader owns the live Config and reacts to file changes.
type Loader struct {
	mu     sync.RWMutex
	cfg    Config
	v      *viper.Viper
	onLoad []func(Config)
}

// Load reads the TOML file at path (or DefaultConfigPath if empty),
// validates it, and returns a Loader for it. Hot reload starts only once
// Watch is called.
func Load(path string) (*Loader, error) {
	if path == "" {
		if env := os.Getenv("CONFIG"); env != "" {
			path = env
		} else {
			path = DefaultConfigPath
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setDefaults(v)

	v.SetEnvPrefix("COSMOWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		// Missing file: rely on defaults + env vars, matching the
		// graceful-degradation behavior of the ambient config loader this
		// is grounded on.
		slog.Warn("config file not found, using defaults", "path", path)
	}

	l := &Loader{v: v}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Loader) reload() error {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	if len(cfg.AuthProviders) == 0 {
		cfg.AuthProviders = auth.DefaultProviders()
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("config: validate: %w", err)
	}

	l.mu.Lock()
	l.cfg = cfg
	callbacks := append([]func(Config){}, l.onLoad...)
	l.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
	return nil
}

func (c Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Limitations.MaxAvatarSize <= 0 {
		return fmt.Errorf("limitations.maxAvatarSize must be positive")
	}
	return nil
}

// Current returns a snapshot of the live config.
func (l *Loader) Current() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Providers adapts Current().AuthProviders for internal/auth's indirection
// hook, so a reload takes effect on the next /verify without restarting
// anything.
func (l *Loader) Providers() []auth.Provider {
	return l.Current().AuthProviders
}

// OnReload registers a callback invoked after every successful reload,
// including the initial Load. Used to re-apply advancedUsers into the user
// manager.
func (l *Loader) OnReload(fn func(Config)) {
	l.mu.Lock()
	l.onLoad = append(l.onLoad, fn)
	l.mu.Unlock()
	fn(l.Current())
}

// Watch starts viper's fsnotify-backed file watch; OnReload callbacks fire
// on every subsequent change. Call once after registering every OnReload
// callback.
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if err := l.reload(); err != nil {
			// Best-effort: keep serving the last-known-good config rather
			// than crashing on a bad edit.
			slog.Error("config reload failed, keeping previous config", "file", e.Name, "err", err)
			return
		}
		slog.Info("config reloaded", "file", e.Name)
	})
	l.v.WatchConfig()
}
