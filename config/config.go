package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/lightspeed-rooms/globals"
)

const (
	defaultHistoryLimit    = 50
	defaultHistoryMaxLimit = 200
	defaultMaxContent      = 5000
	defaultDeletePolicy    = "author_or_owner"
	defaultVerifyTimeout   = 5 * time.Second
	defaultOpTimeout       = 10 * time.Second
	defaultMirrorTimeout   = 5 * time.Second
	defaultReconcileSpec   = "@every 1m"
	defaultSendBuffer      = 256
	defaultCacheSize       = 1024
)

// Config is the global configuration object which is filled via the configuration file, the environment
// (prefix LSROOMS_) and the command line.
type Config struct {
	AuthConfig        AuthConfig        `mapstructure:"auth"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	HistoryConfig     HistoryConfig     `mapstructure:"history"`
	ChatConfig        ChatConfig        `mapstructure:"chat"`
	PresenceConfig    PresenceConfig    `mapstructure:"presence"`
	ServerConfig      ServerConfig      `mapstructure:"server"`
	LogLevel          string            `mapstructure:"log_level"`
}

// AuthConfig configures token verification. Tokens are HS256 JWTs signed with JWTSecret; in addition any
// number of OpenID Connect providers may be configured, their ID tokens are accepted as well.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
	OIDCConfigs   []OIDCConfig  `mapstructure:"oidc"`
}

// An OIDCConfig object configures an OpenID Connect provider. UserClaim names the claim that carries the
// user id (default "sub").
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"` // f.e. "https://accounts.google.com", used for discovery
	UserClaim   string `mapstructure:"user_claim"`
}

// PersistenceConfig selects the persistence backend: "sqlite" or "postgres" (via gorm) or "buntdb".
type PersistenceConfig struct {
	Type            string        `mapstructure:"type"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	OpTimeout       time.Duration `mapstructure:"op_timeout"`
	CacheSize       int           `mapstructure:"cache_size"` // users/rooms LRU cache, 0 disables it
	FlockPath       string        `mapstructure:"flock_path"` // buntdb only, defaults to <dsn>.lock
}

// HistoryConfig bounds the number of messages returned by get_messages.
type HistoryConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// ChatConfig contains the message related settings. DeletePolicy is one of "author", "owner",
// "author_or_owner", "anyone" or "expr" (in which case DeletePolicyExpr is evaluated).
type ChatConfig struct {
	MaxContentLength int    `mapstructure:"max_content_length"`
	DeletePolicy     string `mapstructure:"delete_policy"`
	DeletePolicyExpr string `mapstructure:"delete_policy_expr"`
	SendBuffer       int    `mapstructure:"send_buffer"`
}

type PresenceConfig struct {
	ReconcileSpec string        `mapstructure:"reconcile_spec"` // cron spec, empty disables reconciliation
	MirrorTimeout time.Duration `mapstructure:"mirror_timeout"`
}

type ServerConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // "*" allows every origin
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flagSet.String("jwt-secret", "", "secret used to verify HS256 tokens")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.Replace(name, "-", "_", -1))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.verify_timeout", defaultVerifyTimeout)
	v.SetDefault("persistence.type", "buntdb")
	v.SetDefault("persistence.dsn", ":memory:")
	v.SetDefault("persistence.max_open_conns", 10)
	v.SetDefault("persistence.max_idle_conns", 5)
	v.SetDefault("persistence.conn_max_lifetime", time.Hour)
	v.SetDefault("persistence.op_timeout", defaultOpTimeout)
	v.SetDefault("persistence.cache_size", defaultCacheSize)
	v.SetDefault("history.default_limit", defaultHistoryLimit)
	v.SetDefault("history.max_limit", defaultHistoryMaxLimit)
	v.SetDefault("chat.max_content_length", defaultMaxContent)
	v.SetDefault("chat.delete_policy", defaultDeletePolicy)
	v.SetDefault("chat.send_buffer", defaultSendBuffer)
	v.SetDefault("presence.reconcile_spec", defaultReconcileSpec)
	v.SetDefault("presence.mirror_timeout", defaultMirrorTimeout)
	v.SetDefault("server.allowed_origins", []string{"*"})
}

// Default returns the configuration with every default applied, as if an empty file was read.
func Default() *Config {
	cfg, _ := ReadConfiguration("", nil)
	return cfg
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. It returns a Config
// object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		err := v.BindPFlags(flagSet)
		if err != nil {
			globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
		}
		if f := flagSet.Lookup("jwt_secret"); f != nil {
			_ = v.BindPFlag("auth.jwt_secret", f)
		}
	}
	v.SetEnvPrefix("LSROOMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		err = v.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			return nil, fmt.Errorf("could not read config: %w", err)
		}
	}
	cfg := Config{}
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	cfg.sanitize()

	globals.AppLogger.Debug("config", "all", v.AllSettings())
	return &cfg, nil
}

func (c *Config) sanitize() {
	if c.HistoryConfig.MaxLimit <= 0 {
		c.HistoryConfig.MaxLimit = defaultHistoryMaxLimit
	}
	if c.HistoryConfig.DefaultLimit <= 0 {
		c.HistoryConfig.DefaultLimit = defaultHistoryLimit
	}
	if c.HistoryConfig.DefaultLimit > c.HistoryConfig.MaxLimit {
		c.HistoryConfig.DefaultLimit = c.HistoryConfig.MaxLimit
	}
	if c.ChatConfig.MaxContentLength <= 0 {
		c.ChatConfig.MaxContentLength = defaultMaxContent
	}
	if c.ChatConfig.SendBuffer <= 0 {
		c.ChatConfig.SendBuffer = defaultSendBuffer
	}
	if c.AuthConfig.VerifyTimeout <= 0 {
		c.AuthConfig.VerifyTimeout = defaultVerifyTimeout
	}
	if c.PersistenceConfig.OpTimeout <= 0 {
		c.PersistenceConfig.OpTimeout = defaultOpTimeout
	}
	if c.PresenceConfig.MirrorTimeout <= 0 {
		c.PresenceConfig.MirrorTimeout = defaultMirrorTimeout
	}
	for i := range c.AuthConfig.OIDCConfigs {
		if c.AuthConfig.OIDCConfigs[i].UserClaim == "" {
			c.AuthConfig.OIDCConfigs[i].UserClaim = "sub"
		}
	}
}

// ClampLimit applies the history bounds: non-positive limits become the default, larger ones are cut to the max.
func (h HistoryConfig) ClampLimit(limit int) int {
	if limit <= 0 {
		return h.DefaultLimit
	}
	if limit > h.MaxLimit {
		return h.MaxLimit
	}
	return limit
}
