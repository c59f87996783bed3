// Package config provides configuration management for breach using Viper
// for loading from files, environment variables, and command-line flags.
//
// Values are resolved from (highest first) flags, BREACH_* environment
// variables, a .env file, a .breach.yml config file, and defaults. The
// source file defaults to the first *.breach file in the working directory.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/conneroisu/breach/internal/errors"
)

const (
	// EnvPrefix prefixes every environment override, e.g. BREACH_SERVER_PORT.
	EnvPrefix = "BREACH"
	// ConfigFileEnv names a config file to use instead of .breach.yml.
	ConfigFileEnv = "BREACH_CONFIG_FILE"
	// SourceExt is the extension of source files.
	SourceExt = ".breach"
)

type Config struct {
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Source SourceConfig `mapstructure:"source" yaml:"source"`
	Build  BuildConfig  `mapstructure:"build" yaml:"build"`
	Watch  WatchConfig  `mapstructure:"watch" yaml:"watch"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host" yaml:"host"`
	Port           int      `mapstructure:"port" yaml:"port"`
	Open           bool     `mapstructure:"open" yaml:"open"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type SourceConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type BuildConfig struct {
	Debounce       time.Duration `mapstructure:"debounce" yaml:"debounce"`
	CompileTimeout time.Duration `mapstructure:"compile_timeout" yaml:"compile_timeout"`
	CacheSize      int           `mapstructure:"cache_size" yaml:"cache_size"`
	Parallel       bool          `mapstructure:"parallel" yaml:"parallel"`
	Minify         bool          `mapstructure:"minify" yaml:"minify"`
	Target         string        `mapstructure:"target" yaml:"target"`
}

type WatchConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Addr returns host:port for the HTTP listener. IPv6 hosts are bracketed.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.open", false)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("source.path", "")

	v.SetDefault("build.debounce", 100*time.Millisecond)
	v.SetDefault("build.compile_timeout", 10*time.Second)
	v.SetDefault("build.cache_size", 256)
	v.SetDefault("build.parallel", true)
	v.SetDefault("build.minify", false)
	v.SetDefault("build.target", "es2020")

	v.SetDefault("watch.poll_interval", time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Setup prepares v the way the CLI uses it: defaults, environment binding
// and config file lookup. cfgFile wins over BREACH_CONFIG_FILE, which wins
// over .breach.yml in dir. A missing config file is not an error.
func Setup(v *viper.Viper, cfgFile, dir string) error {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case cfgFile != "":
		v.SetConfigFile(cfgFile)
	case os.Getenv(ConfigFileEnv) != "":
		v.SetConfigFile(os.Getenv(ConfigFileEnv))
	default:
		v.AddConfigPath(dir)
		v.SetConfigType("yaml")
		v.SetConfigName(".breach")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.NewConfigError("reading config file: " + err.Error())
	}
	return nil
}

// LoadEnv loads a .env file from dir into the process environment. Existing
// variables are not overridden and a missing file is ignored.
func LoadEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.NewConfigError("loading " + path + ": " + err.Error())
	}
	return nil
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper(), ".")
}

// LoadFrom decodes v and validates the result.
func LoadFrom(v *viper.Viper, dir string) (*Config, error) {
	cfg, err := Decode(v, dir)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode unmarshals v and discovers the source file in dir when none is
// configured. The result is not validated.
func Decode(v *viper.Viper, dir string) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.NewConfigError("decoding configuration: " + err.Error())
	}

	if cfg.Source.Path == "" {
		path, err := Discover(dir)
		if err != nil {
			return nil, err
		}
		cfg.Source.Path = path
	}
	return &cfg, nil
}

// Discover returns the first *.breach file in dir in lexical order.
func Discover(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.NewConfigError("listing " + dir + ": " + err.Error())
	}

	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.EqualFold(filepath.Ext(entry.Name()), SourceExt) {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", errors.NewConfigError(fmt.Sprintf("no %s file found in %s; pass one as an argument or set source.path", SourceExt, dir))
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), nil
}
