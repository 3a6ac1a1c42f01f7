// Package config loads gorupad settings from defaults, an optional config
// file, a .env file, GORUPAD_* environment variables and command flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "GORUPAD"

type Config struct {
	Lang     string         `mapstructure:"lang"`
	Packages PackagesConfig `mapstructure:"packages"`
	Python   PythonConfig   `mapstructure:"python"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Run      RunConfig      `mapstructure:"run"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Serve    ServeConfig    `mapstructure:"serve"`
	Net      NetConfig      `mapstructure:"net"`
	Log      LogConfig      `mapstructure:"log"`
}

type PackagesConfig struct {
	Dir      string   `mapstructure:"dir"`      // JavaScript module directory
	PyDir    string   `mapstructure:"pydir"`    // Python wheel extraction directory
	Registry string   `mapstructure:"registry"` // Remote CommonJS registry; empty is offline
	PyPI     string   `mapstructure:"pypi"`
	Allow    []string `mapstructure:"allow"` // Empty allows every valid name
}

type PythonConfig struct {
	WASM        string `mapstructure:"wasm"`
	MemoryPages uint32 `mapstructure:"memory_pages"` // 64KiB pages, 0 = runtime default
}

type CacheConfig struct {
	Dir string `mapstructure:"dir"` // Empty disables the compilation cache
}

type RunConfig struct {
	Timeout time.Duration `mapstructure:"timeout"` // 0 means no limit
}

// Worker modes.
const (
	ModeInProc  = "inproc"
	ModeProcess = "process"
	ModeRemote  = "remote"
)

type WorkerConfig struct {
	Mode string `mapstructure:"mode"`
	URL  string `mapstructure:"url"` // ws:// endpoint for remote mode
}

type ServeConfig struct {
	Addr    string   `mapstructure:"addr"`
	Origins []string `mapstructure:"origins"`
}

// NetConfig lists the hosts scripts may reach through goru.http. Empty
// disables outbound requests.
type NetConfig struct {
	Allow []string `mapstructure:"allow"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Dev   bool   `mapstructure:"dev"`
}

func Default() Config {
	return Config{
		Lang: "javascript",
		Packages: PackagesConfig{
			Dir:   ".gorupad/js/packages",
			PyDir: ".gorupad/python/packages",
			PyPI:  "https://pypi.org/pypi",
		},
		Python: PythonConfig{WASM: ".gorupad/python/python.wasm"},
		Cache:  CacheConfig{Dir: ".gorupad/cache"},
		Worker: WorkerConfig{Mode: ModeInProc},
		Serve:  ServeConfig{Addr: "127.0.0.1:8080"},
		Log:    LogConfig{Level: "warn"},
	}
}

// flagKeys maps command flags to the keys they override.
var flagKeys = map[string]string{
	"lang":                "lang",
	"packages":            "packages.dir",
	"py-packages":         "packages.pydir",
	"registry":            "packages.registry",
	"pypi":                "packages.pypi",
	"allow-pkg":           "packages.allow",
	"allow-host":          "net.allow",
	"python-wasm":         "python.wasm",
	"python-memory-pages": "python.memory_pages",
	"cache-dir":           "cache.dir",
	"timeout":             "run.timeout",
	"worker":              "worker.mode",
	"worker-url":          "worker.url",
	"addr":                "serve.addr",
	"origin":              "serve.origins",
	"log-level":           "log.level",
	"log-dev":             "log.dev",
}

// Load builds the configuration. path names a config file and must exist
// when set; otherwise gorupad.yaml is looked up in the working directory and
// is optional. Only flags the user actually set override other sources.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	def := Default()
	v := viper.New()
	v.SetDefault("lang", def.Lang)
	v.SetDefault("packages.dir", def.Packages.Dir)
	v.SetDefault("packages.pydir", def.Packages.PyDir)
	v.SetDefault("packages.registry", def.Packages.Registry)
	v.SetDefault("packages.pypi", def.Packages.PyPI)
	v.SetDefault("packages.allow", def.Packages.Allow)
	v.SetDefault("python.wasm", def.Python.WASM)
	v.SetDefault("python.memory_pages", def.Python.MemoryPages)
	v.SetDefault("cache.dir", def.Cache.Dir)
	v.SetDefault("run.timeout", def.Run.Timeout)
	v.SetDefault("worker.mode", def.Worker.Mode)
	v.SetDefault("worker.url", def.Worker.URL)
	v.SetDefault("serve.addr", def.Serve.Addr)
	v.SetDefault("serve.origins", def.Serve.Origins)
	v.SetDefault("net.allow", def.Net.Allow)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.dev", def.Log.Dev)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("gorupad")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Lang = canonicalLang(cfg.Lang)
	return cfg, cfg.Validate()
}

func canonicalLang(lang string) string {
	switch strings.ToLower(lang) {
	case "js", "javascript":
		return "javascript"
	case "py", "python":
		return "python"
	}
	return lang
}

func (c Config) Validate() error {
	switch c.Lang {
	case "javascript", "python":
	default:
		return fmt.Errorf("unknown language %q: use python or javascript", c.Lang)
	}
	switch c.Worker.Mode {
	case ModeInProc, ModeProcess:
	case ModeRemote:
		if c.Worker.URL == "" {
			return errors.New("worker.url is required in remote mode")
		}
	default:
		return fmt.Errorf("unknown worker mode %q: use inproc, process or remote", c.Worker.Mode)
	}
	if c.Run.Timeout < 0 {
		return errors.New("run.timeout must not be negative")
	}
	return nil
}
