// Package config resolves server settings: defaults, then an optional JSON
// file, then environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"golang.org/x/text/language"

	"postkeeper/internal/kv"
	"postkeeper/internal/remote"
	"postkeeper/internal/repository"
)

const (
	StoreLog      = "log"
	StoreBolt     = "bolt"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Duration reads either a Go duration string ("15s") or nanoseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or an integer: %s", b)
	}
	*d = Duration(n)
	return nil
}

type Config struct {
	HTTPAddr         string   `json:"http_addr"`
	RemoteURL        string   `json:"remote_url"`
	RemoteTimeout    Duration `json:"remote_timeout"`
	RemoteRetries    int      `json:"remote_retries"`
	Store            string   `json:"store"`
	DataDir          string   `json:"data_dir"`
	RedisAddr        string   `json:"redis_addr"`
	DatabaseURL      string   `json:"database_url"`
	LocalIDThreshold int      `json:"local_id_threshold"`
	KeyPrefix        string   `json:"key_prefix"`
	Collation        string   `json:"collation"`
	FeedBuffer       int      `json:"feed_buffer"`
}

func Default() Config {
	return Config{
		HTTPAddr:         "127.0.0.1:8080",
		RemoteURL:        remote.DefaultBaseURL,
		RemoteTimeout:    Duration(remote.DefaultTimeout),
		RemoteRetries:    2,
		Store:            StoreLog,
		DataDir:          "data",
		RedisAddr:        "localhost:6379",
		LocalIDThreshold: repository.DefaultLocalIDThreshold,
		KeyPrefix:        kv.DefaultPrefix,
		Collation:        "en",
		FeedBuffer:       64,
	}
}

func (c *Config) Normalize() {
	d := Default()

	if c.HTTPAddr == "" {
		c.HTTPAddr = d.HTTPAddr
	}
	if c.RemoteURL == "" {
		c.RemoteURL = d.RemoteURL
	}
	c.RemoteURL = strings.TrimRight(c.RemoteURL, "/")
	if c.RemoteTimeout <= 0 {
		c.RemoteTimeout = d.RemoteTimeout
	}
	if c.RemoteRetries < 0 {
		c.RemoteRetries = d.RemoteRetries
	}

	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	switch c.Store {
	case StoreLog, StoreBolt, StoreRedis, StorePostgres, StoreMemory:
	case "":
		c.Store = d.Store
	default:
		glog.Warningf("unknown store %q, using %q", c.Store, d.Store)
		c.Store = d.Store
	}

	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.RedisAddr == "" {
		c.RedisAddr = d.RedisAddr
	}
	if c.LocalIDThreshold <= 0 {
		c.LocalIDThreshold = d.LocalIDThreshold
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = d.KeyPrefix
	}
	if _, err := language.Parse(c.Collation); err != nil {
		if c.Collation != "" {
			glog.Warningf("bad collation %q, using %q: %v", c.Collation, d.Collation, err)
		}
		c.Collation = d.Collation
	}
	if c.FeedBuffer <= 0 {
		c.FeedBuffer = d.FeedBuffer
	}
}

// Language is the collation tag used to order text fields.
func (c Config) Language() language.Tag {
	tag, err := language.Parse(c.Collation)
	if err != nil {
		return language.English
	}
	return tag
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.RemoteTimeout)
}

// Load reads path over the defaults. A missing file is not an error; a
// malformed one is reported and the defaults are used.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	// unmarshalling over the defaults keeps them for absent keys
	if err := json.Unmarshal(b, &cfg); err != nil {
		glog.Warningf("malformed config %s, using defaults: %v", path, err)
		cfg = Default()
	}
	cfg.Normalize()
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	c.HTTPAddr = envOrDefault(getenv, "POSTKEEPER_HTTP_ADDR", c.HTTPAddr)
	c.RemoteURL = envOrDefault(getenv, "POSTKEEPER_REMOTE_URL", c.RemoteURL)
	c.Store = envOrDefault(getenv, "POSTKEEPER_STORE", c.Store)
	c.DataDir = envOrDefault(getenv, "POSTKEEPER_DATA_DIR", c.DataDir)
	c.RedisAddr = envOrDefault(getenv, "REDIS_ADDR", c.RedisAddr)
	c.DatabaseURL = envOrDefault(getenv, "DATABASE_URL", c.DatabaseURL)
	c.KeyPrefix = envOrDefault(getenv, "POSTKEEPER_KEY_PREFIX", c.KeyPrefix)
	c.Collation = envOrDefault(getenv, "POSTKEEPER_COLLATION", c.Collation)

	c.LocalIDThreshold = envInt(getenv, "POSTKEEPER_LOCAL_ID_THRESHOLD", c.LocalIDThreshold)
	c.RemoteRetries = envInt(getenv, "POSTKEEPER_REMOTE_RETRIES", c.RemoteRetries)
	c.FeedBuffer = envInt(getenv, "POSTKEEPER_FEED_BUFFER", c.FeedBuffer)

	if v := getenv("POSTKEEPER_REMOTE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			glog.Warningf("ignoring POSTKEEPER_REMOTE_TIMEOUT=%q: %v", v, err)
		} else {
			c.RemoteTimeout = Duration(d)
		}
	}
}

// Resolve loads path, applies the process environment and normalizes.
func Resolve(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv(os.Getenv)
	cfg.Normalize()
	return cfg, nil
}

func envOrDefault(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(getenv func(string) string, key string, def int) int {
	v := getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		glog.Warningf("ignoring %s=%q: %v", key, v, err)
		return def
	}
	return n
}
