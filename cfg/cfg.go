package cfg

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}
func (s *Secret) UnmarshalYAML(n *yaml.Node) error {
	var v string
	if err := n.Decode(&v); err != nil {
		return err
	}
	*s = NewSecret(v)
	return nil
}

type Cfg struct {
	Port            string        `yaml:"port"`
	Environment     string        `yaml:"environment"`
	LogLevel        string        `yaml:"log_level"`
	TestMode        bool          `yaml:"test_mode"`
	BaseURL         string        `yaml:"base_url"`
	StoreDriver     string        `yaml:"store_driver"`
	DatabasePath    string        `yaml:"database_path"`
	DatabaseURL     Secret        `yaml:"database_url"`
	DBMaxOpenConns  int           `yaml:"db_max_open_conns"`
	DBMaxIdleConns  int           `yaml:"db_max_idle_conns"`
	DBQueryTimeout  time.Duration `yaml:"db_query_timeout"`
	RedisURL        string        `yaml:"redis_url"`
	RedisTLS        bool          `yaml:"redis_tls"`
	RedisUsername   string        `yaml:"redis_username"`
	RedisPassword   Secret        `yaml:"redis_password"`
	RedisTimeout    time.Duration `yaml:"redis_timeout"`
	RedisPrefix     string        `yaml:"redis_prefix"`
	LRUCacheSize    int           `yaml:"lru_cache_size"`
	TombstoneSize   int           `yaml:"tombstone_cache_size"`
	IDLength        int           `yaml:"id_length"`
	IDMaxAttempts   int           `yaml:"id_max_attempts"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	ContextTimeout  time.Duration `yaml:"context_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	MetricsUser     string        `yaml:"metrics_user"`
	MetricsPass     Secret        `yaml:"metrics_pass"`
	ContentKey      Secret        `yaml:"content_key"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func Default() *Cfg {
	return &Cfg{
		Port:            "8080",
		Environment:     "development",
		LogLevel:        "info",
		StoreDriver:     DriverSQLite,
		DatabasePath:    "pastebox.db",
		DBMaxOpenConns:  25,
		DBMaxIdleConns:  10,
		DBQueryTimeout:  5 * time.Second,
		RedisTimeout:    5 * time.Second,
		RedisPrefix:     "pastebox",
		LRUCacheSize:    1000,
		TombstoneSize:   10000,
		IDLength:        10,
		IDMaxAttempts:   5,
		SweepInterval:   10 * time.Minute,
		ContextTimeout:  5 * time.Second,
		TrustedProxies:  []string{},
		AllowedOrigins:  []string{},
		ShutdownTimeout: 30 * time.Second,
	}
}

// Load builds the config from defaults, then CONFIG_FILE (YAML) when set, then
// environment variables. Each layer overrides the previous one.
func Load() (*Cfg, error) {
	c := Default()
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, c); err != nil {
			return nil, err
		}
	}
	var err error
	c.Port = getEnv("PORT", c.Port)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	if c.TestMode, err = getBool("TEST_MODE", c.TestMode); err != nil {
		return nil, err
	}
	c.BaseURL = strings.TrimRight(getEnv("BASE_URL", c.BaseURL), "/")
	c.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", c.StoreDriver))
	c.DatabasePath = getEnv("DATABASE_PATH", c.DatabasePath)
	if v, ok := os.LookupEnv("DATABASE_URL"); ok {
		c.DatabaseURL = NewSecret(v)
	}
	if c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", c.DBMaxOpenConns); err != nil {
		return nil, err
	}
	if c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", c.DBMaxIdleConns); err != nil {
		return nil, err
	}
	if c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", c.DBQueryTimeout); err != nil {
		return nil, err
	}
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	if c.RedisTLS, err = getBool("REDIS_TLS", c.RedisTLS); err != nil {
		return nil, err
	}
	c.RedisUsername = getEnv("REDIS_USERNAME", c.RedisUsername)
	if v, ok := os.LookupEnv("REDIS_PASSWORD"); ok {
		c.RedisPassword = NewSecret(v)
	}
	if c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", c.RedisTimeout); err != nil {
		return nil, err
	}
	c.RedisPrefix = getEnv("REDIS_PREFIX", c.RedisPrefix)
	if c.LRUCacheSize, err = getInt("LRU_CACHE_SIZE", c.LRUCacheSize); err != nil {
		return nil, err
	}
	if c.TombstoneSize, err = getInt("TOMBSTONE_CACHE_SIZE", c.TombstoneSize); err != nil {
		return nil, err
	}
	if c.IDLength, err = getInt("ID_LENGTH", c.IDLength); err != nil {
		return nil, err
	}
	if c.IDMaxAttempts, err = getInt("ID_MAX_ATTEMPTS", c.IDMaxAttempts); err != nil {
		return nil, err
	}
	if c.SweepInterval, err = getDuration("SWEEP_INTERVAL", c.SweepInterval); err != nil {
		return nil, err
	}
	if c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", c.ContextTimeout); err != nil {
		return nil, err
	}
	if c.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout); err != nil {
		return nil, err
	}
	c.TrustedProxies = getSlice("TRUSTED_PROXIES", c.TrustedProxies)
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", c.AllowedOrigins)
	c.MetricsUser = getEnv("METRICS_USER", c.MetricsUser)
	if v, ok := os.LookupEnv("METRICS_PASS"); ok {
		c.MetricsPass = NewSecret(v)
	}
	if v, ok := os.LookupEnv("CONTENT_KEY"); ok {
		c.ContentKey = NewSecret(v)
	}
	return c, nil
}

func loadFile(path string, c *Cfg) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open config file")
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return errors.Wrap(err, "decode config file")
	}
	return nil
}

func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	switch c.StoreDriver {
	case DriverSQLite:
		if c.DatabasePath == "" {
			return errors.New("DATABASE_PATH is required for the sqlite store")
		}
	case DriverPostgres:
		if c.DatabaseURL.Value() == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case DriverRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis store")
		}
	case DriverMemory:
		if c.Environment == "production" {
			return errors.New("the memory store is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("BASE_URL must be an absolute URL")
		}
	}
	if c.DBMaxOpenConns <= 0 {
		return errors.New("DB_MAX_OPEN_CONNS must be positive")
	}
	if c.DBQueryTimeout <= 0 {
		return errors.New("DB_QUERY_TIMEOUT must be positive")
	}
	if c.LRUCacheSize < 0 {
		return errors.New("LRU_CACHE_SIZE must not be negative")
	}
	if c.TombstoneSize < 0 {
		return errors.New("TOMBSTONE_CACHE_SIZE must not be negative")
	}
	if c.IDLength < 6 || c.IDLength > 32 {
		return errors.New("ID_LENGTH must be between 6 and 32")
	}
	if c.IDMaxAttempts < 1 || c.IDMaxAttempts > 10 {
		return errors.New("ID_MAX_ATTEMPTS must be between 1 and 10")
	}
	if c.SweepInterval < 0 {
		return errors.New("SWEEP_INTERVAL must not be negative")
	}
	if c.ContextTimeout <= 0 {
		return errors.New("CONTEXT_TIMEOUT must be positive")
	}
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in TRUSTED_PROXIES: %s", proxy)
			}
		} else {
			if net.ParseIP(proxy) == nil {
				return fmt.Errorf("invalid IP in TRUSTED_PROXIES: %s", proxy)
			}
		}
	}
	if c.Environment == "production" {
		if c.TestMode {
			return errors.New("TEST_MODE must not be enabled in production")
		}
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	return nil
}
func (c *Cfg) Wipe() {
	c.DatabaseURL.Wipe()
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
	c.ContentKey.Wipe()
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, fallback bool) (bool, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
