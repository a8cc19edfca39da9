package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "GIFBLOCK_"

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Listen is the UDP address thumbnail suppliers send requests to.
	Listen string `koanf:"listen" validate:"required,host_port"`

	// MetricsAddr serves /metrics over HTTP when set.
	MetricsAddr string `koanf:"metrics_addr" validate:"omitempty,host_port"`

	// StoreBackend selects the persistent key-value store.
	StoreBackend string `koanf:"store_backend" validate:"required,oneof=bolt redis memory"`
	StorePath    string `koanf:"store_path" validate:"required_if=StoreBackend bolt"`

	RedisAddr     string `koanf:"redis_addr" validate:"required_if=StoreBackend redis,omitempty,host_port"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db" validate:"gte=0"`
	RedisPrefix   string `koanf:"redis_prefix"`

	// ComputeBackend selects where fingerprints are computed: a child
	// process running the hash worker, or a goroutine in this process.
	ComputeBackend string `koanf:"compute_backend" validate:"required,oneof=subprocess inproc"`

	// WorkerCommand overrides the hash worker command line. Empty means this
	// binary with the hash-worker subcommand.
	WorkerCommand     []string `koanf:"worker_command"`
	WorkerConcurrency int      `koanf:"worker_concurrency" validate:"gte=1,lte=64"`

	IdleTimeout    time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
	InitGrace      time.Duration `koanf:"init_grace" validate:"gte=0"`
	FetchTimeout   time.Duration `koanf:"fetch_timeout" validate:"gt=0"`
	FetchMaxBytes  int64         `koanf:"fetch_max_bytes" validate:"gte=1024"`

	CacheCapacity   int           `koanf:"cache_capacity" validate:"gte=1"`
	PersistDebounce time.Duration `koanf:"persist_debounce" validate:"gt=0"`

	MatchThreshold    int     `koanf:"match_threshold" validate:"gte=1,lte=256"`
	DecisionCacheSize int     `koanf:"decision_cache_size" validate:"gte=0"`
	BloomFPRate       float64 `koanf:"bloom_fp_rate" validate:"gt=0,lt=1"`
}

// DEFAULT_APP_CONFIG holds the tuned defaults: a 5000 entry fingerprint
// cache, a 1000 entry decision cache, threshold 12, 30s idle, 10s request
// timeout, 100ms init grace and a 1s persist debounce.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:               "prod",
	LogLevel:          "info",
	Listen:            "127.0.0.1:7878",
	StoreBackend:      "bolt",
	StorePath:         "/var/lib/gifblock/gifblock.db",
	RedisPrefix:       "gifblock:",
	ComputeBackend:    "subprocess",
	WorkerConcurrency: 4,
	IdleTimeout:       30 * time.Second,
	RequestTimeout:    10 * time.Second,
	InitGrace:         100 * time.Millisecond,
	FetchTimeout:      8 * time.Second,
	FetchMaxBytes:     8 << 20,
	CacheCapacity:     5000,
	PersistDebounce:   time.Second,
	MatchThreshold:    12,
	DecisionCacheSize: 1000,
	BloomFPRate:       0.001,
}

// validHostPort accepts "host:port" and ":port" with a port in 1..65535.
// The host may be an IP address or a name.
func validHostPort(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if host != "" && net.ParseIP(host) == nil && strings.ContainsAny(host, " /") {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0
}

// envLoader loads variables with the GIFBLOCK_ prefix. Keys lose the prefix
// and are lowercased; values containing spaces or commas become lists.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("host_port", validHostPort)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
