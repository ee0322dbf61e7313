package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendJSONFile = "jsonfile"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	Port                     string
	AllowedOrigin            string
	DataBackend              string
	DataDir                  string
	SQLitePath               string
	DatabaseURL              string
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	RestockCacheTTLSeconds   int
	AuthSecret               string
	AccessTokenTTLMinutes    int
	AdminPassword            string
	AlertWebhookURL          string
	AlertRatePerMinute       int
	SchedulerIntervalMinutes int
	LogLevel                 string
	LogDevelopment           bool
}

// source resolves a key from the environment first, then the optional YAML
// file named by STOCKROOM_CONFIG.
type source struct {
	file map[string]string
}

// Load reads the configuration. Keys in the YAML file are the environment
// variable names in lower case, e.g. data_backend: sqlite.
func Load() (Config, error) {
	src, err := newSource(os.Getenv("STOCKROOM_CONFIG"))
	if err != nil {
		return Config{}, err
	}

	backend := strings.ToLower(src.get("DATA_BACKEND", BackendJSONFile))
	switch backend {
	case BackendMemory, BackendJSONFile, BackendSQLite, BackendPostgres:
	default:
		return Config{}, fmt.Errorf("unknown DATA_BACKEND %q", backend)
	}

	cfg := Config{
		Port:                     src.get("PORT", "8080"),
		AllowedOrigin:            src.get("ALLOWED_ORIGIN", ""),
		DataBackend:              backend,
		DataDir:                  src.get("DATA_DIR", "./data"),
		SQLitePath:               src.get("SQLITE_PATH", ""),
		DatabaseURL:              src.get("DATABASE_URL", ""),
		RedisAddr:                src.get("REDIS_ADDR", ""),
		RedisPassword:            src.get("REDIS_PASSWORD", ""),
		RedisDB:                  src.getInt("REDIS_DB", 0, 0),
		RestockCacheTTLSeconds:   src.getInt("RESTOCK_CACHE_TTL_SECONDS", 60, 1),
		AuthSecret:               strings.TrimSpace(src.get("AUTH_SECRET", "")),
		AccessTokenTTLMinutes:    src.getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		AdminPassword:            strings.TrimSpace(src.get("ADMIN_PASSWORD", "")),
		AlertWebhookURL:          src.get("ALERT_WEBHOOK_URL", ""),
		AlertRatePerMinute:       src.getInt("ALERT_RATE_PER_MINUTE", 6, 1),
		SchedulerIntervalMinutes: src.getInt("SCHEDULER_INTERVAL_MINUTES", 60, 1),
		LogLevel:                 src.get("LOG_LEVEL", "info"),
		LogDevelopment:           src.getBool("LOG_DEVELOPMENT"),
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = strings.TrimRight(cfg.DataDir, "/") + "/stockroom.db"
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func newSource(path string) (source, error) {
	src := source{file: map[string]string{}}
	if strings.TrimSpace(path) == "" {
		return src, nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return src, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(body, &raw); err != nil {
		return src, fmt.Errorf("parse config file %s: %w", path, err)
	}
	for key, value := range raw {
		if value == nil {
			continue
		}
		src.file[strings.ToUpper(key)] = fmt.Sprint(value)
	}
	return src, nil
}

func (s source) get(key string, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if val, ok := s.file[key]; ok && val != "" {
		return val
	}
	return fallback
}

func (s source) getInt(key string, fallback int, min int) int {
	n, err := strconv.Atoi(s.get(key, strconv.Itoa(fallback)))
	if err != nil || n < min {
		return fallback
	}
	return n
}

func (s source) getBool(key string) bool {
	v, err := strconv.ParseBool(s.get(key, "false"))
	return err == nil && v
}
