package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matthewwall/weewx-emoncms/internal/emoncms"
	"github.com/matthewwall/weewx-emoncms/internal/units"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	// EmonCMS upload parameters.
	Token            string
	ServerURL        string
	Node             string
	Prefix           string
	AppendUnitsLabel bool
	UploadAll        bool
	InputsFile       string
	Inputs           map[string]emoncms.Override
	UnitSystem       int // 0 = keep each record's native system
	SkipUpload       bool
	AugmentRecord    bool

	// Timing and retry knobs.
	PostInterval time.Duration
	MaxBacklog   int
	Stale        time.Duration
	Timeout      time.Duration
	MaxTries     int
	RetryWait    time.Duration
	LogSuccess   bool
	LogFailure   bool

	// Intake.
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTTopic    string

	// Archive store used for record augmentation.
	SQLitePath            string
	SQLiteDSN             string
	SQLiteMaxOpenConns    int
	SQLiteMaxIdleConns    int
	SQLiteConnMaxLifetime time.Duration
}

func LoadFromEnv() (Config, error) {
	var cfg Config
	var err error

	cfg.AppEnv = envStr("APP_ENV", "dev")
	switch cfg.AppEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", cfg.AppEnv)
	}

	cfg.LogLevel, err = parseLogLevel(envStr("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	cfg.HTTPAddr = envStr("HTTP_ADDR", ":8080")

	cfg.Token = envStr("EMONCMS_TOKEN", "")
	if cfg.Token == "" {
		return Config{}, fmt.Errorf("missing option EMONCMS_TOKEN: data will not be uploaded")
	}

	cfg.ServerURL = envStr("EMONCMS_URL", emoncms.DefaultServerURL)

	cfg.Node = envStr("EMONCMS_NODE", "")
	if cfg.Node != "" {
		if _, err := strconv.Atoi(cfg.Node); err != nil {
			return Config{}, fmt.Errorf("invalid EMONCMS_NODE %q: %w", cfg.Node, err)
		}
	}

	cfg.Prefix = envStr("EMONCMS_PREFIX", "")

	if cfg.AppendUnitsLabel, err = envBool("APPEND_UNITS_LABEL", true); err != nil {
		return Config{}, err
	}

	obsToUpload := envStr("OBS_TO_UPLOAD", "all")
	switch strings.ToLower(obsToUpload) {
	case "all":
		cfg.UploadAll = true
	case "inputs":
		cfg.UploadAll = false
	default:
		return Config{}, fmt.Errorf("invalid OBS_TO_UPLOAD %q (allowed: all, inputs)", obsToUpload)
	}

	cfg.InputsFile = envStr("INPUTS_FILE", "")
	if cfg.InputsFile != "" {
		cfg.Inputs, err = LoadInputs(cfg.InputsFile)
		if err != nil {
			return Config{}, err
		}
	}
	if !cfg.UploadAll && len(cfg.Inputs) == 0 {
		return Config{}, fmt.Errorf("OBS_TO_UPLOAD=inputs requires a non-empty INPUTS_FILE")
	}

	if usn := envStr("UNIT_SYSTEM", ""); usn != "" {
		cfg.UnitSystem, err = units.SystemByName(usn)
		if err != nil {
			return Config{}, fmt.Errorf("invalid UNIT_SYSTEM: %w", err)
		}
	}

	if cfg.SkipUpload, err = envBool("SKIP_UPLOAD", false); err != nil {
		return Config{}, err
	}
	if cfg.AugmentRecord, err = envBool("AUGMENT_RECORD", true); err != nil {
		return Config{}, err
	}

	if cfg.PostInterval, err = envDuration("POST_INTERVAL", "0s"); err != nil {
		return Config{}, err
	}
	if cfg.MaxBacklog, err = envInt("MAX_BACKLOG", 1000); err != nil {
		return Config{}, err
	}
	if cfg.MaxBacklog < 1 {
		return Config{}, fmt.Errorf("MAX_BACKLOG must be positive, got %d", cfg.MaxBacklog)
	}
	if cfg.Stale, err = envDuration("STALE", "0s"); err != nil {
		return Config{}, err
	}
	if cfg.Timeout, err = envDuration("TIMEOUT", "60s"); err != nil {
		return Config{}, err
	}
	if cfg.MaxTries, err = envInt("MAX_TRIES", 3); err != nil {
		return Config{}, err
	}
	if cfg.MaxTries < 1 {
		return Config{}, fmt.Errorf("MAX_TRIES must be positive, got %d", cfg.MaxTries)
	}
	if cfg.RetryWait, err = envDuration("RETRY_WAIT", "5s"); err != nil {
		return Config{}, err
	}
	if cfg.LogSuccess, err = envBool("LOG_SUCCESS", true); err != nil {
		return Config{}, err
	}
	if cfg.LogFailure, err = envBool("LOG_FAILURE", true); err != nil {
		return Config{}, err
	}

	cfg.MQTTBroker = envStr("MQTT_BROKER", "localhost")
	if cfg.MQTTPort, err = envInt("MQTT_PORT", 1883); err != nil {
		return Config{}, err
	}
	cfg.MQTTClientID = envStr("MQTT_CLIENT_ID", "emonbridge")
	cfg.MQTTTopic = envStr("MQTT_TOPIC", "weather/archive")

	cfg.SQLitePath = envStr("SQLITE_PATH", "data/archive.db")
	cfg.SQLiteDSN = envStr("SQLITE_DSN", "")
	if cfg.SQLiteMaxOpenConns, err = envInt("DB_MAX_OPEN_CONNS", 1); err != nil {
		return Config{}, err
	}
	if cfg.SQLiteMaxIdleConns, err = envInt("DB_MAX_IDLE_CONNS", 1); err != nil {
		return Config{}, err
	}
	if cfg.SQLiteConnMaxLifetime, err = envDuration("DB_CONN_MAX_LIFETIME", "0s"); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadInputs reads the per-observation override table: a YAML mapping from
// observation key to optional name, format and units.
func LoadInputs(path string) (map[string]emoncms.Override, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("inputs file: %w", err)
	}
	inputs := make(map[string]emoncms.Override)
	if err := yaml.Unmarshal(raw, &inputs); err != nil {
		return nil, fmt.Errorf("inputs file %s: %w", path, err)
	}
	return inputs, nil
}

func envStr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envDuration(key, def string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		v = def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
