package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/apruden/wapplibre-server/internal/engine"
	"github.com/apruden/wapplibre-server/internal/pipeline"
)

// EnvPrefix prefixes environment overrides: WAPPLIBRE_DATA_DIR, ...
const EnvPrefix = "WAPPLIBRE"

// Config keys. Each key is also a flag name.
const (
	keyDataDir           = "data-dir"
	keySchemaDir         = "schema-dir"
	keyLogLevel          = "log-level"
	keyListen            = "listen"
	keyCORSOrigins       = "cors-origins"
	keyBodyLimit         = "body-limit"
	keyWatchSchemas      = "watch-schemas"
	keyPropagateWrites   = "propagate-writes"
	keyWebhookURL        = "webhook-url"
	keyWebhookTimeout    = "webhook-timeout"
	keyWebhookRetries    = "webhook-retries"
	keyBatchSize         = "batch-size"
	keyIdleTimeout       = "idle-timeout"
	keyErrorPause        = "error-pause"
	keyReconcileSchedule = "reconcile-schedule"
	keyReconcileBatch    = "reconcile-batch"
)

// Config is the resolved process configuration.
//
// Precedence: flags > WAPPLIBRE_* environment > config file > defaults.
type Config struct {
	DataDir   string `mapstructure:"data-dir"`
	SchemaDir string `mapstructure:"schema-dir"`
	LogLevel  string `mapstructure:"log-level"`

	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors-origins"`
	BodyLimit   string   `mapstructure:"body-limit"`

	WatchSchemas    bool `mapstructure:"watch-schemas"`
	PropagateWrites bool `mapstructure:"propagate-writes"`

	WebhookURL     string        `mapstructure:"webhook-url"`
	WebhookTimeout time.Duration `mapstructure:"webhook-timeout"`
	WebhookRetries int           `mapstructure:"webhook-retries"`

	BatchSize   int           `mapstructure:"batch-size"`
	IdleTimeout time.Duration `mapstructure:"idle-timeout"`
	ErrorPause  time.Duration `mapstructure:"error-pause"`

	// ReconcileSchedule is a cron expression ("@every 1h"); empty disables
	// periodic reconciliation.
	ReconcileSchedule string `mapstructure:"reconcile-schedule"`
	ReconcileBatch    int    `mapstructure:"reconcile-batch"`
}

// EntityDBPath is the SQLite file of the entity store.
func (c Config) EntityDBPath() string {
	return filepath.Join(c.DataDir, "entity.db")
}

// IndexDBPath is the SQLite file of the search index.
func (c Config) IndexDBPath() string {
	return filepath.Join(c.DataDir, "index.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyDataDir, "./data")
	v.SetDefault(keySchemaDir, "resources/schemas")
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyListen, "localhost:8000")
	v.SetDefault(keyCORSOrigins, []string{"http://localhost:5173"})
	v.SetDefault(keyBodyLimit, "4M")
	v.SetDefault(keyWatchSchemas, false)
	v.SetDefault(keyPropagateWrites, false)
	v.SetDefault(keyWebhookURL, "")
	v.SetDefault(keyWebhookTimeout, 10*time.Second)
	v.SetDefault(keyWebhookRetries, 3)
	v.SetDefault(keyBatchSize, engine.DefaultBatchSize)
	v.SetDefault(keyIdleTimeout, engine.DefaultIdleTimeout)
	v.SetDefault(keyErrorPause, engine.DefaultErrorPause)
	v.SetDefault(keyReconcileSchedule, "")
	v.SetDefault(keyReconcileBatch, pipeline.DefaultReconcileBatch)
}

// loadConfig resolves the configuration for a command.
//
// When file is empty, ./wapplibre.yaml is read if present.
func loadConfig(v *viper.Viper, flags *pflag.FlagSet, file string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("wapplibre")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	return cfg, nil
}

// splitList flattens comma separated entries, as set through the
// environment.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
