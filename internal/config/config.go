package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration for the integration relay.
type Config struct {
	App         AppConfig
	Kafka       KafkaConfig
	Topics      TopicConfig
	Reprocess   ReprocessConfig
	Persistence PersistenceConfig
	Gateway     GatewayConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	OpsPort  int
	LogLevel string
}

// KafkaConfig defines broker information and consumer group naming. Retry
// lane consumers derive their group id by appending the reprocess suffix so
// primary and retry deliveries never share offsets.
type KafkaConfig struct {
	Brokers             []string
	GroupID             string
	ReprocessSuffix     string
	CommitOnSuccessOnly bool
}

// TopicSet groups the four topics that make up one domain flow.
type TopicSet struct {
	Input  string
	Output string
	Retry  string
	DLQ    string
}

// TopicConfig enumerates the topics for each supported event kind.
type TopicConfig struct {
	Prefix  string
	Order   TopicSet
	Invoice TopicSet
}

// ReprocessConfig controls the failure registry.
type ReprocessConfig struct {
	MaxAttempts         int
	CooldownSeconds     int
	FailureHistoryLimit int
}

// PersistenceConfig controls the blocking write-retry loop and the bounded
// in-memory stores.
type PersistenceConfig struct {
	RetryBaseMs int
	RetryMaxMs  int
	StoreLimit  int
}

// GatewayConfig tunes the resilience policies around synchronous publishing.
type GatewayConfig struct {
	PublishTimeoutSeconds int
	MaxConcurrent         int
	MaxRetries            int
	RetryBackoffMs        int
	BreakerFailureRate    float64
	BreakerMinRequests    int
	BreakerOpenSeconds    int
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.OpsPort = ldr.getInt("OPS_PORT", 8080, false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", true)
	cfg.Kafka.GroupID = ldr.getString("KAFKA_GROUP_ID", "integrador-group", false)
	cfg.Kafka.ReprocessSuffix = ldr.getString("KAFKA_REPROCESS_SUFFIX", "-reprocessamento", false)
	cfg.Kafka.CommitOnSuccessOnly = ldr.getBool("COMMIT_ON_SUCCESS_ONLY", true, false)

	prefix := ldr.getString("TOPIC_PREFIX", "integrador", false)
	cfg.Topics.Prefix = prefix
	cfg.Topics.Order = TopicSet{
		Input:  ldr.getString("ORDER_INPUT_TOPIC", prefix+".pedido.recebido", false),
		Output: ldr.getString("ORDER_OUTPUT_TOPIC", prefix+".pedido.processado", false),
		Retry:  ldr.getString("ORDER_RETRY_TOPIC", prefix+".pedido.retry", false),
		DLQ:    ldr.getString("ORDER_DLQ_TOPIC", prefix+".pedido.dlq", false),
	}
	cfg.Topics.Invoice = TopicSet{
		Input:  ldr.getString("INVOICE_INPUT_TOPIC", prefix+".nota.recebido", false),
		Output: ldr.getString("INVOICE_OUTPUT_TOPIC", prefix+".nota.processado", false),
		Retry:  ldr.getString("INVOICE_RETRY_TOPIC", prefix+".nota.retry", false),
		DLQ:    ldr.getString("INVOICE_DLQ_TOPIC", prefix+".nota.dlq", false),
	}

	cfg.Reprocess.MaxAttempts = ldr.getInt("REPROCESS_MAX_ATTEMPTS", 5, false)
	cfg.Reprocess.CooldownSeconds = ldr.getInt("REPROCESS_COOLDOWN_SECONDS", 60, false)
	cfg.Reprocess.FailureHistoryLimit = ldr.getInt("FAILURE_HISTORY_LIMIT", 1000, false)

	cfg.Persistence.RetryBaseMs = ldr.getInt("PERSISTENCE_RETRY_BASE_MS", 5000, false)
	cfg.Persistence.RetryMaxMs = ldr.getInt("PERSISTENCE_RETRY_MAX_MS", 30000, false)
	cfg.Persistence.StoreLimit = ldr.getInt("STORE_LIMIT", 500, false)

	cfg.Gateway.PublishTimeoutSeconds = ldr.getInt("PUBLISH_TIMEOUT_SECONDS", 10, false)
	cfg.Gateway.MaxConcurrent = ldr.getInt("PUBLISH_MAX_CONCURRENT", 25, false)
	cfg.Gateway.MaxRetries = ldr.getInt("PUBLISH_MAX_RETRIES", 3, false)
	cfg.Gateway.RetryBackoffMs = ldr.getInt("PUBLISH_RETRY_BACKOFF_MS", 250, false)
	cfg.Gateway.BreakerFailureRate = ldr.getFloat("BREAKER_FAILURE_RATE", 0.5, false)
	cfg.Gateway.BreakerMinRequests = ldr.getInt("BREAKER_MIN_REQUESTS", 10, false)
	cfg.Gateway.BreakerOpenSeconds = ldr.getInt("BREAKER_OPEN_SECONDS", 30, false)

	if cfg.Reprocess.MaxAttempts < 1 {
		ldr.addError("REPROCESS_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Reprocess.FailureHistoryLimit < 1 {
		ldr.addError("FAILURE_HISTORY_LIMIT must be >= 1")
	}

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Set returns the topic set configured for the given kind name. The second
// return value is false for unknown kinds.
func (t TopicConfig) Set(kind string) (TopicSet, bool) {
	switch kind {
	case "ORDER":
		return t.Order, true
	case "INVOICE":
		return t.Invoice, true
	default:
		return TopicSet{}, false
	}
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	raw := l.getString(key, "", required)
	if raw == "" {
		return def
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid integer", key))
		return def
	}
	return i
}

func (l *envLoader) getFloat(key string, def float64, required bool) float64 {
	raw := l.getString(key, "", required)
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid number", key))
		return def
	}
	return f
}

func (l *envLoader) getBool(key string, def bool, required bool) bool {
	raw := l.getString(key, "", required)
	if raw == "" {
		return def
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid boolean", key))
		return def
	}
	return parsed
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		if required {
			return nil
		}
		return []string{}
	}
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
