package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			URL: "sqlite://" + ExpandHome("~/.clawboard/clawboard.db"),
		},
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8780,
		},
		Event: EventConfig{
			Buffer:          500,
			SubscriberQueue: 500,
		},
		Ingest: IngestConfig{
			PollSeconds: 2,
			Batch:       50,
		},
		Snooze: SnoozeConfig{
			PollSeconds: 15,
		},
		Classifier: ClassifierConfig{
			IntervalSeconds:        20,
			MaxAttempts:            5,
			WindowSize:             20,
			LookbackLogs:           200,
			TopicSimThreshold:      0.78,
			TaskSimThreshold:       0.78,
			EmbedModel:             "text-embedding-3-small",
			LockPath:               ExpandHome("~/.clawboard/classifier.lock"),
			SessionRoutingMaxItems: 20,
		},
		Vector: VectorConfig{
			DBPath:           ExpandHome("~/.clawboard/vectors.db"),
			QdrantDim:        1536,
			QdrantTimeoutSec: 10,
		},
		Search: SearchConfig{
			BM25K1:              1.2,
			BM25B:               0.75,
			RRFK:                60,
			RerankVectorWeight:  0.72,
			RerankLexicalWeight: 0.28,
		},
		Attachments: AttachmentsConfig{
			Dir:      ExpandHome("~/.clawboard/attachments"),
			MaxBytes: 25 * 1024 * 1024,
		},
		ReindexQueuePath: ExpandHome("~/.clawboard/reindex-queue.jsonl"),
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error: defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values, matching the documented environment surface.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envInt64 := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	envFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	envStr("DB_URL", &c.Store.URL)
	envStr("TOKEN", &c.HTTP.Token)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.HTTP.CORSOrigins = splitCommaList(v)
	}
	envBool("TRUST_PROXY", &c.HTTP.TrustProxy)
	envStr("HTTP_HOST", &c.HTTP.Host)
	envInt("HTTP_PORT", &c.HTTP.Port)

	envInt("EVENT_BUFFER", &c.Event.Buffer)
	envInt("EVENT_SUBSCRIBER_QUEUE", &c.Event.SubscriberQueue)

	if v := os.Getenv("INGEST_MODE"); v != "" {
		c.Ingest.QueueMode = v == "queue"
	}
	envInt("QUEUE_POLL_SECONDS", &c.Ingest.PollSeconds)
	envInt("QUEUE_BATCH", &c.Ingest.Batch)

	envInt("SNOOZE_POLL_SECONDS", &c.Snooze.PollSeconds)

	envInt("CLASSIFIER_INTERVAL_SECONDS", &c.Classifier.IntervalSeconds)
	envInt("CLASSIFIER_MAX_ATTEMPTS", &c.Classifier.MaxAttempts)
	envInt("CLASSIFIER_WINDOW_SIZE", &c.Classifier.WindowSize)
	envInt("CLASSIFIER_LOOKBACK_LOGS", &c.Classifier.LookbackLogs)
	envFloat("TOPIC_SIM_THRESHOLD", &c.Classifier.TopicSimThreshold)
	envFloat("TASK_SIM_THRESHOLD", &c.Classifier.TaskSimThreshold)
	envStr("EMBED_MODEL", &c.Classifier.EmbedModel)
	envStr("LLM_BASE_URL", &c.Classifier.LLMBaseURL)
	envStr("LLM_TOKEN", &c.Classifier.LLMToken)
	envStr("LLM_MODEL", &c.Classifier.LLMModel)
	envStr("LOCK_PATH", &c.Classifier.LockPath)
	envInt("SESSION_ROUTING_MAX_ITEMS", &c.Classifier.SessionRoutingMaxItems)

	envStr("VECTOR_DB_PATH", &c.Vector.DBPath)
	envStr("QDRANT_URL", &c.Vector.QdrantURL)
	envStr("QDRANT_COLLECTION", &c.Vector.QdrantCollection)
	envStr("QDRANT_API_KEY", &c.Vector.QdrantAPIKey)
	envInt("QDRANT_DIM", &c.Vector.QdrantDim)
	envInt("QDRANT_TIMEOUT", &c.Vector.QdrantTimeoutSec)

	envStr("REINDEX_QUEUE_PATH", &c.ReindexQueuePath)
	envStr("ATTACHMENTS_DIR", &c.Attachments.Dir)
	envInt64("ATTACHMENT_MAX_BYTES", &c.Attachments.MaxBytes)

	envFloat("RERANK_VECTOR_WEIGHT", &c.Search.RerankVectorWeight)

	envStr("OPENCLAW_BASE_URL", &c.GatewayDispatch.BaseURL)
	envStr("OPENCLAW_WS_URL", &c.GatewayDispatch.WSURL)
	envStr("OPENCLAW_GATEWAY_TOKEN", &c.GatewayDispatch.Token)

	envStr("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("OTEL_SERVICE_NAME", &c.Telemetry.ServiceName)
	c.Telemetry.Enabled = c.Telemetry.Endpoint != ""

	c.Search.RerankLexicalWeight = 1 - c.Search.RerankVectorWeight

	c.Store.URL = ExpandHome(c.Store.URL)
	c.Vector.DBPath = ExpandHome(c.Vector.DBPath)
	c.Attachments.Dir = ExpandHome(c.Attachments.Dir)
	c.Classifier.LockPath = ExpandHome(c.Classifier.LockPath)
	c.ReindexQueuePath = ExpandHome(c.ReindexQueuePath)
}

// Save writes the config to a JSON file with owner-only permissions.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a short hex hash of the config: the first 8 bytes of the
// SHA-256 of its JSON encoding. POST /api/config does not use it.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config; it is the exported form of applyEnvOverrides.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
