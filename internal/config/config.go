// Package config defines Clawboard's root configuration, loaded from a
// JSON5 file and layered with environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both a JSON array of strings and a single
// comma-separated string, used for CORS_ORIGINS in the config file.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = splitCommaList(s)
	return nil
}

func splitCommaList(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if v := trimSpace(s[start:i]); v != "" {
				out = append(out, v)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

// Config is the root configuration for the Clawboard service.
type Config struct {
	Store            StoreConfig           `json:"store"`
	HTTP             HTTPConfig            `json:"http"`
	Event            EventConfig           `json:"event"`
	Ingest           IngestConfig          `json:"ingest"`
	Snooze           SnoozeConfig          `json:"snooze"`
	Classifier       ClassifierConfig      `json:"classifier"`
	Vector           VectorConfig          `json:"vector"`
	Search           SearchConfig          `json:"search"`
	Attachments      AttachmentsConfig     `json:"attachments"`
	GatewayDispatch  GatewayDispatchConfig `json:"gatewayDispatch"`
	Telemetry        TelemetryConfig       `json:"telemetry"`
	ReindexQueuePath string                `json:"reindexQueuePath,omitempty"`
	mu               sync.RWMutex
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	URL string `json:"url"` // "sqlite:///path/to/file.db" or "postgres://..."
}

// HTTPConfig configures the HTTP API surface.
type HTTPConfig struct {
	Host        string              `json:"host"`
	Port        int                 `json:"port"`
	Token       string              `json:"-"` // from env TOKEN only, never persisted
	CORSOrigins FlexibleStringSlice `json:"corsOrigins,omitempty"`
	TrustProxy  bool                `json:"trustProxy,omitempty"`
}

// EventConfig sizes the EventHub's ring buffer and subscriber queues.
type EventConfig struct {
	Buffer          int `json:"buffer,omitempty"`
	SubscriberQueue int `json:"subscriberQueue,omitempty"`
}

// IngestConfig configures the ingest path and its optional durable queue.
type IngestConfig struct {
	QueueMode   bool `json:"queueMode,omitempty"`
	PollSeconds int  `json:"pollSeconds,omitempty"`
	Batch       int  `json:"batch,omitempty"`
}

// SnoozeConfig tunes the snooze-revival worker.
type SnoozeConfig struct {
	PollSeconds int `json:"pollSeconds,omitempty"`
}

// ClassifierConfig tunes the async session classifier.
type ClassifierConfig struct {
	IntervalSeconds        int     `json:"intervalSeconds,omitempty"`
	MaxAttempts            int     `json:"maxAttempts,omitempty"`
	WindowSize             int     `json:"windowSize,omitempty"`
	LookbackLogs           int     `json:"lookbackLogs,omitempty"`
	TopicSimThreshold      float64 `json:"topicSimThreshold,omitempty"`
	TaskSimThreshold       float64 `json:"taskSimThreshold,omitempty"`
	EmbedModel             string  `json:"embedModel,omitempty"`
	LLMBaseURL             string  `json:"llmBaseUrl,omitempty"`
	LLMToken               string  `json:"-"` // from env LLM_TOKEN only
	LLMModel               string  `json:"llmModel,omitempty"`
	LockPath               string  `json:"lockPath,omitempty"`
	SessionRoutingMaxItems int     `json:"sessionRoutingMaxItems,omitempty"`
}

// VectorConfig configures the local mirror and optional remote Qdrant backend.
type VectorConfig struct {
	DBPath           string `json:"dbPath,omitempty"`
	QdrantURL        string `json:"qdrantUrl,omitempty"`
	QdrantCollection string `json:"qdrantCollection,omitempty"`
	QdrantAPIKey     string `json:"-"` // from env QDRANT_API_KEY only
	QdrantDim        int    `json:"qdrantDim,omitempty"`
	QdrantTimeoutSec int    `json:"qdrantTimeoutSec,omitempty"`
}

// SearchConfig tunes HybridSearch fusion and reranking.
type SearchConfig struct {
	BM25K1              float64 `json:"bm25K1,omitempty"`
	BM25B               float64 `json:"bm25B,omitempty"`
	RRFK                float64 `json:"rrfK,omitempty"`
	RerankVectorWeight  float64 `json:"rerankVectorWeight,omitempty"`
	RerankLexicalWeight float64 `json:"rerankLexicalWeight,omitempty"`
}

// AttachmentsConfig configures attachment metadata limits.
type AttachmentsConfig struct {
	Dir      string `json:"dir,omitempty"`
	MaxBytes int64  `json:"maxBytes,omitempty"`
}

// GatewayDispatchConfig configures the outbound chat-gateway relay.
type GatewayDispatchConfig struct {
	BaseURL string `json:"baseUrl,omitempty"`
	WSURL   string `json:"wsUrl,omitempty"`
	Token   string `json:"-"` // from env OPENCLAW_GATEWAY_TOKEN only
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"serviceName,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Store = src.Store
	c.HTTP = src.HTTP
	c.Event = src.Event
	c.Ingest = src.Ingest
	c.Snooze = src.Snooze
	c.Classifier = src.Classifier
	c.Vector = src.Vector
	c.Search = src.Search
	c.Attachments = src.Attachments
	c.GatewayDispatch = src.GatewayDispatch
	c.Telemetry = src.Telemetry
	c.ReindexQueuePath = src.ReindexQueuePath
}

// Lock/Unlock expose the guard for callers that need to read/write several
// fields atomically.
func (c *Config) Lock()    { c.mu.Lock() }
func (c *Config) Unlock()  { c.mu.Unlock() }
func (c *Config) RLock()   { c.mu.RLock() }
func (c *Config) RUnlock() { c.mu.RUnlock() }

func (c *Config) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("Config{store=%s http=%s:%d}", c.Store.URL, c.HTTP.Host, c.HTTP.Port)
}
