package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete LexiClarus configuration
// The structure matches the config.yaml file and can be overridden by LEXI_* environment variables

type Config struct {
	Server    ServerConfig    `json:"server" mapstructure:"server"`
	Auth      AuthConfig      `json:"auth" mapstructure:"auth"`
	Log       LogConfig       `json:"log" mapstructure:"log"`
	Gateway   GatewayConfig   `json:"gateway" mapstructure:"gateway"`
	Models    ModelsConfig    `json:"models" mapstructure:"models"`
	Segmenter SegmenterConfig `json:"segmenter" mapstructure:"segmenter"`
	Pipeline  PipelineConfig  `json:"pipeline" mapstructure:"pipeline"`
	QA        QAConfig        `json:"qa" mapstructure:"qa"`
	Risk      RiskConfig      `json:"risk" mapstructure:"risk"`
	Audit     AuditConfig     `json:"audit" mapstructure:"audit"`
	Sessions  SessionsConfig  `json:"sessions" mapstructure:"sessions"`
	Archive   ArchiveConfig   `json:"archive" mapstructure:"archive"`
}

// ServerConfig contains server-specific configuration

type ServerConfig struct {
	Addr         string        `json:"addr" mapstructure:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	MaxUploadMB  int           `json:"max_upload_mb" mapstructure:"max_upload_mb"`
	CORSOrigins  []string      `json:"cors_origins" mapstructure:"cors_origins"`
}

// AuthConfig contains authentication configuration. An empty token disables auth.

type AuthConfig struct {
	Token string `json:"token" mapstructure:"token"`
}

type LogConfig struct {
	Level       string `json:"level" mapstructure:"level"`
	Development bool   `json:"development" mapstructure:"development"`
}

// GatewayConfig contains the retry and timeout policy shared by every model capability

type GatewayConfig struct {
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries   int           `json:"max_retries" mapstructure:"max_retries"`
	RetryBackoff time.Duration `json:"retry_backoff" mapstructure:"retry_backoff"`
	MaxBackoff   time.Duration `json:"max_backoff" mapstructure:"max_backoff"`
	Concurrency  int           `json:"concurrency" mapstructure:"concurrency"`
}

// ModelsConfig holds one remote endpoint per capability

type ModelsConfig struct {
	Segment EndpointConfig `json:"segment" mapstructure:"segment"`
	Rewrite EndpointConfig `json:"rewrite" mapstructure:"rewrite"`
	Risk    EndpointConfig `json:"risk" mapstructure:"risk"`
	Answer  EndpointConfig `json:"answer" mapstructure:"answer"`
}

// EndpointConfig describes a remote model. Provider is "openai", "huggingface" or empty (disabled).

type EndpointConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"`
	Endpoint    string  `json:"endpoint" mapstructure:"endpoint"`
	Model       string  `json:"model" mapstructure:"model"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
}

type SegmenterConfig struct {
	MaxTokens int  `json:"max_tokens" mapstructure:"max_tokens"`
	MinTokens int  `json:"min_tokens" mapstructure:"min_tokens"`
	UseModel  bool `json:"use_model" mapstructure:"use_model"`
}

type PipelineConfig struct {
	MaxParallel int `json:"max_parallel" mapstructure:"max_parallel"`
}

type QAConfig struct {
	ContextBudget   int    `json:"context_budget" mapstructure:"context_budget"`
	TopK            int    `json:"top_k" mapstructure:"top_k"`
	HeuristicMarker string `json:"heuristic_marker" mapstructure:"heuristic_marker"`
	NotFoundAnswer  string `json:"not_found_answer" mapstructure:"not_found_answer"`
}

// RiskConfig holds the risk taxonomy (highest priority first) and the heuristic trigger table
type RiskConfig struct {
	Taxonomy []string        `json:"taxonomy" mapstructure:"taxonomy"`
	Triggers []TriggerConfig `json:"triggers" mapstructure:"triggers"`
}

type TriggerConfig struct {
	Category string   `json:"category" mapstructure:"category"`
	Severity string   `json:"severity" mapstructure:"severity"`
	Phrases  []string `json:"phrases" mapstructure:"phrases"`
}

type AuditConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

type SessionsConfig struct {
	TTL   time.Duration `json:"ttl" mapstructure:"ttl"`
	Redis RedisConfig   `json:"redis" mapstructure:"redis"`
}

type RedisConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Addr      string `json:"addr" mapstructure:"addr"`
	Password  string `json:"password" mapstructure:"password"`
	DB        int    `json:"db" mapstructure:"db"`
	KeyPrefix string `json:"key_prefix" mapstructure:"key_prefix"`
}

// ArchiveConfig contains MinIO settings for storing uploaded originals

type ArchiveConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint  string `json:"endpoint" mapstructure:"endpoint"`
	AccessKey string `json:"access_key" mapstructure:"access_key"`
	SecretKey string `json:"secret_key" mapstructure:"secret_key"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	UseSSL    bool   `json:"use_ssl" mapstructure:"use_ssl"`
}

// Load loads the configuration from file and environment variables.
// Extra search paths are tried before the working directory.
func Load(paths ...string) (*Config, error) {
	// Load .env first (ignore error if not present)
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		if p != "" {
			v.AddConfigPath(p)
		}
	}
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.lexiclarus")
	v.SetEnvPrefix("LEXI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Audit.Path = resolvePath(cfg.Audit.Path)
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER.ADDR", ":8000")
	v.SetDefault("SERVER.READ_TIMEOUT", "30s")
	v.SetDefault("SERVER.WRITE_TIMEOUT", "10m")
	v.SetDefault("SERVER.MAX_UPLOAD_MB", 20)
	v.SetDefault("SERVER.CORS_ORIGINS", []string{"*"})

	v.SetDefault("AUTH.TOKEN", "")

	v.SetDefault("LOG.LEVEL", "info")
	v.SetDefault("LOG.DEVELOPMENT", false)

	// Gateway defaults
	v.SetDefault("GATEWAY.TIMEOUT", "60s")
	v.SetDefault("GATEWAY.MAX_RETRIES", 2)
	v.SetDefault("GATEWAY.RETRY_BACKOFF", "1s")
	v.SetDefault("GATEWAY.MAX_BACKOFF", "8s")
	v.SetDefault("GATEWAY.CONCURRENCY", 5)

	// Model endpoints. LM Studio speaks the OpenAI chat completions dialect.
	for _, capability := range []string{"SEGMENT", "RISK", "ANSWER"} {
		v.SetDefault("MODELS."+capability+".PROVIDER", "openai")
		v.SetDefault("MODELS."+capability+".ENDPOINT", "http://localhost:1234")
		v.SetDefault("MODELS."+capability+".MODEL", "local-model")
		v.SetDefault("MODELS."+capability+".API_KEY", "")
		v.SetDefault("MODELS."+capability+".MAX_TOKENS", 1024)
		v.SetDefault("MODELS."+capability+".TEMPERATURE", 0.0)
	}
	v.SetDefault("MODELS.REWRITE.PROVIDER", "huggingface")
	v.SetDefault("MODELS.REWRITE.ENDPOINT", "https://api-inference.huggingface.co")
	v.SetDefault("MODELS.REWRITE.MODEL", "google/flan-t5-base")
	v.SetDefault("MODELS.REWRITE.API_KEY", "")
	v.SetDefault("MODELS.REWRITE.MAX_TOKENS", 512)
	v.SetDefault("MODELS.REWRITE.TEMPERATURE", 0.2)

	// Segmenter defaults
	v.SetDefault("SEGMENTER.MAX_TOKENS", 256)
	v.SetDefault("SEGMENTER.MIN_TOKENS", 4)
	v.SetDefault("SEGMENTER.USE_MODEL", true)

	v.SetDefault("PIPELINE.MAX_PARALLEL", 10)

	// QA defaults
	v.SetDefault("QA.CONTEXT_BUDGET", 3000)
	v.SetDefault("QA.TOP_K", 3)
	v.SetDefault("QA.HEURISTIC_MARKER", "[heuristic answer]")
	v.SetDefault("QA.NOT_FOUND_ANSWER", "The answer to this question is not found in the document.")

	// Risk defaults
	v.SetDefault("RISK.TAXONOMY", []string{
		"penalty", "termination", "auto-renewal", "fee", "liability",
		"arbitration", "lock-in-period", "unilateral-change", "security-deposit-deduction",
		"none",
	})
	v.SetDefault("RISK.TRIGGERS", []map[string]interface{}{
		{"category": "penalty", "severity": "high", "phrases": []string{"penalty", "penalties", "liquidated damages", "fine"}},
		{"category": "termination", "severity": "medium", "phrases": []string{"terminate", "termination for convenience"}},
		{"category": "auto-renewal", "severity": "medium", "phrases": []string{"auto-renew", "automatically renew"}},
		{"category": "fee", "severity": "medium", "phrases": []string{"late fee", "fee", "charges"}},
		{"category": "liability", "severity": "medium", "phrases": []string{"liability", "indemnify", "indemnification"}},
		{"category": "arbitration", "severity": "medium", "phrases": []string{"arbitration", "arbitrator"}},
		{"category": "lock-in-period", "severity": "medium", "phrases": []string{"lock-in", "minimum term"}},
		{"category": "unilateral-change", "severity": "medium", "phrases": []string{"at its sole discretion", "reserves the right to change", "may amend"}},
		{"category": "security-deposit-deduction", "severity": "low", "phrases": []string{"deducted from the security deposit", "deduct from the deposit", "forfeit the deposit"}},
	})

	// Audit defaults
	v.SetDefault("AUDIT.ENABLED", true)
	v.SetDefault("AUDIT.PATH", "~/.lexiclarus/audit.db")

	// Session defaults
	v.SetDefault("SESSIONS.TTL", "2h")
	v.SetDefault("SESSIONS.REDIS.ENABLED", false)
	v.SetDefault("SESSIONS.REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("SESSIONS.REDIS.PASSWORD", "")
	v.SetDefault("SESSIONS.REDIS.DB", 0)
	v.SetDefault("SESSIONS.REDIS.KEY_PREFIX", "lexiclarus:session:")

	// MinIO archive defaults
	v.SetDefault("ARCHIVE.ENABLED", false)
	v.SetDefault("ARCHIVE.ENDPOINT", "127.0.0.1:9000")
	v.SetDefault("ARCHIVE.ACCESS_KEY", "minioadmin")
	v.SetDefault("ARCHIVE.SECRET_KEY", "minioadmin")
	v.SetDefault("ARCHIVE.BUCKET", "lexiclarus-uploads")
	v.SetDefault("ARCHIVE.USE_SSL", false)
}

// resolvePath resolves ~ to home directory and cleans the path
func resolvePath(p string) string {
	if p == "" {
		return p
	}
	if p[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return filepath.Clean(p)
}
