package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

var bucketNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate server configuration
	if c.Server.Addr == "" {
		return errors.New("server address cannot be empty")
	}
	if _, err := net.ResolveTCPAddr("tcp", c.Server.Addr); err != nil {
		return fmt.Errorf("invalid server address: %v", err)
	}
	if c.Server.MaxUploadMB <= 0 {
		return errors.New("server max_upload_mb must be positive")
	}

	// Validate gateway policy
	if c.Gateway.Timeout <= 0 {
		return errors.New("gateway timeout must be positive")
	}
	if c.Gateway.MaxRetries < 0 {
		return errors.New("gateway max_retries cannot be negative")
	}
	if c.Gateway.RetryBackoff < 0 || c.Gateway.MaxBackoff < 0 {
		return errors.New("gateway backoff cannot be negative")
	}
	if c.Gateway.Concurrency <= 0 {
		return errors.New("gateway concurrency must be positive")
	}

	models := map[string]EndpointConfig{
		"segment": c.Models.Segment,
		"rewrite": c.Models.Rewrite,
		"risk":    c.Models.Risk,
		"answer":  c.Models.Answer,
	}
	for name, m := range models {
		switch m.Provider {
		case "":
		case "openai", "huggingface":
			if m.Endpoint == "" {
				return fmt.Errorf("models.%s endpoint cannot be empty when provider is set", name)
			}
		default:
			return fmt.Errorf("models.%s has unknown provider %q", name, m.Provider)
		}
	}

	// Validate segmenter bounds
	if c.Segmenter.MaxTokens <= 0 {
		return errors.New("segmenter max_tokens must be positive")
	}
	if c.Segmenter.MinTokens < 0 || c.Segmenter.MinTokens > c.Segmenter.MaxTokens {
		return errors.New("segmenter min_tokens must be between 0 and max_tokens")
	}

	if c.Pipeline.MaxParallel <= 0 {
		return errors.New("pipeline max_parallel must be positive")
	}

	if c.QA.ContextBudget <= 0 {
		return errors.New("qa context_budget must be positive")
	}
	if c.QA.TopK <= 0 {
		return errors.New("qa top_k must be positive")
	}

	if err := c.Risk.validate(); err != nil {
		return err
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		return errors.New("audit path cannot be empty when audit is enabled")
	}

	if c.Sessions.TTL <= 0 {
		return errors.New("sessions ttl must be positive")
	}
	if c.Sessions.Redis.Enabled && c.Sessions.Redis.Addr == "" {
		return errors.New("redis addr cannot be empty when redis is enabled")
	}

	// Validate MinIO configuration
	if c.Archive.Enabled {
		if c.Archive.Endpoint == "" {
			return errors.New("archive endpoint cannot be empty when archive is enabled")
		}
		if c.Archive.AccessKey == "" || c.Archive.SecretKey == "" {
			return errors.New("archive credentials cannot be empty when archive is enabled")
		}
		if !isValidBucketName(c.Archive.Bucket) {
			return fmt.Errorf("invalid archive bucket name: %s", c.Archive.Bucket)
		}
	}

	return nil
}

func (r RiskConfig) validate() error {
	if len(r.Taxonomy) == 0 {
		return errors.New("risk taxonomy cannot be empty")
	}
	known := make(map[string]bool, len(r.Taxonomy))
	for _, cat := range r.Taxonomy {
		if cat == "" {
			return errors.New("risk taxonomy contains empty category")
		}
		if known[cat] {
			return fmt.Errorf("risk taxonomy lists %q twice", cat)
		}
		known[cat] = true
	}
	if !known["none"] {
		return errors.New(`risk taxonomy must include "none"`)
	}
	for i, t := range r.Triggers {
		if !known[t.Category] {
			return fmt.Errorf("risk trigger %d: category %q not in taxonomy", i, t.Category)
		}
		switch t.Severity {
		case "low", "medium", "high":
		default:
			return fmt.Errorf("risk trigger %d: invalid severity %q", i, t.Severity)
		}
		if len(t.Phrases) == 0 {
			return fmt.Errorf("risk trigger %d: phrases cannot be empty", i)
		}
		for _, p := range t.Phrases {
			if strings.TrimSpace(p) == "" {
				return fmt.Errorf("risk trigger %d: empty phrase", i)
			}
		}
	}
	return nil
}

// isValidBucketName checks if a bucket name is valid according to MinIO/S3 rules
func isValidBucketName(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return bucketNameRe.MatchString(name)
}
