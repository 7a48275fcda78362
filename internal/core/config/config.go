// Package config provides configuration management for bidkeeper services.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable bidkeeper reads.
const EnvPrefix = "BK"

// EngineConfig sizes the matching engine.
type EngineConfig struct {
	Workers     int
	QueueSize   int
	QueuePolicy string        // block | reject
	HourZone    string        // UTC, Local or an IANA zone name
	StopTimeout time.Duration // drain budget on shutdown
}

// IngestConfig holds configuration for the gRPC ingest service.
type IngestConfig struct {
	Host           string
	Port           int
	MaxBatchSize   int
	RequestTimeout time.Duration
	DataDir        string
	Archive        bool // append accepted bid requests to daily JSONL files
}

// MetricsConfig holds the Prometheus listener address. Empty disables it.
type MetricsConfig struct {
	Addr string
}

// Config is the complete service configuration.
type Config struct {
	Engine    EngineConfig
	Ingest    IngestConfig
	Metrics   MetricsConfig
	RulesFile string
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Workers:     5,
			QueueSize:   1000,
			QueuePolicy: "block",
			HourZone:    "UTC",
			StopTimeout: 30 * time.Second,
		},
		Ingest: IngestConfig{
			Host:           "0.0.0.0",
			Port:           50051,
			MaxBatchSize:   1000,
			RequestTimeout: 30 * time.Second,
			DataDir:        "./data",
			Archive:        true,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// HourLocation resolves HourZone. "UTC" and "" are UTC, "Local" is the process zone.
func (c EngineConfig) HourLocation() (*time.Location, error) {
	switch c.HourZone {
	case "", "UTC":
		return time.UTC, nil
	case "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.HourZone)
	if err != nil {
		return nil, fmt.Errorf("engine.hour_zone %q: %w", c.HourZone, err)
	}
	return loc, nil
}

// HMACSecrets extracts HMAC secrets from environment variables.
// Supports BK_HMAC_SECRET (single) and BK_HMAC_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
// Secret IDs are 32 hex chars, matching the API key format.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	add := func(key, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("duplicate secret_id '%s' found in environment variables (check %s_HMAC_SECRET and %s_HMAC_SECRET_* for conflicts)", secretID, EnvPrefix, EnvPrefix)
		}
		secrets[secretID] = decoded
		return nil
	}

	// Format: <secret_id>:<base64_secret>
	single := EnvPrefix + "_HMAC_SECRET"
	if val := os.Getenv(single); val != "" {
		if err := add(single, val); err != nil {
			return nil, err
		}
	}

	// Old and new keys stay valid together during rotation
	for i := 1; ; i++ {
		key := fmt.Sprintf("%s_HMAC_SECRET_%d", EnvPrefix, i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		if err := add(key, val); err != nil {
			return nil, err
		}
	}

	return secrets, nil
}

// ParseHMACSecret decodes a base64-encoded HMAC secret.
func ParseHMACSecret(envValue string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envValue))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(decoded) < 32 {
		return nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

// ParseHMACSecretWithID parses secret_id:base64_secret format.
// Secret ID must be 32 lowercase hex chars.
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	secretID, encoded, ok := strings.Cut(strings.TrimSpace(envValue), ":")
	if !ok {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	if len(secretID) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars")
	}
	for _, c := range secretID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = ParseHMACSecret(encoded)
	if err != nil {
		return "", nil, err
	}
	return secretID, secret, nil
}
