// Package config manages the application configuration file. API keys are
// encrypted at rest with AES-GCM; everything else is plain JSON so the file
// stays hand-editable.
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// encryptedPrefix marks values that are AES-GCM encrypted on disk.
const encryptedPrefix = "enc:"

// keyEnvVar names the environment variable holding a hex-encoded 32-byte
// encryption key. Without it, a key file is generated next to the config.
const keyEnvVar = "VECTORKEEP_CONFIG_KEY"

// ServerConfig holds the HTTP facade settings.
type ServerConfig struct {
	Addr            string `json:"addr"`
	RateLimitPerMin int    `json:"rate_limit_per_min"`
}

// StoreConfig holds store persistence settings.
type StoreConfig struct {
	SnapshotPath        string `json:"snapshot_path"`
	UsageDBPath         string `json:"usage_db_path"`
	Dimension           int    `json:"dimension"`
	SaveDebounceSeconds int    `json:"save_debounce_seconds"`
}

// EmbeddingConfig holds the embedding provider settings.
type EmbeddingConfig struct {
	Endpoint        string `json:"endpoint"`
	APIKey          string `json:"api_key"`
	Model           string `json:"model"`
	Dimensions      int    `json:"dimensions"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
	MaxRetries      int    `json:"max_retries"`
	BatchSize       int    `json:"batch_size"`
	CacheSize       int    `json:"cache_size"`
	CacheTTLMinutes int    `json:"cache_ttl_minutes"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	TopK     int     `json:"top_k"`
	MinScore float64 `json:"min_score"`
}

// ChunkerConfig holds text splitting settings.
type ChunkerConfig struct {
	ChunkSize int `json:"chunk_size"`
	Overlap   int `json:"overlap"`
}

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Store     StoreConfig     `json:"store"`
	Embedding EmbeddingConfig `json:"embedding"`
	Search    SearchConfig    `json:"search"`
	Chunker   ChunkerConfig   `json:"chunker"`
}

// DefaultConfig returns the configuration used when no file exists yet.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RateLimitPerMin: 60,
		},
		Store: StoreConfig{
			SnapshotPath:        "./data/vectorkeep.snap",
			UsageDBPath:         "./data/usage.db",
			Dimension:           0,
			SaveDebounceSeconds: 2,
		},
		Embedding: EmbeddingConfig{
			Endpoint:        "https://api.openai.com/v1",
			Model:           "text-embedding-3-small",
			TimeoutSeconds:  30,
			MaxRetries:      2,
			BatchSize:       16,
			CacheSize:       256,
			CacheTTLMinutes: 60,
		},
		Search: SearchConfig{
			TopK:     5,
			MinScore: 0,
		},
		Chunker: ChunkerConfig{
			ChunkSize: 1000,
			Overlap:   200,
		},
	}
}

// ConfigManager loads, persists, and updates the configuration file.
type ConfigManager struct {
	path   string
	key    []byte
	mu     sync.RWMutex
	config *Config
}

// NewConfigManager creates a manager whose encryption key comes from the
// VECTORKEEP_CONFIG_KEY environment variable (hex-encoded, 32 bytes) or,
// absent that, from a key file generated next to the config file.
func NewConfigManager(path string) (*ConfigManager, error) {
	key, err := resolveKey(path)
	if err != nil {
		return nil, err
	}
	return NewConfigManagerWithKey(path, key)
}

// NewConfigManagerWithKey creates a manager with an explicit 32-byte key.
func NewConfigManagerWithKey(path string, key []byte) (*ConfigManager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("config key must be 32 bytes, got %d", len(key))
	}
	return &ConfigManager{path: path, key: key, config: DefaultConfig()}, nil
}

// resolveKey returns the env key if set, otherwise loads or creates the
// key file beside the config.
func resolveKey(configPath string) ([]byte, error) {
	if env := os.Getenv(keyEnvVar); env != "" {
		key, err := hex.DecodeString(env)
		if err != nil {
			return nil, fmt.Errorf("%s is not valid hex: %w", keyEnvVar, err)
		}
		return key, nil
	}

	keyPath := filepath.Join(filepath.Dir(configPath), ".configkey")
	if data, err := os.ReadFile(keyPath); err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("key file %s is not valid hex: %w", keyPath, err)
		}
		return key, nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate config key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, fmt.Errorf("write config key: %w", err)
	}
	return key, nil
}

// Load reads the config file, creating it with defaults when missing.
// A plaintext api_key in a hand-edited file is accepted and will be
// encrypted on the next Save.
func (cm *ConfigManager) Load() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := os.ReadFile(cm.path)
	if os.IsNotExist(err) {
		cm.config = DefaultConfig()
		return cm.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	// Unmarshal over defaults so fields absent from the file keep them
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	apiKey, err := cm.decryptIfNeeded(cfg.Embedding.APIKey)
	if err != nil {
		return fmt.Errorf("decrypt embedding api key: %w", err)
	}
	cfg.Embedding.APIKey = apiKey

	cm.config = cfg
	return nil
}

// Save persists the current configuration with secrets encrypted.
func (cm *ConfigManager) Save() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.saveLocked()
}

// saveLocked writes the config file. Caller holds mu.
func (cm *ConfigManager) saveLocked() error {
	onDisk := *cm.config
	onDisk.Embedding.APIKey = cm.encryptIfNeeded(onDisk.Embedding.APIKey)

	data, err := json.MarshalIndent(&onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cm.path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(cm.path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Get returns a copy of the current configuration. Mutating the returned
// value does not affect the manager.
func (cm *ConfigManager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	cfg := *cm.config
	return &cfg
}

// Update applies dotted-key updates ("embedding.api_key", "search.top_k")
// and persists the result. Unknown keys and wrong value types are rejected
// before anything is applied.
func (cm *ConfigManager) Update(updates map[string]interface{}) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	next := *cm.config
	for key, value := range updates {
		if err := applyUpdate(&next, key, value); err != nil {
			return err
		}
	}
	cm.config = &next
	return cm.saveLocked()
}

// applyUpdate sets one dotted key on cfg.
func applyUpdate(cfg *Config, key string, value interface{}) error {
	switch key {
	case "server.addr":
		return setString(&cfg.Server.Addr, key, value)
	case "server.rate_limit_per_min":
		return setInt(&cfg.Server.RateLimitPerMin, key, value)
	case "store.snapshot_path":
		return setString(&cfg.Store.SnapshotPath, key, value)
	case "store.usage_db_path":
		return setString(&cfg.Store.UsageDBPath, key, value)
	case "store.dimension":
		return setInt(&cfg.Store.Dimension, key, value)
	case "store.save_debounce_seconds":
		return setInt(&cfg.Store.SaveDebounceSeconds, key, value)
	case "embedding.endpoint":
		return setString(&cfg.Embedding.Endpoint, key, value)
	case "embedding.api_key":
		return setString(&cfg.Embedding.APIKey, key, value)
	case "embedding.model":
		return setString(&cfg.Embedding.Model, key, value)
	case "embedding.dimensions":
		return setInt(&cfg.Embedding.Dimensions, key, value)
	case "embedding.timeout_seconds":
		return setInt(&cfg.Embedding.TimeoutSeconds, key, value)
	case "embedding.max_retries":
		return setInt(&cfg.Embedding.MaxRetries, key, value)
	case "embedding.batch_size":
		return setInt(&cfg.Embedding.BatchSize, key, value)
	case "embedding.cache_size":
		return setInt(&cfg.Embedding.CacheSize, key, value)
	case "embedding.cache_ttl_minutes":
		return setInt(&cfg.Embedding.CacheTTLMinutes, key, value)
	case "search.top_k":
		return setInt(&cfg.Search.TopK, key, value)
	case "search.min_score":
		return setFloat(&cfg.Search.MinScore, key, value)
	case "chunker.chunk_size":
		return setInt(&cfg.Chunker.ChunkSize, key, value)
	case "chunker.overlap":
		return setInt(&cfg.Chunker.Overlap, key, value)
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
}

func setString(dst *string, key string, value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("config key %q wants a string, got %T", key, value)
	}
	*dst = s
	return nil
}

// setInt accepts int and float64 because JSON decodes numbers as float64.
func setInt(dst *int, key string, value interface{}) error {
	switch v := value.(type) {
	case int:
		*dst = v
	case float64:
		*dst = int(v)
	default:
		return fmt.Errorf("config key %q wants a number, got %T", key, value)
	}
	return nil
}

func setFloat(dst *float64, key string, value interface{}) error {
	switch v := value.(type) {
	case int:
		*dst = float64(v)
	case float64:
		*dst = v
	default:
		return fmt.Errorf("config key %q wants a number, got %T", key, value)
	}
	return nil
}

// encryptIfNeeded encrypts a secret for storage. Empty and already
// encrypted values pass through unchanged.
func (cm *ConfigManager) encryptIfNeeded(value string) string {
	if value == "" || strings.HasPrefix(value, encryptedPrefix) {
		return value
	}
	block, err := aes.NewCipher(cm.key)
	if err != nil {
		return value
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return value
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return value
	}
	sealed := gcm.Seal(nonce, nonce, []byte(value), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(sealed)
}

// decryptIfNeeded reverses encryptIfNeeded. Values without the encrypted
// prefix are returned as-is, so hand-written plaintext keys keep working.
func (cm *ConfigManager) decryptIfNeeded(value string) (string, error) {
	if !strings.HasPrefix(value, encryptedPrefix) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode encrypted value: %w", err)
	}
	block, err := aes.NewCipher(cm.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("encrypted value too short")
	}
	plain, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt value: %w", err)
	}
	return string(plain), nil
}
