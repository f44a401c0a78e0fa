package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testKey() []byte {
	return []byte("01234567890123456789012345678901") // 32 bytes
}

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

func newTestManager(t *testing.T) (*ConfigManager, string) {
	t.Helper()
	path := tempConfigPath(t)
	cm, err := NewConfigManagerWithKey(path, testKey())
	if err != nil {
		t.Fatalf("NewConfigManagerWithKey: %v", err)
	}
	return cm, path
}

func TestNewConfigManagerWithKey_InvalidKeyLength(t *testing.T) {
	_, err := NewConfigManagerWithKey("test.json", []byte("short"))
	if err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestLoad_CreatesDefaultOnMissing(t *testing.T) {
	cm, path := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// File should be created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatal("config file was not created")
	}

	cfg := cm.Get()
	if cfg == nil {
		t.Fatal("Get returned nil")
	}

	// Verify defaults
	if cfg.Chunker.ChunkSize != 1000 {
		t.Errorf("ChunkSize = %d, want 1000", cfg.Chunker.ChunkSize)
	}
	if cfg.Chunker.Overlap != 200 {
		t.Errorf("Overlap = %d, want 200", cfg.Chunker.Overlap)
	}
	if cfg.Search.TopK != 5 {
		t.Errorf("TopK = %d, want 5", cfg.Search.TopK)
	}
	if cfg.Search.MinScore != 0 {
		t.Errorf("MinScore = %f, want 0", cfg.Search.MinScore)
	}
	if cfg.Embedding.TimeoutSeconds != 30 {
		t.Errorf("TimeoutSeconds = %d, want 30", cfg.Embedding.TimeoutSeconds)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("Model = %q", cfg.Embedding.Model)
	}
	if cfg.Store.SnapshotPath != "./data/vectorkeep.snap" {
		t.Errorf("SnapshotPath = %q, want ./data/vectorkeep.snap", cfg.Store.SnapshotPath)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Server.Addr)
	}
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	cm, path := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Set some values
	cm.config.Embedding.APIKey = "emb-secret-key-67890"
	cm.config.Embedding.Endpoint = "https://api.example.com/v1"
	cm.config.Store.Dimension = 1536
	cm.config.Search.MinScore = 0.35

	if err := cm.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Load into a new manager
	cm2, err := NewConfigManagerWithKey(path, testKey())
	if err != nil {
		t.Fatalf("NewConfigManagerWithKey: %v", err)
	}
	if err := cm2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg := cm2.Get()
	if cfg.Embedding.APIKey != "emb-secret-key-67890" {
		t.Errorf("Embedding.APIKey = %q, want emb-secret-key-67890", cfg.Embedding.APIKey)
	}
	if cfg.Embedding.Endpoint != "https://api.example.com/v1" {
		t.Errorf("Embedding.Endpoint = %q", cfg.Embedding.Endpoint)
	}
	if cfg.Store.Dimension != 1536 {
		t.Errorf("Store.Dimension = %d", cfg.Store.Dimension)
	}
	if cfg.Search.MinScore != 0.35 {
		t.Errorf("Search.MinScore = %f", cfg.Search.MinScore)
	}
}

func TestSave_APIKeyEncryptedOnDisk(t *testing.T) {
	cm, path := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cm.config.Embedding.APIKey = "my-secret-emb-key"

	if err := cm.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Read raw file and verify the plaintext key is NOT present
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	raw := string(data)

	if strings.Contains(raw, "my-secret-emb-key") {
		t.Error("embedding API key found in plaintext on disk")
	}

	// Verify encrypted prefix is present
	if !strings.Contains(raw, encryptedPrefix) {
		t.Error("encrypted prefix not found in file")
	}
}

func TestUpdate_AppliesAndPersists(t *testing.T) {
	cm, path := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	updates := map[string]interface{}{
		"embedding.endpoint":    "https://new-api.example.com/v1",
		"embedding.api_key":     "new-key",
		"embedding.model":       "text-embedding-3-large",
		"search.top_k":          10,
		"search.min_score":      0.4,
		"chunker.chunk_size":    1500,
		"store.dimension":       3072,
		"server.addr":           ":9090",
	}
	if err := cm.Update(updates); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Verify in-memory
	cfg := cm.Get()
	if cfg.Embedding.Endpoint != "https://new-api.example.com/v1" {
		t.Errorf("Embedding.Endpoint = %q", cfg.Embedding.Endpoint)
	}
	if cfg.Embedding.Model != "text-embedding-3-large" {
		t.Errorf("Embedding.Model = %q", cfg.Embedding.Model)
	}
	if cfg.Search.TopK != 10 {
		t.Errorf("TopK = %d", cfg.Search.TopK)
	}
	if cfg.Search.MinScore != 0.4 {
		t.Errorf("MinScore = %f", cfg.Search.MinScore)
	}
	if cfg.Chunker.ChunkSize != 1500 {
		t.Errorf("ChunkSize = %d", cfg.Chunker.ChunkSize)
	}
	if cfg.Store.Dimension != 3072 {
		t.Errorf("Dimension = %d", cfg.Store.Dimension)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}

	// Verify persisted
	cm2, err := NewConfigManagerWithKey(path, testKey())
	if err != nil {
		t.Fatalf("NewConfigManagerWithKey: %v", err)
	}
	if err := cm2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg2 := cm2.Get()
	if cfg2.Embedding.Endpoint != "https://new-api.example.com/v1" {
		t.Errorf("persisted Embedding.Endpoint = %q", cfg2.Embedding.Endpoint)
	}
	if cfg2.Embedding.APIKey != "new-key" {
		t.Errorf("persisted Embedding.APIKey = %q", cfg2.Embedding.APIKey)
	}
}

func TestUpdate_UnknownKey(t *testing.T) {
	cm, _ := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	err := cm.Update(map[string]interface{}{"unknown.key": "value"})
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestUpdate_WrongValueType(t *testing.T) {
	cm, _ := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := cm.Update(map[string]interface{}{"search.top_k": "ten"}); err == nil {
		t.Error("expected error for string into int key")
	}
	if err := cm.Update(map[string]interface{}{"embedding.endpoint": 42}); err == nil {
		t.Error("expected error for number into string key")
	}

	// Nothing was applied
	if cfg := cm.Get(); cfg.Search.TopK != 5 || cfg.Embedding.Endpoint != "https://api.openai.com/v1" {
		t.Errorf("rejected update leaked: %+v", cfg)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	cm, _ := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg1 := cm.Get()
	cfg1.Embedding.Endpoint = "modified"

	cfg2 := cm.Get()
	if cfg2.Embedding.Endpoint == "modified" {
		t.Error("Get did not return a copy, mutation leaked")
	}
}

func TestLoad_PlaintextAPIKey(t *testing.T) {
	// Simulate a manually edited config with plaintext API key
	path := tempConfigPath(t)
	raw := map[string]interface{}{
		"embedding": map[string]interface{}{
			"api_key": "plaintext-key",
		},
	}
	data, _ := json.Marshal(raw)
	os.WriteFile(path, data, 0600)

	cm, err := NewConfigManagerWithKey(path, testKey())
	if err != nil {
		t.Fatalf("NewConfigManagerWithKey: %v", err)
	}
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg := cm.Get()
	if cfg.Embedding.APIKey != "plaintext-key" {
		t.Errorf("APIKey = %q, want plaintext-key", cfg.Embedding.APIKey)
	}
}

func TestEncryptDecrypt_EmptyString(t *testing.T) {
	cm, _ := newTestManager(t)
	encrypted := cm.encryptIfNeeded("")
	if encrypted != "" {
		t.Errorf("encryptIfNeeded empty = %q, want empty", encrypted)
	}
	decrypted, err := cm.decryptIfNeeded("")
	if err != nil {
		t.Fatalf("decryptIfNeeded: %v", err)
	}
	if decrypted != "" {
		t.Errorf("decryptIfNeeded empty = %q, want empty", decrypted)
	}
}

func TestLoad_MissingFieldsKeepDefaults(t *testing.T) {
	// A partial file only overrides what it names
	path := tempConfigPath(t)
	os.WriteFile(path, []byte(`{"search": {"top_k": 8}}`), 0600)

	cm, err := NewConfigManagerWithKey(path, testKey())
	if err != nil {
		t.Fatalf("NewConfigManagerWithKey: %v", err)
	}
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg := cm.Get()
	if cfg.Search.TopK != 8 {
		t.Errorf("TopK = %d, want 8", cfg.Search.TopK)
	}
	if cfg.Chunker.ChunkSize != 1000 {
		t.Errorf("ChunkSize = %d, want default 1000", cfg.Chunker.ChunkSize)
	}
}
