// Package config loads layered amanrag configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the complete amanrag configuration.
type Config struct {
	Version    int              `yaml:"version" toml:"version" json:"version"`
	DataDir    string           `yaml:"data_dir" toml:"data_dir" json:"data_dir"`
	Chunking   ChunkingConfig   `yaml:"chunking" toml:"chunking" json:"chunking"`
	Lexical    LexicalConfig    `yaml:"lexical" toml:"lexical" json:"lexical"`
	Vector     VectorConfig     `yaml:"vector" toml:"vector" json:"vector"`
	Corpus     CorpusConfig     `yaml:"corpus" toml:"corpus" json:"corpus"`
	Search     SearchConfig     `yaml:"search" toml:"search" json:"search"`
	Rerank     RerankConfig     `yaml:"rerank" toml:"rerank" json:"rerank"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" toml:"embeddings" json:"embeddings"`
	Ingest     IngestConfig     `yaml:"ingest" toml:"ingest" json:"ingest"`
	Server     ServerConfig     `yaml:"server" toml:"server" json:"server"`
}

// ChunkingConfig configures document splitting.
type ChunkingConfig struct {
	// Strategy is one of fixed, semantic, recursive, page_aware.
	Strategy   string `yaml:"strategy" toml:"strategy" json:"strategy"`
	Size       int    `yaml:"size" toml:"size" json:"size"`
	Overlap    int    `yaml:"overlap" toml:"overlap" json:"overlap"`
	ExtractTOC bool   `yaml:"extract_toc" toml:"extract_toc" json:"extract_toc"`

	// CountTokens adds a token_count metadata entry to every chunk.
	CountTokens   bool   `yaml:"count_tokens" toml:"count_tokens" json:"count_tokens"`
	TokenEncoding string `yaml:"token_encoding" toml:"token_encoding" json:"token_encoding"`
}

// LexicalConfig configures the per-owner BM25 indexes.
type LexicalConfig struct {
	K1             float64 `yaml:"k1" toml:"k1" json:"k1"`
	B              float64 `yaml:"b" toml:"b" json:"b"`
	MinTokenLength int     `yaml:"min_token_length" toml:"min_token_length" json:"min_token_length"`
	// MaxWarmScopes bounds how many owner indexes stay in memory.
	MaxWarmScopes int `yaml:"max_warm_scopes" toml:"max_warm_scopes" json:"max_warm_scopes"`
}

// VectorConfig selects and tunes the vector store backend.
type VectorConfig struct {
	// Backend is one of hnsw, postgres, sqlite.
	Backend     string `yaml:"backend" toml:"backend" json:"backend"`
	Dimensions  int    `yaml:"dimensions" toml:"dimensions" json:"dimensions"`
	M           int    `yaml:"m" toml:"m" json:"m"`
	EfSearch    int    `yaml:"ef_search" toml:"ef_search" json:"ef_search"`
	PostgresDSN string `yaml:"postgres_dsn" toml:"postgres_dsn" json:"-"`
	SQLitePath  string `yaml:"sqlite_path" toml:"sqlite_path" json:"sqlite_path"`
}

// CorpusConfig selects where chunk text and document status are persisted.
type CorpusConfig struct {
	// Backend is one of sqlite, badger.
	Backend string `yaml:"backend" toml:"backend" json:"backend"`
	Path    string `yaml:"path" toml:"path" json:"path"`
}

// SearchConfig configures query-time behavior.
type SearchConfig struct {
	DefaultTopK int     `yaml:"default_top_k" toml:"default_top_k" json:"default_top_k"`
	MaxTopK     int     `yaml:"max_top_k" toml:"max_top_k" json:"max_top_k"`
	Alpha       float64 `yaml:"alpha" toml:"alpha" json:"alpha"`
	RRFConstant int     `yaml:"rrf_constant" toml:"rrf_constant" json:"rrf_constant"`

	// Durations use Go syntax ("5s", "250ms").
	BackendTimeout string `yaml:"backend_timeout" toml:"backend_timeout" json:"backend_timeout"`
	RequestTimeout string `yaml:"request_timeout" toml:"request_timeout" json:"request_timeout"`

	// RerankCandidates multiplies top_k to size the pool handed to the reranker.
	RerankCandidates int `yaml:"rerank_candidates" toml:"rerank_candidates" json:"rerank_candidates"`
	ContextSize      int `yaml:"context_size" toml:"context_size" json:"context_size"`
}

// RerankConfig selects the reranking strategy.
type RerankConfig struct {
	// Provider is heuristic or http.
	Provider          string  `yaml:"provider" toml:"provider" json:"provider"`
	Endpoint          string  `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	Model             string  `yaml:"model" toml:"model" json:"model"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second" json:"requests_per_second"`
	Timeout           string  `yaml:"timeout" toml:"timeout" json:"timeout"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is static, ollama, or openai.
	Provider          string  `yaml:"provider" toml:"provider" json:"provider"`
	Model             string  `yaml:"model" toml:"model" json:"model"`
	Host              string  `yaml:"host" toml:"host" json:"host"`
	APIKey            string  `yaml:"api_key" toml:"api_key" json:"-"`
	Dimensions        int     `yaml:"dimensions" toml:"dimensions" json:"dimensions"`
	BatchSize         int     `yaml:"batch_size" toml:"batch_size" json:"batch_size"`
	CacheSize         int     `yaml:"cache_size" toml:"cache_size" json:"cache_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second" json:"requests_per_second"`
}

// IngestConfig configures the ingest pipeline.
type IngestConfig struct {
	Workers       int      `yaml:"workers" toml:"workers" json:"workers"`
	MaxFileSizeMB int      `yaml:"max_file_size_mb" toml:"max_file_size_mb" json:"max_file_size_mb"`
	Extensions    []string `yaml:"extensions" toml:"extensions" json:"extensions"`
	WatchDebounce string   `yaml:"watch_debounce" toml:"watch_debounce" json:"watch_debounce"`
}

// ServerConfig configures the serving layer.
type ServerConfig struct {
	// Transport is http or stdio (MCP).
	Transport string `yaml:"transport" toml:"transport" json:"transport"`
	Addr      string `yaml:"addr" toml:"addr" json:"addr"`
	LogLevel  string `yaml:"log_level" toml:"log_level" json:"log_level"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}

	return &Config{
		Version: 1,
		DataDir: ".amanrag",
		Chunking: ChunkingConfig{
			Strategy:      "semantic",
			Size:          500,
			Overlap:       50,
			ExtractTOC:    true,
			TokenEncoding: "cl100k_base",
		},
		Lexical: LexicalConfig{
			K1:             1.5,
			B:              0.75,
			MinTokenLength: 2,
			MaxWarmScopes:  256,
		},
		Vector: VectorConfig{
			Backend:    "hnsw",
			Dimensions: 384,
			M:          16,
			EfSearch:   64,
		},
		Corpus: CorpusConfig{
			Backend: "sqlite",
		},
		Search: SearchConfig{
			DefaultTopK:      10,
			MaxTopK:          100,
			Alpha:            0.5,
			RRFConstant:      60,
			BackendTimeout:   "5s",
			RequestTimeout:   "30s",
			RerankCandidates: 3,
			ContextSize:      1,
		},
		Rerank: RerankConfig{
			Provider: "heuristic",
			Model:    "BAAI/bge-reranker-base",
			Timeout:  "10s",
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "static",
			BatchSize: 32,
			CacheSize: 1000,
		},
		Ingest: IngestConfig{
			Workers:       workers,
			MaxFileSizeMB: 20,
			Extensions:    []string{".txt", ".md", ".markdown"},
			WatchDebounce: "500ms",
		},
		Server: ServerConfig{
			Transport: "http",
			Addr:      ":8080",
			LogLevel:  "info",
		},
	}
}

// Load loads configuration for the project rooted at dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config ($XDG_CONFIG_HOME/amanrag/config.yaml)
//  3. Project config (.amanrag.yaml, .amanrag.yml or .amanrag.toml in dir)
//  4. A .env file in dir (never overrides variables already set)
//  5. Environment variables (AMANRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := UserConfigPath(); fileExists(path) {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if path := ProjectConfigPath(dir); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if envPath := filepath.Join(dir, ".env"); fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	cfg.applyEnvOverrides()

	if !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(dir, cfg.DataDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// UserConfigPath returns the per-user configuration file location.
func UserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanrag", "config.yaml")
}

// ProjectConfigPath returns the first project config file found in dir, or "".
func ProjectConfigPath(dir string) string {
	for _, name := range []string{".amanrag.yaml", ".amanrag.yml", ".amanrag.toml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// loadFile decodes a YAML or TOML file over the current values.
// Keys absent from the file keep their current value.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		return nil
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies AMANRAG_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	setString("AMANRAG_DATA_DIR", &c.DataDir)

	setString("AMANRAG_CHUNK_STRATEGY", &c.Chunking.Strategy)
	setInt("AMANRAG_CHUNK_SIZE", &c.Chunking.Size)
	setInt("AMANRAG_CHUNK_OVERLAP", &c.Chunking.Overlap)

	setString("AMANRAG_VECTOR_BACKEND", &c.Vector.Backend)
	setInt("AMANRAG_VECTOR_DIMENSIONS", &c.Vector.Dimensions)
	setString("AMANRAG_POSTGRES_DSN", &c.Vector.PostgresDSN)
	setString("AMANRAG_CORPUS_BACKEND", &c.Corpus.Backend)

	// Explicit zero is a valid alpha, so parse instead of merging non-zero.
	if v := os.Getenv("AMANRAG_ALPHA"); v != "" {
		if a, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.Search.Alpha = a
		}
	}
	setInt("AMANRAG_TOP_K", &c.Search.DefaultTopK)
	setInt("AMANRAG_RRF_CONSTANT", &c.Search.RRFConstant)
	setString("AMANRAG_BACKEND_TIMEOUT", &c.Search.BackendTimeout)

	setString("AMANRAG_RERANK_PROVIDER", &c.Rerank.Provider)
	setString("AMANRAG_RERANK_ENDPOINT", &c.Rerank.Endpoint)

	setString("AMANRAG_EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	setString("AMANRAG_EMBEDDINGS_MODEL", &c.Embeddings.Model)
	setString("AMANRAG_EMBEDDINGS_HOST", &c.Embeddings.Host)
	setString("AMANRAG_EMBEDDINGS_API_KEY", &c.Embeddings.APIKey)

	setString("AMANRAG_TRANSPORT", &c.Server.Transport)
	setString("AMANRAG_ADDR", &c.Server.Addr)
	setString("AMANRAG_LOG_LEVEL", &c.Server.LogLevel)
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	switch c.Chunking.Strategy {
	case "fixed", "semantic", "recursive", "page_aware":
	default:
		return fmt.Errorf("chunking.strategy must be fixed, semantic, recursive or page_aware, got %q", c.Chunking.Strategy)
	}
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap must be in [0, size), got %d", c.Chunking.Overlap)
	}

	if c.Lexical.K1 < 0 {
		return fmt.Errorf("lexical.k1 must be non-negative, got %f", c.Lexical.K1)
	}
	if c.Lexical.B < 0 || c.Lexical.B > 1 {
		return fmt.Errorf("lexical.b must be between 0 and 1, got %f", c.Lexical.B)
	}

	switch c.Vector.Backend {
	case "hnsw", "sqlite":
	case "postgres":
		if c.Vector.PostgresDSN == "" {
			return fmt.Errorf("vector.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("vector.backend must be hnsw, postgres or sqlite, got %q", c.Vector.Backend)
	}
	if c.Vector.Dimensions <= 0 {
		return fmt.Errorf("vector.dimensions must be positive, got %d", c.Vector.Dimensions)
	}

	switch c.Corpus.Backend {
	case "sqlite", "badger":
	default:
		return fmt.Errorf("corpus.backend must be sqlite or badger, got %q", c.Corpus.Backend)
	}

	if c.Search.Alpha < 0 || c.Search.Alpha > 1 {
		return fmt.Errorf("search.alpha must be between 0 and 1, got %f", c.Search.Alpha)
	}
	if c.Search.MaxTopK < 1 || c.Search.DefaultTopK < 1 || c.Search.DefaultTopK > c.Search.MaxTopK {
		return fmt.Errorf("search.default_top_k must be in [1, max_top_k], got %d (max %d)", c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.ContextSize < 0 || c.Search.ContextSize > 3 {
		return fmt.Errorf("search.context_size must be between 0 and 3, got %d", c.Search.ContextSize)
	}
	for name, v := range map[string]string{
		"search.backend_timeout": c.Search.BackendTimeout,
		"search.request_timeout": c.Search.RequestTimeout,
		"rerank.timeout":         c.Rerank.Timeout,
		"ingest.watch_debounce":  c.Ingest.WatchDebounce,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	switch c.Rerank.Provider {
	case "heuristic":
	case "http":
		if c.Rerank.Endpoint == "" {
			return fmt.Errorf("rerank.endpoint is required for the http provider")
		}
	default:
		return fmt.Errorf("rerank.provider must be heuristic or http, got %q", c.Rerank.Provider)
	}

	switch c.Embeddings.Provider {
	case "static", "ollama", "openai":
	default:
		return fmt.Errorf("embeddings.provider must be static, ollama or openai, got %q", c.Embeddings.Provider)
	}

	switch strings.ToLower(c.Server.Transport) {
	case "http", "stdio":
	default:
		return fmt.Errorf("server.transport must be http or stdio, got %q", c.Server.Transport)
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be debug, info, warn or error, got %q", c.Server.LogLevel)
	}

	return nil
}

// BackendTimeoutDuration returns the per-backend search timeout.
func (s SearchConfig) BackendTimeoutDuration() time.Duration {
	d, _ := parseDuration(s.BackendTimeout)
	return d
}

// RequestTimeoutDuration returns the overall request deadline.
func (s SearchConfig) RequestTimeoutDuration() time.Duration {
	d, _ := parseDuration(s.RequestTimeout)
	return d
}

// TimeoutDuration returns the cross-encoder call timeout.
func (r RerankConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration(r.Timeout)
	return d
}

// WatchDebounceDuration returns the watcher debounce window.
func (i IngestConfig) WatchDebounceDuration() time.Duration {
	d, _ := parseDuration(i.WatchDebounce)
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// parseDuration accepts "" and "0" as zero.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be non-negative, got %s", s)
	}
	return d, nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
