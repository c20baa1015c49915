// Package config loads amanrag configuration.
//
// Values are layered in order of increasing precedence: built-in defaults,
// the user config ($XDG_CONFIG_HOME/amanrag/config.yaml), the project config
// (.amanrag.yaml in the working directory) and AMANRAG_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// ProjectConfigName is the per-project config file.
const ProjectConfigName = ".amanrag.yaml"

// Config represents the complete amanrag configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Inference  InferenceConfig  `yaml:"inference" json:"inference"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// RetrievalConfig configures the query pipeline.
type RetrievalConfig struct {
	// DefaultTopK is used when a caller does not give top_k.
	DefaultTopK int `yaml:"default_top_k" json:"default_top_k"`

	// LexicalTopN is how many candidates survive lexical scoring.
	LexicalTopN int `yaml:"lexical_top_n" json:"lexical_top_n"`

	// Weights must be non-negative and sum to 1.0.
	Weights WeightsConfig `yaml:"weights" json:"weights"`

	EmbedTimeout time.Duration `yaml:"embed_timeout" json:"embed_timeout"`

	// SemanticFetchFactor multiplies the neighbour count asked of the vector index.
	SemanticFetchFactor int `yaml:"semantic_fetch_factor" json:"semantic_fetch_factor"`

	// Similarity is the distance-to-similarity transform:
	// inverse_distance (default), cosine_distance, similarity, signed_similarity.
	Similarity string `yaml:"similarity" json:"similarity"`

	// BatchConcurrency bounds concurrent queries in a batch (0 = GOMAXPROCS).
	BatchConcurrency int `yaml:"batch_concurrency" json:"batch_concurrency"`
}

// WeightsConfig holds the fusion weights.
type WeightsConfig struct {
	SQL      float64 `yaml:"sql" json:"sql"`
	Lexical  float64 `yaml:"lexical" json:"lexical"`
	Semantic float64 `yaml:"semantic" json:"semantic"`
}

// InferenceRule maps keywords to a library or category value.
type InferenceRule struct {
	Value    string   `yaml:"value" json:"value"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// InferenceConfig overrides the filter inference tables. An empty list keeps
// the built-in table for that kind.
type InferenceConfig struct {
	Libraries  []InferenceRule `yaml:"libraries,omitempty" json:"libraries,omitempty"`
	Categories []InferenceRule `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// StorageConfig selects and locates the stores.
type StorageConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// LexicalBackend: bleve (default) or memory.
	LexicalBackend string `yaml:"lexical_backend" json:"lexical_backend"`

	// VectorBackend: hnsw (default) or pgvector.
	VectorBackend string `yaml:"vector_backend" json:"vector_backend"`

	// CorpusBackend: sqlite (default) or badger.
	CorpusBackend string `yaml:"corpus_backend" json:"corpus_backend"`

	// VectorMetric: cos (default) or l2.
	VectorMetric string `yaml:"vector_metric" json:"vector_metric"`

	// PostgresDSN is required by the pgvector backend.
	PostgresDSN string `yaml:"postgres_dsn,omitempty" json:"postgres_dsn,omitempty"`

	HNSWM        int `yaml:"hnsw_m" json:"hnsw_m"`
	HNSWEfSearch int `yaml:"hnsw_ef_search" json:"hnsw_ef_search"`
}

// EmbeddingsConfig configures the query embedding provider.
// The OpenAI API key is read from OPENAI_API_KEY, never from a file.
type EmbeddingsConfig struct {
	// Provider: ollama (default), openai, static or none.
	Provider      string `yaml:"provider" json:"provider"`
	Model         string `yaml:"model" json:"model"`
	Dimensions    int    `yaml:"dimensions" json:"dimensions"`
	OllamaHost    string `yaml:"ollama_host" json:"ollama_host"`
	OpenAIBaseURL string `yaml:"openai_base_url,omitempty" json:"openai_base_url,omitempty"`

	CacheSize       int           `yaml:"cache_size" json:"cache_size"`
	BreakerFailures int           `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset" json:"breaker_reset"`
}

// ServerConfig configures the daemon and logging.
type ServerConfig struct {
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	PIDPath    string `yaml:"pid_path" json:"pid_path"`
	LogLevel   string `yaml:"log_level" json:"log_level"`

	// WatchDebounce coalesces generation file events before a reload.
	WatchDebounce time.Duration `yaml:"watch_debounce" json:"watch_debounce"`

	// WatchPoll is the polling interval used when fsnotify is unavailable.
	WatchPoll time.Duration `yaml:"watch_poll" json:"watch_poll"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	home := HomeDir()
	return &Config{
		Version: 1,
		Retrieval: RetrievalConfig{
			DefaultTopK: 5,
			LexicalTopN: 10,
			Weights: WeightsConfig{
				SQL:      0.3,
				Lexical:  0.3,
				Semantic: 0.4,
			},
			EmbedTimeout:        30 * time.Second,
			SemanticFetchFactor: 4,
			Similarity:          "inverse_distance",
		},
		Storage: StorageConfig{
			DataDir:        filepath.Join(home, "data"),
			LexicalBackend: "bleve",
			VectorBackend:  "hnsw",
			CorpusBackend:  "sqlite",
			VectorMetric:   "cos",
			HNSWM:          16,
			HNSWEfSearch:   64,
		},
		Embeddings: EmbeddingsConfig{
			Provider:        "ollama",
			Model:           "", // provider default
			CacheSize:       1000,
			BreakerFailures: 5,
			BreakerReset:    30 * time.Second,
		},
		Server: ServerConfig{
			SocketPath:    filepath.Join(home, "daemon.sock"),
			PIDPath:       filepath.Join(home, "daemon.pid"),
			LogLevel:      "info",
			WatchDebounce: 500 * time.Millisecond,
			WatchPoll:     2 * time.Second,
		},
	}
}

// HomeDir returns the amanrag state directory (~/.amanrag).
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanrag")
	}
	return filepath.Join(home, ".amanrag")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/amanrag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/amanrag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanrag", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load loads configuration for the project in dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/amanrag/config.yaml)
//  3. Project config (.amanrag.yaml in dir)
//  4. Environment variables (AMANRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeConfigInvalid, "invalid configuration", err).
			WithSuggestion("Run 'amanrag config show' to inspect the merged configuration")
	}
	return cfg, nil
}

// loadFromFile loads .amanrag.yaml, or .amanrag.yml as a fallback, from dir.
func (c *Config) loadFromFile(dir string) error {
	if dir == "" {
		return nil
	}
	for _, name := range []string{ProjectConfigName, ".amanrag.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML decodes path on top of c. Keys absent from the file keep their
// current value, so explicit zeros are honoured and unset fields are not.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return amerrors.New(amerrors.ErrCodeConfigPermission, "cannot read config file", err).
				WithDetail("path", path)
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return amerrors.New(amerrors.ErrCodeConfigInvalid, "failed to parse config file", err).
			WithDetail("path", path)
	}
	return nil
}

// applyEnvOverrides applies AMANRAG_* environment variable overrides.
// Unparseable numeric values are ignored.
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
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				*dst = f
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				*dst = d
			}
		}
	}

	setInt("AMANRAG_TOP_K", &c.Retrieval.DefaultTopK)
	setInt("AMANRAG_LEXICAL_TOP_N", &c.Retrieval.LexicalTopN)
	setFloat("AMANRAG_SQL_WEIGHT", &c.Retrieval.Weights.SQL)
	setFloat("AMANRAG_LEXICAL_WEIGHT", &c.Retrieval.Weights.Lexical)
	setFloat("AMANRAG_SEMANTIC_WEIGHT", &c.Retrieval.Weights.Semantic)
	setDuration("AMANRAG_EMBED_TIMEOUT", &c.Retrieval.EmbedTimeout)
	setString("AMANRAG_SIMILARITY", &c.Retrieval.Similarity)

	setString("AMANRAG_DATA_DIR", &c.Storage.DataDir)
	setString("AMANRAG_LEXICAL_BACKEND", &c.Storage.LexicalBackend)
	setString("AMANRAG_VECTOR_BACKEND", &c.Storage.VectorBackend)
	setString("AMANRAG_CORPUS_BACKEND", &c.Storage.CorpusBackend)
	setString("AMANRAG_POSTGRES_DSN", &c.Storage.PostgresDSN)

	setString("AMANRAG_EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	// AMANRAG_EMBEDDER is an alias for AMANRAG_EMBEDDINGS_PROVIDER
	setString("AMANRAG_EMBEDDER", &c.Embeddings.Provider)
	setString("AMANRAG_EMBEDDINGS_MODEL", &c.Embeddings.Model)
	setString("AMANRAG_OLLAMA_HOST", &c.Embeddings.OllamaHost)
	setString("AMANRAG_OPENAI_BASE_URL", &c.Embeddings.OpenAIBaseURL)

	setString("AMANRAG_SOCKET_PATH", &c.Server.SocketPath)
	setString("AMANRAG_LOG_LEVEL", &c.Server.LogLevel)
}

// expandPaths resolves a leading ~ in path settings.
func (c *Config) expandPaths() {
	c.Storage.DataDir = ExpandHome(c.Storage.DataDir)
	c.Server.SocketPath = ExpandHome(c.Server.SocketPath)
	c.Server.PIDPath = ExpandHome(c.Server.PIDPath)
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	r := c.Retrieval
	w := r.Weights
	if w.SQL < 0 || w.Lexical < 0 || w.Semantic < 0 {
		return fmt.Errorf("retrieval.weights must be non-negative, got sql=%g lexical=%g semantic=%g", w.SQL, w.Lexical, w.Semantic)
	}
	if sum := w.SQL + w.Lexical + w.Semantic; math.IsNaN(sum) || math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("retrieval.weights must sum to 1.0, got %g", sum)
	}
	if r.DefaultTopK <= 0 {
		return fmt.Errorf("retrieval.default_top_k must be positive, got %d", r.DefaultTopK)
	}
	if r.LexicalTopN <= 0 {
		return fmt.Errorf("retrieval.lexical_top_n must be positive, got %d", r.LexicalTopN)
	}
	if r.EmbedTimeout <= 0 {
		return fmt.Errorf("retrieval.embed_timeout must be positive, got %s", r.EmbedTimeout)
	}
	if r.SemanticFetchFactor < 1 {
		return fmt.Errorf("retrieval.semantic_fetch_factor must be at least 1, got %d", r.SemanticFetchFactor)
	}
	if r.BatchConcurrency < 0 {
		return fmt.Errorf("retrieval.batch_concurrency must be non-negative, got %d", r.BatchConcurrency)
	}
	if err := oneOf("retrieval.similarity", r.Similarity, "", "inverse_distance", "cosine_distance", "similarity", "signed_similarity"); err != nil {
		return err
	}

	if err := validateRules("inference.libraries", c.Inference.Libraries); err != nil {
		return err
	}
	if err := validateRules("inference.categories", c.Inference.Categories); err != nil {
		return err
	}

	s := c.Storage
	if s.DataDir == "" {
		return errors.New("storage.data_dir must be set")
	}
	if err := oneOf("storage.lexical_backend", s.LexicalBackend, "bleve", "memory"); err != nil {
		return err
	}
	if err := oneOf("storage.vector_backend", s.VectorBackend, "hnsw", "pgvector"); err != nil {
		return err
	}
	if err := oneOf("storage.corpus_backend", s.CorpusBackend, "sqlite", "badger"); err != nil {
		return err
	}
	if err := oneOf("storage.vector_metric", s.VectorMetric, "cos", "l2"); err != nil {
		return err
	}
	if s.VectorBackend == "pgvector" && s.PostgresDSN == "" {
		return errors.New("storage.postgres_dsn is required by the pgvector backend")
	}

	e := c.Embeddings
	if err := oneOf("embeddings.provider", strings.ToLower(e.Provider), "ollama", "openai", "static", "none"); err != nil {
		return err
	}
	if e.Dimensions < 0 || e.CacheSize < 0 || e.BreakerFailures < 0 || e.BreakerReset < 0 {
		return errors.New("embeddings: dimensions, cache_size, breaker_failures and breaker_reset must be non-negative")
	}

	return oneOf("server.log_level", strings.ToLower(c.Server.LogLevel), "debug", "info", "warn", "error")
}

func validateRules(field string, rules []InferenceRule) error {
	for i, rule := range rules {
		if strings.TrimSpace(rule.Value) == "" || len(rule.Keywords) == 0 {
			return fmt.Errorf("%s[%d] needs a value and at least one keyword", field, i)
		}
	}
	return nil
}

func oneOf(field, value string, valid ...string) error {
	for _, v := range valid {
		if value == v {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(nonEmpty(valid), ", "), value)
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// WriteYAML writes the configuration to a YAML file, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
