package config

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/ragtools/internal/domain"
)

// Config holds the ragtools server configuration.
type Config struct {
	HTTP        HTTPConfig                  `yaml:"http"`
	Auth        AuthConfig                  `yaml:"auth"`
	Logging     LoggingConfig               `yaml:"logging"`
	Search      SearchConfig                `yaml:"search"`
	Index       IndexConfig                 `yaml:"index"`
	Embedders   map[string]EmbedderConfig   `yaml:"embedders"`
	Collections map[string]CollectionConfig `yaml:"collections"`
	Tools       []ToolConfig                `yaml:"tools"`
	Web         WebConfig                   `yaml:"web"`
	Chat        ChatConfig                  `yaml:"chat"`
	Assets      AssetsConfig                `yaml:"assets"`
	Ingest      IngestConfig                `yaml:"ingest"`
	// ToolTimeoutSec bounds one tool invocation, embedding and search included.
	ToolTimeoutSec int `yaml:"tool_timeout_sec"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// Search drivers.
const (
	DriverValkey     = "valkey"
	DriverOpenSearch = "opensearch"
)

// SearchConfig selects and configures the k-NN engine.
type SearchConfig struct {
	Driver           string           `yaml:"driver"` // valkey (default), opensearch
	Valkey           ValkeyConfig     `yaml:"valkey"`
	OpenSearch       OpenSearchConfig `yaml:"opensearch"`
	ReadinessTimeout int              `yaml:"readiness_timeout_sec"`
}

// ValkeyConfig holds Valkey connection settings.
type ValkeyConfig struct {
	Addrs    []string `yaml:"addrs"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
}

// OpenSearchConfig holds OpenSearch connection settings. Region enables SigV4 signing.
type OpenSearchConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Region     string `yaml:"region"`
	Service    string `yaml:"service"` // aoss (serverless) or es
	Profile    string `yaml:"profile"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// IndexConfig holds HNSW build settings used by ingest.
type IndexConfig struct {
	HNSWM           int `yaml:"hnsw_m"`
	HNSWEFConstruct int `yaml:"hnsw_ef_construction"`
}

// Embedding providers.
const (
	ProviderOpenAI  = "openai"
	ProviderBedrock = "bedrock"
)

// EmbedderConfig configures one named embedding model.
type EmbedderConfig struct {
	Provider   string `yaml:"provider"` // openai, bedrock
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	Normalize  bool   `yaml:"normalize"`
	// UnitLength declares that the provider already returns unit vectors (openai only).
	UnitLength bool `yaml:"unit_length"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`

	// CacheTTLSec enables the Valkey query embedding cache; 0 disables it, -1 never expires.
	CacheTTLSec int `yaml:"cache_ttl_sec"`
}

// CollectionConfig describes an indexed collection.
type CollectionConfig struct {
	VectorField string   `yaml:"vector_field"`
	Dimensions  int      `yaml:"dimensions"`
	Metric      string   `yaml:"metric"` // cosine (default), inner_product, l2
	Fields      []string `yaml:"fields"`
	IDField     string   `yaml:"id_field"`
}

// ToolConfig binds a tool name to its collection and embedder.
type ToolConfig struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Kind        string   `yaml:"kind"` // documents, images, image_query, web
	Collection  string   `yaml:"collection"`
	Embedder    string   `yaml:"embedder"`
	K           int      `yaml:"k"`
	Fields      []string `yaml:"fields"`
	PathField   string   `yaml:"path_field"`
}

// WebConfig configures the web search provider.
type WebConfig struct {
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// ChatConfig configures the chat model behind /chat and /summarize.
type ChatConfig struct {
	APIKey       string  `yaml:"api_key"`
	BaseURL      string  `yaml:"base_url"`
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"system_prompt"`
	MaxSteps     int     `yaml:"max_steps"`
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	// Parallelism caps concurrent tool calls within one model turn.
	Parallelism int `yaml:"parallelism"`
	// SummaryTool names the documents tool used by /summarize.
	SummaryTool string `yaml:"summary_tool"`
	// TitleField and ContentField name the document fields used for
	// references and summary context (default: title, content).
	TitleField   string `yaml:"title_field"`
	ContentField string `yaml:"content_field"`
}

// AssetsConfig locates local image files referenced by image collections.
type AssetsConfig struct {
	Dir string `yaml:"dir"`
}

// IngestConfig tunes bulk ingest.
type IngestConfig struct {
	BatchSize     int     `yaml:"batch_size"`
	Workers       int     `yaml:"workers"`
	RatePerSecond float64 `yaml:"rate_per_second"`
}

var toolKinds = []string{"documents", "images", "image_query", "web"}

// DefaultPathField is the collection field holding an image's stored path.
const DefaultPathField = "image_path"

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse expands env variables, decodes, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Search.Driver == "" {
		c.Search.Driver = DriverValkey
	}
	if c.Search.ReadinessTimeout <= 0 {
		c.Search.ReadinessTimeout = 10
	}
	if c.Search.OpenSearch.Service == "" {
		c.Search.OpenSearch.Service = "aoss"
	}
	if c.Search.OpenSearch.TimeoutSec <= 0 {
		c.Search.OpenSearch.TimeoutSec = 10
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 16
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 200
	}
	for name, col := range c.Collections {
		if col.Metric == "" {
			col.Metric = string(domain.MetricCosine)
			c.Collections[name] = col
		}
	}
	if c.Web.TimeoutSec <= 0 {
		c.Web.TimeoutSec = 15
	}
	for i := range c.Tools {
		if isImageKind(c.Tools[i].Kind) && c.Tools[i].PathField == "" {
			c.Tools[i].PathField = DefaultPathField
		}
	}
	if c.Chat.MaxSteps <= 0 {
		c.Chat.MaxSteps = 4
	}
	if c.Chat.Parallelism <= 0 {
		c.Chat.Parallelism = 4
	}
	if c.Ingest.BatchSize <= 0 {
		c.Ingest.BatchSize = 100
	}
	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = 4
	}
	if c.ToolTimeoutSec <= 0 {
		c.ToolTimeoutSec = 30
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if err := c.validateSearch(); err != nil {
		return err
	}
	for name, e := range c.Embedders {
		if err := e.validate(name); err != nil {
			return err
		}
	}
	for name := range c.Collections {
		col := c.Collection(name)
		if err := col.Validate(); err != nil {
			return fmt.Errorf("collections.%s: %w", name, err)
		}
	}
	return c.validateTools()
}

func (c *Config) validateSearch() error {
	switch c.Search.Driver {
	case DriverValkey:
		if len(c.Search.Valkey.Addrs) == 0 {
			return errors.New("search.valkey.addrs is required")
		}
	case DriverOpenSearch:
		if c.Search.OpenSearch.Endpoint == "" {
			return errors.New("search.opensearch.endpoint is required")
		}
	default:
		return fmt.Errorf("search.driver must be %q or %q, got %q", DriverValkey, DriverOpenSearch, c.Search.Driver)
	}
	return nil
}

func (e *EmbedderConfig) validate(name string) error {
	switch e.Provider {
	case ProviderOpenAI:
		if e.APIKey == "" && e.BaseURL == "" {
			return fmt.Errorf("embedders.%s: api_key or base_url is required", name)
		}
	case ProviderBedrock:
		if e.Region == "" {
			return fmt.Errorf("embedders.%s: region is required", name)
		}
	default:
		return fmt.Errorf("embedders.%s.provider must be %q or %q, got %q", name, ProviderOpenAI, ProviderBedrock, e.Provider)
	}
	if e.Model == "" {
		return fmt.Errorf("embedders.%s: model is required", name)
	}
	if e.Dimensions < 0 {
		return fmt.Errorf("embedders.%s: dimensions must not be negative", name)
	}
	return nil
}

func (c *Config) validateTools() error {
	seen := make(map[string]bool, len(c.Tools))
	for i := range c.Tools {
		t := &c.Tools[i]
		if t.Name == "" {
			return fmt.Errorf("tools[%d]: name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("tools.%s: duplicate name", t.Name)
		}
		seen[t.Name] = true

		if !slices.Contains(toolKinds, t.Kind) {
			return fmt.Errorf("tools.%s.kind must be one of %v, got %q", t.Name, toolKinds, t.Kind)
		}
		if t.Kind == "web" {
			if c.Web.APIKey == "" {
				return fmt.Errorf("tools.%s: web.api_key is required", t.Name)
			}
			continue
		}
		col, ok := c.Collections[t.Collection]
		if !ok {
			return fmt.Errorf("tools.%s: unknown collection %q", t.Name, t.Collection)
		}
		if _, ok := c.Embedders[t.Embedder]; !ok {
			return fmt.Errorf("tools.%s: unknown embedder %q", t.Name, t.Embedder)
		}
		if isImageKind(t.Kind) {
			pathField := cmp.Or(t.PathField, DefaultPathField)
			if !slices.Contains(col.Fields, pathField) {
				return fmt.Errorf("tools.%s.path_field %q is not a field of collection %s", t.Name, pathField, t.Collection)
			}
		}
	}
	return c.validateChat()
}

func (c *Config) validateChat() error {
	if c.Chat.SummaryTool == "" {
		return nil
	}
	i := slices.IndexFunc(c.Tools, func(t ToolConfig) bool { return t.Name == c.Chat.SummaryTool })
	if i < 0 {
		return fmt.Errorf("chat.summary_tool: unknown tool %q", c.Chat.SummaryTool)
	}
	t := &c.Tools[i]
	if t.Kind != "documents" {
		return fmt.Errorf("chat.summary_tool: tool %s has kind %q, want documents", t.Name, t.Kind)
	}
	col := c.Collections[t.Collection]
	for _, f := range []string{c.Chat.TitleField, c.Chat.ContentField} {
		if f != "" && !slices.Contains(col.Fields, f) {
			return fmt.Errorf("chat: field %q is not a field of collection %s", f, t.Collection)
		}
	}
	return nil
}

func isImageKind(kind string) bool {
	return kind == "images" || kind == "image_query"
}

// Collection returns the domain descriptor of a configured collection, or nil.
func (c *Config) Collection(name string) *domain.Collection {
	col, ok := c.Collections[name]
	if !ok {
		return nil
	}
	return &domain.Collection{
		Name:        name,
		VectorField: col.VectorField,
		Dimensions:  col.Dimensions,
		Metric:      domain.Metric(col.Metric),
		Fields:      slices.Clone(col.Fields),
		IDField:     col.IDField,
	}
}

// ToolTimeout returns the per-invocation timeout.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutSec) * time.Second
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
