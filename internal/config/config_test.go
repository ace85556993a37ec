package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kailas-cloud/ragtools/internal/domain"
)

func validConfig() Config {
	return Config{
		HTTP:   HTTPConfig{Port: 8080},
		Search: SearchConfig{Driver: DriverValkey, Valkey: ValkeyConfig{Addrs: []string{"localhost:6379"}}},
		Embedders: map[string]EmbedderConfig{
			"text": {Provider: ProviderOpenAI, Model: "text-embedding-3-small", APIKey: "k"},
		},
		Collections: map[string]CollectionConfig{
			"posts": {VectorField: "v", Dimensions: 4, Metric: "cosine", Fields: []string{"title"}},
		},
		Tools: []ToolConfig{
			{Name: "search_documents", Kind: "documents", Collection: "posts", Embedder: "text"},
		},
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"port", func(c *Config) { c.HTTP.Port = 0 }, "http.port"},
		{"driver", func(c *Config) { c.Search.Driver = "milvus" }, "search.driver"},
		{"valkey addrs", func(c *Config) { c.Search.Valkey.Addrs = nil }, "search.valkey.addrs"},
		{"opensearch endpoint", func(c *Config) { c.Search.Driver = DriverOpenSearch }, "search.opensearch.endpoint"},
		{"provider", func(c *Config) {
			c.Embedders["text"] = EmbedderConfig{Provider: "cohere", Model: "m"}
		}, "embedders.text.provider"},
		{"bedrock region", func(c *Config) {
			c.Embedders["text"] = EmbedderConfig{Provider: ProviderBedrock, Model: "m"}
		}, "region is required"},
		{"model", func(c *Config) {
			c.Embedders["text"] = EmbedderConfig{Provider: ProviderOpenAI, APIKey: "k"}
		}, "model is required"},
		{"collection", func(c *Config) {
			c.Collections["posts"] = CollectionConfig{VectorField: "v", Metric: "cosine"}
		}, "collections.posts"},
		{"tool kind", func(c *Config) { c.Tools[0].Kind = "video" }, "kind must be one of"},
		{"tool collection", func(c *Config) { c.Tools[0].Collection = "nope" }, "unknown collection"},
		{"tool embedder", func(c *Config) { c.Tools[0].Embedder = "nope" }, "unknown embedder"},
		{"duplicate tool", func(c *Config) { c.Tools = append(c.Tools, c.Tools[0]) }, "duplicate name"},
		{"web key", func(c *Config) {
			c.Tools = append(c.Tools, ToolConfig{Name: "web_search", Kind: "web"})
		}, "web.api_key"},
		{"summary tool", func(c *Config) { c.Chat.SummaryTool = "nope" }, "chat.summary_tool"},
		{"summary tool kind", func(c *Config) {
			c.Web.APIKey = "tvly"
			c.Tools = append(c.Tools, ToolConfig{Name: "web_search", Kind: "web"})
			c.Chat.SummaryTool = "web_search"
		}, "want documents"},
		{"summary title field", func(c *Config) {
			c.Chat.SummaryTool = "search_documents"
			c.Chat.TitleField = "headline"
		}, `field "headline"`},
		{"image path field", func(c *Config) {
			c.Collections["photos"] = CollectionConfig{VectorField: "v", Dimensions: 4, Metric: "cosine", Fields: []string{"caption"}}
			c.Tools = append(c.Tools, ToolConfig{Name: "search_images", Kind: "images", Collection: "photos", Embedder: "text"})
		}, `path_field "image_path"`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error containing %q, got %q", tc.want, err.Error())
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{Collections: map[string]CollectionConfig{"posts": {}}}
	cfg.ApplyDefaults()

	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected Port=8080, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Search.Driver != DriverValkey {
		t.Errorf("expected valkey driver, got %q", cfg.Search.Driver)
	}
	if cfg.Search.OpenSearch.Service != "aoss" {
		t.Errorf("expected aoss service, got %q", cfg.Search.OpenSearch.Service)
	}
	if cfg.Index.HNSWM != 16 || cfg.Index.HNSWEFConstruct != 200 {
		t.Errorf("unexpected HNSW defaults: %+v", cfg.Index)
	}
	if cfg.Collections["posts"].Metric != "cosine" {
		t.Errorf("expected cosine metric, got %q", cfg.Collections["posts"].Metric)
	}
	if cfg.ToolTimeoutSec != 30 {
		t.Errorf("expected ToolTimeoutSec=30, got %d", cfg.ToolTimeoutSec)
	}
	if cfg.Chat.MaxSteps != 4 {
		t.Errorf("expected MaxSteps=4, got %d", cfg.Chat.MaxSteps)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:           HTTPConfig{Port: 9000, ReadTimeoutSec: 30, WriteTimeoutSec: 60, ShutdownSec: 5},
		Search:         SearchConfig{Driver: DriverOpenSearch, ReadinessTimeout: 15},
		Index:          IndexConfig{HNSWM: 32, HNSWEFConstruct: 400},
		ToolTimeoutSec: 5,
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.Port != 9000 || cfg.HTTP.WriteTimeoutSec != 60 {
		t.Errorf("unexpected http: %+v", cfg.HTTP)
	}
	if cfg.Search.Driver != DriverOpenSearch {
		t.Errorf("driver overridden: %q", cfg.Search.Driver)
	}
	if cfg.Index.HNSWM != 32 {
		t.Errorf("expected HNSWM=32, got %d", cfg.Index.HNSWM)
	}
	if cfg.ToolTimeoutSec != 5 {
		t.Errorf("expected ToolTimeoutSec=5, got %d", cfg.ToolTimeoutSec)
	}
}

func TestCollection(t *testing.T) {
	cfg := validConfig()
	col := cfg.Collection("posts")
	if col == nil {
		t.Fatal("expected collection")
	}
	if col.Name != "posts" || col.Metric != domain.MetricCosine || col.Dimensions != 4 {
		t.Errorf("unexpected collection: %+v", col)
	}
	col.Fields[0] = "mutated"
	if cfg.Collections["posts"].Fields[0] != "title" {
		t.Error("Collection must return a copy of the field list")
	}
	if cfg.Collection("missing") != nil {
		t.Error("expected nil for unknown collection")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("RAGTOOLS_TEST_ADDR", "valkey:6379")

	got := string(expandEnvVars([]byte("a: ${RAGTOOLS_TEST_ADDR}\nb: ${RAGTOOLS_TEST_UNSET:-fallback}\nc: ${RAGTOOLS_TEST_UNSET}")))
	want := "a: valkey:6379\nb: fallback\nc: "
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("RAGTOOLS_TEST_KEY", "secret")
	path := filepath.Join(t.TempDir(), "test.yaml")
	data := `
search:
  valkey:
    addrs: [localhost:6379]
embedders:
  text:
    provider: openai
    model: text-embedding-3-small
    api_key: ${RAGTOOLS_TEST_KEY}
collections:
  posts:
    vector_field: v
    dimensions: 8
    fields: [title]
tools:
  - name: search_documents
    kind: documents
    collection: posts
    embedder: text
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Embedders["text"].APIKey != "secret" {
		t.Errorf("env not expanded: %q", cfg.Embedders["text"].APIKey)
	}
	if cfg.Search.Driver != DriverValkey {
		t.Errorf("expected default driver, got %q", cfg.Search.Driver)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error")
	}
}

func TestLocalConfigParses(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test")
	if _, err := Load("local"); err != nil {
		t.Fatalf("config/local.yaml: %v", err)
	}
}

func TestValidate_ImageToolPathField(t *testing.T) {
	cfg := validConfig()
	cfg.Collections["photos"] = CollectionConfig{
		VectorField: "v", Dimensions: 4, Metric: "cosine", Fields: []string{"caption", "file"},
	}
	cfg.Tools = append(cfg.Tools, ToolConfig{
		Name: "search_images", Kind: "images", Collection: "photos", Embedder: "text",
		Fields: []string{"caption"}, PathField: "file",
	})
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.Tools[1].PathField = ""
	cfg.ApplyDefaults()
	if cfg.Tools[1].PathField != DefaultPathField {
		t.Errorf("path field default = %q", cfg.Tools[1].PathField)
	}
	if cfg.Tools[0].PathField != "" {
		t.Errorf("documents tool got a path field: %q", cfg.Tools[0].PathField)
	}
	if cfg.Chat.Parallelism != 4 {
		t.Errorf("chat parallelism default = %d", cfg.Chat.Parallelism)
	}
}
