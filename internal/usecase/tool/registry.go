// Package tool binds search tools to collections and invokes them by name.
package tool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragtools/internal/domain"
	"github.com/kailas-cloud/ragtools/internal/logger"
	"github.com/kailas-cloud/ragtools/internal/metrics"
	"github.com/kailas-cloud/ragtools/internal/usecase/format"
)

// DefaultPathField is the source field holding an image's stored path.
const DefaultPathField = "image_path"

// Spec binds a tool name to its kind, collection and embedder.
type Spec struct {
	Name        string
	Description string
	Kind        Kind
	Collection  *domain.Collection
	Embedder    Embedder
	// K is the result count; 0 selects Kind.DefaultK.
	K int
	// Fields restricts displayed fields; empty means all collection fields.
	Fields []string
	// PathField names the image path field for image kinds.
	PathField string
}

// Descriptor is the public view of a registered tool.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        Kind   `json:"kind"`
	K           int    `json:"k"`
}

// Result is the outcome of one invocation. Text is always set.
type Result struct {
	Tool      string            `json:"tool"`
	Text      string            `json:"text"`
	Documents []format.Document `json:"documents,omitempty"`
	Images    []format.Image    `json:"images,omitempty"`
	Web       []format.Web      `json:"web,omitempty"`
	// Assets are local files referenced by the result that exist on disk.
	Assets []string `json:"assets,omitempty"`
	Failed bool     `json:"failed"`
	// Err keeps the underlying failure for logging. It is never rendered to callers.
	Err error `json:"-"`
}

// Options configure a Registry.
type Options struct {
	Searcher Searcher
	Web      WebSearcher
	// AssetDir is the base directory for relative image paths.
	AssetDir string
	// Timeout bounds each invocation; 0 disables it.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Registry holds named tools. Registration happens at startup; Invoke is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Spec
	order []string

	searcher Searcher
	web      WebSearcher
	assetDir string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	l := opts.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Registry{
		tools:    make(map[string]*Spec),
		searcher: opts.Searcher,
		web:      opts.Web,
		assetDir: opts.AssetDir,
		timeout:  opts.Timeout,
		logger:   l,
	}
}

// Register validates and adds a tool. Names must be unique.
func (r *Registry) Register(s Spec) error {
	if s.Name == "" {
		return errors.New("tool name is required")
	}
	if !s.Kind.IsValid() {
		return fmt.Errorf("tool %s: unknown kind %q", s.Name, s.Kind)
	}
	if s.K < 0 {
		return fmt.Errorf("tool %s: k must be >= 1", s.Name)
	}
	if s.K == 0 {
		s.K = s.Kind.DefaultK()
	}

	if s.Kind.searchesCollection() {
		if s.Collection == nil {
			return fmt.Errorf("tool %s: collection is required", s.Name)
		}
		if s.Embedder == nil {
			return fmt.Errorf("tool %s: embedder is required", s.Name)
		}
		if r.searcher == nil {
			return fmt.Errorf("tool %s: registry has no searcher", s.Name)
		}
		for _, f := range s.Fields {
			if !s.Collection.HasField(f) {
				return fmt.Errorf("tool %s: field %q not in collection %s", s.Name, f, s.Collection.Name)
			}
		}
		if len(s.Fields) == 0 {
			s.Fields = s.Collection.Fields
		}
		if s.Kind.rendersImages() {
			if s.PathField == "" {
				s.PathField = DefaultPathField
			}
			if !s.Collection.HasField(s.PathField) {
				return fmt.Errorf("tool %s: path field %q not in collection %s", s.Name, s.PathField, s.Collection.Name)
			}
			if !slices.Contains(s.Fields, s.PathField) {
				s.Fields = append(slices.Clip(s.Fields), s.PathField)
			}
		}
	} else if r.web == nil {
		return fmt.Errorf("tool %s: registry has no web searcher", s.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[s.Name]; exists {
		return fmt.Errorf("tool %s: already registered", s.Name)
	}
	r.tools[s.Name] = &s
	r.order = append(r.order, s.Name)
	return nil
}

// List returns descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		s := r.tools[name]
		out = append(out, Descriptor{Name: s.Name, Description: s.Description, Kind: s.Kind, K: s.K})
	}
	return out
}

// Get returns the descriptor of a registered tool.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.tools[name]
	if !ok {
		return Descriptor{}, false
	}
	return Descriptor{Name: s.Name, Description: s.Description, Kind: s.Kind, K: s.K}, true
}

// Invoke runs a tool. It never returns an error and never panics: every failure,
// including an unknown name, becomes a readable Text with Failed set.
func (r *Registry) Invoke(ctx context.Context, name, query string) (res Result) {
	start := time.Now()
	log := logger.FromContextOr(ctx, r.logger).With(zap.String("tool", name))

	defer func() {
		if p := recover(); p != nil {
			log.Error("Tool panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			res = failure(name, "Search failed: internal error", fmt.Errorf("panic: %v", p))
		}
		outcome := "ok"
		switch {
		case res.Failed:
			outcome = "failed"
		case res.Text == format.NoResults:
			outcome = "empty"
		}
		metrics.ToolInvocationsTotal.WithLabelValues(name, outcome).Inc()
		metrics.ToolInvocationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if res.Failed {
			log.Warn("Tool invocation failed", zap.Duration("duration", time.Since(start)), zap.Error(res.Err))
		} else {
			log.Debug("Tool invocation completed", zap.String("outcome", outcome), zap.Duration("duration", time.Since(start)))
		}
	}()

	r.mu.RLock()
	spec, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return failure(name, fmt.Sprintf("Unknown tool: %s", name), fmt.Errorf("unknown tool %q", name))
	}

	if strings.TrimSpace(query) == "" {
		return failure(name, "Query must not be empty.", domain.ErrEmptyQuery)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	switch spec.Kind {
	case KindWeb:
		return r.invokeWeb(ctx, spec, query)
	case KindImageQuery:
		return r.invokeImageQuery(ctx, spec, query, log)
	default:
		return r.invokeCollection(ctx, spec, domain.NewTextQuery(query), log)
	}
}

func (r *Registry) invokeCollection(ctx context.Context, s *Spec, q domain.Query, log *zap.Logger) Result {
	vec, err := s.Embedder.Embed(ctx, q)
	if err != nil {
		return failure(s.Name, "Search failed: "+describe(ctx, err), err)
	}

	hits, err := r.searcher.Search(ctx, s.Collection, vec, s.K, s.Fields)
	if err != nil {
		return failure(s.Name, "Search failed: "+describe(ctx, err), err)
	}

	if s.Kind == KindDocuments {
		docs := format.Documents(hits, s.Fields)
		return Result{Tool: s.Name, Text: format.RenderDocuments(docs), Documents: docs}
	}

	images := format.Images(hits, s.PathField, r.assetDir)
	for i := range images {
		if images[i].Missing {
			metrics.MissingAssetsTotal.WithLabelValues(s.Name).Inc()
			log.Warn("Image asset missing", zap.String("id", images[i].ID), zap.Error(images[i].Err))
		}
	}
	return Result{
		Tool:   s.Name,
		Text:   format.RenderImages(images),
		Images: images,
		Assets: format.Assets(images),
	}
}

func (r *Registry) invokeImageQuery(ctx context.Context, s *Spec, path string, log *zap.Logger) Result {
	resolved := format.ResolvePath(strings.TrimSpace(path), "")
	data, err := os.ReadFile(resolved)
	if err != nil {
		assetErr := &domain.AssetError{Path: resolved, Err: err}
		if errors.Is(err, os.ErrNotExist) {
			assetErr.Err = domain.ErrAssetMissing
		}
		return failure(s.Name, fmt.Sprintf("Search failed: cannot read image %s", resolved), assetErr)
	}
	return r.invokeCollection(ctx, s, domain.NewImageQuery(data), log)
}

func (r *Registry) invokeWeb(ctx context.Context, s *Spec, query string) Result {
	results, err := r.web.Search(ctx, query, s.K)
	if err != nil {
		return failure(s.Name, "Web search failed: "+describe(ctx, err), err)
	}
	web := format.WebResults(results)
	return Result{Tool: s.Name, Text: format.RenderWeb(web), Web: web}
}

func failure(name, text string, err error) Result {
	return Result{Tool: name, Text: text, Failed: true, Err: err}
}

// describe produces the caller-facing failure detail.
func describe(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "request timed out"
	}
	return err.Error()
}
