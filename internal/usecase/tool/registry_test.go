package tool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/ragtools/internal/domain"
	"github.com/kailas-cloud/ragtools/internal/usecase/format"
)

type stubEmbedder struct {
	mu      sync.Mutex
	err     error
	panicky bool
	last    domain.Query
}

func (s *stubEmbedder) Embed(_ context.Context, q domain.Query) ([]float32, error) {
	if s.panicky {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = q
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0}, nil
}

type stubSearcher struct {
	mu    sync.Mutex
	hits  []domain.Hit
	err   error
	block bool
	calls int
	k     int
	// fields records the last requested fields; returned hits keep only those.
	fields []string
}

func (s *stubSearcher) Search(
	ctx context.Context, _ *domain.Collection, _ []float32, k int, fields []string,
) ([]domain.Hit, error) {
	s.mu.Lock()
	s.calls++
	s.k = k
	s.fields = fields
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return nil, &domain.SearchError{Collection: "docs", Err: ctx.Err()}
	}
	if s.err != nil {
		return nil, s.err
	}
	hits := make([]domain.Hit, 0, len(s.hits))
	for _, h := range s.hits {
		kept := make(map[string]string, len(fields))
		for _, f := range fields {
			if v, ok := h.Fields[f]; ok {
				kept[f] = v
			}
		}
		h.Fields = kept
		hits = append(hits, h)
	}
	if len(hits) > k {
		return hits[:k], nil
	}
	return hits, nil
}

type stubWeb struct {
	results []domain.WebResult
	err     error
	n       int
}

func (s *stubWeb) Search(_ context.Context, _ string, n int) ([]domain.WebResult, error) {
	s.n = n
	return s.results, s.err
}

var (
	docsCol = &domain.Collection{
		Name: "bedrock-test", VectorField: "content_vector", Dimensions: 3,
		Metric: domain.MetricCosine, Fields: []string{"title", "content", "author"},
	}
	imgCol = &domain.Collection{
		Name: "nova-image-test", VectorField: "content_vector", Dimensions: 3,
		Metric: domain.MetricCosine, Fields: []string{"image_path"},
	}
)

func newRegistry(t *testing.T, s *stubSearcher, w *stubWeb, opts ...func(*Options)) *Registry {
	t.Helper()
	o := Options{Searcher: s, AssetDir: t.TempDir()}
	if w != nil {
		o.Web = w
	}
	for _, fn := range opts {
		fn(&o)
	}
	return NewRegistry(o)
}

func mustRegister(t *testing.T, r *Registry, s Spec) {
	t.Helper()
	if err := r.Register(s); err != nil {
		t.Fatalf("Register(%s): %v", s.Name, err)
	}
}

func TestInvoke_DocumentInTopThree(t *testing.T) {
	s := &stubSearcher{hits: []domain.Hit{
		{ID: "7", Score: 0.82, Fields: map[string]string{"title": "Hosting a static website on S3", "author": "lee"}},
		{ID: "3", Score: 0.61, Fields: map[string]string{"title": "CloudFront basics"}},
		{ID: "9", Score: 0.40, Fields: map[string]string{"title": "IAM policies"}},
	}}
	r := newRegistry(t, s, nil)
	mustRegister(t, r, Spec{Name: "search_documents", Kind: KindDocuments, Collection: docsCol, Embedder: &stubEmbedder{}})

	res := r.Invoke(context.Background(), "search_documents", "How do I host a static site on S3?")
	if res.Failed {
		t.Fatalf("unexpected failure: %s", res.Text)
	}
	if s.k != 5 {
		t.Errorf("documents default k = %d, want 5", s.k)
	}
	found := false
	for i := 0; i < len(res.Documents) && i < 3; i++ {
		if strings.Contains(res.Documents[i].Field("title"), "S3") {
			found = true
		}
	}
	if !found {
		t.Error("expected S3 document in top 3")
	}
	if !strings.HasPrefix(res.Text, "[1] (score: 0.820)\ntitle: Hosting a static website on S3\ncontent: N/A\nauthor: lee") {
		t.Errorf("text = %q", res.Text)
	}
}

func TestInvoke_EmptyImageCollection(t *testing.T) {
	r := newRegistry(t, &stubSearcher{}, nil)
	mustRegister(t, r, Spec{Name: "search_images", Kind: KindImages, Collection: imgCol, Embedder: &stubEmbedder{}})

	res := r.Invoke(context.Background(), "search_images", "cat")
	if res.Failed {
		t.Fatalf("empty result must not fail: %v", res.Err)
	}
	if res.Text != format.NoResults {
		t.Errorf("text = %q, want %q", res.Text, format.NoResults)
	}
}

func TestInvoke_MissingImageFlagged(t *testing.T) {
	s := &stubSearcher{hits: []domain.Hit{
		{ID: "1", Score: 0.9, Fields: map[string]string{"image_path": "cat.png"}},
		{ID: "2", Score: 0.8, Fields: map[string]string{"image_path": "ghost.png"}},
		{ID: "3", Score: 0.7, Fields: map[string]string{"image_path": "dog.png"}},
	}}
	dir := t.TempDir()
	for _, n := range []string{"cat.png", "dog.png"} {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("img"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	r := newRegistry(t, s, nil, func(o *Options) { o.AssetDir = dir })
	mustRegister(t, r, Spec{Name: "search_images", Kind: KindImages, Collection: imgCol, Embedder: &stubEmbedder{}})

	res := r.Invoke(context.Background(), "search_images", "animals")
	if res.Failed {
		t.Fatalf("missing asset must not fail the result: %v", res.Err)
	}
	if s.k != 3 {
		t.Errorf("images default k = %d, want 3", s.k)
	}
	lines := strings.Split(res.Text, "\n")
	if len(lines) != 3 || !strings.HasSuffix(lines[1], "(missing)") {
		t.Fatalf("text = %q", res.Text)
	}
	if strings.Contains(lines[0], "(missing)") || strings.Contains(lines[2], "(missing)") {
		t.Errorf("existing images flagged: %q", res.Text)
	}
	if len(res.Assets) != 2 {
		t.Errorf("assets = %v", res.Assets)
	}
}

func TestInvoke_TransientEmbeddingError(t *testing.T) {
	emb := &stubEmbedder{err: &domain.EmbeddingError{
		Modality: domain.ModalityText,
		Err:      errors.New("ThrottlingException: rate exceeded"),
	}}
	s := &stubSearcher{}
	r := newRegistry(t, s, nil)
	mustRegister(t, r, Spec{Name: "search_documents", Kind: KindDocuments, Collection: docsCol, Embedder: emb})

	res := r.Invoke(context.Background(), "search_documents", "anything")
	if !res.Failed {
		t.Fatal("expected failed result")
	}
	if !strings.HasPrefix(res.Text, "Search failed: ") || !strings.Contains(res.Text, "ThrottlingException") {
		t.Errorf("text = %q", res.Text)
	}
	if s.calls != 0 {
		t.Error("search must not run after an embedding failure")
	}
	var embErr *domain.EmbeddingError
	if !errors.As(res.Err, &embErr) {
		t.Errorf("underlying error should be kept, got %v", res.Err)
	}
}

func TestInvoke_SearchError(t *testing.T) {
	s := &stubSearcher{err: &domain.SearchError{Collection: "bedrock-test", Err: domain.ErrCollectionNotFound}}
	r := newRegistry(t, s, nil)
	mustRegister(t, r, Spec{Name: "docs", Kind: KindDocuments, Collection: docsCol, Embedder: &stubEmbedder{}})

	res := r.Invoke(context.Background(), "docs", "q")
	if !res.Failed || !strings.Contains(res.Text, "collection not found") {
		t.Errorf("result = %+v", res)
	}
}

func TestInvoke_UnknownToolAndEmptyQuery(t *testing.T) {
	r := newRegistry(t, &stubSearcher{}, nil)
	mustRegister(t, r, Spec{Name: "docs", Kind: KindDocuments, Collection: docsCol, Embedder: &stubEmbedder{}})

	res := r.Invoke(context.Background(), "nope", "q")
	if !res.Failed || res.Text != "Unknown tool: nope" {
		t.Errorf("unknown tool result = %+v", res)
	}

	res = r.Invoke(context.Background(), "docs", "  ")
	if !res.Failed || !errors.Is(res.Err, domain.ErrEmptyQuery) {
		t.Errorf("empty query result = %+v", res)
	}
}

func TestInvoke_PanicIsContained(t *testing.T) {
	r := newRegistry(t, &stubSearcher{}, nil)
	mustRegister(t, r, Spec{Name: "docs", Kind: KindDocuments, Collection: docsCol, Embedder: &stubEmbedder{panicky: true}})

	res := r.Invoke(context.Background(), "docs", "q")
	if !res.Failed || res.Text == "" {
		t.Errorf("expected failed text result after panic, got %+v", res)
	}
}

func TestInvoke_Timeout(t *testing.T) {
	s := &stubSearcher{block: true}
	r := newRegistry(t, s, nil, func(o *Options) { o.Timeout = 20 * time.Millisecond })
	mustRegister(t, r, Spec{Name: "docs", Kind: KindDocuments, Collection: docsCol, Embedder: &stubEmbedder{}})

	res := r.Invoke(context.Background(), "docs", "q")
	if !res.Failed || res.Text != "Search failed: request timed out" {
		t.Errorf("result = %+v", res)
	}
}

func TestInvoke_Web(t *testing.T) {
	w := &stubWeb{results: []domain.WebResult{{Title: "Go", URL: "https://go.dev", Snippet: "Build simple, secure, scalable systems"}}}
	r := newRegistry(t, &stubSearcher{}, w)
	mustRegister(t, r, Spec{Name: "web_search", Kind: KindWeb})

	res := r.Invoke(context.Background(), "web_search", "golang")
	if res.Failed {
		t.Fatalf("unexpected failure: %v", res.Err)
	}
	if w.n != 5 {
		t.Errorf("web default n = %d, want 5", w.n)
	}
	if res.Text != "[1] Go\nBuild simple, secure, scalable systems\nURL: https://go.dev" {
		t.Errorf("text = %q", res.Text)
	}

	w.err = errors.New("status 500")
	res = r.Invoke(context.Background(), "web_search", "golang")
	if !res.Failed || !strings.HasPrefix(res.Text, "Web search failed: ") {
		t.Errorf("result = %+v", res)
	}
}

func TestInvoke_ImageQuery(t *testing.T) {
	dir := t.TempDir()
	query := filepath.Join(dir, "query.png")
	if err := os.WriteFile(query, []byte{0x89, 'P', 'N', 'G'}, 0o600); err != nil {
		t.Fatal(err)
	}
	emb := &stubEmbedder{}
	r := newRegistry(t, &stubSearcher{}, nil)
	mustRegister(t, r, Spec{Name: "search_by_image", Kind: KindImageQuery, Collection: imgCol, Embedder: emb})

	res := r.Invoke(context.Background(), "search_by_image", query)
	if res.Failed {
		t.Fatalf("unexpected failure: %v", res.Err)
	}
	if emb.last.Modality() != domain.ModalityImage || len(emb.last.Data()) != 4 {
		t.Errorf("embedded query = %v", emb.last)
	}

	res = r.Invoke(context.Background(), "search_by_image", filepath.Join(dir, "absent.png"))
	if !res.Failed || !errors.Is(res.Err, domain.ErrAssetMissing) {
		t.Errorf("missing query image result = %+v", res)
	}
}

func TestRegister_Validation(t *testing.T) {
	r := newRegistry(t, &stubSearcher{}, nil)
	mustRegister(t, r, Spec{Name: "docs", Kind: KindDocuments, Collection: docsCol, Embedder: &stubEmbedder{}})

	bad := []Spec{
		{Name: "docs", Kind: KindDocuments, Collection: docsCol, Embedder: &stubEmbedder{}},
		{Name: "", Kind: KindDocuments, Collection: docsCol, Embedder: &stubEmbedder{}},
		{Name: "x", Kind: "video", Collection: docsCol, Embedder: &stubEmbedder{}},
		{Name: "y", Kind: KindDocuments, Embedder: &stubEmbedder{}},
		{Name: "z", Kind: KindDocuments, Collection: docsCol},
		{Name: "f", Kind: KindDocuments, Collection: docsCol, Embedder: &stubEmbedder{}, Fields: []string{"secret"}},
		{Name: "w", Kind: KindWeb}, // no web searcher configured
		{Name: "p", Kind: KindImages, Collection: imgCol, Embedder: &stubEmbedder{}, PathField: "thumbnail"},
		{Name: "q", Kind: KindImageQuery, Collection: docsCol, Embedder: &stubEmbedder{}},
	}
	for _, s := range bad {
		if err := r.Register(s); err == nil {
			t.Errorf("Register(%q) should fail", s.Name)
		}
	}
}

func TestList_RegistrationOrder(t *testing.T) {
	r := newRegistry(t, &stubSearcher{}, &stubWeb{})
	mustRegister(t, r, Spec{Name: "search_documents", Kind: KindDocuments, Collection: docsCol, Embedder: &stubEmbedder{}})
	mustRegister(t, r, Spec{Name: "search_images", Kind: KindImages, Collection: imgCol, Embedder: &stubEmbedder{}, K: 4})
	mustRegister(t, r, Spec{Name: "web_search", Kind: KindWeb, Description: "Search the web"})

	list := r.List()
	want := []Descriptor{
		{Name: "search_documents", Kind: KindDocuments, K: 5},
		{Name: "search_images", Kind: KindImages, K: 4},
		{Name: "web_search", Kind: KindWeb, K: 5, Description: "Search the web"},
	}
	if len(list) != len(want) {
		t.Fatalf("len = %d", len(list))
	}
	for i := range want {
		if list[i] != want[i] {
			t.Errorf("list[%d] = %+v, want %+v", i, list[i], want[i])
		}
	}
	if d, ok := r.Get("search_images"); !ok || d.K != 4 {
		t.Errorf("Get = %+v, %v", d, ok)
	}
}

func TestInvoke_Concurrent(t *testing.T) {
	r := newRegistry(t, &stubSearcher{hits: []domain.Hit{{ID: "1", Score: 0.5}}}, nil)
	mustRegister(t, r, Spec{Name: "docs", Kind: KindDocuments, Collection: docsCol, Embedder: &stubEmbedder{}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := r.Invoke(context.Background(), "docs", "q"); res.Failed {
				t.Errorf("unexpected failure: %v", res.Err)
			}
		}()
	}
	wg.Wait()
}

func TestInvoke_ImagePathFieldAlwaysRequested(t *testing.T) {
	captioned := &domain.Collection{
		Name: "captioned", VectorField: "content_vector", Dimensions: 3,
		Metric: domain.MetricCosine, Fields: []string{"caption", "image_path"},
	}
	s := &stubSearcher{hits: []domain.Hit{
		{ID: "1", Score: 0.8, Fields: map[string]string{"caption": "a cat", "image_path": "cat.png"}},
	}}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cat.png"), []byte("img"), 0o600); err != nil {
		t.Fatal(err)
	}
	r := newRegistry(t, s, nil, func(o *Options) { o.AssetDir = dir })
	fields := []string{"caption"}
	mustRegister(t, r, Spec{
		Name: "search_images", Kind: KindImages, Collection: captioned, Embedder: &stubEmbedder{}, Fields: fields,
	})

	res := r.Invoke(context.Background(), "search_images", "cat")
	if res.Failed {
		t.Fatalf("unexpected failure: %v", res.Err)
	}
	if len(s.fields) != 2 || s.fields[1] != "image_path" {
		t.Errorf("requested fields = %v, want path field appended", s.fields)
	}
	if len(fields) != 1 {
		t.Errorf("spec fields mutated: %v", fields)
	}
	if strings.Contains(res.Text, "(missing)") || len(res.Assets) != 1 {
		t.Errorf("text = %q, assets = %v", res.Text, res.Assets)
	}
}
