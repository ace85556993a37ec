package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kailas-cloud/ragtools/internal/db"
	"github.com/kailas-cloud/ragtools/internal/domain"
)

type stubStore struct {
	mu        sync.Mutex
	exists    bool
	existsErr error
	createErr error
	created   []*db.IndexDefinition
	writeErr  error
	writes    [][]db.HashSetItem
}

func (s *stubStore) CreateIndex(_ context.Context, def *db.IndexDefinition) error {
	s.created = append(s.created, def)
	return s.createErr
}

func (s *stubStore) IndexExists(_ context.Context, _ string) (bool, error) {
	return s.exists, s.existsErr
}

func (s *stubStore) HSetMulti(_ context.Context, items []db.HashSetItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, items)
	return s.writeErr
}

type stubEmbedder struct {
	dims   int
	failOn string
}

func (e *stubEmbedder) Embed(_ context.Context, q domain.Query) ([]float32, error) {
	if e.failOn != "" && strings.Contains(q.Text(), e.failOn) {
		return nil, errors.New("provider down")
	}
	return make([]float32, e.dims), nil
}

func testCollection() *domain.Collection {
	return &domain.Collection{
		Name:        "docs",
		VectorField: "content_vector",
		Dimensions:  2,
		Metric:      domain.MetricCosine,
		Fields:      []string{"post_id", "title", "content"},
		IDField:     "post_id",
	}
}

func TestEnsureIndex_Creates(t *testing.T) {
	store := &stubStore{}
	svc, err := New(store, &stubEmbedder{dims: 2}, testCollection(), Options{M: 16})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	created, err := svc.EnsureIndex(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created || len(store.created) != 1 {
		t.Fatalf("expected index creation, got created=%v", created)
	}
	def := store.created[0]
	if def.Prefixes[0] != "docs:" {
		t.Errorf("unexpected prefix %v", def.Prefixes)
	}
	if def.Fields[0].Type != db.IndexFieldTag {
		t.Errorf("expected id field as TAG, got %v", def.Fields[0].Type)
	}
}

func TestEnsureIndex_Existing(t *testing.T) {
	store := &stubStore{exists: true}
	svc, _ := New(store, &stubEmbedder{dims: 2}, testCollection(), Options{})

	created, err := svc.EnsureIndex(context.Background())
	if err != nil || created {
		t.Errorf("expected no-op, got created=%v err=%v", created, err)
	}
	if len(store.created) != 0 {
		t.Error("CreateIndex must not be called")
	}
}

func TestEnsureIndex_RaceLostIsNotAnError(t *testing.T) {
	store := &stubStore{createErr: &db.Error{Op: db.OpCreateIndex, Err: db.ErrIndexExists}}
	svc, _ := New(store, &stubEmbedder{dims: 2}, testCollection(), Options{})

	created, err := svc.EnsureIndex(context.Background())
	if err != nil || created {
		t.Errorf("expected no-op, got created=%v err=%v", created, err)
	}
}

func TestNew_InvalidCollection(t *testing.T) {
	if _, err := New(&stubStore{}, &stubEmbedder{}, &domain.Collection{Name: "x"}, Options{}); err == nil {
		t.Error("expected validation error")
	}
}

func TestIngest_BatchesAndReportsFailures(t *testing.T) {
	store := &stubStore{}
	svc, _ := New(store, &stubEmbedder{dims: 2, failOn: "bad"}, testCollection(), Options{BatchSize: 2, Workers: 2})

	records := []Record{
		{ID: "1", Fields: map[string]string{"title": "a"}, Query: domain.NewTextQuery("a")},
		{ID: "2", Fields: map[string]string{"title": "bad"}, Query: domain.NewTextQuery("bad")},
		{ID: "3", Fields: map[string]string{"title": "c"}, Query: domain.NewTextQuery("c")},
	}
	rep, err := svc.Ingest(context.Background(), records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Indexed != 2 || rep.Failed != 1 {
		t.Errorf("expected 2 indexed 1 failed, got %+v", rep)
	}
	if len(rep.Errors) != 1 || rep.Errors[0].ID != "2" {
		t.Errorf("unexpected errors: %+v", rep.Errors)
	}
	if len(store.writes) != 2 || len(store.writes[0]) != 1 || len(store.writes[1]) != 1 {
		t.Fatalf("unexpected writes: %+v", store.writes)
	}

	item := store.writes[0][0]
	if item.Key != "docs:1" {
		t.Errorf("unexpected key %q", item.Key)
	}
	if item.Fields["post_id"] != "1" {
		t.Errorf("expected id field filled, got %q", item.Fields["post_id"])
	}
	if len(item.Fields["content_vector"]) != 8 {
		t.Errorf("expected 8-byte vector, got %d", len(item.Fields["content_vector"]))
	}
}

func TestIngest_WriteFailureFailsBatch(t *testing.T) {
	store := &stubStore{writeErr: errors.New("conn reset")}
	svc, _ := New(store, &stubEmbedder{dims: 2}, testCollection(), Options{})

	rep, err := svc.Ingest(context.Background(), []Record{
		{ID: "1", Query: domain.NewTextQuery("a")},
		{ID: "2", Query: domain.NewTextQuery("b")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Indexed != 0 || rep.Failed != 2 || len(rep.Errors) != 2 {
		t.Errorf("unexpected report: %+v", rep)
	}
}

func TestIngest_DimensionMismatch(t *testing.T) {
	svc, _ := New(&stubStore{}, &stubEmbedder{dims: 3}, testCollection(), Options{})

	rep, _ := svc.Ingest(context.Background(), []Record{{ID: "1", Query: domain.NewTextQuery("a")}})
	if rep.Failed != 1 || !strings.Contains(rep.Errors[0].Err.Error(), "dimensions") {
		t.Errorf("expected dimension failure, got %+v", rep)
	}
}

func TestIngest_Cancelled(t *testing.T) {
	svc, _ := New(&stubStore{}, &stubEmbedder{dims: 2}, testCollection(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Ingest(ctx, []Record{{ID: "1", Query: domain.NewTextQuery("a")}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLoadDocuments(t *testing.T) {
	input := `[
		{"post_id": 7, "title": "Valkey", "content": "vector search", "tags": ["db", "<kv>"], "draft": false, "note": null},
		{"title": "No ID", "content": "x"}
	]`
	records, err := LoadDocuments(strings.NewReader(input), "post_id", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	r := records[0]
	if r.ID != "7" {
		t.Errorf("expected ID 7, got %q", r.ID)
	}
	if r.Query.Text() != "Valkey\nvector search" {
		t.Errorf("unexpected text %q", r.Query.Text())
	}
	if r.Fields["tags"] != `["db","<kv>"]` {
		t.Errorf("unexpected tags %q", r.Fields["tags"])
	}
	if r.Fields["draft"] != "false" {
		t.Errorf("unexpected draft %q", r.Fields["draft"])
	}
	if _, ok := r.Fields["note"]; ok {
		t.Error("null fields must be skipped")
	}
	if len(records[1].ID) != 36 {
		t.Errorf("expected generated UUID, got %q", records[1].ID)
	}
}

func TestLoadDocuments_Invalid(t *testing.T) {
	if _, err := LoadDocuments(strings.NewReader(`{"not":"array"}`), "id", nil); err == nil {
		t.Error("expected decode error")
	}
}

func TestLoadImages(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.PNG", "sub/b.jpg", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte{1, 2, 3}, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	records, err := LoadImages(dir, "image_path")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 images, got %d", len(records))
	}
	paths := map[string]bool{}
	for _, r := range records {
		paths[r.Fields["image_path"]] = true
		if r.Query.Modality() != domain.ModalityImage || len(r.Query.Data()) != 3 {
			t.Errorf("unexpected query for %s", r.Fields["image_path"])
		}
	}
	if !paths["a.PNG"] || !paths["sub/b.jpg"] {
		t.Errorf("unexpected paths %v", paths)
	}
}
