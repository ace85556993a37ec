// Package opensearch implements db.Store on OpenSearch k-NN indexes,
// including Amazon OpenSearch Serverless collections signed with SigV4.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
	requestsigner "github.com/opensearch-project/opensearch-go/v4/signer/awsv2"

	"github.com/kailas-cloud/ragtools/internal/db"
)

var _ db.Store = (*Store)(nil)

// Config holds connection parameters for an OpenSearch store.
type Config struct {
	Endpoint string
	// Region enables SigV4 request signing when set.
	Region string
	// Service is the signing name: "aoss" for Serverless, "es" for managed domains.
	Service  string
	Profile  string
	Username string
	Password string
	Timeout  time.Duration
}

// Store implements db.Store via opensearch-go.
type Store struct {
	client *opensearchapi.Client
}

// NewStore creates an OpenSearch store. AWS credentials come from the default chain.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	osCfg := opensearch.Config{
		Addresses: []string{cfg.Endpoint},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}
	if cfg.Timeout > 0 {
		osCfg.Transport = &http.Transport{ResponseHeaderTimeout: cfg.Timeout}
	}

	if cfg.Region != "" {
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
		if cfg.Profile != "" {
			opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		service := cfg.Service
		if service == "" {
			service = "aoss"
		}
		signer, err := requestsigner.NewSignerWithService(awsCfg, service)
		if err != nil {
			return nil, fmt.Errorf("create signer: %w", err)
		}
		osCfg.Signer = signer
	}

	return newStore(osCfg)
}

func newStore(osCfg opensearch.Config) (*Store, error) {
	client, err := opensearchapi.NewClient(opensearchapi.Config{Client: osCfg})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return &Store{client: client}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	resp, err := s.client.Ping(ctx, nil)
	if err != nil {
		return &db.Error{Op: db.OpPing, Err: err}
	}
	if resp.IsError() {
		return &db.Error{Op: db.OpPing, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return nil
}

// Close is a no-op: the HTTP transport has nothing to release.
func (s *Store) Close() {}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for database: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// SearchKNN runs a k-NN query. OpenSearch already reports similarity scores,
// so hit scores are passed through unchanged.
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if q.Index == "" {
		return nil, errors.New("index name is required")
	}
	if q.VectorField == "" {
		return nil, errors.New("vector field is required")
	}
	if len(q.Vector) == 0 {
		return nil, errors.New("vector is required")
	}
	if q.K <= 0 {
		return nil, errors.New("k must be positive")
	}

	body, err := json.Marshal(buildKNNBody(q))
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	resp, err := s.client.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{q.Index},
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		if strings.Contains(err.Error(), "index_not_found_exception") {
			return nil, &db.Error{Op: db.OpKNN, Err: db.ErrIndexNotFound}
		}
		return nil, &db.Error{Op: db.OpKNN, Err: err}
	}

	entries := make([]db.SearchEntry, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		fields, err := flattenSource(hit.Source)
		if err != nil {
			return nil, &db.Error{Op: db.OpKNN, Err: fmt.Errorf("decode hit %s: %w", hit.ID, err)}
		}
		delete(fields, q.VectorField)
		entries = append(entries, db.SearchEntry{
			ID:     hit.ID,
			Score:  float64(hit.Score),
			Fields: fields,
		})
	}

	return &db.SearchResult{Total: resp.Hits.Total.Value, Entries: entries}, nil
}

func buildKNNBody(q *db.KNNQuery) map[string]any {
	body := map[string]any{
		"size": q.K,
		"query": map[string]any{
			"knn": map[string]any{
				q.VectorField: map[string]any{
					"vector": q.Vector,
					"k":      q.K,
				},
			},
		},
	}
	if len(q.ReturnFields) > 0 {
		body["_source"] = q.ReturnFields
	} else {
		body["_source"] = map[string]any{"excludes": []string{q.VectorField}}
	}
	return body
}

// flattenSource renders each top-level source value as a string.
// Nested values keep their JSON encoding.
func flattenSource(raw json.RawMessage) (map[string]string, error) {
	if len(raw) == 0 {
		return map[string]string{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var src map[string]any
	if err := dec.Decode(&src); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(src))
	for k, v := range src {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool:
			out[k] = fmt.Sprint(val)
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return nil, err
			}
			out[k] = string(b)
		}
	}
	return out, nil
}
