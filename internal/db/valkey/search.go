package valkey

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/ragtools/internal/db"
	"github.com/kailas-cloud/ragtools/internal/domain"
)

const scoreField = "__vector_score"

// SearchKNN runs a KNN vector similarity search via FT.SEARCH.
// Raw distances are converted to similarity scores so higher is always closer.
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

	queryStr := fmt.Sprintf("*=>[KNN %d @%s $BLOB AS %s]", q.K, q.VectorField, scoreField)
	args := []string{q.Index, queryStr}

	if len(q.ReturnFields) > 0 {
		args = append(args, "RETURN", strconv.Itoa(len(q.ReturnFields)+1))
		args = append(args, q.ReturnFields...)
		args = append(args, scoreField)
	}

	args = append(args,
		"LIMIT", "0", strconv.Itoa(q.K),
		"PARAMS", "2", "BLOB", db.EncodeFloat32(q.Vector),
		"DIALECT", "2",
	)

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isIndexMissing(err) {
			return nil, &db.Error{Op: db.OpSearch, Err: db.ErrIndexNotFound}
		}
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}

	res, err := parseKNNResult(raw, db.KeyPrefix(q.Index), q.Metric)
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}
	for i := range res.Entries {
		delete(res.Entries[i].Fields, q.VectorField)
	}
	return res, nil
}

func parseKNNResult(raw []rueidis.RedisMessage, prefix string, metric domain.Metric) (*db.SearchResult, error) {
	if len(raw) == 0 {
		return &db.SearchResult{}, nil
	}

	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return &db.SearchResult{}, nil
	}

	entries := make([]db.SearchEntry, 0, total)
	// 2-stride: [total, key1, fields1, key2, fields2, ...]
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}

		fields, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}

		entry := db.SearchEntry{
			ID:     strings.TrimPrefix(key, prefix),
			Fields: parseFieldPairs(fields),
		}

		if scoreStr, ok := entry.Fields[scoreField]; ok {
			if d, err := strconv.ParseFloat(scoreStr, 64); err == nil {
				entry.Score = similarity(metric, d)
			}
			delete(entry.Fields, scoreField)
		}

		entries = append(entries, entry)
	}

	return &db.SearchResult{Total: int(total), Entries: entries}, nil
}

// similarity maps a valkey-search distance onto the non-negative score scale
// OpenSearch k-NN reports, so both engines rank and print the same way.
func similarity(metric domain.Metric, d float64) float64 {
	switch metric {
	case domain.MetricInnerProduct:
		ip := 1 - d
		if ip >= 0 {
			return ip + 1
		}
		return 1 / (1 - ip)
	case domain.MetricL2:
		return 1 / (1 + d)
	default:
		return (2 - d) / 2
	}
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

// VectorToBytes encodes a vector as little-endian FLOAT32, the hash layout FT indexes expect.
func VectorToBytes(v []float32) string {
	return db.EncodeFloat32(v)
}
