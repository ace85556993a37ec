package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/kailas-cloud/ragtools/internal/domain"
)

// Record is one item to embed and store.
type Record struct {
	ID     string
	Fields map[string]string
	Query  domain.Query
}

// DefaultTextFields are joined with "\n" to form the embedded text.
var DefaultTextFields = []string{"title", "content"}

var imageExts = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}

// LoadDocuments reads a JSON array of objects. Scalar values are stored as strings and
// nested values as JSON. The record ID comes from idField, or a random UUID when absent.
func LoadDocuments(r io.Reader, idField string, textFields []string) ([]Record, error) {
	if len(textFields) == 0 {
		textFields = DefaultTextFields
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}

	records := make([]Record, 0, len(raw))
	for i, obj := range raw {
		fields := make(map[string]string, len(obj))
		for k, v := range obj {
			s, ok, err := stringify(v)
			if err != nil {
				return nil, fmt.Errorf("document %d field %s: %w", i, k, err)
			}
			if ok {
				fields[k] = s
			}
		}

		parts := make([]string, 0, len(textFields))
		for _, f := range textFields {
			parts = append(parts, fields[f])
		}
		text := strings.Join(parts, "\n")

		id := fields[idField]
		if id == "" {
			id = uuid.NewString()
		}
		records = append(records, Record{ID: id, Fields: fields, Query: domain.NewTextQuery(text)})
	}
	return records, nil
}

func stringify(v any) (string, bool, error) {
	switch t := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return t, true, nil
	case json.Number:
		return t.String(), true, nil
	case bool:
		if t {
			return "true", true, nil
		}
		return "false", true, nil
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(t); err != nil {
			return "", false, err
		}
		return strings.TrimSuffix(buf.String(), "\n"), true, nil
	}
}

// LoadImages walks dir for image files. Each record stores its path relative to dir
// under pathField, so searches resolve it against the configured asset directory.
func LoadImages(dir, pathField string) ([]Record, error) {
	var records []Record
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !slices.Contains(imageExts, strings.ToLower(filepath.Ext(path))) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		records = append(records, Record{
			ID:     uuid.NewString(),
			Fields: map[string]string{pathField: filepath.ToSlash(rel)},
			Query:  domain.NewImageQuery(data),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return records, nil
}
