// Package format turns ranked hits into structured items and renders them as text.
// Rendering only reads the structured items; nothing parses rendered text back.
package format

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kailas-cloud/ragtools/internal/domain"
)

// NoResults is the text returned for an empty hit list.
const NoResults = "No results found."

const notAvailable = "N/A"

// FieldValue is one displayed source field.
type FieldValue struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Present bool   `json:"present"`
}

// Document is a ranked text hit.
type Document struct {
	Rank   int          `json:"rank"`
	ID     string       `json:"id"`
	Score  float64      `json:"score"`
	Fields []FieldValue `json:"fields"`
}

// Field returns the value of a named field, or "" when absent.
func (d *Document) Field(name string) string {
	for _, f := range d.Fields {
		if f.Name == name && f.Present {
			return f.Value
		}
	}
	return ""
}

// Image is a ranked image hit resolved to a local path.
type Image struct {
	Rank       int     `json:"rank"`
	ID         string  `json:"id"`
	Score      float64 `json:"score"`
	StoredPath string  `json:"stored_path"`
	Path       string  `json:"path"`
	Missing    bool    `json:"missing"`
	// Err is a *domain.AssetError when Missing is set.
	Err error `json:"-"`
}

// Web is a ranked web search result.
type Web struct {
	Rank    int    `json:"rank"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Documents builds document items in hit order with fields in declared order.
func Documents(hits []domain.Hit, fields []string) []Document {
	out := make([]Document, 0, len(hits))
	for i := range hits {
		h := &hits[i]
		doc := Document{Rank: i + 1, ID: h.ID, Score: h.Score, Fields: make([]FieldValue, 0, len(fields))}
		for _, name := range fields {
			v, ok := h.Field(name)
			doc.Fields = append(doc.Fields, FieldValue{Name: name, Value: v, Present: ok})
		}
		out = append(out, doc)
	}
	return out
}

// RenderDocuments renders one block per document joined by a blank line.
func RenderDocuments(docs []Document) string {
	if len(docs) == 0 {
		return NoResults
	}
	blocks := make([]string, 0, len(docs))
	for i := range docs {
		d := &docs[i]
		var b strings.Builder
		fmt.Fprintf(&b, "[%d] (score: %.3f)", d.Rank, d.Score)
		for _, f := range d.Fields {
			v := f.Value
			if !f.Present {
				v = notAvailable
			}
			fmt.Fprintf(&b, "\n%s: %s", f.Name, v)
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// Images resolves each hit's stored path against baseDir and checks the file exists.
// A missing file marks only that item.
func Images(hits []domain.Hit, pathField, baseDir string) []Image {
	out := make([]Image, 0, len(hits))
	for i := range hits {
		h := &hits[i]
		img := Image{Rank: i + 1, ID: h.ID, Score: h.Score}

		stored, ok := h.Field(pathField)
		if !ok || stored == "" {
			img.Missing = true
			img.Err = &domain.AssetError{Path: "", Err: fmt.Errorf("field %q absent: %w", pathField, domain.ErrAssetMissing)}
			out = append(out, img)
			continue
		}

		img.StoredPath = stored
		img.Path = ResolvePath(stored, baseDir)
		if err := checkFile(img.Path); err != nil {
			img.Missing = true
			img.Err = &domain.AssetError{Path: img.Path, Err: err}
		}
		out = append(out, img)
	}
	return out
}

// ResolvePath joins a relative stored path onto baseDir; absolute paths are kept.
func ResolvePath(stored, baseDir string) string {
	if filepath.IsAbs(stored) || baseDir == "" {
		return filepath.Clean(stored)
	}
	return filepath.Join(baseDir, stored)
}

func checkFile(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.ErrAssetMissing
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("is a directory: %w", domain.ErrAssetMissing)
	}
	return nil
}

// RenderImages renders one line per image; missing files are flagged inline.
func RenderImages(images []Image) string {
	if len(images) == 0 {
		return NoResults
	}
	lines := make([]string, 0, len(images))
	for i := range images {
		img := &images[i]
		path := img.Path
		if path == "" {
			path = notAvailable
		}
		line := fmt.Sprintf("[%d] (score: %.3f) image: %s", img.Rank, img.Score, path)
		if img.Missing {
			line += " (missing)"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// Assets returns the resolved paths of images that exist on disk, in rank order.
func Assets(images []Image) []string {
	var out []string
	for i := range images {
		if !images[i].Missing {
			out = append(out, images[i].Path)
		}
	}
	return out
}

// WebResults ranks web results in provider order.
func WebResults(results []domain.WebResult) []Web {
	out := make([]Web, 0, len(results))
	for i, r := range results {
		out = append(out, Web{Rank: i + 1, Title: r.Title, URL: r.URL, Snippet: r.Snippet})
	}
	return out
}

// RenderWeb renders title, snippet and URL blocks joined by a blank line.
func RenderWeb(results []Web) string {
	if len(results) == 0 {
		return NoResults
	}
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("[%d] %s\n%s\nURL: %s", r.Rank, r.Title, r.Snippet, r.URL))
	}
	return strings.Join(blocks, "\n\n")
}
