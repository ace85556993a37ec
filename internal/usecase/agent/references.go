package agent

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/ragtools/internal/usecase/tool"
)

const previewRunes = 80

// ReferenceFields names the document fields used in references.
type ReferenceFields struct {
	Title   string
	Content string
}

func (f ReferenceFields) withDefaults() ReferenceFields {
	if f.Title == "" {
		f.Title = "title"
	}
	if f.Content == "" {
		f.Content = "content"
	}
	return f
}

// Reference is one source cited under an answer.
type Reference struct {
	Kind    tool.Kind `json:"kind"`
	Title   string    `json:"title,omitempty"`
	URL     string    `json:"url,omitempty"`
	Preview string    `json:"preview,omitempty"`
	Path    string    `json:"path,omitempty"`
	Score   float64   `json:"score,omitempty"`
	Missing bool      `json:"missing,omitempty"`
}

// BuildReferences collects references from the structured results of successful calls.
func BuildReferences(calls []ToolCall, fields ReferenceFields) []Reference {
	fields = fields.withDefaults()

	var refs []Reference
	for _, c := range calls {
		r := c.Result
		if r.Failed {
			continue
		}
		for _, w := range r.Web {
			refs = append(refs, Reference{Kind: tool.KindWeb, Title: w.Title, URL: w.URL})
		}
		for i := range r.Documents {
			d := &r.Documents[i]
			title := d.Field(fields.Title)
			if title == "" {
				title = d.ID
			}
			refs = append(refs, Reference{
				Kind:    tool.KindDocuments,
				Title:   title,
				Preview: preview(d.Field(fields.Content)),
				Score:   d.Score,
			})
		}
		for _, img := range r.Images {
			path := img.Path
			if path == "" {
				path = img.StoredPath
			}
			refs = append(refs, Reference{Kind: tool.KindImages, Path: path, Score: img.Score, Missing: img.Missing})
		}
	}
	return refs
}

func preview(content string) string {
	if content == "" {
		return ""
	}
	runes := []rune(strings.TrimSpace(content))
	if len(runes) > previewRunes {
		runes = runes[:previewRunes]
	}
	return string(runes) + "..."
}

// RenderReferences renders a markdown references block, or "" when there are none.
func RenderReferences(refs []Reference) string {
	if len(refs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n---\n**References**\n")
	image := 0
	for _, r := range refs {
		switch r.Kind {
		case tool.KindWeb:
			if r.URL != "" {
				fmt.Fprintf(&b, "\n- [%s](%s)", r.Title, r.URL)
			} else {
				fmt.Fprintf(&b, "\n- %s", r.Title)
			}
		case tool.KindDocuments:
			fmt.Fprintf(&b, "\n- **%s**", r.Title)
			if r.Preview != "" {
				fmt.Fprintf(&b, "\n  > %s", r.Preview)
			}
		default:
			if r.Missing {
				fmt.Fprintf(&b, "\n- `%s` (missing)", r.Path)
				continue
			}
			image++
			fmt.Fprintf(&b, "\n- **Image %d** (score: %.3f) `%s`", image, r.Score, r.Path)
		}
	}
	return b.String()
}
