package domain

import (
	"fmt"
	"strings"
)

// Modality is the kind of content being embedded or searched.
type Modality string

const (
	// ModalityText is plain text content.
	ModalityText Modality = "text"
	// ModalityImage is binary image content.
	ModalityImage Modality = "image"
)

// IsValid reports whether m is a known modality.
func (m Modality) IsValid() bool {
	return m == ModalityText || m == ModalityImage
}

// Query is the content handed to an embedding backend.
type Query struct {
	modality Modality
	text     string
	data     []byte
}

// NewTextQuery creates a text query.
func NewTextQuery(text string) Query {
	return Query{modality: ModalityText, text: text}
}

// NewImageQuery creates an image query. The byte slice is copied.
func NewImageQuery(data []byte) Query {
	buf := make([]byte, len(data))
	copy(buf, data)
	return Query{modality: ModalityImage, data: buf}
}

// Modality returns the query modality.
func (q Query) Modality() Modality { return q.modality }

// Text returns the text content (empty for image queries).
func (q Query) Text() string { return q.text }

// Data returns the binary content (nil for text queries).
func (q Query) Data() []byte { return q.data }

// IsEmpty reports whether the query carries no content. Whitespace-only text is empty.
func (q Query) IsEmpty() bool {
	switch q.modality {
	case ModalityText:
		return strings.TrimSpace(q.text) == ""
	case ModalityImage:
		return len(q.data) == 0
	default:
		return true
	}
}

// String is used in logs; image content is summarized by size.
func (q Query) String() string {
	if q.modality == ModalityImage {
		return fmt.Sprintf("image(%d bytes)", len(q.data))
	}
	return q.text
}
