package domain

// Hit is a single ranked search match.
type Hit struct {
	ID    string
	Score float64
	// Fields holds the requested source fields; absent fields are simply missing.
	Fields map[string]string
}

// Field returns a source field value and whether it was present.
func (h *Hit) Field(name string) (string, bool) {
	v, ok := h.Fields[name]
	return v, ok
}
