package tool

// Kind selects the query modality and result rendering of a tool.
type Kind string

const (
	// KindDocuments embeds text and renders document fields.
	KindDocuments Kind = "documents"
	// KindImages embeds text and renders image paths.
	KindImages Kind = "images"
	// KindImageQuery treats the query as a local image path and renders image paths.
	KindImageQuery Kind = "image_query"
	// KindWeb queries the web search provider.
	KindWeb Kind = "web"
)

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindDocuments, KindImages, KindImageQuery, KindWeb:
		return true
	}
	return false
}

// DefaultK is the result count used when a tool does not configure one.
func (k Kind) DefaultK() int {
	switch k {
	case KindImages, KindImageQuery:
		return 3
	default:
		return 5
	}
}

func (k Kind) searchesCollection() bool {
	return k != KindWeb
}

func (k Kind) rendersImages() bool {
	return k == KindImages || k == KindImageQuery
}
