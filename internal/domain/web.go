package domain

// WebResult is a single web search hit.
type WebResult struct {
	Title   string
	URL     string
	Snippet string
}
