package lookout

// SearchMatch is one page ranked by similarity to the query.
type SearchMatch struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// SearchResponse lists the nearest pages for a search query.
type SearchResponse struct {
	Query   string        `json:"query"`
	Matches []SearchMatch `json:"matches"`
}
