package cochrane

// searchResponse is the JSON envelope returned by the Cochrane Library
// search endpoint.
type searchResponse struct {
	Total   int            `json:"total"`
	Results []searchResult `json:"results"`
}

type searchResult struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Authors         []string `json:"authors"`
	DOI             string   `json:"doi"`
	PublicationDate string   `json:"publicationDate"`
	Abstract        string   `json:"abstract"`
	URL             string   `json:"url"`
}
