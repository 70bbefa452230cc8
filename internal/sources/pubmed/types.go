package pubmed

// esearchResponse is the JSON envelope returned by esearch.fcgi with
// retmode=json. Numeric fields arrive as strings.
type esearchResponse struct {
	ESearchResult esearchResult `json:"esearchresult"`
}

type esearchResult struct {
	Count    string   `json:"count"`
	RetMax   string   `json:"retmax"`
	RetStart string   `json:"retstart"`
	IDList   []string `json:"idlist"`

	ErrorList *esearchErrorList `json:"errorlist,omitempty"`
}

// esearchErrorList reports query terms the service could not resolve.
// A phrase not found is an empty result, not a failure.
type esearchErrorList struct {
	PhraseNotFound []string `json:"phrasesnotfound,omitempty"`
	FieldNotFound  []string `json:"fieldsnotfound,omitempty"`
}
