// Package pubmed implements the PubMed record source on top of the NCBI
// E-utilities API.
package pubmed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/evidlab/study-aggregation-service/internal/domain"
	"github.com/evidlab/study-aggregation-service/internal/sources"
)

const (
	// DefaultBaseURL is the base URL for the NCBI E-utilities API.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the request rate without an API key. NCBI
	// allows 10 requests per second with one.
	DefaultRateLimit = 3.0

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum results per search.
	DefaultMaxResults = 100

	// MaxResultsLimit is the maximum the API allows per request.
	MaxResultsLimit = 10000

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 10 << 20

	// sourceName is the human-readable name for this source.
	sourceName = "PubMed"
)

// Config holds the configuration for the PubMed client.
type Config struct {
	// BaseURL overrides DefaultBaseURL when set.
	BaseURL string

	// APIKey is the NCBI API key. Optional; raises the permitted
	// request rate.
	APIKey string

	// ContactEmail identifies the operator to NCBI, per their API
	// etiquette. Sent as the tool/email query parameters.
	ContactEmail string

	// Timeout overrides DefaultTimeout when set.
	Timeout time.Duration

	// RateLimit overrides DefaultRateLimit when set.
	RateLimit float64

	// MaxResults overrides DefaultMaxResults when set.
	MaxResults int

	// Enabled indicates whether this source is queried.
	Enabled bool
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// Client implements sources.RecordSource for PubMed.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
}

// Compile-time check that Client implements RecordSource.
var _ sources.RecordSource = (*Client)(nil)

// New creates a PubMed client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	httpClient := sources.NewHTTPClient(sources.HTTPClientConfig{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		Source:    sourceName,
	})
	return &Client{config: cfg, httpClient: httpClient}
}

// NewWithHTTPClient creates a PubMed client with a custom HTTP client.
// Useful for testing against mock servers.
func NewWithHTTPClient(cfg Config, httpClient *sources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, httpClient: httpClient}
}

// Search queries PubMed in two steps: esearch.fcgi resolves the query to
// PMIDs, then efetch.fcgi retrieves those citations in MEDLINE format,
// which parses into one raw record per article.
func (c *Client) Search(ctx context.Context, params sources.SearchParams) (*sources.SearchResult, error) {
	if !c.config.Enabled {
		return nil, errors.New("pubmed source is disabled")
	}

	started := time.Now()

	search, err := c.esearch(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("esearch failed: %w", err)
	}

	count, _ := strconv.Atoi(search.ESearchResult.Count)

	// Phrases not found are empty results, not failures.
	if search.ESearchResult.ErrorList != nil && len(search.ESearchResult.ErrorList.PhraseNotFound) > 0 {
		return &sources.SearchResult{
			Records:        []domain.RawRecord{},
			Source:         domain.SourcePubMed,
			SearchDuration: time.Since(started),
		}, nil
	}

	if len(search.ESearchResult.IDList) == 0 {
		return &sources.SearchResult{
			Records:        []domain.RawRecord{},
			TotalResults:   count,
			HasMore:        count > params.Offset,
			NextOffset:     params.Offset,
			Source:         domain.SourcePubMed,
			SearchDuration: time.Since(started),
		}, nil
	}

	records, err := c.efetch(ctx, search.ESearchResult.IDList)
	if err != nil {
		return nil, fmt.Errorf("efetch failed: %w", err)
	}

	nextOffset := params.Offset + len(records)
	return &sources.SearchResult{
		Records:        records,
		TotalResults:   count,
		HasMore:        nextOffset < count,
		NextOffset:     nextOffset,
		Source:         domain.SourcePubMed,
		SearchDuration: time.Since(started),
	}, nil
}

// SourceName returns the provenance identifier for this source.
func (c *Client) SourceName() domain.SourceName {
	return domain.SourcePubMed
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled reports whether the source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// esearch resolves a query to PMIDs.
func (c *Client) esearch(ctx context.Context, params sources.SearchParams) (*esearchResponse, error) {
	u, err := url.Parse(c.config.BaseURL + "/esearch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	maxResults := params.MaxResults
	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}
	if maxResults > MaxResultsLimit {
		maxResults = MaxResultsLimit
	}

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("term", params.Query)
	q.Set("retmode", "json")
	q.Set("retmax", strconv.Itoa(maxResults))
	if params.Offset > 0 {
		q.Set("retstart", strconv.Itoa(params.Offset))
	}
	c.setIdentity(q)
	u.RawQuery = q.Encode()

	body, err := c.get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	var result esearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse esearch response: %w", err)
	}
	return &result, nil
}

// efetch retrieves citations in MEDLINE text format and parses them into
// raw records.
func (c *Client) efetch(ctx context.Context, pmids []string) ([]domain.RawRecord, error) {
	if len(pmids) == 0 {
		return nil, nil
	}

	u, err := url.Parse(c.config.BaseURL + "/efetch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(pmids, ","))
	q.Set("rettype", "medline")
	q.Set("retmode", "text")
	c.setIdentity(q)
	u.RawQuery = q.Encode()

	body, err := c.get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	records, err := ParseMedline(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse MEDLINE response: %w", err)
	}
	return records, nil
}

// setIdentity adds the API key and operator identification parameters
// NCBI asks for.
func (c *Client) setIdentity(q url.Values) {
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	if c.config.ContactEmail != "" {
		q.Set("tool", "study-aggregation-service")
		q.Set("email", c.config.ContactEmail)
	}
}

// get executes a GET request and returns the response body.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}
	return body, nil
}
