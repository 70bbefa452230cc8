// Package cochrane implements the Cochrane Library record source.
package cochrane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/evidlab/study-aggregation-service/internal/domain"
	"github.com/evidlab/study-aggregation-service/internal/sources"
)

const (
	// DefaultBaseURL is the base URL for the Cochrane Library.
	DefaultBaseURL = "https://www.cochranelibrary.com"

	// DefaultRateLimit keeps request pressure low; the library throttles
	// aggressive clients.
	DefaultRateLimit = 2.0

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum results per search.
	DefaultMaxResults = 50

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 10 << 20

	// sourceName is the human-readable name for this source.
	sourceName = "Cochrane Library"
)

// Config holds the configuration for the Cochrane client.
type Config struct {
	// BaseURL overrides DefaultBaseURL when set.
	BaseURL string

	// APIKey is an optional access key sent as a bearer token.
	APIKey string

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

// Client implements sources.RecordSource for the Cochrane Library.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
}

// Compile-time check that Client implements RecordSource.
var _ sources.RecordSource = (*Client)(nil)

// New creates a Cochrane client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	httpClient := sources.NewHTTPClient(sources.HTTPClientConfig{
		Timeout:      cfg.Timeout,
		RateLimit:    cfg.RateLimit,
		APIKey:       bearer(cfg.APIKey),
		APIKeyHeader: apiKeyHeader(cfg.APIKey),
		Source:       sourceName,
	})
	return &Client{config: cfg, httpClient: httpClient}
}

// NewWithHTTPClient creates a client with a custom HTTP client. Useful
// for testing against mock servers.
func NewWithHTTPClient(cfg Config, httpClient *sources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, httpClient: httpClient}
}

func bearer(key string) string {
	if key == "" {
		return ""
	}
	return "Bearer " + key
}

func apiKeyHeader(key string) string {
	if key == "" {
		return ""
	}
	return "Authorization"
}

// Search queries the library's search endpoint and converts each review
// entry to a raw record.
func (c *Client) Search(ctx context.Context, params sources.SearchParams) (*sources.SearchResult, error) {
	if !c.config.Enabled {
		return nil, errors.New("cochrane source is disabled")
	}

	started := time.Now()

	u, err := url.Parse(c.config.BaseURL + "/api/search")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	limit := params.MaxResults
	if limit <= 0 {
		limit = c.config.MaxResults
	}

	q := u.Query()
	q.Set("q", params.Query)
	q.Set("limit", strconv.Itoa(limit))
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

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

	var decoded searchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	records := make([]domain.RawRecord, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		records = append(records, resultToRecord(r))
	}

	nextOffset := params.Offset + len(records)
	return &sources.SearchResult{
		Records:        records,
		TotalResults:   decoded.Total,
		HasMore:        nextOffset < decoded.Total,
		NextOffset:     nextOffset,
		Source:         domain.SourceCochrane,
		SearchDuration: time.Since(started),
	}, nil
}

// SourceName returns the provenance identifier for this source.
func (c *Client) SourceName() domain.SourceName {
	return domain.SourceCochrane
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled reports whether the source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// resultToRecord flattens a search result into the raw record shape the
// ingestor recognizes.
func resultToRecord(r searchResult) domain.RawRecord {
	record := domain.RawRecord{
		"id":    r.ID,
		"title": r.Title,
	}
	if len(r.Authors) > 0 {
		record["authors"] = r.Authors
	}
	if r.DOI != "" {
		record["doi"] = r.DOI
	}
	if r.PublicationDate != "" {
		record["publication_date"] = r.PublicationDate
	}
	if r.Abstract != "" {
		record["abstract"] = r.Abstract
	}
	if r.URL != "" {
		record["url"] = r.URL
	}
	return record
}
