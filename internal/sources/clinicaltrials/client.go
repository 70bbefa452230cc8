// Package clinicaltrials implements the ClinicalTrials.gov record source
// on top of the v2 study API.
package clinicaltrials

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
	// DefaultBaseURL is the base URL for the ClinicalTrials.gov API v2.
	DefaultBaseURL = "https://clinicaltrials.gov/api/v2"

	// DefaultRateLimit is a polite request rate for the public API.
	DefaultRateLimit = 5.0

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default page size per search.
	DefaultMaxResults = 100

	// MaxResultsLimit is the largest page size the API accepts.
	MaxResultsLimit = 1000

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 10 << 20

	// sourceName is the human-readable name for this source.
	sourceName = "ClinicalTrials.gov"
)

// Config holds the configuration for the ClinicalTrials.gov client.
type Config struct {
	// BaseURL overrides DefaultBaseURL when set.
	BaseURL string

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

// Client implements sources.RecordSource for ClinicalTrials.gov.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
}

// Compile-time check that Client implements RecordSource.
var _ sources.RecordSource = (*Client)(nil)

// New creates a ClinicalTrials.gov client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	httpClient := sources.NewHTTPClient(sources.HTTPClientConfig{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		Source:    sourceName,
	})
	return &Client{config: cfg, httpClient: httpClient}
}

// NewWithHTTPClient creates a client with a custom HTTP client. Useful
// for testing against mock servers.
func NewWithHTTPClient(cfg Config, httpClient *sources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, httpClient: httpClient}
}

// Search queries the /studies endpoint and converts each study to a raw
// record. The v2 API paginates with tokens rather than offsets, so Offset
// is not forwarded; HasMore reflects whether the service reported a next
// page.
func (c *Client) Search(ctx context.Context, params sources.SearchParams) (*sources.SearchResult, error) {
	if !c.config.Enabled {
		return nil, errors.New("clinicaltrials source is disabled")
	}

	started := time.Now()

	u, err := url.Parse(c.config.BaseURL + "/studies")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	pageSize := params.MaxResults
	if pageSize <= 0 {
		pageSize = c.config.MaxResults
	}
	if pageSize > MaxResultsLimit {
		pageSize = MaxResultsLimit
	}

	q := u.Query()
	q.Set("query.term", params.Query)
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("countTotal", "true")
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
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

	var decoded studiesResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse studies response: %w", err)
	}

	records := make([]domain.RawRecord, 0, len(decoded.Studies))
	for _, s := range decoded.Studies {
		records = append(records, studyToRecord(s))
	}

	return &sources.SearchResult{
		Records:        records,
		TotalResults:   decoded.TotalCount,
		HasMore:        decoded.NextPageToken != "",
		NextOffset:     params.Offset + len(records),
		Source:         domain.SourceClinicalTrials,
		SearchDuration: time.Since(started),
	}, nil
}

// SourceName returns the provenance identifier for this source.
func (c *Client) SourceName() domain.SourceName {
	return domain.SourceClinicalTrials
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled reports whether the source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// studyToRecord flattens a study into the raw record shape the ingestor
// recognizes: registry id, titles, summary text, start date, enrollment,
// design labels, and the registry page URL.
func studyToRecord(s study) domain.RawRecord {
	p := s.ProtocolSection
	record := domain.RawRecord{
		"nct_id": p.Identification.NCTID,
	}

	if p.Identification.BriefTitle != "" {
		record["brief_title"] = p.Identification.BriefTitle
	}
	if p.Identification.OfficialTitle != "" {
		record["official_title"] = p.Identification.OfficialTitle
	}
	if p.Description.BriefSummary != "" {
		record["description"] = p.Description.BriefSummary
	}
	if p.Description.DetailedDescription != "" {
		record["detailed_description"] = p.Description.DetailedDescription
	}
	if p.Status.StartDateStruct.Date != "" {
		record["start_date"] = p.Status.StartDateStruct.Date
	}
	if p.Design.EnrollmentInfo.Count > 0 {
		record["enrollment"] = p.Design.EnrollmentInfo.Count
	}

	var design []string
	if p.Design.StudyType != "" {
		design = append(design, p.Design.StudyType)
	}
	if p.Design.DesignInfo.Allocation != "" {
		design = append(design, p.Design.DesignInfo.Allocation)
	}
	if p.Design.DesignInfo.ObservationalModel != "" {
		design = append(design, p.Design.DesignInfo.ObservationalModel)
	}
	if len(design) > 0 {
		record["design"] = design
	}

	var officials []string
	for _, o := range p.Contacts.OverallOfficials {
		if strings.TrimSpace(o.Name) != "" {
			officials = append(officials, o.Name)
		}
	}
	if len(officials) > 0 {
		record["authors"] = officials
	}

	if p.Identification.NCTID != "" {
		record["url"] = "https://clinicaltrials.gov/study/" + p.Identification.NCTID
	}

	return record
}
