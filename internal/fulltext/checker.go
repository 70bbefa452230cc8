// Package fulltext probes and fetches the full text links carried by
// merged entities. Probing is a liveness check over the stored URLs;
// fetching writes the documents to a local directory. Both refuse to
// touch private network addresses.
package fulltext

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/evidlab/study-aggregation-service/internal/config"
	"github.com/evidlab/study-aggregation-service/internal/domain"
	"github.com/evidlab/study-aggregation-service/internal/observability"
)

// Sentinel errors for full text operations.
var (
	// ErrTooLarge is returned when a document exceeds the size cap.
	ErrTooLarge = errors.New("fulltext: document exceeds maximum size")
	// ErrFetchFailed is returned on network or HTTP failures.
	ErrFetchFailed = errors.New("fulltext: fetch failed")
	// ErrPrivateAddress is returned when a URL resolves to a private or
	// otherwise non-routable network address.
	ErrPrivateAddress = errors.New("fulltext: request to private network denied")
)

// defaultCheckConcurrency bounds concurrent link probes per result set.
const defaultCheckConcurrency = 4

// LinkStatus is the probe outcome for one URL.
type LinkStatus struct {
	URL        string `json:"url"`
	Alive      bool   `json:"alive"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// PaperLinks groups the probe outcomes of one merged entity.
type PaperLinks struct {
	DedupKey string       `json:"dedup_key"`
	Title    string       `json:"title"`
	Links    []LinkStatus `json:"links"`
}

// FetchResult describes a document written to the local directory.
type FetchResult struct {
	URL         string
	Path        string
	SizeBytes   int64
	ContentHash string
}

// Checker probes and fetches full text links.
type Checker struct {
	client               *http.Client
	dir                  string
	maxSize              int64
	userAgent            string
	allowPrivateNetworks bool // tests only
	metrics              *observability.Metrics
	logger               zerolog.Logger
}

// Option adjusts checker behaviour.
type Option func(*Checker)

// WithPrivateNetworksAllowed disables the private address guard. Only
// for tests against local listeners.
func WithPrivateNetworksAllowed() Option {
	return func(c *Checker) { c.allowPrivateNetworks = true }
}

// NewChecker creates a checker from the full text configuration.
func NewChecker(cfg config.FulltextConfig, metrics *observability.Metrics, logger zerolog.Logger, opts ...Option) *Checker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxSize := cfg.MaxSizeBytes
	if maxSize == 0 {
		maxSize = 50 * 1024 * 1024
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "study-aggregation-service/1.0"
	}

	c := &Checker{
		dir:       cfg.Dir,
		maxSize:   maxSize,
		userAgent: userAgent,
		metrics:   metrics,
		logger:    logger.With().Str("component", "fulltext_checker").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.client = &http.Client{
		Timeout: timeout,
		// Every redirect hop is re-validated so an open redirect cannot
		// land on an internal address.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("%w: too many redirects", ErrFetchFailed)
			}
			if !c.allowPrivateNetworks {
				return validatePublicURL(req.URL.String())
			}
			return nil
		},
	}

	return c
}

// validatePublicURL rejects non-http(s) schemes and hosts that resolve
// to private addresses.
func validatePublicURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPrivateAddress, err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: scheme %q is not allowed", ErrPrivateAddress, parsed.Scheme)
	}

	host := parsed.Hostname()
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("%w: DNS lookup failed for %s: %w", ErrFetchFailed, host, err)
	}
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() ||
			ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return fmt.Errorf("%w: %s resolves to %s", ErrPrivateAddress, host, ipStr)
		}
	}
	return nil
}

// CheckLink probes one URL. A URL is alive when it answers a HEAD or,
// for servers that reject HEAD, a GET with a 2xx or 3xx status.
func (c *Checker) CheckLink(ctx context.Context, link string) LinkStatus {
	status := LinkStatus{URL: link}

	if !c.allowPrivateNetworks {
		if err := validatePublicURL(link); err != nil {
			status.Error = err.Error()
			return status
		}
	}

	code, err := c.probe(ctx, http.MethodHead, link)
	if err == nil && (code == http.StatusMethodNotAllowed || code == http.StatusNotImplemented) {
		code, err = c.probe(ctx, http.MethodGet, link)
	}
	if err != nil {
		status.Error = err.Error()
		return status
	}

	status.StatusCode = code
	status.Alive = code >= 200 && code < 400
	return status
}

func (c *Checker) probe(ctx context.Context, method, link string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, link, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid URL: %w", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain a bounded amount so connections can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 32*1024))
	return resp.StatusCode, nil
}

// CheckResultSet probes every full text link of every merged entity,
// ordered by deduplication key. Probes run on a small worker pool.
func (c *Checker) CheckResultSet(ctx context.Context, rs *domain.SearchResultSet) []PaperLinks {
	type job struct {
		paperIdx int
		linkIdx  int
		url      string
	}

	keys := rs.Keys()
	reports := make([]PaperLinks, 0, len(keys))
	var jobs []job
	for _, key := range keys {
		paper := rs.Papers[key]
		report := PaperLinks{
			DedupKey: key,
			Title:    paper.Title,
			Links:    make([]LinkStatus, len(paper.FullTextLinks)),
		}
		for i, link := range paper.FullTextLinks {
			jobs = append(jobs, job{paperIdx: len(reports), linkIdx: i, url: link})
		}
		reports = append(reports, report)
	}

	if len(jobs) == 0 {
		return reports
	}

	jobCh := make(chan job)
	var wg sync.WaitGroup
	for i := 0; i < defaultCheckConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				reports[j.paperIdx].Links[j.linkIdx] = c.CheckLink(ctx, j.url)
			}
		}()
	}
	for _, j := range jobs {
		jobCh <- j
	}
	close(jobCh)
	wg.Wait()

	return reports
}

// Fetch downloads one document into the configured directory. The file
// name is the SHA-256 digest of the content so repeated fetches of the
// same document are idempotent.
func (c *Checker) Fetch(ctx context.Context, link string) (*FetchResult, error) {
	start := time.Now()
	result, err := c.fetch(ctx, link)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordFulltextDownloadFailed()
		}
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.RecordFulltextDownload(time.Since(start).Seconds())
	}
	return result, nil
}

func (c *Checker) fetch(ctx context.Context, link string) (*FetchResult, error) {
	if c.dir == "" {
		return nil, fmt.Errorf("%w: no download directory configured", ErrFetchFailed)
	}
	if !c.allowPrivateNetworks {
		if err := validatePublicURL(link); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %w", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrFetchFailed, resp.StatusCode)
	}

	// One extra byte past the cap distinguishes at-limit from over it.
	content, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrFetchFailed, err)
	}
	if int64(len(content)) > c.maxSize {
		return nil, fmt.Errorf("%w: exceeded %d bytes", ErrTooLarge, c.maxSize)
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create directory: %w", ErrFetchFailed, err)
	}

	digest := sha256.Sum256(content)
	hash := hex.EncodeToString(digest[:])
	path := filepath.Join(c.dir, hash+extensionFor(resp.Header.Get("Content-Type")))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, fmt.Errorf("%w: write file: %w", ErrFetchFailed, err)
	}

	c.logger.Info().
		Str("url", link).
		Str("path", path).
		Int("size_bytes", len(content)).
		Msg("full text fetched")

	return &FetchResult{
		URL:         link,
		Path:        path,
		SizeBytes:   int64(len(content)),
		ContentHash: hash,
	}, nil
}

func extensionFor(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "application/pdf"):
		return ".pdf"
	case strings.Contains(ct, "text/html"):
		return ".html"
	default:
		return ".bin"
	}
}

// AliveCount tallies alive and total links across the reports.
func AliveCount(reports []PaperLinks) (alive, total int) {
	for _, r := range reports {
		for _, l := range r.Links {
			total++
			if l.Alive {
				alive++
			}
		}
	}
	return alive, total
}
