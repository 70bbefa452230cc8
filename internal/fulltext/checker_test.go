package fulltext

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidlab/study-aggregation-service/internal/config"
	"github.com/evidlab/study-aggregation-service/internal/domain"
	"github.com/evidlab/study-aggregation-service/internal/observability"
)

func newTestChecker(t *testing.T, metricsNamespace string, cfg config.FulltextConfig) *Checker {
	t.Helper()
	return NewChecker(cfg, observability.NewMetrics(metricsNamespace), zerolog.Nop(), WithPrivateNetworksAllowed())
}

func TestCheckLink_Alive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestChecker(t, "test_ft_alive", config.FulltextConfig{})
	status := c.CheckLink(context.Background(), srv.URL)

	assert.True(t, status.Alive)
	assert.Equal(t, http.StatusOK, status.StatusCode)
	assert.Empty(t, status.Error)
}

func TestCheckLink_Dead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestChecker(t, "test_ft_dead", config.FulltextConfig{})
	status := c.CheckLink(context.Background(), srv.URL)

	assert.False(t, status.Alive)
	assert.Equal(t, http.StatusNotFound, status.StatusCode)
}

func TestCheckLink_HeadRejectedFallsBackToGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestChecker(t, "test_ft_fallback", config.FulltextConfig{})
	status := c.CheckLink(context.Background(), srv.URL)

	assert.True(t, status.Alive)
	assert.Equal(t, http.StatusOK, status.StatusCode)
}

func TestCheckLink_PrivateAddressDenied(t *testing.T) {
	// Guard active: no WithPrivateNetworksAllowed.
	c := NewChecker(config.FulltextConfig{}, observability.NewMetrics("test_ft_ssrf"), zerolog.Nop())

	status := c.CheckLink(context.Background(), "http://127.0.0.1:9/doc.pdf")
	assert.False(t, status.Alive)
	assert.Contains(t, status.Error, "private network")

	status = c.CheckLink(context.Background(), "file:///etc/passwd")
	assert.False(t, status.Alive)
	assert.Contains(t, status.Error, "not allowed")
}

func TestCheckResultSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "gone") {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rs := domain.NewSearchResultSet()
	rs.Papers["doi:10.1/a"] = &domain.PaperMetadata{
		Title:         "Alpha",
		FullTextLinks: []string{srv.URL + "/alpha.pdf", srv.URL + "/alpha-gone"},
	}
	rs.Papers["doi:10.1/b"] = &domain.PaperMetadata{
		Title: "Beta",
	}

	c := newTestChecker(t, "test_ft_resultset", config.FulltextConfig{})
	reports := c.CheckResultSet(context.Background(), rs)

	require.Len(t, reports, 2)
	assert.Equal(t, "doi:10.1/a", reports[0].DedupKey)
	require.Len(t, reports[0].Links, 2)
	assert.True(t, reports[0].Links[0].Alive)
	assert.False(t, reports[0].Links[1].Alive)
	assert.Empty(t, reports[1].Links)

	alive, total := AliveCount(reports)
	assert.Equal(t, 1, alive)
	assert.Equal(t, 2, total)
}

func TestFetch_WritesDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 test document"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := newTestChecker(t, "test_ft_fetch", config.FulltextConfig{Dir: dir, Timeout: 5 * time.Second})

	result, err := c.Fetch(context.Background(), srv.URL+"/doc.pdf")
	require.NoError(t, err)

	assert.Equal(t, filepath.Ext(result.Path), ".pdf")
	assert.Equal(t, int64(22), result.SizeBytes)
	assert.NotEmpty(t, result.ContentHash)

	content, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 test document", string(content))
}

func TestFetch_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	c := newTestChecker(t, "test_ft_toolarge", config.FulltextConfig{Dir: t.TempDir(), MaxSizeBytes: 1024})

	_, err := c.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestChecker(t, "test_ft_httperr", config.FulltextConfig{Dir: t.TempDir()})

	_, err := c.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestFetch_NoDirectory(t *testing.T) {
	c := newTestChecker(t, "test_ft_nodir", config.FulltextConfig{})

	_, err := c.Fetch(context.Background(), "http://example.org/doc.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)
}
