package collydriver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crawld/crawld/internal/driver"
)

const samplePage = `<html>
<head><title>Sample Page</title></head>
<body>
<h1>Welcome</h1>
<p>three words here</p>
<a href="/about">About</a>
<a href="https://other.example.net/far">Far</a>
</body>
</html>`

func TestVisitExtractsPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	d := New(Config{UserAgent: "crawld-test/1.0", Timeout: 5 * time.Second})
	page, err := d.Visit(context.Background(), driver.Request{URL: srv.URL + "/"})
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, "Sample Page", page.Title)
	require.Equal(t, 5, page.WordCount)
	require.Len(t, page.Links, 2)
	require.Equal(t, srv.URL+"/about", page.Links[0])
	require.Equal(t, "https://other.example.net/far", page.Links[1])
	require.Greater(t, page.LoadTime, time.Duration(0))
}

func TestVisitSendsHeaders(t *testing.T) {
	t.Parallel()

	var gotAgent, gotCustom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		gotCustom = r.Header.Get("X-Crawl-Token")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	d := New(Config{UserAgent: "default-agent"})
	_, err := d.Visit(context.Background(), driver.Request{
		URL:       srv.URL + "/",
		UserAgent: "override-agent",
		Headers:   map[string]string{"X-Crawl-Token": "secret"},
	})
	require.NoError(t, err)
	require.Equal(t, "override-agent", gotAgent)
	require.Equal(t, "secret", gotCustom)
}

func TestVisitHTTPErrorSurfaced(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(Config{})
	_, err := d.Visit(context.Background(), driver.Request{URL: srv.URL + "/"})
	require.Error(t, err)
}

func TestVisitUnreachableHost(t *testing.T) {
	t.Parallel()

	d := New(Config{Timeout: time.Second})
	_, err := d.Visit(context.Background(), driver.Request{URL: "http://127.0.0.1:1/"})
	require.Error(t, err)
}
