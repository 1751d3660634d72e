package crawlengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

const robotsBody = `User-agent: crawld-bot
Disallow: /private/

User-agent: *
Disallow: /admin/
`

func TestRobotsEnforcerAllowDisallow(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fetches.Add(1)
			_, _ = w.Write([]byte(robotsBody))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	policy := NewRobotsEnforcer(true, "crawld-bot", srv.Client(), nil)
	ctx := context.Background()

	require.True(t, policy.Allowed(ctx, srv.URL+"/public/page"))
	require.False(t, policy.Allowed(ctx, srv.URL+"/private/page"))
	require.True(t, policy.Allowed(ctx, srv.URL+"/admin/page")) // group is per agent

	// robots.txt is fetched once per host.
	require.Equal(t, int32(1), fetches.Load())
}

func TestRobotsEnforcerMissingFileAllowsAll(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	policy := NewRobotsEnforcer(true, "crawld-bot", srv.Client(), nil)
	require.True(t, policy.Allowed(context.Background(), srv.URL+"/anything"))
}

func TestRobotsEnforcerUnreachableHostAllows(t *testing.T) {
	t.Parallel()

	policy := NewRobotsEnforcer(true, "crawld-bot", nil, nil)
	require.True(t, policy.Allowed(context.Background(), "http://127.0.0.1:1/page"))
}

func TestRobotsDisabledIsAllowAll(t *testing.T) {
	t.Parallel()

	policy := NewRobotsEnforcer(false, "crawld-bot", nil, nil)
	require.True(t, policy.Allowed(context.Background(), "https://example.com/private/"))
}
