package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validCrawlParams() Params {
	return Params{
		URL:     "https://example.com/",
		Webhook: &WebhookConfig{URL: "https://hooks.example.net/cb"},
	}
}

func TestValidateCrawlRanges(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Params)
		ok     bool
	}{
		{"defaults valid", func(*Params) {}, true},
		{"depth at max", func(p *Params) { p.MaxDepth = 10 }, true},
		{"depth above max", func(p *Params) { p.MaxDepth = 11 }, false},
		{"pages at max", func(p *Params) { p.MaxPages = 1000 }, true},
		{"pages above max", func(p *Params) { p.MaxPages = 1001 }, false},
		{"rpm above max", func(p *Params) { p.MaxRequestsPerMinute = 301 }, false},
		{"concurrency above max", func(p *Params) { p.MaxConcurrency = 101 }, false},
		{"page timeout below min", func(p *Params) { p.Timeout.Page = 500 }, false},
		{"page timeout in range", func(p *Params) { p.Timeout.Page = 5000 }, true},
		{"request timeout above max", func(p *Params) { p.Timeout.Request = 70000 }, false},
		{"webhook retries above max", func(p *Params) { p.Webhook.Retries = 6 }, false},
		{"webhook url invalid", func(p *Params) { p.Webhook.URL = "not-a-url" }, false},
		{"missing url", func(p *Params) { p.URL = "" }, false},
		{"missing webhook", func(p *Params) { p.Webhook = nil }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			params := validCrawlParams()
			tc.mutate(&params)
			err := params.ValidateCrawl()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestValidatePlayground(t *testing.T) {
	t.Parallel()

	require.Error(t, Params{}.ValidatePlayground())
	require.NoError(t, Params{Input: "hello"}.ValidatePlayground())
	require.NoError(t, Params{Input: "hello", Plugins: []string{"reverse"}}.ValidatePlayground())

	// Webhook stays optional for playground jobs but is validated when set.
	require.Error(t, Params{Input: "x", Webhook: &WebhookConfig{URL: "nope"}}.ValidatePlayground())
}

func TestWithDefaults(t *testing.T) {
	t.Parallel()

	p := Params{URL: "https://example.com/"}.WithDefaults()
	require.Equal(t, DefaultMaxDepth, p.MaxDepth)
	require.Equal(t, DefaultMaxPages, p.MaxPages)
	require.Equal(t, DefaultMaxRequestsPerMinute, p.MaxRequestsPerMinute)
	require.Equal(t, DefaultMaxConcurrency, p.MaxConcurrency)

	custom := Params{URL: "https://example.com/", MaxDepth: 5}.WithDefaults()
	require.Equal(t, 5, custom.MaxDepth)
}

func TestTimeoutDefaults(t *testing.T) {
	t.Parallel()

	var ts Timeouts
	require.Equal(t, 30*time.Second, ts.PageTimeout())
	require.Equal(t, 30*time.Second, ts.RequestTimeout())

	ts = Timeouts{Page: 2000, Request: 4000}
	require.Equal(t, 2*time.Second, ts.PageTimeout())
	require.Equal(t, 4*time.Second, ts.RequestTimeout())
}

func TestWebhookWants(t *testing.T) {
	t.Parallel()

	var none *WebhookConfig
	require.False(t, none.Wants("started"))

	all := &WebhookConfig{URL: "https://hooks.example.net"}
	require.True(t, all.Wants("started"))
	require.True(t, all.Wants("progress"))

	filtered := &WebhookConfig{URL: "https://hooks.example.net", On: []string{"completed", "failed", "bogus"}}
	require.True(t, filtered.Wants("completed"))
	require.False(t, filtered.Wants("started"))
	require.False(t, filtered.Wants("progress"))
}

func TestWebhookRetryBudget(t *testing.T) {
	t.Parallel()

	var none *WebhookConfig
	require.Equal(t, DefaultWebhookRetries, none.RetryBudget())
	require.Equal(t, DefaultWebhookRetries, (&WebhookConfig{}).RetryBudget())
	require.Equal(t, 5, (&WebhookConfig{Retries: 5}).RetryBudget())
}

func TestJobClone(t *testing.T) {
	t.Parallel()

	end := time.Now().UTC()
	src := Job{
		ID:     "j",
		Kind:   KindCrawl,
		Params: validCrawlParams(),
		Progress: Progress{
			Status:           StatusCompleted,
			EndTime:          &end,
			CompletedPlugins: []string{"a"},
		},
		Result: &Result{
			Metrics: []MetricSet{{"p": 1}},
			Summary: map[string]any{"p": "sum"},
			Error:   &ErrorRecord{Message: "boom"},
		},
	}
	cp := src.Clone()
	cp.Params.Webhook.URL = "https://changed.example.net"
	cp.Progress.CompletedPlugins[0] = "z"
	cp.Result.Metrics[0]["p"] = 2
	cp.Result.Summary["p"] = "changed"
	*cp.Progress.EndTime = end.Add(time.Hour)

	require.Equal(t, "https://hooks.example.net/cb", src.Params.Webhook.URL)
	require.Equal(t, "a", src.Progress.CompletedPlugins[0])
	require.Equal(t, 1, src.Result.Metrics[0]["p"])
	require.Equal(t, "sum", src.Result.Summary["p"])
	require.Equal(t, end, *src.Progress.EndTime)
}
