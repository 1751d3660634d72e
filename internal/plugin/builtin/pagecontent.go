package builtin

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/crawld/crawld/internal/driver"
	"github.com/crawld/crawld/internal/plugin"
)

// PageContent is a crawl plugin that extracts title, heading and word
// counts from each page's markup.
type PageContent struct {
	plugin.Base
}

// NewPageContent constructs the pagecontent plugin.
func NewPageContent() *PageContent {
	return &PageContent{Base: plugin.NewBase("pagecontent")}
}

// Evaluate parses the page HTML and reports content metrics.
func (p *PageContent) Evaluate(_ context.Context, page *driver.Page, _ time.Duration) (any, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = page.Title
	}
	// Count per text node so text of adjacent elements is not glued together.
	words := 0
	doc.Find("body").Find("*").AddBack().Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "#text" {
			words += len(strings.Fields(s.Text()))
		}
	})
	if words == 0 {
		words = page.WordCount
	}
	return map[string]any{
		"url":        page.URL,
		"title":      title,
		"wordCount":  words,
		"headings":   doc.Find("h1,h2,h3").Length(),
		"paragraphs": doc.Find("p").Length(),
	}, nil
}

// Summarize reports totals across every analyzed page.
func (p *PageContent) Summarize(_ context.Context, metrics []any) (any, error) {
	totalWords := 0
	titled := 0
	for _, m := range metrics {
		set, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if n, ok := set["wordCount"].(int); ok {
			totalWords += n
		}
		if title, ok := set["title"].(string); ok && title != "" {
			titled++
		}
	}
	return map[string]any{
		"pages":           len(metrics),
		"totalWords":      totalWords,
		"pagesWithTitles": titled,
	}, nil
}
