package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/crawld/crawld/internal/plugin"
)

// WordStats is a playground plugin that measures word and character counts
// of its string input.
type WordStats struct {
	plugin.Base
}

// NewWordStats constructs the wordstats plugin.
func NewWordStats() *WordStats {
	return &WordStats{Base: plugin.NewBase("wordstats")}
}

// Execute counts words and characters in the input.
func (p *WordStats) Execute(_ context.Context, run *plugin.Run) (any, error) {
	text, ok := run.Input.(string)
	if !ok {
		return nil, fmt.Errorf("wordstats expects a string input, got %T", run.Input)
	}
	words := strings.Fields(text)
	longest := ""
	for _, w := range words {
		if len(w) > len(longest) {
			longest = w
		}
	}
	return map[string]any{
		"words":       len(words),
		"characters":  len([]rune(text)),
		"longestWord": longest,
	}, nil
}

// Summarize totals words across runs.
func (p *WordStats) Summarize(_ context.Context, metrics []any) (any, error) {
	total := 0
	for _, m := range metrics {
		set, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if n, ok := set["words"].(int); ok {
			total += n
		}
	}
	return map[string]any{"totalWords": total, "runs": len(metrics)}, nil
}
