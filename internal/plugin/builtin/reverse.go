// Package builtin ships the stock analysis plugins registered by default.
package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/crawld/crawld/internal/plugin"
)

// Reverse is a playground plugin that reverses its string input and reports
// length and timing metrics.
type Reverse struct {
	plugin.Base
	clock func() time.Time
}

// NewReverse constructs the reverse plugin.
func NewReverse() *Reverse {
	return &Reverse{
		Base:  plugin.NewBase("reverse"),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// Execute reverses the input string rune-wise.
func (p *Reverse) Execute(_ context.Context, run *plugin.Run) (any, error) {
	text, ok := run.Input.(string)
	if !ok {
		return nil, fmt.Errorf("reverse expects a string input, got %T", run.Input)
	}
	start := p.clock()
	runes := []rune(text)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	out := string(runes)
	run.Output = out
	run.Storage.Set("lastOutput", out)

	return map[string]any{
		"processedAt":      start.Format(time.RFC3339),
		"inputLength":      len(runes),
		"outputLength":     len(runes),
		"processingTimeMs": p.clock().Sub(start).Milliseconds(),
	}, nil
}

// Summarize counts how many runs this plugin processed.
func (p *Reverse) Summarize(_ context.Context, metrics []any) (any, error) {
	return map[string]any{"totalProcessed": len(metrics)}, nil
}
