package builtin

import (
	"fmt"

	"github.com/crawld/crawld/internal/plugin"
)

// Register adds every builtin plugin factory to the registry.
func Register(reg *plugin.Registry) error {
	factories := map[string]plugin.Factory{
		"reverse":     func() plugin.Plugin { return NewReverse() },
		"wordstats":   func() plugin.Plugin { return NewWordStats() },
		"pagecontent": func() plugin.Plugin { return NewPageContent() },
		"pagelinks":   func() plugin.Plugin { return NewPageLinks() },
		"loadtime":    func() plugin.Plugin { return NewLoadTime() },
	}
	for _, name := range []string{"reverse", "wordstats", "pagecontent", "pagelinks", "loadtime"} {
		if err := reg.Register(name, factories[name]); err != nil {
			return fmt.Errorf("register builtin: %w", err)
		}
	}
	return nil
}
