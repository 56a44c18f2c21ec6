package registry

import (
	"github.com/booltox/toolhost/internal/config"
)

// SourcesFromConfig lists the discovery inputs in precedence order: installed
// tools, the dev directory when dev mode is on, examples, then local
// references.
func SourcesFromConfig(cfg *config.Config) Sources {
	src := Sources{
		Dirs: []Dir{{Path: cfg.ToolsDir, Source: SourceInstalled}},
	}
	if cfg.DevMode && cfg.DevToolsDir != "" {
		src.Dirs = append(src.Dirs, Dir{Path: cfg.DevToolsDir, Source: SourceDev, Dev: true})
	}
	if cfg.ExamplesDir != "" {
		src.Dirs = append(src.Dirs, Dir{Path: cfg.ExamplesDir, Source: SourceExamples, Dev: cfg.DevMode})
	}
	for _, ref := range cfg.LocalTools {
		src.LocalRefs = append(src.LocalRefs, LocalRef{ID: ref.ID, Path: ref.Path})
	}
	return src
}
