package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/trainforge/internal/ctxlog"
	"github.com/vk/trainforge/internal/fsutil"
)

// Load discovers every document under paths, hands each to the loader
// registered for its extension and merges the results in path order.
// Directories are searched recursively.
func Load(ctx context.Context, loaders []Loader, paths ...string) (*Model, error) {
	logger := ctxlog.FromContext(ctx)
	byExt := make(map[string]Loader)
	var exts []string
	for _, l := range loaders {
		for _, ext := range l.Extensions() {
			byExt[ext] = l
			exts = append(exts, ext)
		}
	}
	if len(exts) == 0 {
		return nil, fmt.Errorf("no configuration loaders registered")
	}

	seen := make(map[string]bool)
	var files []string
	for _, p := range paths {
		found, err := fsutil.FindFilesByExtension(p, exts...)
		if err != nil {
			return nil, fmt.Errorf("reading configuration path %s: %w", p, err)
		}
		for _, f := range found {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no configuration files (%s) found in %s", strings.Join(exts, ", "), strings.Join(paths, ", "))
	}
	logger.Debug("Discovered configuration files.", "count", len(files))

	m := NewModel()
	for _, f := range files {
		l := loaderFor(byExt, f)
		doc, err := l.LoadFile(ctx, f)
		if err != nil {
			return nil, err
		}
		if err := m.Merge(doc); err != nil {
			return nil, err
		}
	}
	logger.Debug("Configuration loaded.", "datasets", len(m.Datasets), "models", len(m.Models), "devices", len(m.Devices))
	return m, nil
}

func loaderFor(byExt map[string]Loader, file string) Loader {
	for ext, l := range byExt {
		if strings.HasSuffix(file, ext) {
			return l
		}
	}
	panic(fmt.Sprintf("no loader for %s", file))
}
