package config

import (
	"context"
)

// Loader is the interface for a format-specific configuration loader.
type Loader interface {
	// Extensions lists the file suffixes the loader understands.
	Extensions() []string
	// LoadFile reads one document into a fresh Model. Records start from
	// their defaults; the document overlays the values it sets.
	LoadFile(ctx context.Context, path string) (*Model, error)
}

// Encoder renders a Model back into a document that the matching Loader
// reads into an equal Model.
type Encoder interface {
	Encode(m *Model) ([]byte, error)
}
