package hcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/trainforge/internal/config"
	"github.com/vk/trainforge/internal/ctxlog"
	"github.com/vk/trainforge/internal/schema"
)

// Extension is the file suffix of HCL documents.
const Extension = ".hcl"

// Loader is the HCL implementation of config.Loader.
type Loader struct {
	// Environ supplies the env variable of expressions. Defaults to
	// os.Environ.
	Environ func() []string
}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

func (l *Loader) Extensions() []string { return []string{Extension} }

// LoadFile parses and decodes a single file.
func (l *Loader) LoadFile(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Decoding HCL file.", "path", path)
	file, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}
	return l.decode(ctx, file)
}

// Parse decodes an in-memory document. filename is used in diagnostics.
func (l *Loader) Parse(ctx context.Context, src []byte, filename string) (*config.Model, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	return l.decode(ctx, file)
}

func (l *Loader) decode(ctx context.Context, file *hcl.File) (*config.Model, error) {
	var root schema.File
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file: %w", diags)
	}

	evalCtx := l.evalContext()
	m := config.NewModel()
	for _, group := range []struct {
		kind   string
		blocks []*schema.Block
	}{
		{"dataset", root.Datasets},
		{"model", root.Models},
		{"device", root.Devices},
	} {
		for _, b := range group.blocks {
			e, err := translateBlock(group.kind, b, evalCtx)
			if err != nil {
				return nil, err
			}
			if err := m.Add(e); err != nil {
				return nil, err
			}
		}
	}
	if root.Dataloader != nil {
		dl, err := translateDataloader(root.Dataloader, evalCtx)
		if err != nil {
			return nil, err
		}
		if err := m.SetDataloader(dl, source(root.Dataloader.Body)); err != nil {
			return nil, err
		}
	}

	ctxlog.FromContext(ctx).Debug("Decoded HCL file.", "records", m.Len(), "dataloader", m.Dataloader != nil)
	return m, nil
}
