package hcl

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/trainforge/internal/config"
	"github.com/vk/trainforge/internal/hparams"
	"github.com/vk/trainforge/internal/schema"
	"github.com/zclconf/go-cty/cty"
)

// translateBlock decodes a record block onto the defaults of the variant it
// names.
func translateBlock(kind string, b *schema.Block, evalCtx *hcl.EvalContext) (*config.Entry, error) {
	src := source(b.Body)
	rec, err := hparams.NewRecord(hparams.Kind(kind), b.Variant)
	if err != nil {
		return nil, fmt.Errorf("%s: %s %q: %w", src, kind, b.Name, err)
	}
	if diags := gohcl.DecodeBody(b.Body, evalCtx, rec); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode %s %q: %w", kind, b.Name, diags)
	}
	return &config.Entry{Name: b.Name, Record: rec, Source: src}, nil
}

func translateDataloader(s *schema.Section, evalCtx *hcl.EvalContext) (*hparams.DataloaderConfig, error) {
	dl := hparams.DefaultDataloaderConfig()
	if diags := gohcl.DecodeBody(s.Body, evalCtx, dl); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode dataloader: %w", diags)
	}
	return dl, nil
}

// source is the file:line of a block body.
func source(body hcl.Body) string {
	r := body.MissingItemRange()
	return fmt.Sprintf("%s:%d", r.Filename, r.Start.Line)
}

func (l *Loader) evalContext() *hcl.EvalContext {
	environ := l.Environ
	if environ == nil {
		environ = os.Environ
	}
	vars := make(map[string]cty.Value)
	for _, kv := range environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && hclsyntax.ValidIdentifier(k) {
			vars[k] = cty.StringVal(v)
		}
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{Variables: map[string]cty.Value{"env": env}}
}
