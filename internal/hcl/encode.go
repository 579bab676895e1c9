package hcl

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/vk/trainforge/internal/config"
)

// Encoder is the HCL implementation of config.Encoder. Every field of every
// record is written, so the output shows the effective configuration.
type Encoder struct{}

// NewEncoder creates a new HCL encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) Encode(m *config.Model) ([]byte, error) {
	f := hclwrite.NewEmptyFile()
	root := f.Body()
	first := true
	next := func() {
		if !first {
			root.AppendNewline()
		}
		first = false
	}

	for _, ent := range m.All() {
		next()
		blk := root.AppendNewBlock(string(ent.Record.Kind()), []string{ent.Record.Variant(), ent.Name})
		if err := writeBody(blk.Body(), ent.Record); err != nil {
			return nil, fmt.Errorf("encoding %s %q: %w", ent.Record.Kind(), ent.Name, err)
		}
	}
	if m.Dataloader != nil {
		next()
		blk := root.AppendNewBlock("dataloader", nil)
		if err := writeBody(blk.Body(), m.Dataloader); err != nil {
			return nil, fmt.Errorf("encoding dataloader: %w", err)
		}
	}
	return hclwrite.Format(f.Bytes()), nil
}

func writeBody(body *hclwrite.Body, v any) error {
	attrs, err := attributes(v)
	if err != nil {
		return err
	}
	for _, a := range attrs {
		body.SetAttributeValue(a.name, a.value)
	}
	return nil
}
