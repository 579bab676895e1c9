package yamlcfg

import (
	"github.com/vk/trainforge/internal/config"
	"github.com/vk/trainforge/internal/hparams"
	"gopkg.in/yaml.v2"
)

// Encoder is the YAML implementation of config.Encoder.
type Encoder struct{}

// NewEncoder creates a new YAML encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) Encode(m *config.Model) ([]byte, error) {
	var doc yaml.MapSlice
	for _, section := range []struct {
		key  string
		kind hparams.Kind
	}{
		{"datasets", hparams.KindDataset},
		{"models", hparams.KindModel},
		{"devices", hparams.KindDevice},
	} {
		entries := m.Entries(section.kind)
		if len(entries) == 0 {
			continue
		}
		var items yaml.MapSlice
		for _, ent := range entries {
			items = append(items, yaml.MapItem{
				Key:   ent.Name,
				Value: yaml.MapSlice{{Key: ent.Record.Variant(), Value: ent.Record}},
			})
		}
		doc = append(doc, yaml.MapItem{Key: section.key, Value: items})
	}
	if m.Dataloader != nil {
		doc = append(doc, yaml.MapItem{Key: "dataloader", Value: m.Dataloader})
	}
	return yaml.Marshal(doc)
}
