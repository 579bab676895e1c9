package yamlcfg

import (
	"context"
	"fmt"
	"os"

	"github.com/vk/trainforge/internal/config"
	"github.com/vk/trainforge/internal/ctxlog"
	"github.com/vk/trainforge/internal/hparams"
	"gopkg.in/yaml.v2"
)

// document is the top-level structure. MapSlice keeps records in file
// order.
type document struct {
	Datasets   yaml.MapSlice `yaml:"datasets"`
	Models     yaml.MapSlice `yaml:"models"`
	Devices    yaml.MapSlice `yaml:"devices"`
	Dataloader yaml.MapSlice `yaml:"dataloader"`
}

// Loader is the YAML implementation of config.Loader.
type Loader struct{}

// NewLoader creates a new YAML configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

func (l *Loader) Extensions() []string { return []string{".yaml", ".yml"} }

func (l *Loader) LoadFile(ctx context.Context, path string) (*config.Model, error) {
	ctxlog.FromContext(ctx).Debug("Decoding YAML file.", "path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return l.Parse(ctx, data, path)
}

// Parse decodes an in-memory document. filename is used in errors and
// record sources.
func (l *Loader) Parse(ctx context.Context, data []byte, filename string) (*config.Model, error) {
	var doc document
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode YAML file %s: %w", filename, err)
	}

	m := config.NewModel()
	for _, group := range []struct {
		kind    hparams.Kind
		section string
		items   yaml.MapSlice
	}{
		{hparams.KindDataset, "datasets", doc.Datasets},
		{hparams.KindModel, "models", doc.Models},
		{hparams.KindDevice, "devices", doc.Devices},
	} {
		for _, item := range group.items {
			e, err := decodeEntry(group.kind, group.section, item, filename)
			if err != nil {
				return nil, err
			}
			if err := m.Add(e); err != nil {
				return nil, err
			}
		}
	}
	if doc.Dataloader != nil {
		dl := hparams.DefaultDataloaderConfig()
		if err := overlay(doc.Dataloader, dl); err != nil {
			return nil, fmt.Errorf("%s: dataloader: %w", filename, err)
		}
		if err := m.SetDataloader(dl, filename+"#dataloader"); err != nil {
			return nil, err
		}
	}

	ctxlog.FromContext(ctx).Debug("Decoded YAML file.", "records", m.Len(), "dataloader", m.Dataloader != nil)
	return m, nil
}

func decodeEntry(kind hparams.Kind, section string, item yaml.MapItem, filename string) (*config.Entry, error) {
	name := fmt.Sprint(item.Key)
	src := fmt.Sprintf("%s#%s.%s", filename, section, name)
	variants, ok := item.Value.(yaml.MapSlice)
	if !ok || len(variants) != 1 {
		return nil, &hparams.ConfigurationError{
			Record:   fmt.Sprintf("%s %q", kind, name),
			Problems: []string{fmt.Sprintf("%s: expected a mapping with exactly one variant key", src)},
		}
	}
	variant := fmt.Sprint(variants[0].Key)
	rec, err := hparams.NewRecord(kind, variant)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	if err := overlay(variants[0].Value, rec); err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	return &config.Entry{Name: name, Record: rec, Source: src}, nil
}

// overlay decodes a generic YAML value onto target, keeping the fields the
// value does not mention.
func overlay(value any, target any) error {
	if value == nil {
		return nil
	}
	raw, err := yaml.Marshal(value)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(raw, target)
}
