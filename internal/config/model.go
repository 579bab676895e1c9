package config

import (
	"errors"
	"fmt"

	"github.com/vk/trainforge/internal/hparams"
)

// Entry is one named record of a document.
type Entry struct {
	Name   string
	Record hparams.Record
	// Source is the file the record was read from, with a line number when
	// the format provides one.
	Source string
}

// Model is the unified representation of every loaded document.
type Model struct {
	Datasets []*Entry
	Models   []*Entry
	Devices  []*Entry
	// Dataloader is nil when no document sets it.
	Dataloader       *hparams.DataloaderConfig
	DataloaderSource string
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{}
}

func (m *Model) entries(kind hparams.Kind) *[]*Entry {
	switch kind {
	case hparams.KindDataset:
		return &m.Datasets
	case hparams.KindModel:
		return &m.Models
	case hparams.KindDevice:
		return &m.Devices
	}
	panic(fmt.Sprintf("unknown record kind %q", kind))
}

// Entries returns the records of one kind in load order.
func (m *Model) Entries(kind hparams.Kind) []*Entry {
	return *m.entries(kind)
}

// All returns every record, datasets first, then models, then devices.
func (m *Model) All() []*Entry {
	var out []*Entry
	for _, k := range hparams.Kinds {
		out = append(out, m.Entries(k)...)
	}
	return out
}

// Len returns the number of records.
func (m *Model) Len() int {
	return len(m.Datasets) + len(m.Models) + len(m.Devices)
}

// Lookup finds a record by kind and name.
func (m *Model) Lookup(kind hparams.Kind, name string) (*Entry, bool) {
	for _, e := range m.Entries(kind) {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// Add appends a record. Names are unique per kind.
func (m *Model) Add(e *Entry) error {
	kind := e.Record.Kind()
	if prev, ok := m.Lookup(kind, e.Name); ok {
		return &hparams.ConfigurationError{
			Record:   "document",
			Problems: []string{fmt.Sprintf("%s %q is defined in both %s and %s", kind, e.Name, prev.Source, e.Source)},
		}
	}
	list := m.entries(kind)
	*list = append(*list, e)
	return nil
}

// SetDataloader sets the shared loader settings. Only one document may
// carry them.
func (m *Model) SetDataloader(c *hparams.DataloaderConfig, source string) error {
	if m.Dataloader != nil {
		return &hparams.ConfigurationError{
			Record:   "document",
			Problems: []string{fmt.Sprintf("dataloader is defined in both %s and %s", m.DataloaderSource, source)},
		}
	}
	m.Dataloader, m.DataloaderSource = c, source
	return nil
}

// Merge moves every record of other into m.
func (m *Model) Merge(other *Model) error {
	var errs []error
	for _, e := range other.All() {
		errs = append(errs, m.Add(e))
	}
	if other.Dataloader != nil {
		errs = append(errs, m.SetDataloader(other.Dataloader, other.DataloaderSource))
	}
	return errors.Join(errs...)
}

// DataloaderOrDefault returns the configured loader settings, or the
// defaults when none were set.
func (m *Model) DataloaderOrDefault() *hparams.DataloaderConfig {
	if m.Dataloader == nil {
		return hparams.DefaultDataloaderConfig()
	}
	return m.Dataloader
}

// Validate validates every record and the dataloader settings, reporting
// all failures. Each failure names the record it belongs to.
func (m *Model) Validate() error {
	var errs []error
	for _, e := range m.All() {
		if err := e.Record.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s %q (%s): %w", e.Record.Kind(), e.Name, e.Source, err))
		}
	}
	if m.Dataloader != nil {
		if err := m.Dataloader.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("dataloader (%s): %w", m.DataloaderSource, err))
		}
	}
	return errors.Join(errs...)
}
