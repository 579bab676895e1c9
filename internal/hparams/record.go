package hparams

import (
	"slices"
)

// Kind is the category of component a record builds.
type Kind string

const (
	KindDataset Kind = "dataset"
	KindModel   Kind = "model"
	KindDevice  Kind = "device"
)

// Kinds lists every record kind in document order.
var Kinds = []Kind{KindDataset, KindModel, KindDevice}

// Record is a configuration record of any kind.
type Record interface {
	Kind() Kind
	// Variant is the configuration variant name, e.g. "cifar10" or "gpu".
	Variant() string
	Validate() error
}

type variant struct {
	kind    Kind
	name    string
	newFunc func() Record
}

// variants is the closed set of record variants. The constructors return
// records populated with their defaults.
var variants = []variant{
	{KindDataset, VariantCIFAR10, func() Record { return DefaultCIFAR10DatasetConfig() }},
	{KindModel, VariantResNetCIFAR, func() Record { return DefaultResNetCIFARConfig() }},
	{KindModel, VariantMnistClassifier, func() Record { return DefaultMnistClassifierConfig() }},
	{KindModel, VariantTimm, func() Record { return DefaultTimmConfig() }},
	{KindDevice, VariantCPU, func() Record { return &CPUDeviceConfig{} }},
	{KindDevice, VariantGPU, func() Record { return &GPUDeviceConfig{} }},
}

// NewRecord returns a record of the given kind and variant populated with
// its defaults, ready for a configuration decoder to overlay user values.
func NewRecord(kind Kind, name string) (Record, error) {
	for _, v := range variants {
		if v.kind == kind && v.name == name {
			return v.newFunc(), nil
		}
	}
	return nil, &UnknownVariantError{Kind: string(kind) + " variant", Value: name, Known: Variants(kind)}
}

// Variants returns the sorted variant names of kind.
func Variants(kind Kind) []string {
	var out []string
	for _, v := range variants {
		if v.kind == kind {
			out = append(out, v.name)
		}
	}
	slices.Sort(out)
	return out
}
