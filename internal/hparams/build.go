package hparams

import (
	"context"
	"fmt"
)

// Build dispatches to the Build method of the record's concrete type and
// returns the adapter as any. On failure the adapter is a nil interface.
// Callers that know the kind should call the typed Build method directly.
func Build(ctx context.Context, r Record, rc *RuntimeContext) (any, error) {
	switch rec := r.(type) {
	case *CIFAR10DatasetConfig:
		v, err := rec.Build(ctx, rc)
		return adapter(v, err)
	case *ResNetCIFARConfig:
		v, err := rec.Build(ctx, rc)
		return adapter(v, err)
	case *MnistClassifierConfig:
		v, err := rec.Build(ctx, rc)
		return adapter(v, err)
	case *TimmConfig:
		v, err := rec.Build(ctx, rc)
		return adapter(v, err)
	case *CPUDeviceConfig:
		v, err := rec.Build(ctx, rc)
		return adapter(v, err)
	case *GPUDeviceConfig:
		v, err := rec.Build(ctx, rc)
		return adapter(v, err)
	default:
		return nil, fmt.Errorf("no factory for %T", r)
	}
}

func adapter[T any](v T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return v, nil
}
