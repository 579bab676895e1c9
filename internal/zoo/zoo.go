// Package zoo contains the reference architectures compiled into the
// binary and the default registry that exposes them.
package zoo

import (
	"math/rand/v2"
	"sync"

	"github.com/vk/trainforge/internal/nn"
	"github.com/vk/trainforge/internal/registry"
)

// Families is the definitive list of architecture families.
var Families = []registry.Module{
	&ResNetCIFAR{},
	&ResNet9{},
	&MNIST{},
}

var (
	defaultOnce     sync.Once
	defaultRegistry *registry.Registry
)

// Default returns the process-wide registry of all Families.
func Default() *registry.Registry {
	defaultOnce.Do(func() {
		defaultRegistry = registry.New(Families...)
	})
	return defaultRegistry
}

// convBN is a bias-free 3×3 convolution followed by batch norm, with an
// optional ReLU.
func convBN(in, out, stride int, activate bool, rng *rand.Rand) []nn.Module {
	layers := []nn.Module{nn.NewConv2d(in, out, 3, stride, 1, false, rng), nn.NewBatchNorm2d(out)}
	if activate {
		layers = append(layers, nn.ReLU{})
	}
	return layers
}

func globalPool(kind string, fallback string) nn.Module {
	if kind == "" {
		kind = fallback
	}
	if kind == registry.PoolMax {
		return nn.AdaptiveMaxPool2d{Size: 1}
	}
	return nn.AdaptiveAvgPool2d{Size: 1}
}
