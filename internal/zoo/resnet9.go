package zoo

import (
	"math/rand/v2"

	"github.com/vk/trainforge/internal/nn"
	"github.com/vk/trainforge/internal/registry"
)

// ResNet9 is the fast CIFAR-10 residual network popularized by Myrtle.ai.
type ResNet9 struct{}

func (m *ResNet9) Register(r *registry.Registry) {
	r.RegisterArchitecture(&registry.Architecture{
		Name:        "resnet_9",
		Description: "Myrtle.ai ResNet-9 for CIFAR-10",
		InputShape:  []int{3, 32, 32},
		Build: func(opts registry.BuildOptions) (nn.Module, error) {
			return NewResNet9(opts.NumClasses, opts.GlobalPool, opts.RNG), nil
		},
	})
}

// NewResNet9 builds ResNet-9. Its head is a bias-free linear layer scaled
// by 1/8.
func NewResNet9(numClasses int, pool string, rng *rand.Rand) *nn.Sequential {
	seq := func(ms ...[]nn.Module) *nn.Sequential {
		var all []nn.Module
		for _, m := range ms {
			all = append(all, m...)
		}
		return nn.NewSequential(all...)
	}
	residual := func(width int) *nn.Residual {
		return &nn.Residual{Body: seq(convBN(width, width, 1, true, rng), convBN(width, width, 1, true, rng))}
	}
	maxPool := []nn.Module{nn.MaxPool2d{Kernel: 2}}

	return nn.NewNamedSequential(
		nn.Named{Name: "prep", Module: seq(convBN(3, 64, 1, true, rng))},
		nn.Named{Name: "layer1", Module: seq(convBN(64, 128, 1, true, rng), maxPool)},
		nn.Named{Name: "res1", Module: residual(128)},
		nn.Named{Name: "layer2", Module: seq(convBN(128, 256, 1, true, rng), maxPool)},
		nn.Named{Name: "layer3", Module: seq(convBN(256, 512, 1, true, rng), maxPool)},
		nn.Named{Name: "res3", Module: residual(512)},
		nn.Named{Name: "pool", Module: globalPool(pool, registry.PoolMax)},
		nn.Named{Name: "flatten", Module: nn.Flatten{}},
		nn.Named{Name: "fc", Module: nn.NewLinear(512, numClasses, false, rng)},
		nn.Named{Name: "scale", Module: nn.Scale{Factor: 0.125}},
	)
}
