package zoo

import (
	"math/rand/v2"

	"github.com/vk/trainforge/internal/nn"
	"github.com/vk/trainforge/internal/registry"
)

// MNIST is a small convolutional classifier for 28×28 grayscale digits.
type MNIST struct{}

func (m *MNIST) Register(r *registry.Registry) {
	r.RegisterArchitecture(&registry.Architecture{
		Name:        "mnist_classifier",
		Description: "two-layer convolutional MNIST classifier",
		InputShape:  []int{1, 28, 28},
		Build: func(opts registry.BuildOptions) (nn.Module, error) {
			return NewMNISTClassifier(opts.NumClasses, opts.RNG), nil
		},
	})
}

// NewMNISTClassifier builds the classifier. The 4×4 adaptive pool makes
// it independent of the input resolution.
func NewMNISTClassifier(numClasses int, rng *rand.Rand) *nn.Sequential {
	return nn.NewNamedSequential(
		nn.Named{Name: "conv1", Module: nn.NewConv2d(1, 16, 3, 1, 0, true, rng)},
		nn.Named{Name: "relu1", Module: nn.ReLU{}},
		nn.Named{Name: "conv2", Module: nn.NewConv2d(16, 32, 3, 1, 0, true, rng)},
		nn.Named{Name: "bn", Module: nn.NewBatchNorm2d(32)},
		nn.Named{Name: "relu2", Module: nn.ReLU{}},
		nn.Named{Name: "pool", Module: nn.AdaptiveAvgPool2d{Size: 4}},
		nn.Named{Name: "flatten", Module: nn.Flatten{}},
		nn.Named{Name: "fc1", Module: nn.NewLinear(32*16, 32, true, rng)},
		nn.Named{Name: "relu3", Module: nn.ReLU{}},
		nn.Named{Name: "fc2", Module: nn.NewLinear(32, numClasses, true, rng)},
	)
}
