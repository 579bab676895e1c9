package zoo

import (
	"fmt"
	"math/rand/v2"

	"github.com/vk/trainforge/internal/nn"
	"github.com/vk/trainforge/internal/registry"
)

// ResNetCIFARDepths are the depths registered as resnet_<depth>.
var ResNetCIFARDepths = []int{20, 32, 44, 56, 110}

// ResNetCIFAR is the three-stage residual network for 32×32 inputs from
// He et al. (2015), with 16, 32 and 64 channels and (depth-2)/6 basic
// blocks per stage.
type ResNetCIFAR struct{}

func (m *ResNetCIFAR) Register(r *registry.Registry) {
	for _, depth := range ResNetCIFARDepths {
		r.RegisterArchitecture(&registry.Architecture{
			Name:        fmt.Sprintf("resnet_%d", depth),
			Description: fmt.Sprintf("CIFAR ResNet with %d layers", depth),
			InputShape:  []int{3, 32, 32},
			Build: func(opts registry.BuildOptions) (nn.Module, error) {
				return NewResNetCIFAR(depth, opts.NumClasses, opts.GlobalPool, opts.RNG)
			},
		})
	}
}

// NewResNetCIFAR builds a CIFAR ResNet. depth must be 6n+2.
func NewResNetCIFAR(depth, numClasses int, pool string, rng *rand.Rand) (*nn.Sequential, error) {
	if depth < 8 || (depth-2)%6 != 0 {
		return nil, fmt.Errorf("resnet depth must be 6n+2, got %d", depth)
	}
	blocks := (depth - 2) / 6
	stem := convBN(3, 16, 1, true, rng)
	layers := []nn.Named{
		{Name: "conv1", Module: stem[0]},
		{Name: "bn1", Module: stem[1]},
		{Name: "relu", Module: stem[2]},
	}
	in := 16
	for stage, width := range []int{16, 32, 64} {
		stride := 1
		if stage > 0 {
			stride = 2
		}
		var stageBlocks []nn.Module
		for b := 0; b < blocks; b++ {
			stageBlocks = append(stageBlocks, basicBlock(in, width, stride, rng))
			in, stride = width, 1
		}
		layers = append(layers, nn.Named{Name: fmt.Sprintf("layer%d", stage+1), Module: nn.NewSequential(stageBlocks...)})
	}
	layers = append(layers,
		nn.Named{Name: "pool", Module: globalPool(pool, registry.PoolAvg)},
		nn.Named{Name: "flatten", Module: nn.Flatten{}},
		nn.Named{Name: "fc", Module: nn.NewLinear(64, numClasses, true, rng)},
	)
	return nn.NewNamedSequential(layers...), nil
}

func basicBlock(in, out, stride int, rng *rand.Rand) *nn.Residual {
	body := append(convBN(in, out, stride, true, rng), convBN(out, out, 1, false, rng)...)
	block := &nn.Residual{Body: nn.NewSequential(body...), PostReLU: true}
	if stride != 1 || in != out {
		block.Shortcut = nn.NewSequential(nn.NewConv2d(in, out, 1, stride, 0, false, rng), nn.NewBatchNorm2d(out))
	}
	return block
}
