package hparams

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/vk/trainforge/internal/checkpoint"
	"github.com/vk/trainforge/internal/ctxlog"
	"github.com/vk/trainforge/internal/initializer"
	"github.com/vk/trainforge/internal/model"
	"github.com/vk/trainforge/internal/nn"
	"github.com/vk/trainforge/internal/registry"
)

// Model record variants.
const (
	VariantResNetCIFAR     = "resnet_cifar"
	VariantMnistClassifier = "mnist_classifier"
	VariantTimm            = "timm"
)

// ResNetName is the architecture discriminant of ResNetCIFARConfig.
type ResNetName string

const (
	ResNet9  ResNetName = "resnet_9"
	ResNet20 ResNetName = "resnet_20"
	ResNet56 ResNetName = "resnet_56"
)

// ResNetNames lists the accepted ResNetName values.
var ResNetNames = []string{string(ResNet9), string(ResNet20), string(ResNet56)}

func validateInitializers(p *problems, inits []string) {
	for _, name := range inits {
		if !initializer.Initializer(name).Valid() {
			p.addf("initializers: unknown initializer %q", name)
		}
	}
}

func toInitializers(names []string) []initializer.Initializer {
	out := make([]initializer.Initializer, len(names))
	for i, n := range names {
		out[i] = initializer.Initializer(n)
	}
	return out
}

func validateNumClasses(p *problems, n int) {
	if n < 1 {
		p.addf("num_classes: must be positive, got %d", n)
	}
}

func finishModel(ctx context.Context, name string, net nn.Module, shape []int, numClasses int) *model.Classifier {
	c := model.NewClassifier(name, net, shape, numClasses)
	ctxlog.FromContext(ctx).Info("Built model.", "architecture", name, "parameters", humanize.Comma(int64(c.NumParameters())))
	return c
}

// ResNetCIFARConfig describes a ResNet for CIFAR-sized inputs.
type ResNetCIFARConfig struct {
	// ModelName is resnet_9, resnet_20 or resnet_56. Required.
	ModelName string `hcl:"model_name,optional" yaml:"model_name"`
	// NumClasses defaults to 10.
	NumClasses int `hcl:"num_classes,optional" yaml:"num_classes"`
	// Initializers run in order after construction. They are not applied
	// to resnet_9.
	Initializers []string `hcl:"initializers,optional" yaml:"initializers"`
}

// DefaultResNetCIFARConfig returns the record with every default set.
func DefaultResNetCIFARConfig() *ResNetCIFARConfig {
	return &ResNetCIFARConfig{NumClasses: 10, Initializers: []string{}}
}

func (c *ResNetCIFARConfig) Kind() Kind { return KindModel }

func (c *ResNetCIFARConfig) Variant() string { return VariantResNetCIFAR }

// Validate checks required fields. The architecture name is resolved by
// Build.
func (c *ResNetCIFARConfig) Validate() error {
	p := &problems{record: "resnet_cifar model"}
	if c.ModelName == "" {
		p.addf("model_name: required, one of %v", ResNetNames)
	}
	validateNumClasses(p, c.NumClasses)
	validateInitializers(p, c.Initializers)
	return p.err()
}

// Build constructs the network and applies the initializers.
func (c *ResNetCIFARConfig) Build(ctx context.Context, rc *RuntimeContext) (*model.Classifier, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	ctx, logger := buildLogger(ctx, c)
	rng := rc.initRNG()
	opts := registry.BuildOptions{NumClasses: c.NumClasses, RNG: rng}

	var inits []initializer.Initializer
	switch ResNetName(c.ModelName) {
	case ResNet9:
		if len(c.Initializers) > 0 {
			logger.Warn("Initializers are not applied to resnet_9.", "initializers", c.Initializers)
		}
	case ResNet20, ResNet56:
		inits = toInitializers(c.Initializers)
	default:
		return nil, &UnknownVariantError{Kind: "resnet_cifar model_name", Value: c.ModelName, Known: ResNetNames}
	}

	net, shape, err := rc.registry().Build(c.ModelName, opts)
	if err != nil {
		return nil, &BuildError{Record: "resnet_cifar model", Step: "construct architecture", Err: err}
	}
	if err := initializer.Apply(net, inits, rng); err != nil {
		return nil, &BuildError{Record: "resnet_cifar model", Step: "initialize weights", Err: err}
	}
	return finishModel(ctx, c.ModelName, net, shape, c.NumClasses), nil
}

// MnistClassifierConfig describes the small MNIST convolutional network.
type MnistClassifierConfig struct {
	// NumClasses defaults to 10.
	NumClasses   int      `hcl:"num_classes,optional" yaml:"num_classes"`
	Initializers []string `hcl:"initializers,optional" yaml:"initializers"`
}

// DefaultMnistClassifierConfig returns the record with every default set.
func DefaultMnistClassifierConfig() *MnistClassifierConfig {
	return &MnistClassifierConfig{NumClasses: 10, Initializers: []string{}}
}

func (c *MnistClassifierConfig) Kind() Kind { return KindModel }

func (c *MnistClassifierConfig) Variant() string { return VariantMnistClassifier }

func (c *MnistClassifierConfig) Validate() error {
	p := &problems{record: "mnist_classifier model"}
	validateNumClasses(p, c.NumClasses)
	validateInitializers(p, c.Initializers)
	return p.err()
}

func (c *MnistClassifierConfig) Build(ctx context.Context, rc *RuntimeContext) (*model.Classifier, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	ctx, _ = buildLogger(ctx, c)
	rng := rc.initRNG()
	const arch = "mnist_classifier"
	net, shape, err := rc.registry().Build(arch, registry.BuildOptions{NumClasses: c.NumClasses, RNG: rng})
	if err != nil {
		return nil, &BuildError{Record: "mnist_classifier model", Step: "construct architecture", Err: err}
	}
	if err := initializer.Apply(net, toInitializers(c.Initializers), rng); err != nil {
		return nil, &BuildError{Record: "mnist_classifier model", Step: "initialize weights", Err: err}
	}
	return finishModel(ctx, arch, net, shape, c.NumClasses), nil
}

// TimmConfig builds any architecture of the model registry by name,
// optionally loading pretrained weights.
type TimmConfig struct {
	// ModelName is a registry architecture name. Required.
	ModelName string `hcl:"model_name,optional" yaml:"model_name"`
	// NumClasses defaults to 1000.
	NumClasses int `hcl:"num_classes,optional" yaml:"num_classes"`
	// Pretrained loads WeightsPath after construction. Default false.
	Pretrained bool `hcl:"pretrained,optional" yaml:"pretrained"`
	// WeightsPath is a checkpoint file. Required when Pretrained is set.
	WeightsPath string `hcl:"weights_path,optional" yaml:"weights_path"`
	// GlobalPool is avg or max. Default avg.
	GlobalPool string `hcl:"global_pool,optional" yaml:"global_pool"`
	// BNEps overrides the epsilon of every batch-norm layer when set.
	BNEps *float64 `hcl:"bn_eps,optional" yaml:"bn_eps"`
}

// DefaultTimmConfig returns the record with every default set.
func DefaultTimmConfig() *TimmConfig {
	return &TimmConfig{NumClasses: 1000, GlobalPool: registry.PoolAvg}
}

func (c *TimmConfig) Kind() Kind { return KindModel }

func (c *TimmConfig) Variant() string { return VariantTimm }

func (c *TimmConfig) Validate() error {
	p := &problems{record: "timm model"}
	if c.ModelName == "" {
		p.addf("model_name: required")
	}
	validateNumClasses(p, c.NumClasses)
	if c.Pretrained && c.WeightsPath == "" {
		p.addf("weights_path: required when pretrained is true")
	}
	switch c.GlobalPool {
	case registry.PoolAvg, registry.PoolMax:
	default:
		p.addf("global_pool: must be %q or %q, got %q", registry.PoolAvg, registry.PoolMax, c.GlobalPool)
	}
	if c.BNEps != nil && *c.BNEps <= 0 {
		p.addf("bn_eps: must be positive, got %g", *c.BNEps)
	}
	return p.err()
}

func (c *TimmConfig) Build(ctx context.Context, rc *RuntimeContext) (*model.Classifier, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	ctx, logger := buildLogger(ctx, c)
	reg := rc.registry()
	if _, ok := reg.Lookup(c.ModelName); !ok {
		return nil, &UnknownVariantError{Kind: "timm model_name", Value: c.ModelName, Known: reg.Names()}
	}
	fail := func(step string, err error) error {
		return &BuildError{Record: "timm model", Step: step, Err: err}
	}

	net, shape, err := reg.Build(c.ModelName, registry.BuildOptions{NumClasses: c.NumClasses, GlobalPool: c.GlobalPool, RNG: rc.initRNG()})
	if err != nil {
		return nil, fail("construct architecture", err)
	}
	if c.BNEps != nil {
		err := nn.Walk(net, func(_ string, m nn.Module) error {
			if bn, ok := m.(*nn.BatchNorm2d); ok {
				bn.Eps = *c.BNEps
			}
			return nil
		})
		if err != nil {
			return nil, fail("override bn_eps", err)
		}
	}
	if c.Pretrained {
		logger.Debug("Loading pretrained weights.", "path", c.WeightsPath)
		state, err := checkpoint.Load(c.WeightsPath)
		if err != nil {
			return nil, fail("load pretrained weights", err)
		}
		sd, err := checkpoint.ToTensors(state.Model)
		if err != nil {
			return nil, fail("load pretrained weights", err)
		}
		if err := nn.LoadStateDict(net, sd, true); err != nil {
			return nil, fail("load pretrained weights", fmt.Errorf("%s: %w", c.WeightsPath, err))
		}
	}
	return finishModel(ctx, c.ModelName, net, shape, c.NumClasses), nil
}
