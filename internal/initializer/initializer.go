// Package initializer re-initializes the parameters of a built network.
package initializer

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/vk/trainforge/internal/nn"
	"github.com/vk/trainforge/internal/tensor"
)

// Initializer names a parameter initialization scheme.
type Initializer string

const (
	// KaimingNormal draws Linear and Conv2d weights from N(0, 2/fanIn).
	KaimingNormal Initializer = "kaiming_normal"
	// KaimingUniform draws Linear and Conv2d weights from U(±√(6/fanIn)).
	KaimingUniform Initializer = "kaiming_uniform"
	// XavierNormal draws Linear and Conv2d weights from N(0, 2/(fanIn+fanOut)).
	XavierNormal Initializer = "xavier_normal"
	// XavierUniform draws Linear and Conv2d weights from U(±√(6/(fanIn+fanOut))).
	XavierUniform Initializer = "xavier_uniform"
	// BNUniform draws BatchNorm weights from U[0, 1) and zeroes the bias.
	BNUniform Initializer = "bn_uniform"
	// BNOnes sets BatchNorm weights to one and the bias to zero.
	BNOnes Initializer = "bn_ones"
	// LinearLogConstantBias sets every Linear bias to -ln(out_features).
	LinearLogConstantBias Initializer = "linear_log_constant_bias"
)

// All lists every initializer in declaration order.
var All = []Initializer{KaimingNormal, KaimingUniform, XavierNormal, XavierUniform, BNUniform, BNOnes, LinearLogConstantBias}

// Valid reports whether i is a known initializer.
func (i Initializer) Valid() bool {
	for _, known := range All {
		if i == known {
			return true
		}
	}
	return false
}

// Names returns the names of All.
func Names() []string {
	out := make([]string, len(All))
	for i, init := range All {
		out[i] = string(init)
	}
	return out
}

type fanned interface {
	FanIn() int
	FanOut() int
}

// Apply runs the initializers over every layer of m in the given order.
// Later initializers overwrite what earlier ones wrote to the same
// parameter.
func Apply(m nn.Module, inits []Initializer, rng *rand.Rand) error {
	for _, init := range inits {
		if !init.Valid() {
			return fmt.Errorf("unknown initializer %q, expected one of: %s", init, strings.Join(Names(), ", "))
		}
		err := nn.Walk(m, func(_ string, layer nn.Module) error {
			apply(init, layer, rng)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func apply(init Initializer, layer nn.Module, rng *rand.Rand) {
	switch init {
	case KaimingNormal, KaimingUniform, XavierNormal, XavierUniform:
		var w *tensor.Tensor
		switch l := layer.(type) {
		case *nn.Linear:
			w = l.Weight
		case *nn.Conv2d:
			w = l.Weight
		default:
			return
		}
		f := layer.(fanned)
		fanIn, fanOut := float64(f.FanIn()), float64(f.FanOut())
		switch init {
		case KaimingNormal:
			normal(w, math.Sqrt(2/fanIn), rng)
		case KaimingUniform:
			uniform(w, math.Sqrt(6/fanIn), rng)
		case XavierNormal:
			normal(w, math.Sqrt(2/(fanIn+fanOut)), rng)
		case XavierUniform:
			uniform(w, math.Sqrt(6/(fanIn+fanOut)), rng)
		}
	case BNUniform, BNOnes:
		bn, ok := layer.(*nn.BatchNorm2d)
		if !ok {
			return
		}
		for i := range bn.Weight.Data {
			if init == BNUniform {
				bn.Weight.Data[i] = rng.Float64()
			} else {
				bn.Weight.Data[i] = 1
			}
		}
		clear(bn.Bias.Data)
	case LinearLogConstantBias:
		l, ok := layer.(*nn.Linear)
		if !ok || l.Bias == nil {
			return
		}
		v := -math.Log(float64(l.Out))
		for i := range l.Bias.Data {
			l.Bias.Data[i] = v
		}
	}
}

func normal(t *tensor.Tensor, std float64, rng *rand.Rand) {
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64() * std
	}
}

func uniform(t *tensor.Tensor, bound float64, rng *rand.Rand) {
	for i := range t.Data {
		t.Data[i] = (2*rng.Float64() - 1) * bound
	}
}
