// Package nn is a small inference-only layer library backed by gonum. It
// covers the layers needed by the model zoo and exposes parameters by
// dotted path so that initializers and checkpoints can address them.
package nn

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/vk/trainforge/internal/tensor"
)

// Module is a layer or a composition of layers.
type Module interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// Named pairs a child module with its name inside its parent.
type Named struct {
	Name   string
	Module Module
}

// Container is implemented by modules that hold other modules.
type Container interface {
	Children() []Named
}

// Param is a named tensor owned by a module.
type Param struct {
	Name  string
	Value *tensor.Tensor
}

// ParamHolder is implemented by modules with learnable parameters.
type ParamHolder interface {
	Params() []Param
}

// BufferHolder is implemented by modules with non-learnable state that is
// still part of the state dict, such as batch-norm running statistics.
type BufferHolder interface {
	Buffers() []Param
}

// Walk visits m and every descendant in pre-order. path is the dotted
// location of the module, empty for the root.
func Walk(m Module, fn func(path string, m Module) error) error {
	return walk("", m, fn)
}

func walk(path string, m Module, fn func(string, Module) error) error {
	if err := fn(path, m); err != nil {
		return err
	}
	c, ok := m.(Container)
	if !ok {
		return nil
	}
	for _, child := range c.Children() {
		if child.Module == nil {
			continue
		}
		if err := walk(join(path, child.Name), child.Module, fn); err != nil {
			return err
		}
	}
	return nil
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// NamedParams returns every learnable parameter under m with its full path.
func NamedParams(m Module) []Param {
	var out []Param
	_ = Walk(m, func(path string, m Module) error {
		if h, ok := m.(ParamHolder); ok {
			for _, p := range h.Params() {
				out = append(out, Param{Name: join(path, p.Name), Value: p.Value})
			}
		}
		return nil
	})
	return out
}

func namedState(m Module) []Param {
	var out []Param
	_ = Walk(m, func(path string, m Module) error {
		if h, ok := m.(ParamHolder); ok {
			for _, p := range h.Params() {
				out = append(out, Param{Name: join(path, p.Name), Value: p.Value})
			}
		}
		if h, ok := m.(BufferHolder); ok {
			for _, p := range h.Buffers() {
				out = append(out, Param{Name: join(path, p.Name), Value: p.Value})
			}
		}
		return nil
	})
	return out
}

// NumParameters counts the learnable scalars under m.
func NumParameters(m Module) int {
	n := 0
	for _, p := range NamedParams(m) {
		n += p.Value.Len()
	}
	return n
}

// StateDict returns copies of all parameters and buffers under m.
func StateDict(m Module) map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor)
	for _, p := range namedState(m) {
		out[p.Name] = p.Value.Clone()
	}
	return out
}

// LoadStateDict copies the tensors of sd into the matching parameters and
// buffers of m. Shapes must match exactly. With strict set, keys missing
// from sd and keys m does not have are errors; otherwise they are ignored.
// Nothing is written unless every check passes.
func LoadStateDict(m Module, sd map[string]*tensor.Tensor, strict bool) error {
	state := namedState(m)
	var problems []string
	known := make(map[string]bool, len(state))
	for _, p := range state {
		known[p.Name] = true
		src, ok := sd[p.Name]
		if !ok {
			if strict {
				problems = append(problems, fmt.Sprintf("missing key %q", p.Name))
			}
			continue
		}
		if !p.Value.SameShape(src) {
			problems = append(problems, fmt.Sprintf("%s: shape %v does not match %v", p.Name, src.Shape, p.Value.Shape))
		}
	}
	if strict {
		var unexpected []string
		for k := range sd {
			if !known[k] {
				unexpected = append(unexpected, k)
			}
		}
		sort.Strings(unexpected)
		for _, k := range unexpected {
			problems = append(problems, fmt.Sprintf("unexpected key %q", k))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("loading state dict:\n- %s", strings.Join(problems, "\n- "))
	}
	for _, p := range state {
		if src, ok := sd[p.Name]; ok {
			copy(p.Value.Data, src.Data)
		}
	}
	return nil
}

// MoveTo places every parameter and buffer under m on p.
func MoveTo(m Module, p tensor.Placement) {
	for _, s := range namedState(m) {
		s.Value.Placement = p
	}
}

// Sequential runs its layers in order.
type Sequential struct {
	Layers []Named
}

// NewSequential names the layers by position.
func NewSequential(layers ...Module) *Sequential {
	s := &Sequential{}
	for i, l := range layers {
		s.Layers = append(s.Layers, Named{Name: fmt.Sprint(i), Module: l})
	}
	return s
}

// NewNamedSequential keeps the given names.
func NewNamedSequential(layers ...Named) *Sequential {
	return &Sequential{Layers: slices.Clone(layers)}
}

func (s *Sequential) Children() []Named { return s.Layers }

func (s *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for _, l := range s.Layers {
		if x, err = l.Module.Forward(x); err != nil {
			return nil, fmt.Errorf("%s: %w", l.Name, err)
		}
	}
	return x, nil
}

// Residual computes Body(x) + Shortcut(x), with an identity shortcut when
// Shortcut is nil, followed by a ReLU when PostReLU is set.
type Residual struct {
	Body     Module
	Shortcut Module
	PostReLU bool
}

func (r *Residual) Children() []Named {
	return []Named{{Name: "body", Module: r.Body}, {Name: "shortcut", Module: r.Shortcut}}
}

func (r *Residual) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := r.Body.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	skip := x
	if r.Shortcut != nil {
		if skip, err = r.Shortcut.Forward(x); err != nil {
			return nil, fmt.Errorf("shortcut: %w", err)
		}
	}
	if skip, err = skip.Contiguous(); err != nil {
		return nil, err
	}
	if !out.SameShape(skip) {
		return nil, fmt.Errorf("residual shapes differ: %v and %v", out.Shape, skip.Shape)
	}
	for i, v := range skip.Data {
		out.Data[i] += v
	}
	if r.PostReLU {
		relu(out.Data)
	}
	return out, nil
}
