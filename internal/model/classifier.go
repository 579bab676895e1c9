// Package model wraps a network into an image classifier with a uniform
// forward, loss and evaluation surface.
package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/trainforge/internal/dataset"
	"github.com/vk/trainforge/internal/nn"
	"github.com/vk/trainforge/internal/tensor"
)

// ErrPlacementMismatch is returned when a batch lives on a different
// device than the model.
var ErrPlacementMismatch = errors.New("input and model are on different devices")

// Classifier is a network mapping [N, C, H, W] images to [N, NumClasses]
// logits.
type Classifier struct {
	Name       string
	Net        nn.Module
	InputShape []int
	NumClasses int
	placement  tensor.Placement
}

// NewClassifier wraps net. The classifier starts on the host.
func NewClassifier(name string, net nn.Module, inputShape []int, numClasses int) *Classifier {
	return &Classifier{Name: name, Net: net, InputShape: inputShape, NumClasses: numClasses, placement: tensor.Host}
}

// Placement returns the device the parameters live on.
func (c *Classifier) Placement() tensor.Placement { return c.placement }

// To moves every parameter and buffer to p.
func (c *Classifier) To(p tensor.Placement) {
	nn.MoveTo(c.Net, p)
	c.placement = p
}

// Forward returns the logits of a batch.
func (c *Classifier) Forward(b *dataset.Batch) (*tensor.Tensor, error) {
	if b.Inputs.Placement != c.placement {
		return nil, fmt.Errorf("%w: batch on %s, %s on %s", ErrPlacementMismatch, b.Inputs.Placement, c.Name, c.placement)
	}
	if len(b.Inputs.Shape) != 4 {
		return nil, fmt.Errorf("%s expects [N, C, H, W] inputs, got %v", c.Name, b.Inputs.Shape)
	}
	if len(c.InputShape) > 0 && b.Inputs.Shape[1] != c.InputShape[0] {
		return nil, fmt.Errorf("%s expects %d input channels, got %d", c.Name, c.InputShape[0], b.Inputs.Shape[1])
	}
	logits, err := c.Net.Forward(b.Inputs)
	if err != nil {
		return nil, fmt.Errorf("%s forward: %w", c.Name, err)
	}
	return logits, nil
}

// Loss is the mean cross entropy of logits against the batch labels.
func (c *Classifier) Loss(logits *tensor.Tensor, b *dataset.Batch) (float64, error) {
	return nn.CrossEntropy(logits, b.Labels)
}

// Predict returns the most likely class of every sample.
func (c *Classifier) Predict(b *dataset.Batch) ([]int, error) {
	logits, err := c.Forward(b)
	if err != nil {
		return nil, err
	}
	return nn.Argmax(logits)
}

// Metrics summarizes an evaluation pass.
type Metrics struct {
	Samples  int
	Loss     float64
	Accuracy float64
}

// Evaluate runs the classifier over one epoch of loader.
func (c *Classifier) Evaluate(ctx context.Context, loader *dataset.Loader, epoch int) (Metrics, error) {
	var m Metrics
	var lossSum float64
	correct := 0
	for b, err := range loader.Batches(ctx, epoch) {
		if err != nil {
			return Metrics{}, err
		}
		logits, err := c.Forward(b)
		if err != nil {
			return Metrics{}, err
		}
		loss, err := c.Loss(logits, b)
		if err != nil {
			return Metrics{}, err
		}
		pred, err := nn.Argmax(logits)
		if err != nil {
			return Metrics{}, err
		}
		for i, p := range pred {
			if p == b.Labels[i] {
				correct++
			}
		}
		lossSum += loss * float64(b.Size())
		m.Samples += b.Size()
	}
	if m.Samples > 0 {
		m.Loss = lossSum / float64(m.Samples)
		m.Accuracy = float64(correct) / float64(m.Samples)
	}
	return m, nil
}

// NumParameters counts the learnable scalars.
func (c *Classifier) NumParameters() int { return nn.NumParameters(c.Net) }

// StateDict returns copies of every parameter and buffer.
func (c *Classifier) StateDict() map[string]*tensor.Tensor { return nn.StateDict(c.Net) }

// LoadStateDict replaces the parameters and buffers. Keys must match
// exactly. Loaded tensors keep the classifier's placement.
func (c *Classifier) LoadStateDict(sd map[string]*tensor.Tensor) error {
	return nn.LoadStateDict(c.Net, sd, true)
}
