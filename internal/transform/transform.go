// Package transform turns decoded images into normalized tensors, applying
// the random augmentations used for training.
package transform

import (
	"fmt"
	"image"
	"math/rand/v2"

	"github.com/anthonynsimon/bild/clone"
	"github.com/anthonynsimon/bild/transform"
	"github.com/vk/trainforge/internal/tensor"
)

// ImageOp is one image-to-image step of a pipeline. Random ops draw only
// from rng so a pipeline is reproducible for a fixed generator.
type ImageOp interface {
	Apply(img image.Image, rng *rand.Rand) image.Image
	Name() string
}

// Resize scales an image to Size×Size when it is not already that size.
type Resize struct {
	Size int
}

func (r Resize) Name() string { return fmt.Sprintf("Resize(%d)", r.Size) }

func (r Resize) Apply(img image.Image, _ *rand.Rand) image.Image {
	b := img.Bounds()
	if b.Dx() == r.Size && b.Dy() == r.Size {
		return img
	}
	return transform.Resize(img, r.Size, r.Size, transform.Linear)
}

// RandomCrop takes a Size×Size window out of the image zero-padded by
// Padding on every side. For an image that already is Size×Size this is a
// random translation by at most Padding pixels with zero fill.
type RandomCrop struct {
	Size    int
	Padding int
}

func (c RandomCrop) Name() string { return fmt.Sprintf("RandomCrop(%d, padding=%d)", c.Size, c.Padding) }

func (c RandomCrop) Apply(img image.Image, rng *rand.Rand) image.Image {
	img = Resize{Size: c.Size}.Apply(img, rng)
	if c.Padding == 0 {
		return img
	}
	span := 2*c.Padding + 1
	dx := rng.IntN(span) - c.Padding
	dy := rng.IntN(span) - c.Padding
	if dx == 0 && dy == 0 {
		return img
	}
	return transform.Translate(img, dx, dy)
}

// RandomHorizontalFlip mirrors the image with probability P.
type RandomHorizontalFlip struct {
	P float64
}

func (f RandomHorizontalFlip) Name() string { return fmt.Sprintf("RandomHorizontalFlip(p=%g)", f.P) }

func (f RandomHorizontalFlip) Apply(img image.Image, rng *rand.Rand) image.Image {
	if rng.Float64() < f.P {
		return transform.FlipH(img)
	}
	return img
}

// Pipeline applies its image ops in order, converts the result to a CHW
// tensor scaled to [0, 1], then normalizes each channel with Mean and Std.
// Empty Mean/Std skip normalization.
type Pipeline struct {
	Ops  []ImageOp
	Mean []float64
	Std  []float64
}

// Apply runs the pipeline on img.
func (p *Pipeline) Apply(img image.Image, rng *rand.Rand) (*tensor.Tensor, error) {
	for _, op := range p.Ops {
		img = op.Apply(img, rng)
	}
	t := ToTensor(img)
	if len(p.Mean) == 0 {
		return t, nil
	}
	if err := Normalize(t, p.Mean, p.Std); err != nil {
		return nil, err
	}
	return t, nil
}

// ToTensor converts an image to a [3, H, W] tensor in [0, 1].
func ToTensor(img image.Image) *tensor.Tensor {
	rgba := clone.AsRGBA(img)
	b := rgba.Bounds()
	h, w := b.Dy(), b.Dx()
	t := tensor.New(3, h, w)
	plane := h * w
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			i := y*w + x
			t.Data[i] = float64(px[0]) / 255
			t.Data[plane+i] = float64(px[1]) / 255
			t.Data[2*plane+i] = float64(px[2]) / 255
		}
	}
	return t
}

// Normalize applies (x - mean[c]) / std[c] in place on a CHW tensor.
func Normalize(t *tensor.Tensor, mean, std []float64) error {
	if len(t.Shape) != 3 {
		return fmt.Errorf("normalize expects a CHW tensor, got shape %v", t.Shape)
	}
	c := t.Shape[0]
	if len(mean) != c || len(std) != c {
		return fmt.Errorf("normalize: %d channels but %d means and %d stds", c, len(mean), len(std))
	}
	plane := t.Shape[1] * t.Shape[2]
	for ch := 0; ch < c; ch++ {
		if std[ch] == 0 {
			return fmt.Errorf("normalize: std of channel %d is zero", ch)
		}
		vals := t.Data[ch*plane : (ch+1)*plane]
		for i := range vals {
			vals[i] = (vals[i] - mean[ch]) / std[ch]
		}
	}
	return nil
}
