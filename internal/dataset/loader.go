package dataset

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"time"

	"github.com/vk/trainforge/internal/dist"
	"github.com/vk/trainforge/internal/tensor"
	"golang.org/x/sync/errgroup"
)

// LoaderOptions controls batching and parallelism.
type LoaderOptions struct {
	BatchSize int
	DropLast  bool
	// NumWorkers bounds how many samples are loaded concurrently. Zero
	// loads synchronously on the consuming goroutine.
	NumWorkers int
	// PrefetchFactor is how many batches may be buffered ahead of the
	// consumer when NumWorkers > 0.
	PrefetchFactor int
	// Timeout bounds the loading of one batch. Zero waits forever.
	Timeout time.Duration
	Seed    uint64
}

func (o LoaderOptions) validate() error {
	var errs []error
	if o.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", o.BatchSize))
	}
	if o.NumWorkers < 0 {
		errs = append(errs, fmt.Errorf("num_workers must not be negative, got %d", o.NumWorkers))
	}
	if o.NumWorkers > 0 && o.PrefetchFactor < 1 {
		errs = append(errs, fmt.Errorf("prefetch_factor must be positive with workers, got %d", o.PrefetchFactor))
	}
	if o.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", o.Timeout))
	}
	return errors.Join(errs...)
}

// Loader iterates a dataset in batches, in the order of its sampler.
type Loader struct {
	ds      Dataset
	sampler *dist.Sampler
	opts    LoaderOptions
}

// NewLoader creates a loader. The sampler must have been built for ds.
func NewLoader(ds Dataset, sampler *dist.Sampler, opts LoaderOptions) (*Loader, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Loader{ds: ds, sampler: sampler, opts: opts}, nil
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() Dataset { return l.ds }

// Sampler returns the sampler that orders the loader.
func (l *Loader) Sampler() *dist.Sampler { return l.sampler }

// Options returns the loader configuration.
func (l *Loader) Options() LoaderOptions { return l.opts }

// Len returns the number of batches per epoch on this rank.
func (l *Loader) Len() int {
	n := l.sampler.Len()
	if l.opts.DropLast {
		return n / l.opts.BatchSize
	}
	return (n + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// NumSamples returns the number of samples per epoch on this rank.
func (l *Loader) NumSamples() int {
	if l.opts.DropLast {
		return l.Len() * l.opts.BatchSize
	}
	return l.sampler.Len()
}

// Batches returns the batches of one epoch. Iteration stops after the
// first error. Breaking out of the loop stops any background workers.
func (l *Loader) Batches(ctx context.Context, epoch int) iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		chunks := l.chunks(l.sampler.IndicesFor(epoch))

		if l.opts.NumWorkers == 0 {
			for _, idx := range chunks {
				b, err := l.load(ctx, epoch, idx)
				if !yield(b, err) || err != nil {
					return
				}
			}
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		type result struct {
			batch *Batch
			err   error
		}
		results := make(chan result, l.opts.PrefetchFactor)
		go func() {
			defer close(results)
			for _, idx := range chunks {
				b, err := l.load(ctx, epoch, idx)
				select {
				case results <- result{b, err}:
				case <-ctx.Done():
					return
				}
				if err != nil {
					return
				}
			}
		}()

		for r := range results {
			if !yield(r.batch, r.err) || r.err != nil {
				return
			}
		}
	}
}

func (l *Loader) chunks(indices []int) [][]int {
	bs := l.opts.BatchSize
	var out [][]int
	for start := 0; start < len(indices); start += bs {
		end := min(start+bs, len(indices))
		if end-start < bs && l.opts.DropLast {
			break
		}
		out = append(out, indices[start:end])
	}
	return out
}

// sampleRNG derives the augmentation generator of one sample so that its
// transform depends only on seed, epoch and index, never on scheduling.
func (l *Loader) sampleRNG(epoch, index int) *rand.Rand {
	return rand.New(rand.NewPCG(l.opts.Seed^(uint64(epoch)*0x9e3779b97f4a7c15), uint64(index)))
}

func (l *Loader) load(ctx context.Context, epoch int, indices []int) (*Batch, error) {
	if l.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.Timeout)
		defer cancel()
	}

	samples := make([]Sample, len(indices))
	get := func(ctx context.Context, i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, err := l.ds.Get(indices[i], l.sampleRNG(epoch, indices[i]))
		if err != nil {
			return fmt.Errorf("loading sample %d: %w", indices[i], err)
		}
		samples[i] = s
		return nil
	}

	if l.opts.NumWorkers == 0 {
		for i := range indices {
			if err := get(ctx, i); err != nil {
				return nil, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(l.opts.NumWorkers)
		for i := range indices {
			g.Go(func() error { return get(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return collate(samples, indices)
}

func collate(samples []Sample, indices []int) (*Batch, error) {
	inputs := make([]*tensor.Tensor, len(samples))
	b := &Batch{
		Labels:     make([]int, len(samples)),
		SuppLabels: make([]int, len(samples)),
		Indices:    append([]int(nil), indices...),
	}
	for i, s := range samples {
		inputs[i] = s.Input
		b.Labels[i] = s.Label
		b.SuppLabels[i] = s.SuppLabel
	}
	stacked, err := tensor.Stack(inputs)
	if err != nil {
		return nil, fmt.Errorf("collating batch: %w", err)
	}
	if len(samples) > 0 && samples[0].Input.Layout == tensor.ChannelsLast {
		if stacked, err = stacked.ToChannelsLast(); err != nil {
			return nil, err
		}
	}
	b.Inputs = stacked
	return b, nil
}
