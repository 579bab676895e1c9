package hparams

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/vk/trainforge/internal/accel"
	"github.com/vk/trainforge/internal/ctxlog"
	"github.com/vk/trainforge/internal/dataset"
	"github.com/vk/trainforge/internal/dist"
	"github.com/vk/trainforge/internal/download"
	"github.com/vk/trainforge/internal/registry"
	"github.com/vk/trainforge/internal/zoo"
)

// DataloaderConfig holds the loader settings shared by every dataset.
type DataloaderConfig struct {
	NumWorkers     int     `hcl:"num_workers,optional" yaml:"num_workers"`
	PrefetchFactor int     `hcl:"prefetch_factor,optional" yaml:"prefetch_factor"`
	Timeout        float64 `hcl:"timeout,optional" yaml:"timeout"`
}

// DefaultDataloaderConfig returns num_workers=8, prefetch_factor=2 and no
// timeout.
func DefaultDataloaderConfig() *DataloaderConfig {
	return &DataloaderConfig{NumWorkers: 8, PrefetchFactor: 2}
}

// Validate checks that the settings are usable.
func (c *DataloaderConfig) Validate() error {
	p := &problems{record: "dataloader"}
	if c.NumWorkers < 0 {
		p.addf("num_workers: must not be negative, got %d", c.NumWorkers)
	}
	if c.PrefetchFactor < 1 {
		p.addf("prefetch_factor: must be at least 1, got %d", c.PrefetchFactor)
	}
	if c.Timeout < 0 {
		p.addf("timeout: must not be negative, got %g", c.Timeout)
	}
	return p.err()
}

func (c *DataloaderConfig) options(batchSize int, dropLast bool, seed uint64) dataset.LoaderOptions {
	return dataset.LoaderOptions{
		BatchSize:      batchSize,
		DropLast:       dropLast,
		NumWorkers:     c.NumWorkers,
		PrefetchFactor: c.PrefetchFactor,
		Timeout:        time.Duration(c.Timeout * float64(time.Second)),
		Seed:           seed,
	}
}

// RuntimeContext carries the values a build needs that are not part of a
// record. The caller owns it; builds read it and never retain it.
type RuntimeContext struct {
	// BatchSize is the per-process batch size.
	BatchSize int
	Seed      uint64
	Dist      dist.Env
	// Dataloader defaults to DefaultDataloaderConfig when nil.
	Dataloader *DataloaderConfig
	// Accel is required by GPU devices and GPU-resident synthetic data.
	Accel accel.Runtime
	// Registry defaults to the built-in model zoo when nil.
	Registry *registry.Registry
	// Fetcher defaults to an HTTP fetcher when nil.
	Fetcher download.Fetcher
	// DownloadURL overrides the CIFAR-10 archive location.
	DownloadURL string
}

// Validate checks the context itself.
func (rc *RuntimeContext) Validate() error {
	p := &problems{record: "runtime context"}
	if rc.BatchSize < 1 {
		p.addf("batch_size: must be positive, got %d", rc.BatchSize)
	}
	if err := rc.Dist.Validate(); err != nil {
		p.addf("distributed environment: %v", err)
	}
	if rc.Dataloader != nil {
		if err := rc.Dataloader.Validate(); err != nil {
			p.list = append(p.list, err.(*ConfigurationError).Problems...)
		}
	}
	return p.err()
}

func (rc *RuntimeContext) dataloader() *DataloaderConfig {
	if rc.Dataloader == nil {
		return DefaultDataloaderConfig()
	}
	return rc.Dataloader
}

func (rc *RuntimeContext) registry() *registry.Registry {
	if rc.Registry == nil {
		return zoo.Default()
	}
	return rc.Registry
}

func (rc *RuntimeContext) fetcher() download.Fetcher {
	if rc.Fetcher == nil {
		return download.NewHTTPFetcher()
	}
	return rc.Fetcher
}

// initRNG is the generator weights are drawn from. Every build gets its
// own so that adapters share no state.
func (rc *RuntimeContext) initRNG() *rand.Rand {
	return rand.New(rand.NewPCG(rc.Seed, 0x1417))
}

// buildLogger attaches a fresh build id and the record identity to the
// context logger.
func buildLogger(ctx context.Context, r Record) (context.Context, *slog.Logger) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ctxlog.With(ctx, "record", string(r.Kind()), "variant", r.Variant(), "build_id", id.String())
}
