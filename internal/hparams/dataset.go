package hparams

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/vk/trainforge/internal/accel"
	"github.com/vk/trainforge/internal/dataset"
	"github.com/vk/trainforge/internal/dist"
	"github.com/vk/trainforge/internal/tensor"
)

// VariantCIFAR10 is the CIFAR-10 dataset record.
const VariantCIFAR10 = "cifar10"

// Accepted values of the synthetic_device field.
const (
	SyntheticDeviceCPU  = "cpu"
	SyntheticDeviceCUDA = "cuda"
)

// Accepted values of the synthetic_memory_format field.
const (
	MemoryFormatContiguous   = "CONTIGUOUS_FORMAT"
	MemoryFormatChannelsLast = "CHANNELS_LAST"
)

// ErrDatasetMissing is wrapped by the BuildError returned when no copy of
// the dataset exists and downloading is disabled.
var ErrDatasetMissing = errors.New("dataset not found")

// CIFAR10DatasetConfig describes the CIFAR-10 dataset. Defaults come from
// DefaultCIFAR10DatasetConfig.
type CIFAR10DatasetConfig struct {
	// IsTrain selects the training split. Default true.
	IsTrain bool `hcl:"is_train,optional" yaml:"is_train"`
	// Datadir holds the dataset. Required unless UseSynthetic is set.
	Datadir string `hcl:"datadir,optional" yaml:"datadir"`
	// DropLast drops the last incomplete batch. Default true.
	DropLast bool `hcl:"drop_last,optional" yaml:"drop_last"`
	// Shuffle reshuffles every epoch. Default true.
	Shuffle bool `hcl:"shuffle,optional" yaml:"shuffle"`
	// Download fetches the dataset when Datadir has no copy. Default true.
	Download bool `hcl:"download,optional" yaml:"download"`
	// UseSynthetic replaces the data with random samples. Default false.
	UseSynthetic bool `hcl:"use_synthetic,optional" yaml:"use_synthetic"`
	// SyntheticNumUniqueSamples is how many distinct synthetic samples are
	// generated and repeated. Default 100.
	SyntheticNumUniqueSamples int `hcl:"synthetic_num_unique_samples,optional" yaml:"synthetic_num_unique_samples"`
	// SyntheticDevice is where synthetic samples live: cpu or cuda.
	// Default cpu.
	SyntheticDevice string `hcl:"synthetic_device,optional" yaml:"synthetic_device"`
	// SyntheticMemoryFormat is CONTIGUOUS_FORMAT or CHANNELS_LAST.
	// Default CONTIGUOUS_FORMAT.
	SyntheticMemoryFormat string `hcl:"synthetic_memory_format,optional" yaml:"synthetic_memory_format"`
	// SuppLabelPath is an optional CSV of relative_path,label rows attached
	// to image-folder samples.
	SuppLabelPath string `hcl:"supp_label_path,optional" yaml:"supp_label_path"`
}

// DefaultCIFAR10DatasetConfig returns the record with every default set.
func DefaultCIFAR10DatasetConfig() *CIFAR10DatasetConfig {
	return &CIFAR10DatasetConfig{
		IsTrain:                   true,
		DropLast:                  true,
		Shuffle:                   true,
		Download:                  true,
		SyntheticNumUniqueSamples: 100,
		SyntheticDevice:           SyntheticDeviceCPU,
		SyntheticMemoryFormat:     MemoryFormatContiguous,
	}
}

func (c *CIFAR10DatasetConfig) Kind() Kind { return KindDataset }

func (c *CIFAR10DatasetConfig) Variant() string { return VariantCIFAR10 }

// Validate checks the conditional requirements of the record.
func (c *CIFAR10DatasetConfig) Validate() error {
	p := &problems{record: "cifar10 dataset"}
	if !c.UseSynthetic && c.Datadir == "" {
		p.addf("datadir: required when use_synthetic is false")
	}
	if c.UseSynthetic {
		if c.SyntheticNumUniqueSamples < 1 {
			p.addf("synthetic_num_unique_samples: must be positive, got %d", c.SyntheticNumUniqueSamples)
		}
		if c.SuppLabelPath != "" {
			p.addf("supp_label_path: not supported with use_synthetic")
		}
	}
	switch c.SyntheticDevice {
	case SyntheticDeviceCPU, SyntheticDeviceCUDA:
	default:
		p.addf("synthetic_device: must be %q or %q, got %q", SyntheticDeviceCPU, SyntheticDeviceCUDA, c.SyntheticDevice)
	}
	switch c.SyntheticMemoryFormat {
	case MemoryFormatContiguous, MemoryFormatChannelsLast:
	default:
		p.addf("synthetic_memory_format: must be %q or %q, got %q", MemoryFormatContiguous, MemoryFormatChannelsLast, c.SyntheticMemoryFormat)
	}
	return p.err()
}

// Build constructs a loader over the configured split, sharded for
// rc.Dist.
func (c *CIFAR10DatasetConfig) Build(ctx context.Context, rc *RuntimeContext) (*dataset.Loader, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	ctx, logger := buildLogger(ctx, c)
	logger.Debug("Building dataset.", "synthetic", c.UseSynthetic, "train", c.IsTrain)

	fail := func(step string, err error) error {
		return &BuildError{Record: "cifar10 dataset", Step: step, Err: err}
	}

	var ds dataset.Dataset
	if c.UseSynthetic {
		synth, err := c.synthetic(rc)
		if err != nil {
			return nil, fail("allocate synthetic data", err)
		}
		ds = synth
	} else {
		kind, path := dataset.LocateCIFAR10(c.Datadir, c.IsTrain)
		if kind == dataset.SourceMissing {
			if !c.Download {
				return nil, fail("locate dataset", fmt.Errorf("%w in %s and download is disabled", ErrDatasetMissing, c.Datadir))
			}
			logger.Info("Downloading CIFAR-10.", "datadir", c.Datadir)
			if err := dataset.DownloadCIFAR10(ctx, rc.fetcher(), rc.DownloadURL, c.Datadir); err != nil {
				return nil, fail("download", err)
			}
			if kind, path = dataset.LocateCIFAR10(c.Datadir, c.IsTrain); kind == dataset.SourceMissing {
				return nil, fail("locate dataset", fmt.Errorf("%w in %s after download", ErrDatasetMissing, c.Datadir))
			}
		}
		logger.Debug("Located dataset.", "source", kind.String(), "path", path)

		pipeline := dataset.CIFAR10Pipeline(c.IsTrain)
		switch kind {
		case dataset.SourceImageFolder:
			folder, err := dataset.OpenImageFolder(path, pipeline)
			if err != nil {
				return nil, fail("open dataset", err)
			}
			if c.SuppLabelPath != "" {
				if err := folder.LoadSuppLabels(c.SuppLabelPath); err != nil {
					return nil, fail("load supplementary labels", err)
				}
			}
			ds = folder
		case dataset.SourceBinary:
			if c.SuppLabelPath != "" {
				return nil, fail("load supplementary labels", errors.New("supplementary labels need an image-folder dataset"))
			}
			bin, err := dataset.OpenCIFARBinary(path, c.IsTrain, pipeline)
			if err != nil {
				return nil, fail("open dataset", err)
			}
			ds = bin
		}
	}

	sampler, err := dist.NewSampler(ds.Len(), rc.Dist, c.Shuffle, c.DropLast, rc.Seed)
	if err != nil {
		return nil, fail("create sampler", err)
	}
	loader, err := dataset.NewLoader(ds, sampler, rc.dataloader().options(rc.BatchSize, c.DropLast, rc.Seed))
	if err != nil {
		return nil, fail("create loader", err)
	}
	logger.Info("Built dataset.",
		"samples", humanize.Comma(int64(ds.Len())),
		"rank_samples", humanize.Comma(int64(loader.NumSamples())),
		"batches", loader.Len(),
	)
	return loader, nil
}

func (c *CIFAR10DatasetConfig) synthetic(rc *RuntimeContext) (*dataset.Synthetic, error) {
	placement := tensor.Host
	if c.SyntheticDevice == SyntheticDeviceCUDA {
		if rc.Accel == nil {
			return nil, fmt.Errorf("%w: no accelerator runtime", accel.ErrInvalidDevice)
		}
		if n := rc.Accel.DeviceCount(); rc.Dist.LocalRank >= n {
			return nil, fmt.Errorf("%w: local rank %d but %d device(s) visible", accel.ErrInvalidDevice, rc.Dist.LocalRank, n)
		}
		placement = tensor.Placement{Kind: tensor.CUDA, Index: rc.Dist.LocalRank}
	}
	total := dataset.CIFAR10EvalLen
	if c.IsTrain {
		total = dataset.CIFAR10TrainLen
	}
	return dataset.NewSynthetic(dataset.SyntheticOptions{
		Total:        total,
		Shape:        dataset.CIFAR10Shape(),
		NumClasses:   dataset.CIFAR10Classes,
		NumUnique:    c.SyntheticNumUniqueSamples,
		Placement:    placement,
		ChannelsLast: c.SyntheticMemoryFormat == MemoryFormatChannelsLast,
		Seed:         rc.Seed,
	})
}
