package hparams

import (
	"context"
	"errors"

	"github.com/vk/trainforge/internal/device"
)

// Device record variants.
const (
	VariantCPU = "cpu"
	VariantGPU = "gpu"
)

// CPUDeviceConfig selects the host. It has no fields.
type CPUDeviceConfig struct{}

func (c *CPUDeviceConfig) Kind() Kind { return KindDevice }

func (c *CPUDeviceConfig) Variant() string { return VariantCPU }

func (c *CPUDeviceConfig) Validate() error { return nil }

func (c *CPUDeviceConfig) Build(ctx context.Context, rc *RuntimeContext) (device.Device, error) {
	_, logger := buildLogger(ctx, c)
	d := device.NewCPU(rc.Seed)
	logger.Info("Built device.", "placement", d.Placement().String(), "backend", d.DistBackend())
	return d, nil
}

// GPUDeviceConfig binds the process to the accelerator matching its local
// rank. It has no fields.
type GPUDeviceConfig struct{}

func (c *GPUDeviceConfig) Kind() Kind { return KindDevice }

func (c *GPUDeviceConfig) Variant() string { return VariantGPU }

func (c *GPUDeviceConfig) Validate() error { return nil }

func (c *GPUDeviceConfig) Build(ctx context.Context, rc *RuntimeContext) (device.Device, error) {
	if err := rc.Dist.Validate(); err != nil {
		return nil, &ConfigurationError{Record: "runtime context", Problems: []string{err.Error()}}
	}
	_, logger := buildLogger(ctx, c)
	if rc.Accel == nil {
		return nil, &BuildError{Record: "gpu device", Step: "bind accelerator", Err: errors.New("no accelerator runtime available")}
	}
	d, err := device.NewGPU(rc.Accel, rc.Dist.LocalRank)
	if err != nil {
		return nil, &BuildError{Record: "gpu device", Step: "bind accelerator", Err: err}
	}
	logger.Info("Built device.", "placement", d.Placement().String(), "backend", d.DistBackend())
	return d, nil
}
