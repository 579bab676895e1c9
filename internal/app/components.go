package app

import (
	"context"
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/vk/trainforge/internal/accel"
	"github.com/vk/trainforge/internal/ctxlog"
	"github.com/vk/trainforge/internal/dataset"
	"github.com/vk/trainforge/internal/device"
	"github.com/vk/trainforge/internal/dist"
	"github.com/vk/trainforge/internal/hparams"
	"github.com/vk/trainforge/internal/model"
	"github.com/vk/trainforge/internal/rendezvous"
)

// Components holds the adapters built from every record, keyed by record
// name. The caller owns them.
type Components struct {
	Env     dist.Env
	Loaders map[string]*dataset.Loader
	Models  map[string]*model.Classifier
	Devices map[string]device.Device
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// only returns the single value of m, or an error naming what for.
func only[V any](m map[string]V, kind, what string) (string, V, error) {
	var zero V
	if len(m) != 1 {
		return "", zero, fmt.Errorf("%s needs exactly one %s record, found %d", what, kind, len(m))
	}
	name := sortedKeys(m)[0]
	return name, m[name], nil
}

// resolveEnv asks the rendezvous service for this process's ranks when one
// is configured and otherwise reads them from the environment.
func (a *App) resolveEnv(ctx context.Context) (dist.Env, error) {
	if a.config.Rendezvous != "" {
		return rendezvous.Join(ctx, rendezvous.Options{
			URL:     a.config.Rendezvous,
			Job:     a.config.Job,
			Timeout: a.config.RendezvousTimeout,
		})
	}
	return dist.FromEnvironment(a.getenv)
}

func (a *App) accelerator(ctx context.Context) accel.Runtime {
	n := a.config.Accelerators
	if n < 0 {
		n = accel.Detect()
	}
	ctxlog.FromContext(ctx).Debug("Accelerators available.", "count", n)
	if n == 0 {
		return nil
	}
	return accel.NewHost(n, a.config.Seed)
}

// Build builds every record once. Models are moved onto the device when
// exactly one device record exists.
func (a *App) Build(ctx context.Context) (*Components, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.health.set(phaseBuilding)

	env, err := a.resolveEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving distributed environment: %w", err)
	}
	a.logger.Info("Distributed environment resolved.", "rank", env.Rank, "world_size", env.WorldSize, "local_rank", env.LocalRank)

	rc := &hparams.RuntimeContext{
		BatchSize:   a.config.BatchSize,
		Seed:        a.config.Seed,
		Dist:        env,
		Dataloader:  a.model.DataloaderOrDefault(),
		Accel:       a.accelerator(ctx),
		Registry:    a.registry,
		DownloadURL: a.config.DownloadURL,
	}

	c := &Components{
		Env:     env,
		Loaders: make(map[string]*dataset.Loader),
		Models:  make(map[string]*model.Classifier),
		Devices: make(map[string]device.Device),
	}
	for _, e := range a.model.All() {
		v, err := hparams.Build(ctx, e.Record, rc)
		if err != nil {
			return nil, fmt.Errorf("%s %q (%s): %w", e.Record.Kind(), e.Name, e.Source, err)
		}
		switch adapter := v.(type) {
		case *dataset.Loader:
			c.Loaders[e.Name] = adapter
		case *model.Classifier:
			c.Models[e.Name] = adapter
		case device.Device:
			c.Devices[e.Name] = adapter
		}
	}

	if len(c.Devices) == 1 {
		name, dev, _ := only(c.Devices, "device", "placement")
		for _, m := range c.Models {
			dev.ModuleToDevice(m)
		}
		if len(c.Models) > 0 {
			a.logger.Info("Models moved to device.", "device", name, "placement", dev.Placement().String())
		}
	}

	total := 0
	for _, m := range c.Models {
		total += m.NumParameters()
	}
	a.logger.Info("All components built.",
		"datasets", len(c.Loaders),
		"models", len(c.Models),
		"devices", len(c.Devices),
		"parameters", humanize.Comma(int64(total)),
	)
	return c, nil
}
