package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vk/trainforge/internal/checkpoint"
	"github.com/vk/trainforge/internal/config"
	"github.com/vk/trainforge/internal/ctxlog"
	"github.com/vk/trainforge/internal/hcl"
	"github.com/vk/trainforge/internal/yamlcfg"
)

// Run executes the main application logic based on the provided configuration.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.HealthcheckPort > 0 {
		a.startHealthcheckServer(ctx, a.config.HealthcheckPort)
		defer a.closeHealthcheckServer(ctx)
	}

	if err := a.model.Validate(); err != nil {
		return err
	}
	if a.config.PrintConfig {
		return a.printConfig()
	}
	if a.config.ValidateOnly {
		a.logger.Info("Configuration is valid.", "records", a.model.Len())
		return nil
	}

	c, err := a.Build(ctx)
	if err != nil {
		return err
	}
	if a.config.Resume != "" {
		if err := a.resume(c); err != nil {
			return err
		}
	}
	if a.config.Scan {
		if err := a.scan(ctx, c); err != nil {
			return err
		}
	}
	if a.config.SaveState != "" {
		if err := a.saveState(c); err != nil {
			return err
		}
	}

	a.health.set(phaseDone)
	a.logger.Info("🏁 Run finished.")
	return nil
}

// printConfig writes the effective configuration, defaults included.
func (a *App) printConfig() error {
	effective := *a.model
	effective.Dataloader = a.model.DataloaderOrDefault()

	var enc config.Encoder = hcl.NewEncoder()
	if a.config.PrintFormat == FormatYAML {
		enc = yamlcfg.NewEncoder()
	}
	out, err := enc.Encode(&effective)
	if err != nil {
		return err
	}
	_, err = a.outW.Write(out)
	return err
}

// scan iterates one epoch of every dataset and reports its size.
func (a *App) scan(ctx context.Context, c *Components) error {
	a.health.set(phaseScanning)
	for _, name := range sortedKeys(c.Loaders) {
		l := c.Loaders[name]
		start := time.Now()
		batches, samples := 0, 0
		for b, err := range l.Batches(ctx, a.config.Epoch) {
			if err != nil {
				return fmt.Errorf("scanning dataset %q: %w", name, err)
			}
			batches++
			samples += b.Size()
		}
		a.logger.Info("Scanned dataset.",
			"dataset", name,
			"epoch", a.config.Epoch,
			"batches", batches,
			"samples", humanize.Comma(int64(samples)),
			"elapsed", time.Since(start).Round(time.Millisecond).String(),
		)
		fmt.Fprintf(a.outW, "%s\tepoch=%d\tbatches=%d\tsamples=%d\n", name, a.config.Epoch, batches, samples)
	}
	return nil
}

func (a *App) saveState(c *Components) error {
	_, dev, err := only(c.Devices, "device", "--save-state")
	if err != nil {
		return err
	}
	sd, err := dev.StateDict()
	if err != nil {
		return fmt.Errorf("capturing device state: %w", err)
	}
	st := &checkpoint.State{Device: sd}
	if len(c.Models) == 1 {
		_, m, _ := only(c.Models, "model", "--save-state")
		st.Model = checkpoint.FromTensors(m.StateDict())
	}
	if err := checkpoint.Save(a.config.SaveState, st); err != nil {
		return err
	}
	a.logger.Info("State saved.", "path", a.config.SaveState, "weights", len(st.Model))
	return nil
}

func (a *App) resume(c *Components) error {
	name, dev, err := only(c.Devices, "device", "--resume")
	if err != nil {
		return err
	}
	st, err := checkpoint.Load(a.config.Resume)
	if err != nil {
		return err
	}
	if err := dev.LoadStateDict(st.Device); err != nil {
		return fmt.Errorf("restoring state of device %q: %w", name, err)
	}
	if len(st.Model) > 0 {
		modelName, m, err := only(c.Models, "model", "restoring weights")
		if err != nil {
			return err
		}
		sd, err := checkpoint.ToTensors(st.Model)
		if err != nil {
			return err
		}
		if err := m.LoadStateDict(sd); err != nil {
			return fmt.Errorf("restoring weights of model %q: %w", modelName, err)
		}
	}
	a.logger.Info("State restored.", "path", a.config.Resume, "device", name, "weights", len(st.Model))
	return nil
}
