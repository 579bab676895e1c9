package app

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ConfigPaths []string // .hcl, .yaml and .yml files or directories

	LogFormat string
	LogLevel  string

	BatchSize int
	Seed      uint64
	Epoch     int
	// Accelerators is the number of emulated accelerators. Negative
	// detects the devices of the machine.
	Accelerators int
	DownloadURL  string

	Rendezvous        string
	Job               string
	RendezvousTimeout time.Duration

	Scan         bool
	SaveState    string
	Resume       string
	PrintConfig  bool
	PrintFormat  string
	ValidateOnly bool

	HealthcheckPort int
}

// Print formats accepted by Config.PrintFormat.
const (
	FormatHCL  = "hcl"
	FormatYAML = "yaml"
)

func NewConfig(cfg Config) (*Config, error) {
	var errs []error
	if len(cfg.ConfigPaths) == 0 {
		errs = append(errs, errors.New("at least one configuration path is required"))
	}
	if cfg.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize))
	}
	if cfg.Epoch < 0 {
		errs = append(errs, fmt.Errorf("epoch must not be negative, got %d", cfg.Epoch))
	}
	if cfg.Rendezvous != "" && cfg.Job == "" {
		errs = append(errs, errors.New("a job id is required with a rendezvous address"))
	}
	if cfg.PrintFormat == "" {
		cfg.PrintFormat = FormatHCL
	}
	if cfg.PrintFormat != FormatHCL && cfg.PrintFormat != FormatYAML {
		errs = append(errs, fmt.Errorf("print format must be %q or %q, got %q", FormatHCL, FormatYAML, cfg.PrintFormat))
	}
	if cfg.PrintConfig && cfg.ValidateOnly {
		errs = append(errs, errors.New("print-config and validate-only are mutually exclusive"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &cfg, nil
}
