package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/vk/trainforge/internal/app"
	"github.com/vk/trainforge/internal/hparams"
	"github.com/vk/trainforge/internal/rendezvous"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// ExitCode maps an error to the process exit code: 2 for usage and
// configuration errors, 1 for everything else.
func ExitCode(err error) int {
	var (
		exitErr *ExitError
		confErr *hparams.ConfigurationError
		varErr  *hparams.UnknownVariantError
	)
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.As(err, &confErr), errors.As(err, &varErr):
		return 2
	default:
		return 1
	}
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := pflag.NewFlagSet("trainforge", pflag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.SortFlags = false

	flagSet.Usage = func() {
		fmt.Fprint(output, `
trainforge - build datasets, models and devices from declarative records.

Usage:
  trainforge [options] CONFIG_PATH...

Arguments:
  CONFIG_PATH
    An .hcl, .yaml or .yml file, or a directory searched recursively.

Options:
`)
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.StringArrayP("config", "c", nil, "Configuration file or directory. May be repeated.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	batchSizeFlag := flagSet.Int("batch-size", 128, "Per-process batch size.")
	seedFlag := flagSet.Uint64("seed", 0, "Seed for shuffling, augmentation and weight initialization.")
	epochFlag := flagSet.Int("epoch", 0, "Epoch used by --scan.")
	scanFlag := flagSet.Bool("scan", false, "Iterate one epoch of every dataset and report its size.")
	accelFlag := flagSet.Int("accelerators", -1, "Number of emulated accelerators. -1 detects the machine's devices.")
	downloadURLFlag := flagSet.String("download-url", "", "Override the CIFAR-10 archive URL.")
	rendezvousFlag := flagSet.String("rendezvous", "", "Rendezvous service URL. Ranks come from the environment when empty.")
	jobFlag := flagSet.String("job", "", "Job id sent to the rendezvous service.")
	rendezvousTimeoutFlag := flagSet.Duration("rendezvous-timeout", rendezvous.DefaultTimeout, "How long to wait for a rank assignment.")
	saveStateFlag := flagSet.String("save-state", "", "Write device state and model weights to this file after the run.")
	resumeFlag := flagSet.String("resume", "", "Restore device state and model weights from this file.")
	printConfigFlag := flagSet.Bool("print-config", false, "Print the effective configuration and exit.")
	printFormatFlag := flagSet.String("print-format", app.FormatHCL, "Format of --print-config. Options: 'hcl' or 'yaml'.")
	validateOnlyFlag := flagSet.Bool("validate-only", false, "Validate every record and exit.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	paths := append(append([]string{}, *configFlag...), flagSet.Args()...)
	if len(paths) == 0 {
		slog.Debug("No configuration path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	config, err := app.NewConfig(app.Config{
		ConfigPaths:       paths,
		LogFormat:         logFormat,
		LogLevel:          logLevel,
		BatchSize:         *batchSizeFlag,
		Seed:              *seedFlag,
		Epoch:             *epochFlag,
		Accelerators:      *accelFlag,
		DownloadURL:       *downloadURLFlag,
		Rendezvous:        *rendezvousFlag,
		Job:               *jobFlag,
		RendezvousTimeout: *rendezvousTimeoutFlag,
		Scan:              *scanFlag,
		SaveState:         *saveStateFlag,
		Resume:            *resumeFlag,
		PrintConfig:       *printConfigFlag,
		PrintFormat:       strings.ToLower(*printFormatFlag),
		ValidateOnly:      *validateOnlyFlag,
		HealthcheckPort:   *healthPortFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "paths", paths)
	return config, false, nil
}
