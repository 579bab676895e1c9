package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/vk/trainforge/internal/app"
	"github.com/vk/trainforge/internal/hparams"
)

func TestParse_Defaults(t *testing.T) {
	cfg, exit, err := Parse([]string{"run.hcl"}, &bytes.Buffer{})

	require.NoError(t, err)
	require.False(t, exit)
	want := &app.Config{
		ConfigPaths:       []string{"run.hcl"},
		LogFormat:         "json",
		LogLevel:          "info",
		BatchSize:         128,
		Accelerators:      -1,
		RendezvousTimeout: 30 * time.Second,
		PrintFormat:       app.FormatHCL,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_AllFlags(t *testing.T) {
	args := []string{
		"-c", "a.hcl", "--config", "b.yaml",
		"--log-format", "TEXT", "--log-level", "debug",
		"--batch-size", "64", "--seed", "7", "--epoch", "3", "--scan",
		"--accelerators", "2", "--rendezvous", "http://rdv:3000", "--job", "j1",
		"--rendezvous-timeout", "5s", "--save-state", "out.msgpack", "--resume", "in.msgpack",
		"--healthcheck-port", "8080", "--download-url", "http://mirror/cifar.tgz",
		"extra",
	}

	cfg, _, err := Parse(args, &bytes.Buffer{})

	require.NoError(t, err)
	require.Equal(t, []string{"a.hcl", "b.yaml", "extra"}, cfg.ConfigPaths)
	require.Equal(t, "text", cfg.LogFormat)
	require.Equal(t, 64, cfg.BatchSize)
	require.Equal(t, uint64(7), cfg.Seed)
	require.Equal(t, 3, cfg.Epoch)
	require.True(t, cfg.Scan)
	require.Equal(t, 2, cfg.Accelerators)
	require.Equal(t, "j1", cfg.Job)
	require.Equal(t, 5*time.Second, cfg.RendezvousTimeout)
	require.Equal(t, "in.msgpack", cfg.Resume)
	require.Equal(t, 8080, cfg.HealthcheckPort)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"unknown flag", []string{"--nope", "a.hcl"}, "unknown flag: --nope"},
		{"log format", []string{"--log-format", "xml", "a.hcl"}, "invalid log-format"},
		{"log level", []string{"--log-level", "trace", "a.hcl"}, "invalid log-level"},
		{"batch size", []string{"--batch-size", "0", "a.hcl"}, "batch size must be positive"},
		{"exclusive modes", []string{"--print-config", "--validate-only", "a.hcl"}, "mutually exclusive"},
		{"job required", []string{"--rendezvous", "http://r", "a.hcl"}, "a job id is required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Parse(tc.args, &bytes.Buffer{})

			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			require.Equal(t, 2, exitErr.Code)
			require.Contains(t, exitErr.Message, tc.wantErr)
		})
	}
}

func TestParse_HelpAndNoPaths(t *testing.T) {
	for _, args := range [][]string{{"-h"}, {}} {
		out := &bytes.Buffer{}
		cfg, exit, err := Parse(args, out)

		require.NoError(t, err)
		require.True(t, exit)
		require.Nil(t, cfg)
		require.Contains(t, out.String(), "Usage:")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{&ExitError{Code: 3}, 3},
		{fmt.Errorf("loading: %w", &hparams.ConfigurationError{Record: "x", Problems: []string{"p"}}), 2},
		{errors.Join(&hparams.UnknownVariantError{Kind: "model variant", Value: "vgg"}), 2},
		{errors.New("disk full"), 1},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, ExitCode(tc.err), "%v", tc.err)
	}
}
