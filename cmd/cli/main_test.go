package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/trainforge/internal/cli"
)

func TestRun_ParseErrorInHCL(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	invalidHCL := `
		dataset "cifar10" "train" {
			use_synthetic = true
		// Missing closing brace here
	`
	filePath := filepath.Join(t.TempDir(), "main.hcl")
	require.NoError(t, os.WriteFile(filePath, []byte(invalidHCL), 0o600), "failed to set up test file")
	out := &bytes.Buffer{}

	// --- Act ---
	runErr := run(context.Background(), out, &bytes.Buffer{}, []string{filePath})

	// --- Assert ---
	require.Error(t, runErr)
	require.Contains(t, runErr.Error(), "failed to parse HCL file")
	require.Equal(t, 1, cli.ExitCode(runErr))
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}

	err := run(context.Background(), out, &bytes.Buffer{}, []string{"-h"})

	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	err := run(context.Background(), &bytes.Buffer{}, &bytes.Buffer{}, []string{"--this-is-not-a-valid-flag"})

	require.Error(t, err, "run() should return an error when argument parsing fails")
	require.Contains(t, err.Error(), "unknown flag: --this-is-not-a-valid-flag")
	require.Equal(t, 2, cli.ExitCode(err))
}

func TestRun_InvalidRecordExitsWithUsageCode(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  net:\n    resnet_cifar: {}\n"), 0o600))

	err := run(context.Background(), &bytes.Buffer{}, &bytes.Buffer{}, []string{"--validate-only", path})

	require.ErrorContains(t, err, "model_name: required")
	require.Equal(t, 2, cli.ExitCode(err))
}

func TestRun_Examples(t *testing.T) {
	t.Parallel()

	examples := filepath.Join("..", "..", "examples")
	out := &bytes.Buffer{}

	err := run(context.Background(), out, &bytes.Buffer{}, []string{"--print-config", examples})

	require.NoError(t, err)
	require.Contains(t, out.String(), `dataset "cifar10" "train"`)
	require.Contains(t, out.String(), `dataset "cifar10" "eval"`)
	require.Contains(t, out.String(), `device "gpu" "accel"`)
}
