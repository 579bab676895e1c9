package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/trainforge/internal/hcl"
	"github.com/vk/trainforge/internal/hparams"
	"github.com/vk/trainforge/internal/yamlcfg"
)

const evalRun = `
dataset "cifar10" "eval" {
  is_train                     = false
  use_synthetic                = true
  synthetic_num_unique_samples = 4
}

model "mnist_classifier" "net" {}

device "%s" "main" {}

dataloader {
  num_workers = 2
}
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func evalConfig(t *testing.T, deviceVariant string) *Config {
	t.Helper()
	path := writeConfig(t, "run.hcl", fmt.Sprintf(evalRun, deviceVariant))
	cfg, err := NewConfig(Config{ConfigPaths: []string{path}, BatchSize: 1000, Seed: 3})
	require.NoError(t, err)
	return cfg
}

// withEnv replaces the process environment the app reads ranks from.
func withEnv(a *App, vars map[string]string) {
	a.getenv = func(k string) string { return vars[k] }
}

func TestRun_Scan(t *testing.T) {
	// --- Arrange ---
	cfg := evalConfig(t, "cpu")
	cfg.Scan = true
	a, out, logs := SetupAppTest(t, cfg)
	withEnv(a, nil)

	// --- Act ---
	err := a.Run(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, "eval\tepoch=0\tbatches=10\tsamples=10000\n", out.String())
	assert.Contains(t, logs.String(), "Scanned dataset.")
	assert.Equal(t, phaseDone, a.health.current())
}

func TestBuild_ShardsByEnvironment(t *testing.T) {
	a, _, _ := SetupAppTest(t, evalConfig(t, "cpu"))
	withEnv(a, map[string]string{"RANK": "1", "WORLD_SIZE": "4"})

	c, err := a.Build(context.Background())

	require.NoError(t, err)
	require.Equal(t, 1, c.Env.Rank)
	require.Equal(t, 2_500, c.Loaders["eval"].Sampler().Len())
	require.Len(t, c.Models, 1)
	require.Equal(t, "cpu", c.Devices["main"].Name())
}

func TestBuild_GPUMovesModels(t *testing.T) {
	cfg := evalConfig(t, "gpu")
	cfg.Accelerators = 2
	a, _, _ := SetupAppTest(t, cfg)
	withEnv(a, map[string]string{"WORLD_SIZE": "2", "RANK": "1"})

	c, err := a.Build(context.Background())

	require.NoError(t, err)
	require.Equal(t, "cuda:1", c.Devices["main"].Placement().String())
	require.Equal(t, "cuda:1", c.Models["net"].Placement().String())
}

func TestBuild_GPUWithoutAccelerators(t *testing.T) {
	cfg := evalConfig(t, "gpu")
	cfg.Accelerators = 0
	a, _, _ := SetupAppTest(t, cfg)
	withEnv(a, nil)

	_, err := a.Build(context.Background())

	var be *hparams.BuildError
	require.ErrorAs(t, err, &be)
	require.ErrorContains(t, err, `device "main"`)
}

func TestRun_ValidateOnly(t *testing.T) {
	path := writeConfig(t, "bad.yaml", "datasets:\n  real:\n    cifar10:\n      download: false\n")
	cfg, err := NewConfig(Config{ConfigPaths: []string{path}, BatchSize: 8, ValidateOnly: true})
	require.NoError(t, err)
	a, _, _ := SetupAppTest(t, cfg)

	err = a.Run(context.Background())

	var ce *hparams.ConfigurationError
	require.ErrorAs(t, err, &ce)
	require.ErrorContains(t, err, "datadir: required when use_synthetic is false")
}

func TestRun_PrintConfig(t *testing.T) {
	for _, format := range []string{FormatHCL, FormatYAML} {
		t.Run(format, func(t *testing.T) {
			// --- Arrange ---
			cfg := evalConfig(t, "cpu")
			cfg.PrintConfig = true
			cfg.PrintFormat = format
			a, out, _ := SetupAppTest(t, cfg)

			// --- Act ---
			require.NoError(t, a.Run(context.Background()))

			// --- Assert ---
			var (
				reloaded interface{ Len() int }
				err      error
			)
			if format == FormatHCL {
				m, perr := hcl.NewLoader().Parse(context.Background(), []byte(out.String()), "printed.hcl")
				reloaded, err = m, perr
				require.NoError(t, err, out.String())
				require.Equal(t, 2, m.Dataloader.NumWorkers)
				require.Equal(t, 2, m.Dataloader.PrefetchFactor)
			} else {
				m, perr := yamlcfg.NewLoader().Parse(context.Background(), []byte(out.String()), "printed.yaml")
				reloaded, err = m, perr
				require.NoError(t, err, out.String())
			}
			require.Equal(t, 3, reloaded.Len())
		})
	}
}

func TestSaveAndResume(t *testing.T) {
	for _, variant := range []string{"cpu", "gpu"} {
		t.Run(variant, func(t *testing.T) {
			// --- Arrange ---
			statePath := filepath.Join(t.TempDir(), "state.msgpack")

			first := evalConfig(t, variant)
			first.Accelerators = 1
			first.SaveState = statePath
			a, _, _ := SetupAppTest(t, first)
			withEnv(a, nil)
			c1, err := a.Build(context.Background())
			require.NoError(t, err)
			c1.Devices["main"].Generator().Uint64()
			require.NoError(t, a.saveState(c1))
			want := c1.Devices["main"].Generator().Uint64()

			second := evalConfig(t, variant)
			second.Accelerators = 1
			second.Seed = 99
			second.Resume = statePath
			b, _, _ := SetupAppTest(t, second)
			withEnv(b, nil)
			c2, err := b.Build(context.Background())
			require.NoError(t, err)

			// --- Act ---
			err = b.resume(c2)

			// --- Assert ---
			require.NoError(t, err)
			require.Equal(t, want, c2.Devices["main"].Generator().Uint64())
			require.Equal(t, c1.Models["net"].StateDict(), c2.Models["net"].StateDict())
		})
	}
}

func TestResume_NeedsOneDevice(t *testing.T) {
	path := writeConfig(t, "run.hcl", `model "mnist_classifier" "net" {}`)
	cfg, err := NewConfig(Config{ConfigPaths: []string{path}, BatchSize: 1, Resume: "unused"})
	require.NoError(t, err)
	a, _, _ := SetupAppTest(t, cfg)
	withEnv(a, nil)

	err = a.Run(context.Background())

	require.ErrorContains(t, err, "--resume needs exactly one device record, found 0")
}

func TestHealthHandler(t *testing.T) {
	a, _, _ := SetupAppTest(t, evalConfig(t, "cpu"))
	a.health.set(phaseScanning)
	rec := httptest.NewRecorder()

	a.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK scanning\n", rec.Body.String())
}

func TestNewApp_LoadError(t *testing.T) {
	path := writeConfig(t, "run.hcl", `model "vgg" "net" {}`)
	cfg, err := NewConfig(Config{ConfigPaths: []string{path}, BatchSize: 1})
	require.NoError(t, err)

	_, err = NewApp(&SafeBuffer{}, &SafeBuffer{}, cfg)

	var uv *hparams.UnknownVariantError
	require.ErrorAs(t, err, &uv)
}

func TestNewConfig(t *testing.T) {
	_, err := NewConfig(Config{BatchSize: 0, Epoch: -1, Rendezvous: "http://r", PrintFormat: "toml"})

	require.ErrorContains(t, err, "at least one configuration path is required")
	require.ErrorContains(t, err, "batch size must be positive")
	require.ErrorContains(t, err, "epoch must not be negative")
	require.ErrorContains(t, err, "a job id is required")
	require.ErrorContains(t, err, `print format must be "hcl" or "yaml", got "toml"`)

	cfg, err := NewConfig(Config{ConfigPaths: []string{"x"}, BatchSize: 1})
	require.NoError(t, err)
	require.Equal(t, FormatHCL, cfg.PrintFormat)
}
