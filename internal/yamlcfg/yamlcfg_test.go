package yamlcfg

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"github.com/vk/trainforge/internal/config"
	"github.com/vk/trainforge/internal/hparams"
)

func parse(t *testing.T, src string) (*config.Model, error) {
	t.Helper()
	return NewLoader().Parse(context.Background(), []byte(src), "test.yaml")
}

func TestParse_OverlaysDefaults(t *testing.T) {
	// --- Arrange ---
	src := `
datasets:
  eval:
    cifar10:
      is_train: false
      use_synthetic: true
      synthetic_memory_format: CHANNELS_LAST
models:
  net:
    timm:
      model_name: resnet_32
      num_classes: 100
      bn_eps: 1e-3
  tiny:
    mnist_classifier:
devices:
  main:
    gpu: {}
dataloader:
  num_workers: 0
  timeout: 30
`

	// --- Act ---
	m, err := parse(t, src)

	// --- Assert ---
	require.NoError(t, err)

	wantDS := hparams.DefaultCIFAR10DatasetConfig()
	wantDS.IsTrain = false
	wantDS.UseSynthetic = true
	wantDS.SyntheticMemoryFormat = hparams.MemoryFormatChannelsLast
	if diff := cmp.Diff(wantDS, m.Datasets[0].Record); diff != "" {
		t.Errorf("dataset mismatch (-want +got):\n%s", diff)
	}

	eps := 1e-3
	wantTimm := &hparams.TimmConfig{ModelName: "resnet_32", NumClasses: 100, GlobalPool: "avg", BNEps: &eps}
	if diff := cmp.Diff(wantTimm, m.Models[0].Record); diff != "" {
		t.Errorf("timm mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, hparams.DefaultMnistClassifierConfig(), m.Models[1].Record)
	require.Equal(t, []string{"net", "tiny"}, []string{m.Models[0].Name, m.Models[1].Name})
	require.IsType(t, &hparams.GPUDeviceConfig{}, m.Devices[0].Record)
	require.Equal(t, &hparams.DataloaderConfig{NumWorkers: 0, PrefetchFactor: 2, Timeout: 30}, m.Dataloader)
	require.Equal(t, "test.yaml#models.net", m.Models[0].Source)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "unknown field",
			src:     "devices:\n  main:\n    cpu:\n      index: 1\n",
			wantErr: "field index not found",
		},
		{
			name:    "unknown section",
			src:     "optimizers:\n  sgd: {}\n",
			wantErr: "field optimizers not found",
		},
		{
			name:    "two variants",
			src:     "devices:\n  main:\n    cpu: {}\n    gpu: {}\n",
			wantErr: "expected a mapping with exactly one variant key",
		},
		{
			name:    "unknown variant",
			src:     "models:\n  net:\n    vgg16: {}\n",
			wantErr: `unknown model variant "vgg16"`,
		},
		{
			name:    "wrong type",
			src:     "datasets:\n  d:\n    cifar10:\n      drop_last: sometimes\n",
			wantErr: "cannot unmarshal",
		},
		{
			name:    "duplicate name",
			src:     "devices:\n  main:\n    cpu: {}\n  main:\n    gpu: {}\n",
			wantErr: `"main"`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parse(t, tc.src)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	// --- Arrange ---
	m := config.NewModel()
	ds := hparams.DefaultCIFAR10DatasetConfig()
	ds.Datadir = "/data"
	resnet := hparams.DefaultResNetCIFARConfig()
	resnet.ModelName = "resnet_9"
	resnet.Initializers = []string{"kaiming_uniform"}
	for _, e := range []*config.Entry{
		{Name: "train", Record: ds},
		{Name: "net", Record: resnet},
		{Name: "zoo", Record: hparams.DefaultTimmConfig()},
		{Name: "host", Record: &hparams.CPUDeviceConfig{}},
	} {
		require.NoError(t, m.Add(e))
	}
	require.NoError(t, m.SetDataloader(hparams.DefaultDataloaderConfig(), "defaults"))

	// --- Act ---
	out, err := NewEncoder().Encode(m)
	require.NoError(t, err)
	got, err := parse(t, string(out))

	// --- Assert ---
	require.NoError(t, err, "encoded document:\n%s", out)
	ignoreSource := cmpopts.IgnoreFields(config.Entry{}, "Source")
	if diff := cmp.Diff(m.All(), got.All(), ignoreSource); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, m.Dataloader, got.Dataloader)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yml")
	require.NoError(t, os.WriteFile(path, []byte("devices:\n  main:\n    cpu:\n"), 0o600))

	m, err := NewLoader().LoadFile(context.Background(), path)

	require.NoError(t, err)
	require.Len(t, m.Devices, 1)
	require.Equal(t, []string{".yaml", ".yml"}, NewLoader().Extensions())
}
