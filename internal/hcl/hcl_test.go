package hcl

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
	l := &Loader{Environ: func() []string { return []string{"DATA=/srv/data", "1BAD=x"} }}
	return l.Parse(context.Background(), []byte(src), "test.hcl")
}

func TestParse_OverlaysDefaults(t *testing.T) {
	// --- Arrange ---
	src := `
dataset "cifar10" "train" {
  use_synthetic = true
  drop_last     = false
}

model "resnet_cifar" "net" {
  model_name   = "resnet_20"
  initializers = ["kaiming_normal", "bn_ones"]
}

device "cpu" "host" {}

dataloader {
  num_workers = 2
}
`

	// --- Act ---
	m, err := parse(t, src)

	// --- Assert ---
	require.NoError(t, err)
	require.Equal(t, 3, m.Len())

	wantDS := hparams.DefaultCIFAR10DatasetConfig()
	wantDS.UseSynthetic = true
	wantDS.DropLast = false
	if diff := cmp.Diff(wantDS, m.Datasets[0].Record); diff != "" {
		t.Errorf("dataset mismatch (-want +got):\n%s", diff)
	}

	wantModel := &hparams.ResNetCIFARConfig{ModelName: "resnet_20", NumClasses: 10, Initializers: []string{"kaiming_normal", "bn_ones"}}
	if diff := cmp.Diff(wantModel, m.Models[0].Record); diff != "" {
		t.Errorf("model mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, "host", m.Devices[0].Name)
	require.IsType(t, &hparams.CPUDeviceConfig{}, m.Devices[0].Record)
	require.Equal(t, &hparams.DataloaderConfig{NumWorkers: 2, PrefetchFactor: 2}, m.Dataloader)
	require.Equal(t, "test.hcl:2", m.Datasets[0].Source)
}

func TestParse_EnvironmentVariables(t *testing.T) {
	m, err := parse(t, `
dataset "cifar10" "real" {
  datadir = "${env.DATA}/cifar"
}
`)
	require.NoError(t, err)
	require.Equal(t, "/srv/data/cifar", m.Datasets[0].Record.(*hparams.CIFAR10DatasetConfig).Datadir)
}

func TestParse_OptionalPointer(t *testing.T) {
	m, err := parse(t, `
model "timm" "a" {
  model_name = "resnet_56"
  bn_eps     = 0.001
}
model "timm" "b" {
  model_name = "resnet_56"
}
`)
	require.NoError(t, err)
	a := m.Models[0].Record.(*hparams.TimmConfig)
	b := m.Models[1].Record.(*hparams.TimmConfig)
	require.NotNil(t, a.BNEps)
	require.Equal(t, 0.001, *a.BNEps)
	require.Nil(t, b.BNEps)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "unknown variant",
			src:     `model "vgg16" "x" {}`,
			wantErr: `unknown model variant "vgg16", expected one of: mnist_classifier, resnet_cifar, timm`,
		},
		{
			name:    "unknown attribute",
			src:     `device "cpu" "x" { index = 1 }`,
			wantErr: "Unsupported argument",
		},
		{
			name:    "wrong type",
			src:     `dataset "cifar10" "x" { drop_last = "sometimes" }`,
			wantErr: "Unsuitable value type",
		},
		{
			name:    "unknown top-level block",
			src:     `optimizer "sgd" "x" {}`,
			wantErr: "Unsupported block type",
		},
		{
			name: "duplicate name",
			src: `
device "cpu" "main" {}
device "gpu" "main" {}
`,
			wantErr: `device "main" is defined in both test.hcl:2 and test.hcl:3`,
		},
		{
			name:    "syntax error",
			src:     `dataset "cifar10" "x" {`,
			wantErr: "failed to parse HCL file test.hcl",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parse(t, tc.src)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestParse_UnknownVariantIsTyped(t *testing.T) {
	_, err := parse(t, `device "tpu" "x" {}`)

	var uv *hparams.UnknownVariantError
	require.ErrorAs(t, err, &uv)
	require.Equal(t, "tpu", uv.Value)
}

func TestEncode_RoundTrip(t *testing.T) {
	// --- Arrange ---
	eps := 2e-5
	m := config.NewModel()
	ds := hparams.DefaultCIFAR10DatasetConfig()
	ds.Datadir = "/data/cifar"
	ds.SuppLabelPath = "/data/supp.csv"
	timm := hparams.DefaultTimmConfig()
	timm.ModelName = "resnet_110"
	timm.BNEps = &eps
	timm.GlobalPool = "max"
	resnet := hparams.DefaultResNetCIFARConfig()
	resnet.ModelName = "resnet_56"
	resnet.Initializers = []string{"xavier_uniform", "linear_log_constant_bias"}
	for _, e := range []*config.Entry{
		{Name: "eval", Record: ds},
		{Name: "big", Record: timm},
		{Name: "small", Record: resnet},
		{Name: "mnist", Record: hparams.DefaultMnistClassifierConfig()},
		{Name: "host", Record: &hparams.CPUDeviceConfig{}},
		{Name: "accel", Record: &hparams.GPUDeviceConfig{}},
	} {
		require.NoError(t, m.Add(e))
	}
	require.NoError(t, m.SetDataloader(&hparams.DataloaderConfig{NumWorkers: 0, PrefetchFactor: 4, Timeout: 1.5}, "flags"))

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
	require.Contains(t, string(out), `dataset "cifar10" "eval" {`)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`device "cpu" "main" {}`+"\n"), 0o600))

	m, err := NewLoader().LoadFile(context.Background(), path)

	require.NoError(t, err)
	require.Len(t, m.Devices, 1)
	require.Equal(t, path+":1", m.Devices[0].Source)
	require.Equal(t, []string{".hcl"}, NewLoader().Extensions())
}
