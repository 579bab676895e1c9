package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/vk/trainforge/internal/tensor"
	"github.com/vmihailenco/msgpack/v5"
)

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckpt", "state.msgpack")
	in := &State{
		Device: map[string]any{"rng": []byte{1, 2, 3, 4}},
		Model: map[string]Weights{
			"fc.weight": {Shape: []int{2, 3}, Data: []float64{1, 2, 3, 4, 5, 6}},
		},
	}
	require.NoError(t, Save(path, in))

	out, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, FormatVersion, out.Version)
	if diff := cmp.Diff(in.Model, out.Model); diff != "" {
		t.Errorf("model weights mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []byte{1, 2, 3, 4}, out.Device["rng"])
}

func TestLoad_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.msgpack")
	data, err := msgpack.Marshal(&State{Version: 99})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Load(path)
	require.ErrorContains(t, err, "format version 99")
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	require.True(t, os.IsNotExist(err))
}

func TestTensorConversion(t *testing.T) {
	sd := map[string]*tensor.Tensor{"fc.weight": tensor.Full(0.5, 2, 3)}

	got, err := ToTensors(FromTensors(sd))
	require.NoError(t, err)
	require.Equal(t, sd, got)

	_, err = ToTensors(map[string]Weights{"bad": {Shape: []int{2}, Data: []float64{1}}})
	require.ErrorContains(t, err, `weights "bad"`)
}
