package nn

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/trainforge/internal/tensor"
)

func mustTensor(t *testing.T, data []float64, shape ...int) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromData(data, shape...)
	require.NoError(t, err)
	return x
}

func testRNG() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func TestLinear_Forward(t *testing.T) {
	l := NewLinear(3, 2, true, testRNG())
	copy(l.Weight.Data, []float64{1, 0, -1, 2, 2, 2})
	copy(l.Bias.Data, []float64{0.5, -1})

	y, err := l.Forward(mustTensor(t, []float64{1, 2, 3, 0, 0, 1}, 2, 3))

	require.NoError(t, err)
	require.Equal(t, []int{2, 2}, y.Shape)
	require.Equal(t, []float64{-1.5, 11, -0.5, 1}, y.Data)
}

func TestLinear_DefaultInitIsBounded(t *testing.T) {
	l := NewLinear(16, 4, true, testRNG())
	for _, v := range append(l.Weight.Data, l.Bias.Data...) {
		require.LessOrEqual(t, math.Abs(v), 0.25)
	}
}

func TestLinear_RejectsWrongWidth(t *testing.T) {
	_, err := NewLinear(3, 2, false, testRNG()).Forward(tensor.New(1, 4))
	require.ErrorContains(t, err, "linear expects [N, 3]")
}

func TestConv2d_Forward(t *testing.T) {
	// --- Arrange ---
	c := NewConv2d(1, 1, 3, 1, 1, true, testRNG())
	for i := range c.Weight.Data {
		c.Weight.Data[i] = 1
	}
	c.Bias.Data[0] = 0
	x := mustTensor(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, 1, 1, 3, 3)

	// --- Act ---
	y, err := c.Forward(x)

	// --- Assert ---
	require.NoError(t, err)
	require.Equal(t, []int{1, 1, 3, 3}, y.Shape)
	require.Equal(t, []float64{12, 21, 16, 27, 45, 33, 24, 39, 28}, y.Data)
}

func TestConv2d_StrideAndChannels(t *testing.T) {
	c := NewConv2d(2, 3, 1, 2, 0, false, testRNG())
	for oc := 0; oc < 3; oc++ {
		c.Weight.Data[oc*2] = float64(oc)
		c.Weight.Data[oc*2+1] = 1
	}
	x := tensor.New(1, 2, 4, 4)
	for i := range x.Data {
		x.Data[i] = 1
	}

	y, err := c.Forward(x)

	require.NoError(t, err)
	require.Equal(t, []int{1, 3, 2, 2}, y.Shape)
	require.Equal(t, []float64{1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3}, y.Data)
}

func TestConv2d_AcceptsChannelsLast(t *testing.T) {
	c := NewConv2d(2, 2, 3, 1, 1, true, testRNG())
	x := tensor.New(2, 2, 5, 5)
	rng := testRNG()
	for i := range x.Data {
		x.Data[i] = rng.NormFloat64()
	}
	cl, err := x.ToChannelsLast()
	require.NoError(t, err)

	want, err := c.Forward(x)
	require.NoError(t, err)
	got, err := c.Forward(cl)
	require.NoError(t, err)

	require.Equal(t, want.Data, got.Data)
}

func TestBatchNorm2d_UsesRunningStatistics(t *testing.T) {
	bn := NewBatchNorm2d(2)
	bn.Eps = 0
	copy(bn.Weight.Data, []float64{2, 1})
	copy(bn.Bias.Data, []float64{1, 0})
	copy(bn.RunningMean.Data, []float64{1, -1})
	copy(bn.RunningVar.Data, []float64{4, 1})

	y, err := bn.Forward(mustTensor(t, []float64{3, 5, 0, 1}, 1, 2, 1, 2))

	require.NoError(t, err)
	require.Equal(t, []float64{3, 5, 1, 2}, y.Data)
}

func TestPooling(t *testing.T) {
	x := mustTensor(t, []float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}, 1, 1, 4, 4)

	tests := []struct {
		name string
		m    Module
		want []float64
	}{
		{"max 2x2", MaxPool2d{Kernel: 2}, []float64{6, 8, 14, 16}},
		{"adaptive avg 2", AdaptiveAvgPool2d{Size: 2}, []float64{3.5, 5.5, 11.5, 13.5}},
		{"adaptive avg 1", AdaptiveAvgPool2d{Size: 1}, []float64{8.5}},
		{"adaptive max 1", AdaptiveMaxPool2d{Size: 1}, []float64{16}},
		{"adaptive avg 3 overlaps", AdaptiveAvgPool2d{Size: 3}, []float64{3.5, 4.5, 5.5, 7.5, 8.5, 9.5, 11.5, 12.5, 13.5}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			y, err := tc.m.Forward(x)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, y.Data); diff != "" {
				t.Errorf("pool output mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFlattenAndReLU(t *testing.T) {
	x := mustTensor(t, []float64{-1, 2, -3, 4}, 1, 1, 2, 2)

	seq := NewSequential(ReLU{}, Flatten{})
	y, err := seq.Forward(x)

	require.NoError(t, err)
	require.Equal(t, []int{1, 4}, y.Shape)
	require.Equal(t, []float64{0, 2, 0, 4}, y.Data)
	require.Equal(t, []float64{-1, 2, -3, 4}, x.Data, "input must not be modified")
}

func TestResidual(t *testing.T) {
	negate := NewLinear(2, 2, false, testRNG())
	copy(negate.Weight.Data, []float64{-2, 0, 0, -2})
	x := mustTensor(t, []float64{1, -1}, 1, 2)

	plain, err := (&Residual{Body: negate}).Forward(x)
	require.NoError(t, err)
	activated, err := (&Residual{Body: negate, PostReLU: true}).Forward(x)
	require.NoError(t, err)

	assert.Equal(t, []float64{-1, 1}, plain.Data)
	assert.Equal(t, []float64{0, 1}, activated.Data)
}

func smallNet() *Sequential {
	rng := testRNG()
	return NewNamedSequential(
		Named{Name: "conv", Module: NewConv2d(1, 2, 3, 1, 0, true, rng)},
		Named{Name: "bn", Module: NewBatchNorm2d(2)},
		Named{Name: "block", Module: &Residual{Body: NewSequential(ReLU{}, NewConv2d(2, 2, 1, 1, 0, false, rng))}},
		Named{Name: "flat", Module: Flatten{}},
		Named{Name: "fc", Module: NewLinear(2, 3, true, rng)},
	)
}

func TestNamedParamsAndState(t *testing.T) {
	net := smallNet()

	var names []string
	for _, p := range NamedParams(net) {
		names = append(names, p.Name)
	}
	sd := StateDict(net)

	want := []string{"conv.weight", "conv.bias", "bn.weight", "bn.bias", "block.body.1.weight", "fc.weight", "fc.bias"}
	require.Equal(t, want, names)
	require.Equal(t, 18+2+2+2+4+6+3, NumParameters(net))
	require.Len(t, sd, len(want)+2)
	require.Contains(t, sd, "bn.running_mean")
}

func TestLoadStateDict_RoundTrip(t *testing.T) {
	src := smallNet()
	for _, p := range NamedParams(src) {
		for i := range p.Value.Data {
			p.Value.Data[i] = float64(i) + 0.5
		}
	}
	dst := smallNet()

	require.NoError(t, LoadStateDict(dst, StateDict(src), true))

	if diff := cmp.Diff(StateDict(src), StateDict(dst)); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadStateDict_StrictReportsEveryProblemAndWritesNothing(t *testing.T) {
	net := smallNet()
	before := StateDict(net)
	sd := StateDict(smallNet())
	delete(sd, "fc.bias")
	sd["fc.weight"] = tensor.New(3, 3)
	sd["head.weight"] = tensor.New(1)
	for _, v := range sd {
		for i := range v.Data {
			v.Data[i] = 42
		}
	}

	err := LoadStateDict(net, sd, true)

	require.ErrorContains(t, err, `missing key "fc.bias"`)
	require.ErrorContains(t, err, "fc.weight: shape [3 3] does not match [3 2]")
	require.ErrorContains(t, err, `unexpected key "head.weight"`)
	require.Equal(t, before, StateDict(net))
}

func TestLoadStateDict_NonStrictIgnoresExtraAndMissing(t *testing.T) {
	net := smallNet()
	sd := map[string]*tensor.Tensor{
		"fc.bias":     tensor.Full(7, 3),
		"head.weight": tensor.New(1),
	}

	require.NoError(t, LoadStateDict(net, sd, false))
	require.Equal(t, []float64{7, 7, 7}, StateDict(net)["fc.bias"].Data)
}

func TestMoveTo(t *testing.T) {
	net := smallNet()
	gpu := tensor.Placement{Kind: tensor.CUDA, Index: 0}

	MoveTo(net, gpu)

	for name, v := range StateDict(net) {
		require.Equal(t, gpu, v.Placement, name)
	}
}

func TestCrossEntropyAndArgmax(t *testing.T) {
	uniform := tensor.New(2, 4)
	loss, err := CrossEntropy(uniform, []int{0, 3})
	require.NoError(t, err)
	assert.InDelta(t, math.Log(4), loss, 1e-12)

	logits := mustTensor(t, []float64{0, 5, 1, 9, 2, 3}, 2, 3)
	pred, err := Argmax(logits)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, pred)

	_, err = CrossEntropy(logits, []int{0, 3})
	require.ErrorContains(t, err, "label 3 outside [0, 3)")
}
