package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/trainforge/internal/nn"
)

type tinyFamily struct{}

func (tinyFamily) Register(r *Registry) {
	r.RegisterArchitecture(&Architecture{
		Name:       "tiny",
		InputShape: []int{4},
		Build: func(opts BuildOptions) (nn.Module, error) {
			return nn.NewLinear(4, opts.NumClasses, true, opts.RNG), nil
		},
	})
}

func TestRegistry_BuildsRegisteredArchitecture(t *testing.T) {
	r := New(tinyFamily{})

	m, shape, err := r.Build("tiny", BuildOptions{NumClasses: 3})

	require.NoError(t, err)
	require.Equal(t, []int{4}, shape)
	require.Equal(t, 4*3+3, nn.NumParameters(m))
	require.Equal(t, []string{"tiny"}, r.Names())
}

func TestRegistry_Errors(t *testing.T) {
	r := New(tinyFamily{})

	_, _, err := r.Build("huge", BuildOptions{NumClasses: 3})
	require.ErrorContains(t, err, `no architecture named "huge"`)

	_, _, err = r.Build("tiny", BuildOptions{NumClasses: 0})
	require.ErrorContains(t, err, "num_classes must be positive")

	_, _, err = r.Build("tiny", BuildOptions{NumClasses: 2, GlobalPool: "median"})
	require.ErrorContains(t, err, `unknown global pool "median"`)
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	require.PanicsWithValue(t, "architecture with name 'tiny' already registered", func() {
		New(tinyFamily{}, tinyFamily{})
	})
}
