package dist

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}

func TestFromEnvironment(t *testing.T) {
	testCases := []struct {
		name    string
		vars    map[string]string
		want    Env
		wantErr string
	}{
		{
			name: "unset means single process",
			want: Single,
		},
		{
			name: "full launcher environment",
			vars: map[string]string{"RANK": "5", "WORLD_SIZE": "8", "LOCAL_RANK": "1", "LOCAL_WORLD_SIZE": "4", "NODE_RANK": "1"},
			want: Env{Rank: 5, WorldSize: 8, LocalRank: 1, LocalWorldSize: 4, NodeRank: 1},
		},
		{
			name: "single node implied",
			vars: map[string]string{"RANK": "2", "WORLD_SIZE": "4"},
			want: Env{Rank: 2, WorldSize: 4, LocalRank: 2, LocalWorldSize: 4},
		},
		{
			name:    "rank outside world",
			vars:    map[string]string{"RANK": "4", "WORLD_SIZE": "4"},
			wantErr: "rank 4 is outside world size 4",
		},
		{
			name:    "not an integer",
			vars:    map[string]string{"WORLD_SIZE": "two"},
			wantErr: `WORLD_SIZE="two" is not an integer`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FromEnvironment(envFrom(tc.vars))
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func collect(t *testing.T, n, world int, shuffle, dropLast bool, seed uint64, epoch int) [][]int {
	t.Helper()
	parts := make([][]int, world)
	for r := 0; r < world; r++ {
		s, err := NewSampler(n, Env{Rank: r, WorldSize: world, LocalWorldSize: world, LocalRank: r}, shuffle, dropLast, seed)
		require.NoError(t, err)
		s.SetEpoch(epoch)
		parts[r] = s.Indices()
		require.Len(t, parts[r], s.Len())
	}
	return parts
}

func TestSampler_PartitionIsDisjointAndComplete(t *testing.T) {
	for _, n := range []int{0, 1, 7, 100, 103} {
		for _, world := range []int{1, 2, 3, 4, 8} {
			parts := collect(t, n, world, true, false, 17, 3)

			seen := make(map[int]int)
			for _, p := range parts {
				for _, idx := range p {
					seen[idx]++
				}
			}
			require.Len(t, seen, n, "n=%d world=%d", n, world)
			for idx, count := range seen {
				require.Equal(t, 1, count, "index %d handed out %d times", idx, count)
				require.True(t, idx >= 0 && idx < n)
			}
		}
	}
}

func TestSampler_DropLastGivesEqualShares(t *testing.T) {
	parts := collect(t, 103, 4, true, true, 1, 0)
	seen := make(map[int]bool)
	for _, p := range parts {
		assert.Len(t, p, 25)
		for _, idx := range p {
			assert.False(t, seen[idx])
			seen[idx] = true
		}
	}
	assert.Len(t, seen, 100)
}

func TestSampler_DeterministicPerSeedAndEpoch(t *testing.T) {
	a := collect(t, 50, 2, true, false, 9, 4)
	b := collect(t, 50, 2, true, false, 9, 4)
	assert.Equal(t, a, b)

	c := collect(t, 50, 2, true, false, 9, 5)
	assert.NotEqual(t, a, c, "a new epoch must reshuffle")
}

func TestSampler_IndicesForDoesNotChangeEpoch(t *testing.T) {
	s, err := NewSampler(20, Single, true, false, 3)
	require.NoError(t, err)
	s.SetEpoch(2)

	other := s.IndicesFor(7)

	assert.Equal(t, 2, s.Epoch())
	assert.Equal(t, s.IndicesFor(2), s.Indices())
	assert.NotEqual(t, other, s.Indices())
}

func TestSampler_NoShuffleIsStrided(t *testing.T) {
	parts := collect(t, 7, 3, false, false, 0, 0)
	assert.Equal(t, [][]int{{0, 3, 6}, {1, 4}, {2, 5}}, parts)
}

func TestSampler_ShuffledIsPermutation(t *testing.T) {
	parts := collect(t, 20, 1, true, false, 3, 0)
	got := append([]int(nil), parts[0]...)
	sort.Ints(got)
	for i := range got {
		assert.Equal(t, i, got[i])
	}
	assert.NotEqual(t, got, parts[0])
}

func TestNewSampler_RejectsInvalidEnv(t *testing.T) {
	_, err := NewSampler(10, Env{Rank: 1, WorldSize: 1, LocalWorldSize: 1}, false, false, 0)
	require.Error(t, err)
}
