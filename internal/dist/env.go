// Package dist holds the per-process view of a multi-process training job:
// which rank this process is, how many participate, and how a dataset is
// partitioned between them. Coordination itself (rank assignment) happens
// elsewhere; this package only consumes its result.
package dist

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Env describes this process's position in the job.
type Env struct {
	Rank           int
	WorldSize      int
	LocalRank      int
	LocalWorldSize int
	NodeRank       int
}

// Single is the Env of a job with exactly one process.
var Single = Env{WorldSize: 1, LocalWorldSize: 1}

// Validate checks that ranks fall inside their world sizes.
func (e Env) Validate() error {
	var errs []string
	if e.WorldSize < 1 {
		errs = append(errs, fmt.Sprintf("world size must be at least 1, got %d", e.WorldSize))
	}
	if e.Rank < 0 || (e.WorldSize >= 1 && e.Rank >= e.WorldSize) {
		errs = append(errs, fmt.Sprintf("rank %d is outside world size %d", e.Rank, e.WorldSize))
	}
	if e.LocalWorldSize < 1 {
		errs = append(errs, fmt.Sprintf("local world size must be at least 1, got %d", e.LocalWorldSize))
	}
	if e.LocalRank < 0 || (e.LocalWorldSize >= 1 && e.LocalRank >= e.LocalWorldSize) {
		errs = append(errs, fmt.Sprintf("local rank %d is outside local world size %d", e.LocalRank, e.LocalWorldSize))
	}
	if e.NodeRank < 0 {
		errs = append(errs, fmt.Sprintf("node rank must not be negative, got %d", e.NodeRank))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid distributed environment:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// IsPrimary reports whether this process is global rank zero.
func (e Env) IsPrimary() bool { return e.Rank == 0 }

// Environment variable names read by FromEnvironment.
const (
	EnvRank           = "RANK"
	EnvWorldSize      = "WORLD_SIZE"
	EnvLocalRank      = "LOCAL_RANK"
	EnvLocalWorldSize = "LOCAL_WORLD_SIZE"
	EnvNodeRank       = "NODE_RANK"
)

// FromEnvironment builds an Env from the variables set by a launcher.
// Unset variables fall back to a single-process job.
func FromEnvironment(getenv func(string) string) (Env, error) {
	env := Single
	fields := []struct {
		name   string
		target *int
	}{
		{EnvRank, &env.Rank},
		{EnvWorldSize, &env.WorldSize},
		{EnvLocalRank, &env.LocalRank},
		{EnvLocalWorldSize, &env.LocalWorldSize},
		{EnvNodeRank, &env.NodeRank},
	}

	var errs []error
	for _, f := range fields {
		raw := strings.TrimSpace(getenv(f.name))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s=%q is not an integer", f.name, raw))
			continue
		}
		*f.target = v
	}
	if len(errs) > 0 {
		return Env{}, errors.Join(errs...)
	}
	// A launcher that only sets WORLD_SIZE implies one node.
	if getenv(EnvLocalWorldSize) == "" {
		env.LocalWorldSize = env.WorldSize
		if getenv(EnvLocalRank) == "" {
			env.LocalRank = env.Rank
		}
	}
	if err := env.Validate(); err != nil {
		return Env{}, err
	}
	return env, nil
}
