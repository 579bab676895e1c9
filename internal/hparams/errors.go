package hparams

import (
	"fmt"
	"strings"
)

// ConfigurationError reports every problem found while validating a
// record. It is fixed by correcting the configuration.
type ConfigurationError struct {
	Record   string
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s configuration:\n- %s", e.Record, strings.Join(e.Problems, "\n- "))
}

// problems collects validation failures for one record.
type problems struct {
	record string
	list   []string
}

func (p *problems) addf(format string, args ...any) {
	p.list = append(p.list, fmt.Sprintf(format, args...))
}

func (p *problems) err() error {
	if len(p.list) == 0 {
		return nil
	}
	return &ConfigurationError{Record: p.record, Problems: p.list}
}

// UnknownVariantError reports a discriminant with no matching
// construction routine.
type UnknownVariantError struct {
	Kind  string
	Value string
	Known []string
}

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("unknown %s %q, expected one of: %s", e.Kind, e.Value, strings.Join(e.Known, ", "))
}

// BuildError wraps a failure of a delegated subsystem with the record and
// build step that triggered it.
type BuildError struct {
	Record string
	Step   string
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("building %s: %s: %v", e.Record, e.Step, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }
