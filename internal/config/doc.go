// Package config defines the format-agnostic configuration model: the
// named dataset, model and device records of a run plus the shared
// dataloader settings. Concrete document formats implement Loader in
// their own packages (hcl, yamlcfg) and are combined by Load.
package config
