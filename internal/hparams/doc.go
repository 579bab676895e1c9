// Package hparams holds the configuration records of every buildable
// component and the factory that turns a record into its runtime adapter.
//
// A record is a plain struct whose fields carry documented defaults (see
// the Default* constructors). Validate checks the conditional requirements
// of a record without side effects and returns a *ConfigurationError.
// Build validates again, then constructs a fresh adapter from the record
// and a caller-supplied RuntimeContext: a *dataset.Loader for datasets, a
// *model.Classifier for models and a device.Device for devices. Nothing is
// cached between builds.
//
// Failures raised by collaborators during a build (downloads, the
// accelerator runtime, weight files) are wrapped in a *BuildError naming
// the step that failed. A model discriminant with no construction routine
// yields an *UnknownVariantError.
package hparams
