// Package registry maps model architecture names to the Go code that
// builds them.
//
// Architectures are contributed by families implementing Module. A
// Registry is populated once at startup; registering the same name twice
// is a programming error and panics. Models configured by name (for
// example the generic zoo wrapper) resolve their architecture here, so an
// unknown name surfaces as a lookup miss rather than a build failure.
package registry
