// Package app wires configuration loading, component builds and the
// optional run steps (scan, state save and restore) into one process.
package app
