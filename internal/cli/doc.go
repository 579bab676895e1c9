// Package cli parses the command line into an app.Config and maps errors
// to process exit codes.
package cli
