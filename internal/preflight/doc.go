// Package preflight provides readiness checks for the binaries, directories
// and services crunch depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll before starting a batch and refuses to start
//     when a required check fails.
//   - "crunch doctor" renders every check, including optional ones, as a table.
package preflight
