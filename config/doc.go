// Package config loads the process configuration for a coordinated run.
//
// Precedence: built-in defaults, then the YAML file, then environment
// variables with the PREEMPTFLOW prefix.
package config
