// Package config loads taskd settings from defaults, an optional
// config.yaml and TASKD_* environment variables, and validates them.
package config
