// Package config provides configuration loading for Fieldline Core.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by FIELDLINE_* environment variables. Validation
// happens once at load time; a Config that made it past Load is safe to use.
package config
