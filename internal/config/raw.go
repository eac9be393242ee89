// Package config defines the raw (as-parsed) and internal (as-loaded)
// configuration models and the loader that turns one into the other:
// YAML decode, version check, variable resolution, then Wasm module
// loading, in that fixed order.
package config

import (
	"fmt"

	"github.com/goccy/go-yaml"
)

// ConfigVersion is a closed enum: the only value ever accepted is
// "1.0-beta". Any other string fails to parse rather than being coerced or
// ignored.
type ConfigVersion string

// V1_0Beta is the sole supported ConfigVersion value.
const V1_0Beta ConfigVersion = "1.0-beta"

// UnmarshalYAML rejects any version string other than the one this binary
// understands, rather than silently accepting and possibly misinterpreting
// a future or unknown schema.
func (v *ConfigVersion) UnmarshalYAML(b []byte) error {
	var raw string
	if err := unmarshalQuoted(b, &raw); err != nil {
		return err
	}
	if ConfigVersion(raw) != V1_0Beta {
		return fmt.Errorf("config: unsupported version %q, expected %q", raw, V1_0Beta)
	}
	*v = ConfigVersion(raw)
	return nil
}

// MarshalYAML round-trips the version back to its plain string form.
func (v ConfigVersion) MarshalYAML() ([]byte, error) {
	return []byte(string(v)), nil
}

// Config is the `config:` block: the gateway's own listen settings.
type Config struct {
	Expose uint16  `yaml:"expose"`
	URI    *string `yaml:"uri,omitempty"`
}

// Step is one pipeline/post-step entry: a named invocation of a plugin
// identified by Uses, configured at load time by With and invoked at
// runtime with Arguments. Arguments values may carry `${{ env.NAME }}`
// placeholders; Uses, Name and With values may not.
type Step struct {
	Uses      string            `yaml:"uses"`
	Name      *string           `yaml:"name,omitempty"`
	With      map[string]string `yaml:"with,omitempty"`
	Arguments map[string]string `yaml:"arguments,omitempty"`
}

// WasmPath returns the With["wasm"] value and whether it was present. A
// Step without it is inert at the Wasm-host layer.
func (s Step) WasmPath() (string, bool) {
	p, ok := s.With["wasm"]
	return p, ok
}

// Route binds a path to a validation pipeline and, optionally, post-steps
// run after a request is accepted.
type Route struct {
	Path     string `yaml:"path"`
	Pipeline []Step `yaml:"pipeline,omitempty"`
	Steps    []Step `yaml:"steps,omitempty"`
}

// HealthCheck drives a cron-scheduled run of Steps independent of inbound
// traffic.
type HealthCheck struct {
	Period string `yaml:"period"`
	Steps  []Step `yaml:"steps,omitempty"`
}

// ConfigFile is the top-level document.
type ConfigFile struct {
	Version     ConfigVersion `yaml:"version"`
	Config      Config        `yaml:"config"`
	HealthCheck *HealthCheck  `yaml:"health_check,omitempty"`
	Route       Route         `yaml:"route"`
}

// unmarshalQuoted decodes a YAML scalar into a plain Go string. Factored
// out so ConfigVersion's custom unmarshaler doesn't duplicate goccy's own
// scalar-decoding logic.
func unmarshalQuoted(b []byte, out *string) error {
	// goccy/go-yaml hands BytesUnmarshaler the scalar's YAML source text,
	// quotes included for quoted scalars, so decode it as YAML again.
	return yaml.Unmarshal(b, out)
}
