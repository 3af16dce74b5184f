// Package config holds the tunables spec §5 names, loaded from defaults and
// optionally overridden by a YAML file, following the corpus's only
// config-file library, gopkg.in/yaml.v3. No command-line flag sets these
// tunables; the CLI only chooses which file to load.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the bounded-resource defaults spec §5 specifies.
type Config struct {
	// IdleTimeout destroys a flow after this long with no captured bytes.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ReorderBufferCap bounds a half-stream's out-of-order segment map.
	ReorderBufferCap int `yaml:"reorder_buffer_cap"`

	// BodyCap bounds a single message's accumulated body before Oversize
	// truncation kicks in.
	BodyCap int64 `yaml:"body_cap"`

	// FlowTableCap bounds the number of live flows tracked at once; beyond
	// it, the least-recently-used flow is evicted.
	FlowTableCap int `yaml:"flow_table_cap"`

	// MaxStartLineGarbage bounds how many leading bytes of a half-stream
	// may be skipped before a valid start-line is found.
	MaxStartLineGarbage int `yaml:"max_start_line_garbage"`
}

// Default matches the defaults named in spec §5.
func Default() Config {
	return Config{
		IdleTimeout:         300 * time.Second,
		ReorderBufferCap:    1 << 20,
		BodyCap:             16 << 20,
		FlowTableCap:        4096,
		MaxStartLineGarbage: 8 << 10,
	}
}

// LoadFile overlays a YAML file's fields onto base, returning the merged
// Config. A missing file is not an error — defaults simply apply. Only the
// fields present in the file override base, so a partial override file is
// legal; a field given explicitly as zero is applied as zero.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return base, nil
	}
	if err != nil {
		return base, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var overrides rawOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return base, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	merged := base
	if overrides.IdleTimeoutSeconds != nil {
		merged.IdleTimeout = time.Duration(*overrides.IdleTimeoutSeconds) * time.Second
	}
	if overrides.ReorderBufferCap != nil {
		merged.ReorderBufferCap = *overrides.ReorderBufferCap
	}
	if overrides.BodyCap != nil {
		merged.BodyCap = *overrides.BodyCap
	}
	if overrides.FlowTableCap != nil {
		merged.FlowTableCap = *overrides.FlowTableCap
	}
	if overrides.MaxStartLineGarbage != nil {
		merged.MaxStartLineGarbage = *overrides.MaxStartLineGarbage
	}
	return merged, nil
}

// rawOverrides mirrors Config but with pointer fields, so the YAML decoder
// can distinguish "absent" from "explicitly zero".
type rawOverrides struct {
	IdleTimeoutSeconds  *int   `yaml:"idle_timeout_seconds"`
	ReorderBufferCap    *int   `yaml:"reorder_buffer_cap"`
	BodyCap             *int64 `yaml:"body_cap"`
	FlowTableCap        *int   `yaml:"flow_table_cap"`
	MaxStartLineGarbage *int   `yaml:"max_start_line_garbage"`
}
