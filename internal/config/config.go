// Package config loads the optional YAML defaults for the intersect command.
//
// Every field is a pointer so callers can tell "absent" from a zero value;
// command-line flags override whatever the file sets.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File mirrors the long flag names of `mersect intersect`.
type File struct {
	MerLen       *int    `yaml:"mer_len"`
	Size         *string `yaml:"size"` // accepts k/M/G suffixes
	Threads      *int    `yaml:"threads"`
	Intersection *string `yaml:"intersection"`
	Prefix       *string `yaml:"prefix"`
	Canonical    *bool   `yaml:"canonical"`
	Seed         *uint64 `yaml:"seed"`
	Matrix       *string `yaml:"matrix"`
	DumpMatrix   *string `yaml:"dump_matrix"`
	Reprobes     *int    `yaml:"reprobes"`
	Lookahead    *int    `yaml:"lookahead"`
	BufferSize   *int    `yaml:"buffer_size"`
	MetricsFile  *string `yaml:"metrics_file"`
	Verbose      *bool   `yaml:"verbose"`
}

// Load reads path. Unknown keys are an error.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes one YAML document. An empty document yields a zero File.
func Parse(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("parse config: %w", err)
	}
	return f, nil
}
