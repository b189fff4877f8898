package rtconfig

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a YAML config file at path, starting from
// Default() so unset fields keep their defaults. Environment variables
// referenced as ${VAR} in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("rtconfig: path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rtconfig: read %s: %w", path, err)
	}

	cfg := Default()
	expanded := os.ExpandEnv(string(data))
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("rtconfig: parse %s: %w", path, err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("rtconfig: %s: expected a single YAML document", path)
	}

	return cfg, nil
}
