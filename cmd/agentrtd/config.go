package main

import (
	"os"
	"strings"

	"github.com/fendari/agentrt/internal/rtconfig"
)

const defaultConfigPath = "agentrt.yaml"

// loadConfig resolves path (falling back to the AGENTRT_CONFIG
// environment variable, then defaultConfigPath) and loads it via
// rtconfig.Load.
func loadConfig(path string) (*rtconfig.Config, error) {
	path = resolveConfigPath(path)
	return rtconfig.Load(path)
}

func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" && path != defaultConfigPath {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("AGENTRT_CONFIG")); env != "" {
		return env
	}
	if strings.TrimSpace(path) == "" {
		return defaultConfigPath
	}
	return path
}
