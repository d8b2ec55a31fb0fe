package main

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// presetAuto picks the preset from the attached file's extension.
const presetAuto = "auto"

// presets maps adapter names to the command starting them on stdio.
var presets = map[string][]string{
	"python": {"python3", "-m", "debugpy.adapter"},
	"delve":  {"dlv", "dap"},
}

var presetExtensions = map[string]string{
	".py": "python",
	".go": "delve",
}

// detectPreset returns the preset for file, or "" when none matches.
func detectPreset(file string) string {
	return presetExtensions[strings.ToLower(filepath.Ext(file))]
}

func presetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolvePreset returns the adapter command for name. lookPath reports
// whether the executable is installed.
func resolvePreset(name, file string, lookPath func(string) (string, error)) ([]string, error) {
	if name == presetAuto {
		name = detectPreset(file)
		if name == "" {
			return nil, fmt.Errorf("no adapter preset for %s", filepath.Base(file))
		}
	}
	cmd, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown adapter %q (known: %s)", name, strings.Join(presetNames(), ", "))
	}
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if _, err := lookPath(cmd[0]); err != nil {
		return nil, fmt.Errorf("%s not found in PATH: %w", cmd[0], err)
	}
	return append([]string(nil), cmd...), nil
}
