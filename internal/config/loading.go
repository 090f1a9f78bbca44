package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrConfigNotFound = errors.New("config file not found")

// ProcessPaths expands glob patterns into config files, then sorts and
// dedupes them. A pattern that matches nothing is an error.
func ProcessPaths(patterns []string) ([]string, error) {
	var paths []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid config pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, pattern)
		}
		for _, m := range matches {
			paths = append(paths, filepath.Clean(m))
		}
	}

	sort.Strings(paths)
	out := paths[:0]
	for i, p := range paths {
		if i == 0 || p != paths[i-1] {
			out = append(out, p)
		}
	}
	return out, nil
}

// Interpolate expands $VAR, ${VAR}, ${VAR:-default} and ${VAR-default} from
// vars. "$$" is a literal "$". Undefined variables without a default expand
// to "" and are reported as warnings.
func Interpolate(input string, vars map[string]string) (string, []string) {
	var warnings []string
	out := os.Expand(input, func(name string) string {
		if name == "$" {
			return "$"
		}
		if i := strings.Index(name, ":-"); i >= 0 {
			if value := vars[name[:i]]; value != "" {
				return value
			}
			return name[i+2:]
		}
		if i := strings.Index(name, "-"); i >= 0 {
			if value, ok := vars[name[:i]]; ok {
				return value
			}
			return name[i+1:]
		}
		value, ok := vars[name]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unknown environment variable %q", name))
		}
		return value
	})
	return out, warnings
}

// environ returns the process environment, with HOSTNAME filled in from the
// OS when unset.
func environ() map[string]string {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	if _, ok := vars["HOSTNAME"]; !ok {
		if hostname, err := os.Hostname(); err == nil {
			vars["HOSTNAME"] = hostname
		}
	}
	return vars
}
