package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ExpandTilde replaces ~ or ~/path with the user's home directory.
// Does not support ~username syntax.
func ExpandTilde(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}

	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}

	return path
}

var secretRefPattern = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// ExpandSecret resolves a value of the exact form ${VAR} from the environment,
// which includes anything loaded from the .env file next to the config.
// Other values, including ones that merely contain "$", are returned unchanged
// so literal passwords survive. An unset variable expands to "".
func ExpandSecret(value string) string {
	m := secretRefPattern.FindStringSubmatch(value)
	if m == nil {
		return value
	}
	return os.Getenv(m[1])
}

// IsSecretRef reports whether value is a ${VAR} reference.
func IsSecretRef(value string) bool {
	return secretRefPattern.MatchString(value)
}
