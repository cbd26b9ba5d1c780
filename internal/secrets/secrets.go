// Package secrets resolves credential references in configuration values so
// passwords and webhook URLs can stay out of config files checked into
// version control.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

const envPrefix = "env:"

// Resolve expands a config value that references a secret. Supported forms:
//
//	env:VAR_NAME    read from the environment
//	${VAR_NAME}     read from the environment
//	anything else   used verbatim
func Resolve(value string) string {
	if strings.HasPrefix(value, envPrefix) {
		return os.Getenv(strings.TrimPrefix(value, envPrefix))
	}
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(value[2 : len(value)-1])
	}
	return value
}

// IsReference reports whether a value is a secret reference rather than a
// literal.
func IsReference(value string) bool {
	return strings.HasPrefix(value, envPrefix) ||
		(strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}"))
}

// CheckFileMode rejects a file readable by group or others. Called on config
// files that carry literal credentials.
func CheckFileMode(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return fmt.Errorf("%s has insecure permissions (%04o); run: chmod 600 %s", path, mode, path)
	}
	return nil
}
