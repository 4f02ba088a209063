// Package util provides small helpers shared by the tool-facing packages.
package util

import (
	"fmt"
	"os"
	"os/exec"
)

// FindBinary locates an executable by name: an env var override wins, then a
// copy in the working directory, then PATH. Candidates that are missing, are
// directories, or lack an executable bit are skipped.
func FindBinary(name string, envVar string) (string, error) {
	if envVar != "" {
		if p := os.Getenv(envVar); p != "" && executable(p) {
			return p, nil
		}
	}
	if p := "./" + name; executable(p) {
		return p, nil
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("binary %s not found", name)
}

// ResolveBinary prefers an explicitly configured path over discovery. A
// configured path that is not executable is an error, not a silent fallback;
// an empty one defers to FindBinary.
func ResolveBinary(configured string, name string, envVar string) (string, error) {
	if configured != "" {
		if !executable(configured) {
			return "", fmt.Errorf("configured %s binary %q is not executable", name, configured)
		}
		return configured, nil
	}
	return FindBinary(name, envVar)
}

func executable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}
