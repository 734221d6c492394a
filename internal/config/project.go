package config

import (
	"os"
	"path/filepath"
)

// FindProjectRoot looks for the .aifred directory starting from the current
// working directory and moving up the directory tree
func FindProjectRoot() (string, error) {
	currentDir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return findRootFrom(currentDir), nil
}

func findRootFrom(start string) string {
	dir := start
	for {
		if info, err := os.Stat(filepath.Join(dir, ".aifred")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	// no .aifred anywhere above, use the starting directory
	return start
}

// GetAifredDir returns the path to the .aifred directory under the project root
func GetAifredDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".aifred")
}

// EnsureAifredDirs creates the necessary .aifred subdirectories
func EnsureAifredDirs(aifredDir string) error {
	subdirs := []string{
		filepath.Join(aifredDir, "logs"),
		filepath.Join(aifredDir, "run"),
		filepath.Join(aifredDir, "store"),
	}

	for _, subdir := range subdirs {
		if err := os.MkdirAll(subdir, 0755); err != nil {
			return err
		}
	}

	return nil
}
