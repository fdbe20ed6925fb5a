package config

import (
	"os"
	"path/filepath"
)

// LaceDir returns the root directory for all persisted state: $LACE_DIR,
// defaulting to ~/.lace.
func LaceDir() string {
	if dir := os.Getenv("LACE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lace"
	}
	return filepath.Join(home, ".lace")
}

// DBPath returns the thread store location: $LACE_DB_PATH, defaulting to
// $LACE_DIR/threads.
func DBPath() string {
	if p := os.Getenv("LACE_DB_PATH"); p != "" {
		return p
	}
	return filepath.Join(LaceDir(), "threads")
}

// TempRoot returns the base directory for per-call temp directories.
func TempRoot() string {
	return filepath.Join(LaceDir(), "tmp")
}

// EnsureLaceDir creates the lace directory tree.
func EnsureLaceDir() error {
	for _, dir := range []string{LaceDir(), DBPath(), TempRoot()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
