// Package workspace resolves the on-disk data layout.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvDataDir overrides the default data directory.
const EnvDataDir = "CRAMMER_DATA_DIR"

const (
	QuestionsDir = "questions"
	TemplatesDir = "templates"
	ClassesDir   = "classes"
	OutputDir    = "output"
)

// Workspace is a data root with the standard subdirectories.
type Workspace struct {
	Root string
}

// Resolve picks the data root: dir if set, then $CRAMMER_DATA_DIR, then ~/.crammer.
func Resolve(dir string) (Workspace, error) {
	if dir == "" {
		dir = os.Getenv(EnvDataDir)
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Workspace{}, fmt.Errorf("locate home directory: %w", err)
		}
		dir = filepath.Join(home, ".crammer")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Workspace{}, fmt.Errorf("resolve %s: %w", dir, err)
	}
	return Workspace{Root: abs}, nil
}

// EnsureLayout creates the root and its subdirectories.
func (w Workspace) EnsureLayout() error {
	for _, sub := range []string{QuestionsDir, TemplatesDir, ClassesDir, OutputDir} {
		if err := os.MkdirAll(filepath.Join(w.Root, sub), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", sub, err)
		}
	}
	return nil
}

func (w Workspace) Questions() string { return filepath.Join(w.Root, QuestionsDir) }
func (w Workspace) Templates() string { return filepath.Join(w.Root, TemplatesDir) }
func (w Workspace) Classes() string   { return filepath.Join(w.Root, ClassesDir) }
func (w Workspace) Output() string    { return filepath.Join(w.Root, OutputDir) }

// DBPath is the default location of the run ledger.
func (w Workspace) DBPath() string { return filepath.Join(w.Root, "crammer.db") }

// RosterPath resolves a roster reference from a template. Absolute paths are
// kept; relative ones are looked up under classes/ first, then taken as is.
func (w Workspace) RosterPath(ref string) string {
	if ref == "" || filepath.IsAbs(ref) {
		return ref
	}
	candidate := filepath.Join(w.Classes(), ref)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ref
}
