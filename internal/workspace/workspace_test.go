package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePrecedence(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, "env")
	t.Setenv(EnvDataDir, env)

	w, err := Resolve(filepath.Join(dir, "flag"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if w.Root != filepath.Join(dir, "flag") {
		t.Errorf("flag should win, got %s", w.Root)
	}

	w, err = Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if w.Root != env {
		t.Errorf("env should be used, got %s", w.Root)
	}
}

func TestEnsureLayoutAndRosterPath(t *testing.T) {
	w := Workspace{Root: t.TempDir()}
	if err := w.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	for _, d := range []string{w.Questions(), w.Templates(), w.Classes(), w.Output()} {
		if fi, err := os.Stat(d); err != nil || !fi.IsDir() {
			t.Errorf("expected directory %s", d)
		}
	}

	if got := w.RosterPath("missing.csv"); got != "missing.csv" {
		t.Errorf("unknown relative roster should be kept, got %s", got)
	}
	if err := os.WriteFile(filepath.Join(w.Classes(), "a.csv"), []byte("student_name,student_id\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := w.RosterPath("a.csv"); got != filepath.Join(w.Classes(), "a.csv") {
		t.Errorf("expected roster under classes/, got %s", got)
	}
	if got := w.RosterPath("/abs/x.csv"); got != "/abs/x.csv" {
		t.Errorf("absolute path changed: %s", got)
	}
}
