package latex

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/pavelanni/crammer/internal/model"
)

// Assets copies images referenced by exams into a run's asset directory.
// It is safe for concurrent use.
type Assets struct {
	dir string

	mu     sync.Mutex
	copied map[string]string // source path -> asset name
	taken  map[string]bool   // asset names in use
}

// NewAssets creates the asset directory.
func NewAssets(dir string) (*Assets, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create assets dir: %w", err)
	}
	return &Assets{dir: dir, copied: make(map[string]string), taken: make(map[string]bool)}, nil
}

// Dir returns the asset directory.
func (a *Assets) Dir() string { return a.dir }

// Copy copies src into the asset directory and returns the asset name. The
// name is the base name of src; when another source already uses it, a
// short hash of the source path is prepended. A missing source is logged and
// reported as "".
func (a *Assets) Copy(src string) string {
	if src == "" {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if name, ok := a.copied[src]; ok {
		return name
	}
	name := filepath.Base(src)
	if a.taken[name] {
		sum := sha256.Sum256([]byte(src))
		name = hex.EncodeToString(sum[:4]) + "-" + name
	}
	if err := copyFile(src, filepath.Join(a.dir, name)); err != nil {
		slog.Warn("asset not copied", "path", src, "error", err)
		return ""
	}
	a.copied[src] = name
	a.taken[name] = true
	slog.Debug("copied asset", "name", name)
	return name
}

// Localize copies every question image of the exam and points the exam's
// questions at the copies. Questions whose image is missing keep their path.
// Callers pass exam copies; the question bank is never touched here.
func (a *Assets) Localize(blocks []model.BlockSelection) {
	for bi := range blocks {
		for qi := range blocks[bi].Questions {
			q := &blocks[bi].Questions[qi]
			if q.Image == nil || q.Image.Path == "" {
				continue
			}
			if name := a.Copy(q.Image.Path); name != "" {
				q.Image.Path = name
			}
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
