package latex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrCompile is returned when the compiler ran but produced no PDF.
	ErrCompile = errors.New("latex compilation failed")
	// ErrCompileTimeout is returned when a compiler pass exceeds its timeout.
	ErrCompileTimeout = errors.New("latex compilation timed out")
	// ErrCompilerNotFound is returned when the compiler binary is not on PATH.
	ErrCompilerNotFound = errors.New("latex compiler not found")
)

// Compiler defaults.
const (
	DefaultCommand = "pdflatex"
	DefaultPasses  = 2
	DefaultTimeout = 60 * time.Second
	checkTimeout   = 5 * time.Second
)

// Auxiliary files removed after a successful build.
var auxExtensions = []string{".aux", ".log", ".out", ".fdb_latexmk", ".fls", ".synctex.gz"}

// Compiler turns LaTeX source into a PDF.
type Compiler interface {
	// Compile writes tex to <outBase>.tex and builds <outBase>.pdf. workDir is
	// prepended to TEXINPUTS so relative assets resolve.
	Compile(ctx context.Context, tex, outBase, workDir string) error
	// Name identifies the compiler in messages.
	Name() string
}

// Exec runs a pdflatex-compatible command.
type Exec struct {
	Command string
	Passes  int
	Timeout time.Duration
}

// NewExec returns an Exec with defaults filled in for zero values.
func NewExec(command string, passes int, timeout time.Duration) *Exec {
	if command == "" {
		command = DefaultCommand
	}
	if passes <= 0 {
		passes = DefaultPasses
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Exec{Command: command, Passes: passes, Timeout: timeout}
}

func (c *Exec) Name() string { return c.Command }

// Compile runs the configured number of passes. Success is judged by the
// presence of the PDF, since the compiler exits non-zero on warnings too.
func (c *Exec) Compile(ctx context.Context, tex, outBase, workDir string) error {
	outDir := filepath.Dir(outBase)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	texFile := outBase + ".tex"
	pdfFile := outBase + ".pdf"
	if err := os.WriteFile(texFile, []byte(tex), 0o644); err != nil {
		return fmt.Errorf("write latex file: %w", err)
	}

	env := os.Environ()
	if workDir != "" {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return fmt.Errorf("resolve work dir: %w", err)
		}
		env = append(env, "TEXINPUTS="+abs+string(os.PathListSeparator)+os.Getenv("TEXINPUTS"))
	}

	var stdout, stderr bytes.Buffer
	for pass := 1; pass <= c.Passes; pass++ {
		stdout.Reset()
		stderr.Reset()
		slog.Debug("compilation pass", "file", filepath.Base(texFile), "pass", pass, "passes", c.Passes)

		err := c.run(ctx, env, &stdout, &stderr, "-interaction=nonstopmode", "-output-directory="+outDir, texFile)
		switch {
		case err == nil:
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("%s: %w", c.Command, ErrCompilerNotFound)
		case errors.Is(err, context.DeadlineExceeded):
			c.saveLog(outBase, stdout.String(), stderr.String())
			return fmt.Errorf("%s pass %d after %s: %w", filepath.Base(texFile), pass, c.Timeout, ErrCompileTimeout)
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return fmt.Errorf("run %s: %w", c.Command, err)
		}
	}

	if _, err := os.Stat(pdfFile); err != nil {
		logPath := c.saveLog(outBase, stdout.String(), stderr.String())
		return fmt.Errorf("%w: PDF not created, see %s", ErrCompile, logPath)
	}
	slog.Info("compiled PDF", "file", pdfFile)
	cleanup(outBase)
	return nil
}

// run executes one pass. A non-zero exit status is not an error here.
func (c *Exec) run(ctx context.Context, env []string, stdout, stderr *bytes.Buffer, args ...string) error {
	passCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(passCtx, c.Command, args...)
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second
	err := cmd.Run()
	if passCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return context.DeadlineExceeded
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// saveLog writes <stem>_compilation.log next to the output and returns its path.
func (c *Exec) saveLog(outBase, stdout, stderr string) string {
	path := outBase + "_compilation.log"
	var b strings.Builder
	b.WriteString("--- LaTeX Compilation Log ---\n")
	fmt.Fprintf(&b, "Compiler: %s\n", c.Command)
	fmt.Fprintf(&b, "Passes: %d\n\n", c.Passes)
	b.WriteString("--- stdout ---\n")
	b.WriteString(stdout)
	b.WriteString("\n--- stderr ---\n")
	b.WriteString(stderr)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		slog.Error("save compilation log", "path", path, "error", err)
		return ""
	}
	slog.Info("saved compilation log", "path", path)
	return path
}

func cleanup(outBase string) {
	for _, ext := range auxExtensions {
		p := outBase + ext
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("remove auxiliary file", "path", p, "error", err)
		}
	}
}

// Check reports whether the compiler can be executed.
func (c *Exec) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, c.Command, "--version").Output()
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", c.Command, ErrCompilerNotFound)
	}
	if err != nil {
		return fmt.Errorf("run %s --version: %w", c.Command, err)
	}
	first, _, _ := strings.Cut(string(out), "\n")
	slog.Info("latex compiler available", "command", c.Command, "version", strings.TrimSpace(first))
	return nil
}
