package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/crammer/internal/assemble"
	"github.com/pavelanni/crammer/internal/generate"
	"github.com/pavelanni/crammer/internal/latex"
	"github.com/pavelanni/crammer/internal/metrics"
	"github.com/pavelanni/crammer/internal/model"
	"github.com/pavelanni/crammer/internal/roster"
	"github.com/pavelanni/crammer/internal/store"
	"github.com/pavelanni/crammer/internal/validate"
)

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one exam per student for a template",
		RunE:  runGenerate,
	}
	f := cmd.Flags()
	f.StringP("template", "t", "", "Template name or path (required)")
	f.StringP("roster", "r", "", "Class roster CSV/XLSX (overrides the template)")
	f.String("seed", "", "Run seed for reproducible selection (default: the run ID)")
	f.Bool("no-compile", false, "Write .tex files only")
	addCompilerFlags(f)
	addCommonFlags(f)
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

// newGenerator builds the renderer and compiler from flags.
func newGenerator(v *viper.Viper, st *store.Store, m *metrics.Metrics) (*generate.Generator, error) {
	renderer, err := latex.NewRenderer(v.GetString("latex-template"))
	if err != nil {
		return nil, err
	}
	compiler := latex.NewExec(v.GetString("compiler"), v.GetInt("passes"), v.GetDuration("compile-timeout"))
	return generate.New(renderer, compiler, st, m), nil
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang, err := initI18n(v)
	if err != nil {
		return err
	}
	ws, err := openWorkspace(v)
	if err != nil {
		return err
	}
	src, err := generate.OpenSources(ws)
	if err != nil {
		return err
	}
	opts, err := src.Options(v.GetString("template"), v.GetString("roster"))
	if err != nil {
		return err
	}
	opts.Seed = v.GetString("seed")
	opts.Workers = v.GetInt("workers")
	opts.Lenient = v.GetBool("lenient")
	opts.NoCompile = v.GetBool("no-compile")
	opts.Lang = lang

	db, err := openStore(ws)
	if err != nil {
		return err
	}
	defer db.Close()

	gen, err := newGenerator(v, db, nil)
	if err != nil {
		return err
	}

	if !opts.NoCompile {
		if err := latex.NewExec(v.GetString("compiler"), 1, 0).Check(cmd.Context()); err != nil {
			return fmt.Errorf("%w (use --no-compile to write .tex files only)", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	res, err := gen.Run(ctx, opts, printProgress(out))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s\n", res.Run.Dir)
	if !res.Success {
		return errors.New("some exams failed; see the log directory of the run")
	}
	return nil
}

// printProgress writes one line per progress event.
func printProgress(w io.Writer) generate.ProgressFunc {
	return func(p model.Progress) {
		mark := " "
		if !p.Success {
			mark = "!"
		}
		if p.Total > 0 {
			fmt.Fprintf(w, "%s [%d/%d] %s\n", mark, p.Current, p.Total, p.Message)
			return
		}
		fmt.Fprintf(w, "%s %s\n", mark, p.Message)
	}
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a template and check that every block can be filled",
		RunE:  runValidate,
	}
	f := cmd.Flags()
	f.StringP("template", "t", "", "Template name or path (required)")
	addCommonFlags(f)
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func runValidate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ws, err := openWorkspace(v)
	if err != nil {
		return err
	}
	src, err := generate.OpenSources(ws)
	if err != nil {
		return err
	}
	t, err := src.Template(v.GetString("template"))
	if err != nil {
		return err
	}
	if err := validate.Template(t, true); err != nil {
		return err
	}
	students, err := roster.Load(ws.RosterPath(t.RosterPath))
	if err != nil {
		return err
	}
	if err := validate.Roster(students); err != nil {
		return err
	}
	questions, err := src.Questions.All()
	if err != nil {
		return err
	}

	plan := assemble.Check(assemble.NewBank(questions), t.Blocks)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Template %q: %d blocks, %d students, %d questions in bank\n",
		t.Name, len(t.Blocks), len(students), len(questions))
	tw := newTable(out)
	fmt.Fprintln(tw, "BLOCK\tMETHOD\tWANT\tPOOL\tGUARANTEED\tPROBLEM")
	for _, b := range plan.Blocks {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", b.Title, b.Method, b.Want, b.Pool, b.Guarantee, b.Problem)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if err := plan.Err(); err != nil {
		slog.Warn("template is not feasible in strict mode; --lenient fills short blocks")
		return err
	}
	fmt.Fprintln(out, "OK")
	return nil
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that the LaTeX compiler is available",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			c := latex.NewExec(v.GetString("compiler"), 1, 0)
			if err := c.Check(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is available\n", c.Name())
			return nil
		},
	}
	f := cmd.Flags()
	f.String("compiler", latex.DefaultCommand, "LaTeX compiler command")
	addCommonFlags(f)
	return cmd
}
