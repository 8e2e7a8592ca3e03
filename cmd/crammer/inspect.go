package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pavelanni/crammer/internal/docstore"
	"github.com/pavelanni/crammer/internal/export"
	"github.com/pavelanni/crammer/internal/model"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func questionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "List the question bank",
		RunE:  runQuestions,
	}
	f := cmd.Flags()
	f.String("topic", "", "Only questions tagged with this topic")
	f.StringP("difficulty", "d", "", "Only questions of this difficulty (easy, medium, hard)")
	addCommonFlags(f)
	cmd.AddCommand(questionsImportCmd(), questionsDeleteCmd())
	return cmd
}

func runQuestions(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ws, err := openWorkspace(v)
	if err != nil {
		return err
	}
	qs, err := docstore.NewQuestions(ws.Questions())
	if err != nil {
		return err
	}

	var questions []model.Question
	switch {
	case v.GetString("topic") != "":
		questions, err = qs.ByTopic(v.GetString("topic"))
	case v.GetString("difficulty") != "":
		d := model.ParseDifficulty(v.GetString("difficulty"))
		if d == model.DifficultyNone {
			return fmt.Errorf("unknown difficulty %q", v.GetString("difficulty"))
		}
		questions, err = qs.ByDifficulty(d)
	default:
		questions, err = qs.All()
	}
	if err != nil {
		return err
	}

	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "ID\tDIFFICULTY\tTOPICS\tPROMPT")
	for _, q := range questions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", q.QuestionID, q.Difficulty, strings.Join(q.Topics, ", "), truncate(q.Prompt, 60))
	}
	return tw.Flush()
}

func topicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "List the topics of the question bank",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			ws, err := openWorkspace(v)
			if err != nil {
				return err
			}
			qs, err := docstore.NewQuestions(ws.Questions())
			if err != nil {
				return err
			}
			topics, err := qs.Topics()
			if err != nil {
				return err
			}
			for _, t := range topics {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
	addCommonFlags(cmd.Flags())
	return cmd
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded generation runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			ws, err := openWorkspace(v)
			if err != nil {
				return err
			}
			db, err := openStore(ws)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.ListRuns()
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "RUN\tTEMPLATE\tSTATUS\tSTUDENTS\tSTARTED\tDIR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.ID, r.TemplateName, r.Status, r.StudentCount, r.StartedAt.Local().Format(time.DateTime), r.Dir)
			}
			return tw.Flush()
		},
	}
	addCommonFlags(cmd.Flags())
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a run manifest as XLSX or JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("run", "", "Run ID (default: the last run)")
	f.String("format", "xlsx", "Output format (xlsx, json)")
	f.StringP("output", "o", "", "Output file path (- for stdout; default <run dir>/manifest.xlsx for xlsx)")
	addCommonFlags(f)
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ws, err := openWorkspace(v)
	if err != nil {
		return err
	}
	db, err := openStore(ws)
	if err != nil {
		return err
	}
	defer db.Close()

	runID := v.GetString("run")
	if runID == "" {
		last, err := db.LastRun()
		if err != nil {
			return err
		}
		if last == nil {
			return fmt.Errorf("no runs recorded yet")
		}
		runID = last.ID
	}

	exp, err := db.ExportRun(runID)
	if err != nil {
		return fmt.Errorf("export run: %w", err)
	}

	outPath := v.GetString("output")
	switch strings.ToLower(v.GetString("format")) {
	case "json":
		data, err := json.MarshalIndent(exp, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		return writeOutput(cmd.OutOrStdout(), outPath, append(data, '\n'))
	case "xlsx":
		if outPath == "-" {
			return export.Write(cmd.OutOrStdout(), exp)
		}
		if outPath == "" {
			outPath = filepath.Join(exp.Run.Dir, "manifest.xlsx")
		}
		if err := export.Save(outPath, exp); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), outPath)
		return nil
	default:
		return fmt.Errorf("unknown format %q", v.GetString("format"))
	}
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
