package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pavelanni/crammer/internal/docstore"
	"github.com/pavelanni/crammer/internal/roster"
	"github.com/pavelanni/crammer/internal/validate"
)

func questionsImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Validate questions from JSON/YAML files and add them to the bank",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			existing, err := qs.All()
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(existing))
			for _, q := range existing {
				ids = append(ids, q.QuestionID)
			}

			replace := v.GetBool("replace")
			added := 0
			for _, path := range args {
				questions, err := docstore.ReadQuestions(path)
				if err != nil {
					return err
				}
				for _, q := range questions {
					if err := validate.Question(q); err != nil {
						return fmt.Errorf("%s: question %s: %w", path, q.QuestionID, err)
					}
					if !replace {
						if err := validate.UniqueID(q.QuestionID, ids); err != nil {
							return fmt.Errorf("%s: %w (use --replace to overwrite)", path, err)
						}
					}
					if err := qs.Save(q); err != nil {
						return err
					}
					ids = append(ids, q.QuestionID)
					added++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d questions\n", added)
			return nil
		},
	}
	f := cmd.Flags()
	f.Bool("replace", false, "Overwrite questions whose ID already exists")
	addCommonFlags(f)
	return cmd
}

func questionsDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete questions from the bank",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			for _, id := range args {
				ok, err := qs.Delete(id)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("question %s: %w", id, docstore.ErrNotFound)
				}
			}
			return nil
		},
	}
	addCommonFlags(cmd.Flags())
	return cmd
}

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List exam templates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			ws, err := openWorkspace(v)
			if err != nil {
				return err
			}
			ts, err := docstore.NewTemplates(ws.Templates())
			if err != nil {
				return err
			}
			names, err := ts.Names()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
	addCommonFlags(cmd.Flags())
	cmd.AddCommand(templatesImportCmd(), templatesDeleteCmd())
	return cmd
}

func templatesImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Validate a template file and store it under its file name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			ws, err := openWorkspace(v)
			if err != nil {
				return err
			}
			ts, err := docstore.NewTemplates(ws.Templates())
			if err != nil {
				return err
			}
			t, err := docstore.LoadTemplate(args[0])
			if err != nil {
				return err
			}
			if err := validate.Template(t, false); err != nil {
				return err
			}
			if err := ts.Save(t); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Name)
			return nil
		},
	}
	addCommonFlags(cmd.Flags())
	return cmd
}

func templatesDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			ws, err := openWorkspace(v)
			if err != nil {
				return err
			}
			ts, err := docstore.NewTemplates(ws.Templates())
			if err != nil {
				return err
			}
			ok, err := ts.Delete(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("template %s: %w", args[0], docstore.ErrNotFound)
			}
			return nil
		},
	}
	addCommonFlags(cmd.Flags())
	return cmd
}

func classesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classes",
		Short: "List class rosters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			ws, err := openWorkspace(v)
			if err != nil {
				return err
			}
			names, err := roster.List(ws.Classes())
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "ROSTER\tSTUDENTS")
			for _, n := range names {
				students, err := roster.Load(filepath.Join(ws.Classes(), n))
				count := fmt.Sprint(len(students))
				if err != nil {
					count = "error: " + err.Error()
				}
				fmt.Fprintf(tw, "%s\t%s\n", n, count)
			}
			return tw.Flush()
		},
	}
	addCommonFlags(cmd.Flags())
	cmd.AddCommand(classesImportCmd(), classesDeleteCmd())
	return cmd
}

func classesImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Validate a CSV/XLSX roster and store it as CSV under classes/",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			ws, err := openWorkspace(v)
			if err != nil {
				return err
			}
			students, err := roster.Load(args[0])
			if err != nil {
				return err
			}
			if err := validate.Roster(students); err != nil {
				return err
			}
			name := v.GetString("name")
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			dest := filepath.Join(ws.Classes(), name+".csv")
			if err := roster.Save(dest, students); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dest)
			return nil
		},
	}
	f := cmd.Flags()
	f.String("name", "", "Roster name (default: the file name)")
	addCommonFlags(f)
	return cmd
}

func classesDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete FILE",
		Short: "Delete a roster from classes/",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			ws, err := openWorkspace(v)
			if err != nil {
				return err
			}
			ok, err := roster.Delete(ws.Classes(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("roster %s not found", args[0])
			}
			return nil
		},
	}
	addCommonFlags(cmd.Flags())
	return cmd
}
