package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	appI18n "github.com/pavelanni/crammer/internal/i18n"
	"github.com/pavelanni/crammer/internal/latex"
	"github.com/pavelanni/crammer/internal/store"
	"github.com/pavelanni/crammer/internal/workspace"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "crammer",
		Short:        "Randomized per-student exam generator (LaTeX/PDF)",
		SilenceUsage: true,
	}
	root.AddCommand(
		initCmd(),
		generateCmd(),
		validateCmd(),
		questionsCmd(),
		topicsCmd(),
		templatesCmd(),
		classesCmd(),
		runsCmd(),
		exportCmd(),
		checkCmd(),
		serveCmd(),
	)
	return root
}

// addCommonFlags registers the flags every command shares.
func addCommonFlags(f *pflag.FlagSet) {
	f.String("data-dir", "", "Data directory (default $CRAMMER_DATA_DIR or ~/.crammer)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

// addCompilerFlags registers the LaTeX rendering and compilation flags.
func addCompilerFlags(f *pflag.FlagSet) {
	f.String("latex-template", "", "Custom LaTeX exam template (default: built-in)")
	f.String("compiler", latex.DefaultCommand, "LaTeX compiler command")
	f.Int("passes", latex.DefaultPasses, "Compiler passes per exam")
	f.Duration("compile-timeout", latex.DefaultTimeout, "Timeout for each compiler pass")
	f.StringP("lang", "l", "", "Exam language (en, pt-BR); detected from the locale when empty")
	f.IntP("workers", "w", 1, "Number of exams generated in parallel")
	f.Bool("lenient", false, "Fill short blocks with what is available instead of failing")
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the data directory layout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			ws, err := openWorkspace(v)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ws.Root)
			return nil
		},
	}
	addCommonFlags(cmd.Flags())
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("CRAMMER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("crammer")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/crammer")
	v.AddConfigPath("/etc/crammer")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// openWorkspace resolves the data directory and makes sure its layout exists.
func openWorkspace(v *viper.Viper) (workspace.Workspace, error) {
	ws, err := workspace.Resolve(v.GetString("data-dir"))
	if err != nil {
		return workspace.Workspace{}, err
	}
	if err := ws.EnsureLayout(); err != nil {
		return workspace.Workspace{}, err
	}
	slog.Debug("using data directory", "path", ws.Root)
	return ws, nil
}

func openStore(ws workspace.Workspace) (*store.Store, error) {
	db, err := store.New(ws.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// initI18n loads translations and returns the language in effect.
func initI18n(v *viper.Viper) (string, error) {
	lang := v.GetString("lang")
	if lang == "" {
		lang = appI18n.DetectLang()
	}
	lang = appI18n.Normalize(lang)
	if err := appI18n.Init(lang); err != nil {
		return "", fmt.Errorf("init i18n: %w", err)
	}
	return lang, nil
}
