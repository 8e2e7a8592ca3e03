package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/pavelanni/crammer/internal/generate"
	"github.com/pavelanni/crammer/internal/handler"
	"github.com/pavelanni/crammer/internal/metrics"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run ledger and generation over HTTP",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("api-password", "", "Password for the admin user on write endpoints (or set CRAMMER_API_PASSWORD)")
	addCompilerFlags(f)
	addCommonFlags(f)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
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
	db, err := openStore(ws)
	if err != nil {
		return err
	}
	defer db.Close()

	src, err := generate.OpenSources(ws)
	if err != nil {
		return err
	}
	m := metrics.New()
	gen, err := newGenerator(v, db, m)
	if err != nil {
		return err
	}

	password := v.GetString("api-password")
	if password == "" {
		slog.Warn("no api password set; POST /api/runs is open to anyone who can reach the server")
	}
	h, err := handler.New(db, src, gen, m, handler.Config{
		Workers: v.GetInt("workers"),
		Lang:    lang,
		Lenient: v.GetBool("lenient"),
	}, password)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown", "error", err)
		}
	}()

	slog.Info("starting server",
		"addr", addr,
		"data_dir", ws.Root,
		"lang", lang,
		"workers", v.GetInt("workers"),
		"compiler", v.GetString("compiler"),
	)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
