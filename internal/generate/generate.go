// Package generate runs the full pipeline for one template and roster:
// selection, rendering and compilation of one exam per student.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/crammer/internal/assemble"
	"github.com/pavelanni/crammer/internal/i18n"
	"github.com/pavelanni/crammer/internal/latex"
	"github.com/pavelanni/crammer/internal/metrics"
	"github.com/pavelanni/crammer/internal/model"
	"github.com/pavelanni/crammer/internal/store"
	"github.com/pavelanni/crammer/internal/validate"
)

// Subdirectories of a run directory.
const (
	TexDir    = "tex"
	PDFDir    = "pdf"
	LogDir    = "log"
	AssetsDir = "assets"
)

// Options describe one generation run.
type Options struct {
	Template  model.Template
	Students  []model.Student
	Questions []model.Question
	// OutputDir is the parent of run directories.
	OutputDir string
	// Seed overrides the run seed. The run ID is used when empty.
	Seed string
	// Workers bounds the number of students processed at once.
	Workers int
	// Lenient fills short blocks as far as possible instead of failing.
	Lenient   bool
	NoCompile bool
	Lang      string
}

// Result summarizes a finished run.
type Result struct {
	Run     model.Run
	Exams   []model.ExamRecord
	Success bool
}

// ProgressFunc receives progress updates. Calls are serialized.
type ProgressFunc func(model.Progress)

// Generator holds the long-lived collaborators of a run.
type Generator struct {
	renderer *latex.Renderer
	compiler latex.Compiler
	store    *store.Store
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a generator. st and m may be nil.
func New(renderer *latex.Renderer, compiler latex.Compiler, st *store.Store, m *metrics.Metrics) *Generator {
	return &Generator{
		renderer: renderer,
		compiler: compiler,
		store:    st,
		metrics:  m,
		now:      time.Now,
	}
}

// run holds the state shared by the workers of one run.
type run struct {
	g        *Generator
	opts     Options
	id       string
	dir      string
	engine   *assemble.Engine
	assets   *latex.Assets
	logo     string
	date     string
	progress ProgressFunc
	mu       sync.Mutex
}

func (r *run) emit(p model.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress != nil {
		r.progress(p)
	}
}

// Run validates the inputs, then generates every exam. A failure for one
// student is reported through progress and the result; it never stops the
// others. The returned error covers setup problems and cancellation only.
func (g *Generator) Run(ctx context.Context, opts Options, progress ProgressFunc) (*Result, error) {
	if err := validate.Template(opts.Template, false); err != nil {
		return nil, err
	}
	if err := validate.Roster(opts.Students); err != nil {
		return nil, err
	}

	bank := assemble.NewBank(opts.Questions)
	plan := assemble.Check(bank, opts.Template.Blocks)
	if !plan.Feasible() {
		if !opts.Lenient {
			return nil, plan.Err()
		}
		slog.Warn("template may leave blocks short", "error", plan.Err())
	}

	lang := opts.Lang
	if lang == "" {
		lang = i18n.DetectLang()
	}
	ctx = i18n.WithLang(ctx, lang)

	started := g.now().UTC()
	id, dir, err := g.makeRunDir(opts.OutputDir, started)
	if err != nil {
		return nil, err
	}
	seed := opts.Seed
	if seed == "" {
		seed = id
	}

	assets, err := latex.NewAssets(filepath.Join(dir, TexDir, AssetsDir))
	if err != nil {
		return nil, err
	}

	record := model.Run{
		ID:           id,
		TemplateName: opts.Template.Name,
		Seed:         seed,
		Dir:          dir,
		Status:       model.RunRunning,
		StartedAt:    started,
		StudentCount: len(opts.Students),
	}
	if g.store != nil {
		if err := g.store.CreateRun(record); err != nil {
			return nil, err
		}
		if err := g.store.SetMetadata(store.MetaLastRun, id); err != nil {
			slog.Warn("record last run", "error", err)
		}
	}
	g.metrics.RunStarted()
	slog.Info("run started", "run_id", id, "template", opts.Template.Name, "students", len(opts.Students), "seed", seed)

	r := &run{
		g:        g,
		opts:     opts,
		id:       id,
		dir:      dir,
		engine:   assemble.NewEngine(bank, opts.Template.Blocks, seed, !opts.Lenient),
		assets:   assets,
		date:     i18n.FormatDate(ctx, started),
		progress: progress,
	}

	r.emit(model.Progress{Stage: model.StageLoading, Message: i18n.Td(ctx, "ProgressOutputDir", map[string]any{"Dir": dir}), Success: true})
	if opts.Template.LogoPath != "" {
		r.logo = assets.Copy(opts.Template.LogoPath)
	}
	r.emit(model.Progress{Stage: model.StageLoading, Message: i18n.Tp(ctx, "ProgressQuestionsLoaded", bank.Len()), Success: true})
	r.emit(model.Progress{Stage: model.StageLoading, Message: i18n.Tp(ctx, "ProgressStudentsFound", len(opts.Students)), Success: true})

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	exams := make([]model.ExamRecord, len(opts.Students))
	var eg errgroup.Group
	eg.SetLimit(workers)
	for i, student := range opts.Students {
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			exams[i] = r.student(ctx, i+1, student)
			return nil
		})
	}
	_ = eg.Wait()

	success := ctx.Err() == nil
	for _, e := range exams {
		if e.Status == model.ExamFailed || e.Status == "" {
			success = false
		}
	}

	record.Status = model.RunCompleted
	if !success {
		record.Status = model.RunFailed
	}
	finished := g.now().UTC()
	record.FinishedAt = &finished
	if g.store != nil {
		if err := g.store.FinishRun(id, record.Status, finished); err != nil {
			slog.Error("finish run", "run_id", id, "error", err)
		}
	}
	g.metrics.RunCompleted(string(record.Status), finished.Sub(started))

	msg := i18n.T(ctx, "ProgressDoneOK")
	if !success {
		msg = i18n.T(ctx, "ProgressDoneErrors")
	}
	r.emit(model.Progress{Stage: model.StageComplete, Message: msg, Success: success})
	slog.Info("run finished", "run_id", id, "status", record.Status, "duration", finished.Sub(started))

	res := &Result{Run: record, Exams: exams, Success: success}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("run %s: %w", id, err)
	}
	return res, nil
}

// makeRunDir creates <output>/<unix seconds>/{tex,pdf,log}. If the directory
// already exists the next second is tried.
func (g *Generator) makeRunDir(output string, at time.Time) (string, string, error) {
	if err := os.MkdirAll(output, 0o755); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}
	secs := at.Unix()
	for {
		id := strconv.FormatInt(secs, 10)
		dir := filepath.Join(output, id)
		err := os.Mkdir(dir, 0o755)
		if errors.Is(err, os.ErrExist) {
			secs++
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("create run dir: %w", err)
		}
		for _, sub := range []string{TexDir, PDFDir, LogDir} {
			if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
				return "", "", fmt.Errorf("create run dir: %w", err)
			}
		}
		return id, dir, nil
	}
}

// FileBase is the file name stem of a student's exam.
func FileBase(prefix string, s model.Student) string {
	return fmt.Sprintf("%s_%s_%s", prefix, s.SanitizedName(), s.ID)
}

// student runs the pipeline for one student and returns the exam record.
func (r *run) student(ctx context.Context, n int, s model.Student) model.ExamRecord {
	total := len(r.opts.Students)
	at := func(stage model.Stage, msg string, ok bool) model.Progress {
		return model.Progress{Stage: stage, Message: msg, StudentName: s.Name, Current: n, Total: total, Success: ok}
	}
	rec := model.ExamRecord{
		ID:          uuid.NewString(),
		RunID:       r.id,
		StudentID:   s.ID,
		StudentName: s.Name,
		Status:      model.ExamPending,
	}
	fail := func(msgID string, err error) model.ExamRecord {
		msg := i18n.Td(ctx, msgID, map[string]any{"Name": s.Name, "Error": err.Error(), "Path": rec.TexPath})
		slog.Error("exam failed", "run_id", r.id, "student_id", s.ID, "error", err)
		r.emit(at(model.StageError, msg, false))
		rec.Status = model.ExamFailed
		rec.Error = err.Error()
		r.update(rec)
		r.g.metrics.ExamFinished(string(rec.Status))
		return rec
	}

	r.emit(at(model.StageSelecting, i18n.Td(ctx, "ProgressProcessing", map[string]any{"Name": s.Name}), true))
	t0 := time.Now()
	blocks, err := r.engine.ExamFor(s)
	r.g.metrics.ObserveStage("select", time.Since(t0))
	if err != nil {
		r.insert(rec)
		return fail("ProgressSelectFailed", err)
	}
	r.assets.Localize(blocks)
	rec.QRData = assemble.QRPayload(s.ID, r.id, blocks)
	for i, b := range blocks {
		rec.Blocks = append(rec.Blocks, model.BlockRecord{Position: i, Title: b.Title, Method: b.Method, QuestionIDs: b.QuestionIDs()})
	}
	r.insert(rec)

	r.emit(at(model.StageRendering, i18n.Td(ctx, "ProgressRendering", map[string]any{"Name": s.Name}), true))
	t0 = time.Now()
	tpl := r.opts.Template
	tex, err := r.g.renderer.Render(latex.Data{
		DocumentTitle: tpl.DocumentTitle,
		CourseInfo:    tpl.CourseInfo,
		LogoPath:      r.logo,
		Student:       s,
		Blocks:        latex.NumberBlocks(blocks),
		Date:          r.date,
		QRData:        rec.QRData,
		Babel:         i18n.BabelLanguage(ctx),
		Labels:        i18n.Labels(ctx),
	})
	if err != nil {
		return fail("ProgressRenderFailed", err)
	}
	base := FileBase(tpl.FilenamePrefix, s)
	texPath := filepath.Join(r.dir, TexDir, base+".tex")
	if err := os.WriteFile(texPath, []byte(tex), 0o644); err != nil {
		return fail("ProgressRenderFailed", err)
	}
	r.g.metrics.ObserveStage("render", time.Since(t0))
	rec.TexPath = texPath
	rec.Status = model.ExamRendered
	r.update(rec)
	r.emit(at(model.StageRendering, i18n.Td(ctx, "ProgressTexSaved", map[string]any{"Path": texPath}), true))

	if r.opts.NoCompile {
		r.emit(at(model.StageCompiling, i18n.T(ctx, "ProgressCompileSkipped"), true))
		r.g.metrics.ExamFinished(string(rec.Status))
		return rec
	}

	r.emit(at(model.StageCompiling, i18n.Td(ctx, "ProgressCompiling", map[string]any{"Name": s.Name}), true))
	t0 = time.Now()
	outBase := filepath.Join(r.dir, PDFDir, base)
	err = r.g.compiler.Compile(ctx, tex, outBase, filepath.Join(r.dir, TexDir))
	r.g.metrics.ObserveStage("compile", time.Since(t0))
	if err != nil {
		r.moveLog(base)
		return fail("ProgressCompileFailed", err)
	}
	rec.PDFPath = outBase + ".pdf"
	rec.Status = model.ExamCompiled
	r.update(rec)
	r.g.metrics.ExamFinished(string(rec.Status))
	r.emit(at(model.StageCompiling, i18n.Td(ctx, "ProgressCompiled", map[string]any{"Compiler": r.g.compiler.Name()}), true))
	return rec
}

// moveLog moves a compilation log from pdf/ into log/.
func (r *run) moveLog(base string) {
	name := base + "_compilation.log"
	src := filepath.Join(r.dir, PDFDir, name)
	if _, err := os.Stat(src); err != nil {
		return
	}
	if err := os.Rename(src, filepath.Join(r.dir, LogDir, name)); err != nil {
		slog.Warn("move compilation log", "path", src, "error", err)
	}
}

func (r *run) insert(rec model.ExamRecord) {
	if r.g.store == nil {
		return
	}
	if err := r.g.store.InsertExam(rec); err != nil {
		slog.Error("record exam", "run_id", r.id, "student_id", rec.StudentID, "error", err)
	}
}

func (r *run) update(rec model.ExamRecord) {
	if r.g.store == nil {
		return
	}
	if err := r.g.store.UpdateExam(rec.ID, rec.Status, rec.TexPath, rec.PDFPath, rec.Error); err != nil {
		slog.Error("update exam", "run_id", r.id, "exam_id", rec.ID, "error", err)
	}
}
