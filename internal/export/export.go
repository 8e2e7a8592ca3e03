// Package export writes run manifests as Excel workbooks.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/crammer/internal/model"
)

// Sheet names of a manifest workbook.
const (
	SheetRun   = "Run"
	SheetExams = "Exams"
	SheetUsage = "Usage"
)

var examHeader = []any{"Student Name", "Student ID", "Status", "Exam ID", "Questions", "TeX", "PDF", "Error"}

// Manifest builds a workbook describing a run: a summary sheet, one row per
// exam and the number of exams each question appeared on.
func Manifest(exp *model.RunExport) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetRun); err != nil {
		f.Close()
		return nil, err
	}
	for _, name := range []string{SheetExams, SheetUsage} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, err
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}

	w := sheetWriter{f: f, bold: bold}
	w.summary(exp)
	w.exams(exp.Exams)
	w.usage(exp.Usage)
	if w.err != nil {
		f.Close()
		return nil, fmt.Errorf("build manifest: %w", w.err)
	}
	return f, nil
}

// Write streams the manifest of exp to out.
func Write(out io.Writer, exp *model.RunExport) error {
	f, err := Manifest(exp)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(out)
}

// Save writes the manifest of exp to path.
func Save(path string, exp *model.RunExport) error {
	f, err := Manifest(exp)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save manifest %s: %w", path, err)
	}
	return nil
}

// sheetWriter keeps the first error so rows can be written without checks
// after every call.
type sheetWriter struct {
	f    *excelize.File
	bold int
	err  error
}

func (w *sheetWriter) row(sheet string, n int, values []any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetSheetRow(sheet, cell, &values)
}

func (w *sheetWriter) header(sheet string, values []any) {
	w.row(sheet, 1, values)
	if w.err != nil {
		return
	}
	last, err := excelize.CoordinatesToCellName(len(values), 1)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellStyle(sheet, "A1", last, w.bold)
}

func (w *sheetWriter) summary(exp *model.RunExport) {
	r := exp.Run
	finished := ""
	if r.FinishedAt != nil {
		finished = r.FinishedAt.Format(time.RFC3339)
	}
	counts := make(map[model.ExamStatus]int)
	for _, e := range exp.Exams {
		counts[e.Status]++
	}
	rows := [][]any{
		{"Run ID", r.ID},
		{"Template", r.TemplateName},
		{"Seed", r.Seed},
		{"Directory", r.Dir},
		{"Status", string(r.Status)},
		{"Started", r.StartedAt.Format(time.RFC3339)},
		{"Finished", finished},
		{"Students", r.StudentCount},
		{"Compiled", counts[model.ExamCompiled]},
		{"Rendered only", counts[model.ExamRendered]},
		{"Failed", counts[model.ExamFailed]},
	}
	for i, v := range rows {
		w.row(SheetRun, i+1, v)
	}
	if w.err == nil {
		w.err = w.f.SetCellStyle(SheetRun, "A1", fmt.Sprintf("A%d", len(rows)), w.bold)
	}
	if w.err == nil {
		w.err = w.f.SetColWidth(SheetRun, "A", "A", 16)
	}
}

func (w *sheetWriter) exams(exams []model.ExamRecord) {
	w.header(SheetExams, examHeader)
	for i, e := range exams {
		w.row(SheetExams, i+2, []any{
			e.StudentName, e.StudentID, string(e.Status), e.ID,
			questionList(e.Blocks), e.TexPath, e.PDFPath, e.Error,
		})
	}
	if w.err == nil {
		w.err = w.f.SetColWidth(SheetExams, "A", "A", 28)
	}
}

func (w *sheetWriter) usage(usage []model.QuestionUsage) {
	w.header(SheetUsage, []any{"Question ID", "Exams"})
	for i, u := range usage {
		w.row(SheetUsage, i+2, []any{u.QuestionID, u.Exams})
	}
}

// questionList renders picked questions as "Block: Q1, Q2 | Block: Q3".
func questionList(blocks []model.BlockRecord) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, b.Title+": "+strings.Join(b.QuestionIDs, ", "))
	}
	return strings.Join(parts, " | ")
}
