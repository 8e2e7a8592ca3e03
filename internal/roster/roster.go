// Package roster reads and writes class rosters stored as CSV or XLSX files.
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/crammer/internal/model"
)

// Column names of the roster header row.
const (
	ColName = "student_name"
	ColID   = "student_id"
)

var (
	// ErrEmpty is returned when a roster holds no usable student rows.
	ErrEmpty = errors.New("roster has no students")
	// ErrHeader is returned when the header row lacks a required column.
	ErrHeader = errors.New("roster header must contain student_name and student_id")
)

// Load reads a roster, choosing the format by extension (.xlsx or CSV).
func Load(path string) ([]model.Student, error) {
	var (
		students []model.Student
		err      error
	)
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		students, err = loadXLSX(path)
	} else {
		students, err = loadCSV(path)
	}
	if err != nil {
		return nil, err
	}
	if len(students) == 0 {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrEmpty)
	}
	slog.Info("loaded roster", "file", filepath.Base(path), "students", len(students))
	return students, nil
}

func loadCSV(path string) ([]model.Student, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read roster %s: %w", filepath.Base(path), err)
		}
		rows = append(rows, rec)
	}
	return fromRows(path, rows)
}

func loadXLSX(path string) ([]model.Student, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open roster workbook: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("close roster workbook", "path", path, "error", err)
		}
	}()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrEmpty)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return fromRows(path, rows)
}

// fromRows maps rows to students using the header row. Rows missing a field
// are skipped with a warning.
func fromRows(path string, rows [][]string) ([]model.Student, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	nameCol, idCol := -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case ColName:
			nameCol = i
		case ColID:
			idCol = i
		}
	}
	if nameCol < 0 || idCol < 0 {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrHeader)
	}

	cell := func(row []string, i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var students []model.Student
	for i, row := range rows[1:] {
		s := model.Student{Name: cell(row, nameCol), ID: cell(row, idCol)}
		if s.Name == "" && s.ID == "" {
			continue
		}
		if s.Name == "" || s.ID == "" {
			slog.Warn("skipping roster row with missing field", "file", filepath.Base(path), "row", i+2)
			continue
		}
		students = append(students, s)
	}
	return students, nil
}

// Save writes students as a CSV roster, creating parent directories.
func Save(path string, students []model.Student) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create roster dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create roster: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{ColName, ColID}); err != nil {
		f.Close()
		return fmt.Errorf("write roster: %w", err)
	}
	for _, s := range students {
		if err := w.Write([]string{s.Name, s.ID}); err != nil {
			f.Close()
			return fmt.Errorf("write roster: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write roster: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close roster: %w", err)
	}
	slog.Info("saved roster", "file", filepath.Base(path), "students", len(students))
	return nil
}

// List returns the roster file names in dir, sorted.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read classes dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".csv", ".xlsx":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a roster file from dir. It reports false if it did not exist.
func Delete(dir, name string) (bool, error) {
	err := os.Remove(filepath.Join(dir, filepath.Base(name)))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete roster %s: %w", name, err)
	}
	slog.Info("deleted roster", "file", name)
	return true, nil
}
