// Package store is the run ledger: a SQLite record of every generation run
// and the exam instances it produced.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/crammer/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run or exam does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases whole.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		template_name TEXT NOT NULL,
		seed TEXT NOT NULL,
		dir TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		student_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		student_name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		tex_path TEXT NOT NULL DEFAULT '',
		pdf_path TEXT NOT NULL DEFAULT '',
		qr_data TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS exam_blocks (
		exam_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		title TEXT NOT NULL,
		method TEXT NOT NULL,
		PRIMARY KEY (exam_id, position),
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS exam_questions (
		exam_id TEXT NOT NULL,
		block_position INTEGER NOT NULL,
		position INTEGER NOT NULL,
		question_id TEXT NOT NULL,
		PRIMARY KEY (exam_id, block_position, position),
		FOREIGN KEY (exam_id, block_position) REFERENCES exam_blocks(exam_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_exams_run ON exams(run_id);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRun records the start of a run.
func (s *Store) CreateRun(r model.Run) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, template_name, seed, dir, status, started_at, student_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TemplateName, r.Seed, r.Dir, r.Status, r.StartedAt, r.StudentCount,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun sets the final status of a run.
func (s *Store) FinishRun(id string, status model.RunStatus, at time.Time) error {
	res, err := s.db.Exec(`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`, status, at, id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	return expectRow(res, "run", id)
}

const runColumns = `id, template_name, seed, dir, status, started_at, finished_at, student_count`

func scanRun(sc interface{ Scan(...any) error }) (model.Run, error) {
	var r model.Run
	err := sc.Scan(&r.ID, &r.TemplateName, &r.Seed, &r.Dir, &r.Status, &r.StartedAt, &r.FinishedAt, &r.StudentCount)
	return r, err
}

// GetRun returns a run by ID.
func (s *Store) GetRun(id string) (model.Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() ([]model.Run, error) {
	rows, err := s.db.Query(`SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// InsertExam records an exam instance together with its picked questions.
func (s *Store) InsertExam(e model.ExamRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO exams (id, run_id, student_id, student_name, status, tex_path, pdf_path, qr_data, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.StudentID, e.StudentName, e.Status, e.TexPath, e.PDFPath, e.QRData, e.Error,
	)
	if err != nil {
		return fmt.Errorf("insert exam %s: %w", e.ID, err)
	}

	for _, b := range e.Blocks {
		if _, err := tx.Exec(
			`INSERT INTO exam_blocks (exam_id, position, title, method) VALUES (?, ?, ?, ?)`,
			e.ID, b.Position, b.Title, b.Method,
		); err != nil {
			return fmt.Errorf("insert block %d of exam %s: %w", b.Position, e.ID, err)
		}
		for i, qid := range b.QuestionIDs {
			if _, err := tx.Exec(
				`INSERT INTO exam_questions (exam_id, block_position, position, question_id) VALUES (?, ?, ?, ?)`,
				e.ID, b.Position, i, qid,
			); err != nil {
				return fmt.Errorf("insert question %s of exam %s: %w", qid, e.ID, err)
			}
		}
	}

	return tx.Commit()
}

// UpdateExam records the outcome of rendering or compiling an exam.
func (s *Store) UpdateExam(id string, status model.ExamStatus, texPath, pdfPath, errMsg string) error {
	res, err := s.db.Exec(
		`UPDATE exams SET status = ?, tex_path = ?, pdf_path = ?, error = ? WHERE id = ?`,
		status, texPath, pdfPath, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("update exam %s: %w", id, err)
	}
	return expectRow(res, "exam", id)
}

const examColumns = `id, run_id, student_id, student_name, status, tex_path, pdf_path, qr_data, error`

func scanExam(sc interface{ Scan(...any) error }) (model.ExamRecord, error) {
	var e model.ExamRecord
	err := sc.Scan(&e.ID, &e.RunID, &e.StudentID, &e.StudentName, &e.Status, &e.TexPath, &e.PDFPath, &e.QRData, &e.Error)
	return e, err
}

// GetExam returns one exam of a run, with its blocks.
func (s *Store) GetExam(runID, examID string) (model.ExamRecord, error) {
	e, err := scanExam(s.db.QueryRow(`SELECT `+examColumns+` FROM exams WHERE id = ? AND run_id = ?`, examID, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ExamRecord{}, fmt.Errorf("exam %s: %w", examID, ErrNotFound)
	}
	if err != nil {
		return model.ExamRecord{}, err
	}
	if e.Blocks, err = s.examBlocks(e.ID); err != nil {
		return model.ExamRecord{}, err
	}
	return e, nil
}

// ListExams returns the exams of a run ordered by student name, with blocks.
func (s *Store) ListExams(runID string) ([]model.ExamRecord, error) {
	rows, err := s.db.Query(`SELECT `+examColumns+` FROM exams WHERE run_id = ? ORDER BY student_name, student_id`, runID)
	if err != nil {
		return nil, err
	}
	var exams []model.ExamRecord
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		exams = append(exams, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Blocks are loaded after the cursor is closed; the pool holds one connection.
	for i := range exams {
		if exams[i].Blocks, err = s.examBlocks(exams[i].ID); err != nil {
			return nil, err
		}
	}
	return exams, nil
}

func (s *Store) examBlocks(examID string) ([]model.BlockRecord, error) {
	rows, err := s.db.Query(
		`SELECT b.position, b.title, b.method, q.question_id
		 FROM exam_blocks b
		 LEFT JOIN exam_questions q ON q.exam_id = b.exam_id AND q.block_position = b.position
		 WHERE b.exam_id = ?
		 ORDER BY b.position, q.position`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []model.BlockRecord
	for rows.Next() {
		var (
			b   model.BlockRecord
			qid sql.NullString
		)
		if err := rows.Scan(&b.Position, &b.Title, &b.Method, &qid); err != nil {
			return nil, err
		}
		if n := len(blocks); n == 0 || blocks[n-1].Position != b.Position {
			b.QuestionIDs = []string{}
			blocks = append(blocks, b)
		}
		if qid.Valid {
			last := &blocks[len(blocks)-1]
			last.QuestionIDs = append(last.QuestionIDs, qid.String)
		}
	}
	return blocks, rows.Err()
}

// GetRunView builds a full view of a run with all its exams.
func (s *Store) GetRunView(runID string) (*model.RunView, error) {
	run, err := s.GetRun(runID)
	if err != nil {
		return nil, err
	}
	exams, err := s.ListExams(runID)
	if err != nil {
		return nil, err
	}
	return &model.RunView{Run: run, Exams: exams}, nil
}

// QuestionUsage counts, per question, the exams of a run that include it.
// The most used questions come first.
func (s *Store) QuestionUsage(runID string) ([]model.QuestionUsage, error) {
	rows, err := s.db.Query(
		`SELECT q.question_id, COUNT(DISTINCT q.exam_id) AS n
		 FROM exam_questions q JOIN exams e ON e.id = q.exam_id
		 WHERE e.run_id = ?
		 GROUP BY q.question_id
		 ORDER BY n DESC, q.question_id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var usage []model.QuestionUsage
	for rows.Next() {
		var u model.QuestionUsage
		if err := rows.Scan(&u.QuestionID, &u.Exams); err != nil {
			return nil, err
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
