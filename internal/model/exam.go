package model

import "time"

// BlockSelection is the outcome of one selection block for one exam.
type BlockSelection struct {
	Title     string          `json:"title"`
	Method    SelectionMethod `json:"method"`
	Quantity  int             `json:"quantity"`
	Questions []Question      `json:"questions"`
}

// QuestionIDs returns the IDs of the selected questions in order.
func (b BlockSelection) QuestionIDs() []string {
	ids := make([]string, 0, len(b.Questions))
	for _, q := range b.Questions {
		ids = append(ids, q.QuestionID)
	}
	return ids
}

// RunStatus represents the state of a generation run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "completed_with_errors"
)

// ExamStatus represents the state of one exam within a run.
type ExamStatus string

const (
	ExamPending  ExamStatus = "pending"
	ExamRendered ExamStatus = "rendered"
	ExamCompiled ExamStatus = "compiled"
	ExamFailed   ExamStatus = "failed"
)

// Run is a recorded generation run.
type Run struct {
	ID           string     `json:"id"`
	TemplateName string     `json:"template_name"`
	Seed         string     `json:"seed"`
	Dir          string     `json:"dir"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	StudentCount int        `json:"student_count"`
}

// ExamRecord is the ledger entry for one generated exam.
type ExamRecord struct {
	ID          string        `json:"id"`
	RunID       string        `json:"run_id"`
	StudentID   string        `json:"student_id"`
	StudentName string        `json:"student_name"`
	Status      ExamStatus    `json:"status"`
	TexPath     string        `json:"tex_path,omitempty"`
	PDFPath     string        `json:"pdf_path,omitempty"`
	QRData      string        `json:"qr_data,omitempty"`
	Error       string        `json:"error,omitempty"`
	Blocks      []BlockRecord `json:"blocks,omitempty"`
}

// BlockRecord lists the questions picked for one block of a recorded exam.
type BlockRecord struct {
	Position    int             `json:"position"`
	Title       string          `json:"title"`
	Method      SelectionMethod `json:"method"`
	QuestionIDs []string        `json:"question_ids"`
}

// RunView combines a run with its exams for display and export.
type RunView struct {
	Run   Run          `json:"run"`
	Exams []ExamRecord `json:"exams"`
}

// Stage names a phase of generation reported in progress updates.
type Stage string

const (
	StageLoading   Stage = "loading"
	StageSelecting Stage = "selecting"
	StageRendering Stage = "rendering"
	StageCompiling Stage = "compiling"
	StageError     Stage = "error"
	StageComplete  Stage = "complete"
)

// Progress is a status update emitted while a run proceeds.
type Progress struct {
	Stage       Stage  `json:"stage"`
	Message     string `json:"message"`
	StudentName string `json:"student_name,omitempty"`
	Current     int    `json:"current,omitempty"`
	Total       int    `json:"total,omitempty"`
	Success     bool   `json:"success"`
}

// QuestionUsage counts how many exams of a run include a question.
type QuestionUsage struct {
	QuestionID string `json:"question_id"`
	Exams      int    `json:"exams"`
}

// RunExport is everything recorded about a run, ready for a manifest.
type RunExport struct {
	RunView
	Usage []QuestionUsage `json:"usage"`
}
