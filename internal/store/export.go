package store

import (
	"fmt"

	"github.com/pavelanni/crammer/internal/model"
)

// ExportRun gathers a run, its exams and question usage for a manifest.
func (s *Store) ExportRun(runID string) (*model.RunExport, error) {
	view, err := s.GetRunView(runID)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	usage, err := s.QuestionUsage(runID)
	if err != nil {
		return nil, fmt.Errorf("question usage for run %s: %w", runID, err)
	}
	return &model.RunExport{RunView: *view, Usage: usage}, nil
}
