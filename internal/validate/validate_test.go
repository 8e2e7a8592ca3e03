package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/pavelanni/crammer/internal/model"
)

func validQuestion() model.Question {
	return model.Question{
		QuestionID: "Q1",
		Prompt:     "What is $2+2$?",
		Topics:     model.StringList{"arithmetic"},
		Difficulty: model.DifficultyEasy,
	}
}

func TestQuestion(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(q *model.Question)
		wantMsg string
	}{
		{"valid", func(q *model.Question) {}, ""},
		{"blank id", func(q *model.Question) { q.QuestionID = "  " }, "Question ID cannot be empty"},
		{"id with separator", func(q *model.Question) { q.QuestionID = "../templates/x" }, "Question ID cannot contain path separators"},
		{"id with backslash", func(q *model.Question) { q.QuestionID = `a\b` }, "Question ID cannot contain path separators"},
		{"id with dots", func(q *model.Question) { q.QuestionID = "a..b" }, "Question ID cannot contain path separators"},
		{"id with single dot", func(q *model.Question) { q.QuestionID = "v1.2" }, ""},
		{"blank prompt", func(q *model.Question) { q.Prompt = "" }, "Question prompt cannot be empty"},
		{"no topics", func(q *model.Question) { q.Topics = nil }, "Question must have at least one topic"},
		{"image without path", func(q *model.Question) {
			q.Image = &model.QuestionImage{WidthCM: 5, Position: model.ImageAbove}
		}, "Image path cannot be empty"},
		{"image zero width", func(q *model.Question) {
			q.Image = &model.QuestionImage{Path: "a.png", Position: model.ImageLeft}
		}, "Image width must be positive"},
		{"image bad position", func(q *model.Question) {
			q.Image = &model.QuestionImage{Path: "a.png", WidthCM: 4, Position: "middle"}
		}, "Image position must be one of"},
		{"valid image", func(q *model.Question) {
			q.Image = &model.QuestionImage{Path: "a.png", WidthCM: 4, Position: model.ImageRight}
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := validQuestion()
			tt.mutate(&q)
			err := Question(q)
			if tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantMsg)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestUniqueID(t *testing.T) {
	if err := UniqueID("Q3", []string{"Q1", "Q2"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := UniqueID("Q2", []string{"Q1", "Q2"})
	if err == nil || !strings.Contains(err.Error(), "Question ID 'Q2' already exists") {
		t.Errorf("expected duplicate error, got %v", err)
	}
}

func TestRoster(t *testing.T) {
	tests := []struct {
		name     string
		students []model.Student
		wantMsg  string
	}{
		{"empty", nil, "Class roster cannot be empty"},
		{"duplicate ids", []model.Student{{Name: "A", ID: "1"}, {Name: "B", ID: "1"}}, "Duplicate registration numbers"},
		{"blank name", []model.Student{{Name: "A", ID: "1"}, {Name: " ", ID: "2"}}, "Student name cannot be empty"},
		{"blank id", []model.Student{{Name: "Ana", ID: ""}}, "Invalid student 'Ana': Student registration number cannot be empty"},
		{"valid", []model.Student{{Name: "Ana", ID: "1"}, {Name: "Bia", ID: "2"}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Roster(tt.students)
			if tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected error containing %q, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestBlock(t *testing.T) {
	tests := []struct {
		name    string
		block   model.SelectionBlock
		wantMsg string
	}{
		{"blank title", model.SelectionBlock{Method: model.MethodRandomAll, Quantity: 1}, "Block title cannot be empty"},
		{"manual without ids", model.SelectionBlock{Title: "A", Method: model.MethodManual}, "Manual selection requires at least one question ID"},
		{"manual ok", model.SelectionBlock{Title: "A", Method: model.MethodManual, QuestionIDs: model.StringList{"Q1"}}, ""},
		{"random all zero", model.SelectionBlock{Title: "A", Method: model.MethodRandomAll}, "Random selection requires a positive quantity"},
		{"topic missing", model.SelectionBlock{Title: "A", Method: model.MethodRandomTopic, Quantity: 2}, "Random topic selection requires a topic"},
		{"topic zero qty", model.SelectionBlock{Title: "A", Method: model.MethodRandomTopic, Topic: "x"}, "Random topic selection requires a positive quantity"},
		{"difficulty missing", model.SelectionBlock{Title: "A", Method: model.MethodRandomDifficulty, Quantity: 2}, "Random difficulty selection requires a difficulty level"},
		{"difficulty ok", model.SelectionBlock{Title: "A", Method: model.MethodRandomDifficulty, Quantity: 2, Difficulty: model.DifficultyHard}, ""},
		{"by type", model.SelectionBlock{Title: "A", Method: model.MethodRandomType, Quantity: 2}, "not supported"},
		{"unknown", model.SelectionBlock{Title: "A", Method: "lottery"}, "Unknown selection method: lottery"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Block(tt.block)
			if tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected error containing %q, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestTemplate(t *testing.T) {
	base := model.Template{
		Name:           "midterm",
		DocumentTitle:  "Midterm",
		FilenamePrefix: "midterm",
		RosterPath:     "class.csv",
		Blocks: []model.SelectionBlock{
			{Title: "Part A", Method: model.MethodRandomAll, Quantity: 2},
		},
	}
	if err := Template(base, true); err != nil {
		t.Fatalf("expected valid template, got %v", err)
	}

	noRoster := base
	noRoster.RosterPath = ""
	if err := Template(noRoster, true); err == nil || !strings.Contains(err.Error(), "Class roster (CSV path) must be specified") {
		t.Errorf("expected roster error, got %v", err)
	}
	if err := Template(noRoster, false); err != nil {
		t.Errorf("roster not required, got %v", err)
	}

	badBlock := base
	badBlock.Blocks = append([]model.SelectionBlock{}, base.Blocks...)
	badBlock.Blocks = append(badBlock.Blocks, model.SelectionBlock{Title: "Part B", Method: model.MethodRandomTopic, Quantity: 1})
	err := Template(badBlock, true)
	want := "Block 2 ('Part B'): Random topic selection requires a topic"
	if err == nil || !strings.Contains(err.Error(), want) {
		t.Errorf("expected %q, got %v", want, err)
	}

	noBlocks := base
	noBlocks.Blocks = nil
	if err := Template(noBlocks, true); err == nil || !strings.Contains(err.Error(), "at least one question selection block") {
		t.Errorf("expected blocks error, got %v", err)
	}
}
