package assemble

import (
	"errors"
	"strings"
	"testing"

	"github.com/pavelanni/crammer/internal/model"
)

func TestCheck(t *testing.T) {
	b := testBank(t)

	tests := []struct {
		name        string
		blocks      []model.SelectionBlock
		feasible    bool
		wantProblem string
		guarantees  []int
	}{
		{
			name: "disjoint pools",
			blocks: []model.SelectionBlock{
				{Title: "Rec", Method: model.MethodRandomTopic, Topic: "recursion", Quantity: 2},
				{Title: "Medium", Method: model.MethodRandomDifficulty, Difficulty: model.DifficultyMedium, Quantity: 2},
			},
			feasible:   true,
			guarantees: []int{2, 2},
		},
		{
			name: "overlap reduces guarantee",
			blocks: []model.SelectionBlock{
				// loops pool: L1 L2 L3; arrays pool: L3 A1 A2 A3
				{Title: "Loops", Method: model.MethodRandomTopic, Topic: "loops", Quantity: 2},
				{Title: "Arrays", Method: model.MethodRandomTopic, Topic: "arrays", Quantity: 4},
			},
			feasible:    false,
			wantProblem: "only 3 are guaranteed",
			guarantees:  []int{3, 3},
		},
		{
			name: "manual ids reduce later pools",
			blocks: []model.SelectionBlock{
				{Title: "Fixed", Method: model.MethodManual, QuestionIDs: model.StringList{"R1", "R2"}},
				{Title: "Rec", Method: model.MethodRandomTopic, Topic: "recursion", Quantity: 1},
			},
			feasible:    false,
			wantProblem: "needs 1 questions but only 0",
			guarantees:  []int{2, 0},
		},
		{
			name: "unknown manual id",
			blocks: []model.SelectionBlock{
				{Title: "Fixed", Method: model.MethodManual, QuestionIDs: model.StringList{"ZZ"}},
			},
			feasible:    false,
			wantProblem: "unknown question IDs: ZZ",
			guarantees:  []int{0},
		},
		{
			name: "manual after overlapping random",
			blocks: []model.SelectionBlock{
				{Title: "Any", Method: model.MethodRandomAll, Quantity: 1},
				{Title: "Fixed", Method: model.MethodManual, QuestionIDs: model.StringList{"A1"}},
			},
			feasible:    false,
			wantProblem: "may already be drawn",
			guarantees:  []int{8, 0},
		},
		{
			name: "whole bank",
			blocks: []model.SelectionBlock{
				{Title: "Fixed", Method: model.MethodManual, QuestionIDs: model.StringList{"L1"}},
				{Title: "Any", Method: model.MethodRandomAll, Quantity: 7},
			},
			feasible:   true,
			guarantees: []int{1, 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Check(b, tt.blocks)
			if plan.Feasible() != tt.feasible {
				t.Fatalf("Feasible() = %v, want %v (plan %+v)", plan.Feasible(), tt.feasible, plan)
			}
			for i, g := range tt.guarantees {
				if plan.Blocks[i].Guarantee != g {
					t.Errorf("block %d guarantee = %d, want %d", i, plan.Blocks[i].Guarantee, g)
				}
			}
			err := plan.Err()
			if tt.feasible {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInsufficientQuestions) {
				t.Errorf("expected ErrInsufficientQuestions, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantProblem) {
				t.Errorf("error %q does not mention %q", err, tt.wantProblem)
			}
		})
	}
}

func TestFeasiblePlanNeverFailsStrictAssembly(t *testing.T) {
	b := testBank(t)
	blocks := []model.SelectionBlock{
		{Title: "Loops", Method: model.MethodRandomTopic, Topic: "loops", Quantity: 2},
		{Title: "Arrays", Method: model.MethodRandomTopic, Topic: "arrays", Quantity: 3},
		{Title: "Easy", Method: model.MethodRandomDifficulty, Difficulty: model.DifficultyEasy, Quantity: 1},
	}
	if err := Check(b, blocks).Err(); err != nil {
		t.Fatalf("expected feasible plan: %v", err)
	}
	for _, seed := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		for _, sid := range []string{"1", "2", "3", "4", "5"} {
			if _, err := NewEngine(b, blocks, seed, true).ExamFor(model.Student{ID: sid}); err != nil {
				t.Fatalf("seed %s student %s: %v", seed, sid, err)
			}
		}
	}
}
