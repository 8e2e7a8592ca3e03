// Package assemble builds per-student exams from a template and a question bank.
//
// Every exam of a run is built from the same ordered selection blocks, with a
// shared set of used question IDs so no question appears twice on one exam.
// Randomness comes from a seed derived from the run seed and the student ID,
// so a run can be reproduced exactly.
package assemble

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/pavelanni/crammer/internal/model"
)

var (
	// ErrInsufficientQuestions is returned when a block cannot be filled to its declared size.
	ErrInsufficientQuestions = errors.New("insufficient questions")
	// ErrUnknownQuestion is returned when a manual block lists an ID missing from the bank.
	ErrUnknownQuestion = errors.New("unknown question")
)

// Bank is an immutable, indexed question bank.
type Bank struct {
	questions []model.Question
	byID      map[string]int
}

// NewBank indexes questions. Later duplicates of an ID are dropped.
func NewBank(questions []model.Question) *Bank {
	b := &Bank{byID: make(map[string]int, len(questions))}
	for _, q := range questions {
		if _, dup := b.byID[q.QuestionID]; dup {
			slog.Warn("duplicate question ID in bank, keeping first", "question_id", q.QuestionID)
			continue
		}
		b.byID[q.QuestionID] = len(b.questions)
		b.questions = append(b.questions, q)
	}
	return b
}

// Len returns the number of questions in the bank.
func (b *Bank) Len() int { return len(b.questions) }

// Questions returns the questions in bank order.
func (b *Bank) Questions() []model.Question {
	return append([]model.Question(nil), b.questions...)
}

// Get returns the question with the given ID.
func (b *Bank) Get(id string) (model.Question, bool) {
	i, ok := b.byID[id]
	if !ok {
		return model.Question{}, false
	}
	return b.questions[i], true
}

// Topics returns all distinct topics, sorted.
func (b *Bank) Topics() []string {
	seen := make(map[string]bool)
	var topics []string
	for _, q := range b.questions {
		for _, t := range q.Topics {
			if !seen[t] {
				seen[t] = true
				topics = append(topics, t)
			}
		}
	}
	sort.Strings(topics)
	return topics
}

// ByTopic returns the questions tagged with topic, ignoring case.
func (b *Bank) ByTopic(topic string) []model.Question {
	var out []model.Question
	for _, q := range b.questions {
		if q.HasTopic(topic) {
			out = append(out, q)
		}
	}
	return out
}

// ByDifficulty returns the questions with difficulty d.
func (b *Bank) ByDifficulty(d model.Difficulty) []model.Question {
	var out []model.Question
	for _, q := range b.questions {
		if q.Difficulty == d {
			out = append(out, q)
		}
	}
	return out
}

// pool returns the bank indexes matching a random block, in bank order.
func (b *Bank) pool(block model.SelectionBlock) []int {
	var idx []int
	for i, q := range b.questions {
		if block.Matches(q) {
			idx = append(idx, i)
		}
	}
	return idx
}

// Selector picks questions for blocks using its own random source.
type Selector struct {
	bank   *Bank
	rng    *rand.Rand
	strict bool
}

// NewSelector returns a selector drawing from rng. In strict mode a block that
// cannot be filled completely is an error; otherwise it is filled as far as
// possible and a warning is logged.
func NewSelector(bank *Bank, rng *rand.Rand, strict bool) *Selector {
	return &Selector{bank: bank, rng: rng, strict: strict}
}

// Select returns the questions for one block, skipping any ID in used.
// The caller records the returned IDs in used.
func (s *Selector) Select(block model.SelectionBlock, used map[string]bool) ([]model.Question, error) {
	if block.Method == model.MethodManual {
		return s.selectManual(block, used)
	}
	if !block.Method.IsRandom() {
		return nil, fmt.Errorf("block %q: unsupported method %q", block.Title, block.Method)
	}

	var available []int
	for _, i := range s.bank.pool(block) {
		if !used[s.bank.questions[i].QuestionID] {
			available = append(available, i)
		}
	}

	n := block.Quantity
	if n > len(available) {
		if s.strict {
			return nil, fmt.Errorf("block %q: want %d questions, %d available: %w",
				block.Title, block.Quantity, len(available), ErrInsufficientQuestions)
		}
		slog.Warn("block short of questions", "block", block.Title, "want", block.Quantity, "available", len(available))
		n = len(available)
	}

	// Partial Fisher-Yates: the first n slots become a uniform sample.
	for i := 0; i < n; i++ {
		j := i + s.rng.IntN(len(available)-i)
		available[i], available[j] = available[j], available[i]
	}

	out := make([]model.Question, 0, n)
	for _, i := range available[:n] {
		out = append(out, s.bank.questions[i].Clone())
	}
	return out, nil
}

func (s *Selector) selectManual(block model.SelectionBlock, used map[string]bool) ([]model.Question, error) {
	out := make([]model.Question, 0, len(block.QuestionIDs))
	seen := make(map[string]bool, len(block.QuestionIDs))
	for _, id := range block.QuestionIDs {
		q, ok := s.bank.Get(id)
		switch {
		case !ok:
			if s.strict {
				return nil, fmt.Errorf("block %q: question %q: %w", block.Title, id, ErrUnknownQuestion)
			}
			slog.Warn("manual block lists unknown question, skipping", "block", block.Title, "question_id", id)
			continue
		case used[id] || seen[id]:
			if s.strict {
				return nil, fmt.Errorf("block %q: question %q already used: %w", block.Title, id, ErrInsufficientQuestions)
			}
			slog.Warn("manual block repeats a used question, skipping", "block", block.Title, "question_id", id)
			continue
		}
		seen[id] = true
		out = append(out, q.Clone())
	}
	return out, nil
}

// Assemble builds the blocks of one exam in template order.
func (s *Selector) Assemble(blocks []model.SelectionBlock) ([]model.BlockSelection, error) {
	used := make(map[string]bool)
	result := make([]model.BlockSelection, 0, len(blocks))
	for _, block := range blocks {
		qs, err := s.Select(block, used)
		if err != nil {
			return nil, err
		}
		for _, q := range qs {
			used[q.QuestionID] = true
		}
		qty := block.Quantity
		if block.Method == model.MethodManual {
			qty = len(qs)
		}
		result = append(result, model.BlockSelection{
			Title:     block.Title,
			Method:    block.Method,
			Quantity:  qty,
			Questions: qs,
		})
	}
	return result, nil
}

// StudentRand returns the random source for one student of a run. The same
// run seed and student ID always yield the same sequence.
func StudentRand(runSeed, studentID string) *rand.Rand {
	sum := sha256.Sum256([]byte(runSeed + ":" + studentID))
	return rand.New(rand.NewPCG(
		binary.BigEndian.Uint64(sum[0:8]),
		binary.BigEndian.Uint64(sum[8:16]),
	))
}

// Engine assembles exams for every student of a run.
type Engine struct {
	bank    *Bank
	blocks  []model.SelectionBlock
	runSeed string
	strict  bool
}

// NewEngine returns an engine for one template and run seed.
func NewEngine(bank *Bank, blocks []model.SelectionBlock, runSeed string, strict bool) *Engine {
	return &Engine{bank: bank, blocks: blocks, runSeed: runSeed, strict: strict}
}

// ExamFor assembles the exam for one student.
func (e *Engine) ExamFor(student model.Student) ([]model.BlockSelection, error) {
	sel := NewSelector(e.bank, StudentRand(e.runSeed, student.ID), e.strict)
	blocks, err := sel.Assemble(e.blocks)
	if err != nil {
		return nil, fmt.Errorf("student %s: %w", student.ID, err)
	}
	return blocks, nil
}

// QRPayload encodes the student, run and block structure of an exam as
// S:<student>|R:<run>|B:<title>:<method>:<qty>;...
func QRPayload(studentID, runID string, blocks []model.BlockSelection) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		title := strings.TrimSpace(strings.NewReplacer(":", "", ";", "").Replace(b.Title))
		parts = append(parts, fmt.Sprintf("%s:%s:%d", title, b.Method.Short(), b.Quantity))
	}
	return fmt.Sprintf("S:%s|R:%s|B:%s", studentID, runID, strings.Join(parts, ";"))
}
