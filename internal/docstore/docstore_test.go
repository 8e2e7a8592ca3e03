package docstore

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pavelanni/crammer/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestQuestionsLoadFormats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "q1.json", `{
  "question_id": "Q1",
  "prompt": "What is a loop?",
  "topics": "loops, basics",
  "difficulty": "Easy",
  "image": {"path": "fig.png"}
}`)
	writeFile(t, dir, "list.yaml", `
- question_id: Q2
  prompt: Explain recursion.
  topics: [recursion]
  difficulty: hard
- question_id: ""
  prompt: missing id
- question_id: Q3
  prompt: Sort an array.
  topics: [arrays, Loops]
`)
	writeFile(t, dir, "broken.json", `{not json`)
	writeFile(t, dir, "notes.txt", `ignored`)

	s, err := NewQuestions(dir)
	if err != nil {
		t.Fatalf("NewQuestions: %v", err)
	}
	all, err := s.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}

	var got []string
	for _, q := range all {
		got = append(got, q.QuestionID)
	}
	// list.yaml sorts before q1.json.
	if want := []string{"Q2", "Q3", "Q1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("IDs = %v, want %v", got, want)
	}

	q1, err := s.Get("Q1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(q1.Topics, model.StringList{"loops", "basics"}) {
		t.Errorf("topics = %v", q1.Topics)
	}
	if q1.Difficulty != model.DifficultyEasy {
		t.Errorf("difficulty = %q", q1.Difficulty)
	}
	if q1.Image.WidthCM != model.DefaultImageWidthCM || q1.Image.Position != model.ImageAbove {
		t.Errorf("image defaults not applied: %+v", q1.Image)
	}

	loops, _ := s.ByTopic("loops")
	if len(loops) != 2 {
		t.Errorf("ByTopic(loops) = %d questions, want 2", len(loops))
	}
	hard, _ := s.ByDifficulty(model.DifficultyHard)
	if len(hard) != 1 || hard[0].QuestionID != "Q2" {
		t.Errorf("ByDifficulty(hard) = %v", hard)
	}
	topics, _ := s.Topics()
	if want := []string{"Loops", "arrays", "basics", "loops", "recursion"}; !reflect.DeepEqual(topics, want) {
		t.Errorf("Topics() = %v, want %v", topics, want)
	}

	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestQuestionsSaveDeleteInvalidatesCache(t *testing.T) {
	s, err := NewQuestions(t.TempDir())
	if err != nil {
		t.Fatalf("NewQuestions: %v", err)
	}
	all, _ := s.All()
	if len(all) != 0 {
		t.Fatalf("expected empty store, got %d", len(all))
	}

	q := model.Question{QuestionID: "N1", Prompt: "Café?", Topics: model.StringList{"misc"}}
	if err := s.Save(q); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Get("N1")
	if err != nil {
		t.Fatalf("Get after save: %v", err)
	}
	if got.Prompt != "Café?" {
		t.Errorf("prompt = %q", got.Prompt)
	}

	// Returned questions are copies.
	got.Topics[0] = "changed"
	again, _ := s.Get("N1")
	if again.Topics[0] != "misc" {
		t.Errorf("cache was mutated through a returned question")
	}

	ok, err := s.Delete("N1")
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	if _, err := s.Get("N1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	ok, err = s.Delete("N1")
	if err != nil || ok {
		t.Errorf("second Delete = %v, %v", ok, err)
	}
}

func TestQuestionsSaveDeleteListFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a_bank.json", `[
  {"question_id": "Q1", "prompt": "OLD", "topics": ["misc"]},
  {"question_id": "Q2", "prompt": "Keep me", "topics": ["misc"]}
]`)
	writeFile(t, dir, "b_bank.yaml", `
- question_id: Q3
  prompt: Only one
  topics: [misc]
`)
	s, err := NewQuestions(dir)
	if err != nil {
		t.Fatalf("NewQuestions: %v", err)
	}

	if err := s.Save(model.Question{QuestionID: "Q1", Prompt: "NEW", Topics: model.StringList{"misc"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	all, _ := s.All()
	var copies []string
	for _, q := range all {
		if q.QuestionID == "Q1" {
			copies = append(copies, q.Prompt)
		}
	}
	if !reflect.DeepEqual(copies, []string{"NEW"}) {
		t.Errorf("Q1 copies after save = %v, want [NEW]", copies)
	}
	if q, err := s.Get("Q2"); err != nil || q.Prompt != "Keep me" {
		t.Errorf("list neighbour lost: %+v %v", q, err)
	}

	ok, err := s.Delete("Q1")
	if err != nil || !ok {
		t.Fatalf("Delete(Q1) = %v, %v", ok, err)
	}
	if _, err := s.Get("Q1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Q1 still in bank after delete: %v", err)
	}

	// A YAML list left empty is removed.
	ok, err = s.Delete("Q3")
	if err != nil || !ok {
		t.Fatalf("Delete(Q3) = %v, %v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "b_bank.yaml")); !os.IsNotExist(err) {
		t.Errorf("empty list file kept: %v", err)
	}
	all, _ = s.All()
	if len(all) != 1 || all[0].QuestionID != "Q2" {
		t.Errorf("bank = %+v, want only Q2", all)
	}
}

func TestQuestionsRejectUnsafeIDs(t *testing.T) {
	dir := t.TempDir()
	s, err := NewQuestions(filepath.Join(dir, "questions"))
	if err != nil {
		t.Fatalf("NewQuestions: %v", err)
	}
	for _, id := range []string{"../templates/x", `..\x`, "a/b", ".."} {
		if err := s.Save(model.Question{QuestionID: id, Prompt: "p", Topics: model.StringList{"t"}}); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Save(%q) = %v, want ErrInvalidID", id, err)
		}
		if _, err := s.Delete(id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Delete(%q) = %v, want ErrInvalidID", id, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "templates")); !os.IsNotExist(err) {
		t.Errorf("file written outside the questions dir")
	}
}

func TestQuestionsSaveRefusesListFileName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Q1.json", `[{"question_id": "Q1", "prompt": "p", "topics": ["t"]}, {"question_id": "Q2", "prompt": "p", "topics": ["t"]}]`)
	s, _ := NewQuestions(dir)
	if err := s.Save(model.Question{QuestionID: "Q1", Prompt: "new", Topics: model.StringList{"t"}}); err == nil {
		t.Fatal("expected Save to refuse overwriting a list file")
	}
	if _, err := s.Get("Q2"); err != nil {
		t.Errorf("list file was overwritten: %v", err)
	}
}

func TestTemplates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "midterm.json", `{
  "name": "ignored",
  "document_settings": {"document_title": "Midterm"},
  "course_info": {"course_name": "Algorithms", "professor": "Dr. Silva"},
  "student_info": {"csv_path": "class_a.csv"},
  "question_selection": {"blocks": [
    {"title": "Part A", "method": "random_topic", "topic": "loops", "quantity": 2},
    {"title": "Part B", "method": "manual", "question_ids": "Q1, Q2"}
  ]}
}`)
	writeFile(t, dir, "final.yaml", `
document_settings:
  document_title: Final
  filename_prefix: final
question_selection:
  blocks:
    - title: All
      method: random_all
      quantity: 5
`)

	s, err := NewTemplates(dir)
	if err != nil {
		t.Fatalf("NewTemplates: %v", err)
	}
	names, err := s.Names()
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if want := []string{"final", "midterm"}; !reflect.DeepEqual(names, want) {
		t.Errorf("Names() = %v, want %v", names, want)
	}

	mid, err := s.Get("midterm")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if mid.Name != "midterm" {
		t.Errorf("name should come from file stem, got %q", mid.Name)
	}
	if mid.FilenamePrefix != model.DefaultFilenamePrefix {
		t.Errorf("prefix = %q", mid.FilenamePrefix)
	}
	if mid.RosterPath != "class_a.csv" || mid.CourseInfo["professor"] != "Dr. Silva" {
		t.Errorf("unexpected template %+v", mid)
	}
	if len(mid.Blocks) != 2 || !reflect.DeepEqual(mid.Blocks[1].QuestionIDs, model.StringList{"Q1", "Q2"}) {
		t.Errorf("blocks = %+v", mid.Blocks)
	}

	fin, err := s.Get("final")
	if err != nil {
		t.Fatalf("Get yaml: %v", err)
	}
	if fin.FilenamePrefix != "final" || fin.Blocks[0].Quantity != 5 {
		t.Errorf("unexpected yaml template %+v", fin)
	}

	copyT := mid
	copyT.Name = "copy"
	if err := s.Save(copyT); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := s.Get("copy")
	if err != nil {
		t.Fatalf("Get copy: %v", err)
	}
	if loaded.DocumentTitle != "Midterm" || len(loaded.Blocks) != 2 {
		t.Errorf("round trip lost data: %+v", loaded)
	}

	if ok, err := s.Delete("copy"); err != nil || !ok {
		t.Errorf("Delete = %v, %v", ok, err)
	}
	if _, err := s.Get("copy"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReadQuestions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "import.yaml", `
- question_id: N1
  prompt: Define recursion.
  topics: recursion
  image:
    path: tree.png
- question_id: N2
`)
	qs, err := ReadQuestions(filepath.Join(dir, "import.yaml"))
	if err != nil {
		t.Fatalf("ReadQuestions: %v", err)
	}
	if len(qs) != 1 || qs[0].QuestionID != "N1" {
		t.Fatalf("questions = %+v", qs)
	}
	if qs[0].Image == nil || qs[0].Image.WidthCM != model.DefaultImageWidthCM || qs[0].Image.Position != model.ImageAbove {
		t.Errorf("image defaults not applied: %+v", qs[0].Image)
	}

	if _, err := ReadQuestions(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
