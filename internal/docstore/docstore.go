// Package docstore keeps questions and templates as JSON or YAML documents
// under the data directory.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/crammer/internal/model"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("not found")

var docExts = []string{".json", ".yaml", ".yml"}

func isDoc(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range docExts {
		if ext == e {
			return true
		}
	}
	return false
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// decode reads a JSON or YAML document into v, chosen by extension.
func decode(path string, data []byte, v any) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

// writeJSON writes v as indented JSON through a temporary file.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Questions is a question bank stored one document per file. A file may also
// hold a list of questions.
type Questions struct {
	dir string

	mu    sync.Mutex
	cache []model.Question
}

// NewQuestions opens the question store in dir, creating it if needed.
func NewQuestions(dir string) (*Questions, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create questions dir: %w", err)
	}
	return &Questions{dir: dir}, nil
}

func (s *Questions) load() ([]model.Question, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read questions dir: %w", err)
	}
	var questions []model.Question
	for _, e := range entries {
		if e.IsDir() || !isDoc(e.Name()) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("read question file", "path", path, "error", err)
			continue
		}
		qs, err := parseQuestions(path, data)
		if err != nil {
			slog.Warn("skipping question file", "path", path, "error", err)
			continue
		}
		questions = append(questions, qs...)
	}
	return questions, nil
}

// ReadQuestions parses a question document from any path.
func ReadQuestions(path string) ([]model.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	qs, err := parseQuestions(path, data)
	if err != nil {
		return nil, fmt.Errorf("parse questions %s: %w", path, err)
	}
	return qs, nil
}

// parseQuestions accepts a single question object or a list of them.
// Malformed list entries are skipped.
func parseQuestions(path string, data []byte) ([]model.Question, error) {
	var raw any
	if err := decode(path, data, &raw); err != nil {
		return nil, err
	}
	var items []any
	switch r := raw.(type) {
	case []any:
		items = r
	case map[string]any:
		if _, ok := r["question_id"]; !ok {
			return nil, fmt.Errorf("document has no question_id")
		}
		items = []any{r}
	default:
		return nil, fmt.Errorf("unexpected document type %T", raw)
	}

	var out []model.Question
	for i, item := range items {
		// Re-encode each item as JSON so both formats share one decoder path.
		b, err := json.Marshal(item)
		if err != nil {
			slog.Warn("skipping question", "path", path, "index", i, "error", err)
			continue
		}
		var q model.Question
		if err := json.Unmarshal(b, &q); err != nil {
			slog.Warn("skipping question", "path", path, "index", i, "error", err)
			continue
		}
		if q.QuestionID == "" || q.Prompt == "" {
			slog.Warn("skipping question without id or prompt", "path", path, "index", i)
			continue
		}
		q.ApplyDefaults()
		out = append(out, q)
	}
	return out, nil
}

// All returns every question in file-name order.
func (s *Questions) All() ([]model.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil {
		qs, err := s.load()
		if err != nil {
			return nil, err
		}
		s.cache = qs
	}
	out := make([]model.Question, len(s.cache))
	for i, q := range s.cache {
		out[i] = q.Clone()
	}
	return out, nil
}

// Get returns the question with the given ID.
func (s *Questions) Get(id string) (model.Question, error) {
	all, err := s.All()
	if err != nil {
		return model.Question{}, err
	}
	for _, q := range all {
		if q.QuestionID == id {
			return q, nil
		}
	}
	return model.Question{}, fmt.Errorf("question %q: %w", id, ErrNotFound)
}

// ByTopic returns the questions tagged with topic, ignoring case.
func (s *Questions) ByTopic(topic string) ([]model.Question, error) {
	return s.filter(func(q model.Question) bool { return q.HasTopic(topic) })
}

// ByDifficulty returns the questions of difficulty d.
func (s *Questions) ByDifficulty(d model.Difficulty) ([]model.Question, error) {
	return s.filter(func(q model.Question) bool { return q.Difficulty == d })
}

func (s *Questions) filter(keep func(model.Question) bool) ([]model.Question, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	var out []model.Question
	for _, q := range all {
		if keep(q) {
			out = append(out, q)
		}
	}
	return out, nil
}

// Topics returns the distinct topics across the bank, sorted.
func (s *Questions) Topics() ([]string, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var topics []string
	for _, q := range all {
		for _, t := range q.Topics {
			if !seen[t] {
				seen[t] = true
				topics = append(topics, t)
			}
		}
	}
	sort.Strings(topics)
	return topics, nil
}

// ErrInvalidID is returned for question IDs and template names that cannot
// name a file.
var ErrInvalidID = errors.New("invalid document id")

func checkID(id string) error {
	if strings.TrimSpace(id) == "" || !model.FileSafeID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Save writes q to <id>.json and drops any other copy of the same ID from
// the store, so the saved version is the only one the bank sees.
func (s *Questions) Save(q model.Question) error {
	if err := checkID(q.QuestionID); err != nil {
		return err
	}
	name := q.QuestionID + ".json"
	path := filepath.Join(s.dir, name)
	if data, err := os.ReadFile(path); err == nil {
		var raw []any
		if json.Unmarshal(data, &raw) == nil && raw != nil {
			return fmt.Errorf("save question %s: %s holds a question list", q.QuestionID, name)
		}
	}
	if err := writeJSON(path, q); err != nil {
		return fmt.Errorf("save question %s: %w", q.QuestionID, err)
	}
	_, err := s.purge(q.QuestionID, name)
	s.invalidate()
	if err != nil {
		return fmt.Errorf("save question %s: %w", q.QuestionID, err)
	}
	slog.Info("saved question", "question_id", q.QuestionID)
	return nil
}

// Delete removes every copy of the question from the store, whether it sits
// in its own document or in a list file. It reports false if no copy existed.
func (s *Questions) Delete(id string) (bool, error) {
	if err := checkID(id); err != nil {
		return false, err
	}
	found, err := s.purge(id, "")
	s.invalidate()
	if err != nil {
		return found, fmt.Errorf("delete question %s: %w", id, err)
	}
	if found {
		slog.Info("deleted question", "question_id", id)
	}
	return found, nil
}

// purge removes the entries for id from every document except keep. List
// files are rewritten in their own format; documents left empty are removed.
func (s *Questions) purge(id, keep string) (bool, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return false, fmt.Errorf("read questions dir: %w", err)
	}
	found := false
	for _, e := range entries {
		if e.IsDir() || !isDoc(e.Name()) || e.Name() == keep {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return found, fmt.Errorf("read %s: %w", path, err)
		}
		var raw any
		if err := decode(path, data, &raw); err != nil {
			// load skips unparsable files too.
			continue
		}
		rest, removed, list := withoutID(raw, id)
		if !removed {
			continue
		}
		found = true
		if len(rest) == 0 {
			if err := os.Remove(path); err != nil {
				return found, fmt.Errorf("remove %s: %w", path, err)
			}
			continue
		}
		if !list {
			continue
		}
		if err := writeDoc(path, rest); err != nil {
			return found, fmt.Errorf("rewrite %s: %w", path, err)
		}
		slog.Debug("removed question from list file", "question_id", id, "path", path)
	}
	return found, nil
}

// withoutID filters the entries of a decoded document whose question_id is
// id. list reports whether the document was a list.
func withoutID(raw any, id string) (rest []any, removed, list bool) {
	var items []any
	switch r := raw.(type) {
	case []any:
		items, list = r, true
	case map[string]any:
		items = []any{r}
	default:
		return nil, false, false
	}
	for _, item := range items {
		if m, ok := item.(map[string]any); ok && fmt.Sprint(m["question_id"]) == id {
			removed = true
			continue
		}
		rest = append(rest, item)
	}
	return rest, removed, list
}

// writeDoc writes v back to path in the format its extension names.
func writeDoc(path string, v any) error {
	if !isYAML(path) {
		return writeJSON(path, v)
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Questions) invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

// Templates stores one template document per file; the name is the file stem.
type Templates struct {
	dir string
}

// NewTemplates opens the template store in dir, creating it if needed.
func NewTemplates(dir string) (*Templates, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create templates dir: %w", err)
	}
	return &Templates{dir: dir}, nil
}

// Names returns the sorted template names.
func (s *Templates) Names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read templates dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !isDoc(e.Name()) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Templates) path(name string) (string, error) {
	if !model.FileSafeID(name) {
		return "", fmt.Errorf("template %q: %w", name, ErrNotFound)
	}
	for _, ext := range docExts {
		p := filepath.Join(s.dir, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("template %q: %w", name, ErrNotFound)
}

// Get loads the template with the given name.
func (s *Templates) Get(name string) (model.Template, error) {
	p, err := s.path(name)
	if err != nil {
		return model.Template{}, err
	}
	return LoadTemplate(p)
}

// Save writes t to <name>.json.
func (s *Templates) Save(t model.Template) error {
	if strings.TrimSpace(t.Name) == "" || !model.FileSafeID(t.Name) {
		return fmt.Errorf("save template: %w: %q", ErrInvalidID, t.Name)
	}
	path := filepath.Join(s.dir, t.Name+".json")
	if err := writeJSON(path, t); err != nil {
		return fmt.Errorf("save template %s: %w", t.Name, err)
	}
	slog.Info("saved template", "name", t.Name)
	return nil
}

// Delete removes the template. It reports false if it did not exist.
func (s *Templates) Delete(name string) (bool, error) {
	p, err := s.path(name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err := os.Remove(p); err != nil {
		return false, fmt.Errorf("delete template %s: %w", name, err)
	}
	slog.Info("deleted template", "name", name)
	return true, nil
}

// LoadTemplate reads a template document from any path. The template name is
// taken from the file stem.
func LoadTemplate(path string) (model.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.Template{}, fmt.Errorf("template %s: %w", path, ErrNotFound)
		}
		return model.Template{}, fmt.Errorf("read template: %w", err)
	}
	var t model.Template
	if err := decode(path, data, &t); err != nil {
		return model.Template{}, fmt.Errorf("parse template %s: %w", path, err)
	}
	t.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return t, nil
}
