package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyNone   Difficulty = ""
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty converts a string to a Difficulty. Matching is
// case-insensitive; empty or unknown values yield DifficultyNone.
func ParseDifficulty(s string) Difficulty {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d
	}
	return DifficultyNone
}

// UnmarshalText implements encoding.TextUnmarshaler so stored documents with
// unexpected casing or unknown levels load without error.
func (d *Difficulty) UnmarshalText(b []byte) error {
	*d = ParseDifficulty(string(b))
	return nil
}

// StringList is a list of strings that also accepts a single comma-separated
// string when decoded, as older documents stored topics that way.
type StringList []string

// SplitList splits a comma-separated string, trimming and dropping empty items.
func SplitList(s string) StringList {
	var out StringList
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (l *StringList) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*l = SplitList(s)
		return nil
	}
	var items []string
	if err := json.Unmarshal(b, &items); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*l = items
	return nil
}

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = SplitList(node.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	return fmt.Errorf("line %d: expected string or list of strings", node.Line)
}

// Image positions relative to the question prompt.
const (
	ImageAbove = "above"
	ImageBelow = "below"
	ImageLeft  = "left"
	ImageRight = "right"
)

// DefaultImageWidthCM is the width used when a question image has none.
const DefaultImageWidthCM = 10.0

// QuestionImage is an image attached to a question.
type QuestionImage struct {
	Path        string  `json:"path" yaml:"path" validate:"notblank"`
	WidthCM     float64 `json:"width_cm" yaml:"width_cm" validate:"gt=0"`
	Position    string  `json:"position" yaml:"position" validate:"oneof=above below left right"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
}

// Question is an entry in the question bank.
type Question struct {
	QuestionID string         `json:"question_id" yaml:"question_id" validate:"notblank,fileid"`
	Prompt     string         `json:"prompt" yaml:"prompt" validate:"notblank"`
	Topics     StringList     `json:"topics" yaml:"topics" validate:"min=1"`
	Difficulty Difficulty     `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`
	Notes      string         `json:"notes,omitempty" yaml:"notes,omitempty"`
	Image      *QuestionImage `json:"image,omitempty" yaml:"image,omitempty"`
}

// FileSafeID reports whether id can name a file inside a store directory:
// it holds no path separator and no "..".
func FileSafeID(id string) bool {
	return id != "." && !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}

// HasTopic reports whether the question is tagged with topic, ignoring case.
func (q Question) HasTopic(topic string) bool {
	for _, t := range q.Topics {
		if strings.EqualFold(t, topic) {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no mutable state with q.
func (q Question) Clone() Question {
	c := q
	c.Topics = append(StringList(nil), q.Topics...)
	if q.Image != nil {
		img := *q.Image
		c.Image = &img
	}
	return c
}

// ApplyDefaults fills optional image fields left empty in stored documents.
func (q *Question) ApplyDefaults() {
	if q.Image == nil {
		return
	}
	if q.Image.WidthCM == 0 {
		q.Image.WidthCM = DefaultImageWidthCM
	}
	if q.Image.Position == "" {
		q.Image.Position = ImageAbove
	}
}

// Student is a member of a class roster.
type Student struct {
	Name string `json:"student_name" yaml:"student_name" validate:"notblank"`
	ID   string `json:"student_id" yaml:"student_id" validate:"notblank"`
}

// SanitizedName returns the name in a form suitable for file names.
func (s Student) SanitizedName() string {
	return strings.ToLower(strings.ReplaceAll(s.Name, " ", "_"))
}

// SelectionMethod names how a block picks its questions.
type SelectionMethod string

const (
	MethodManual           SelectionMethod = "manual"
	MethodRandomAll        SelectionMethod = "random_all"
	MethodRandomTopic      SelectionMethod = "random_topic"
	MethodRandomDifficulty SelectionMethod = "random_difficulty"
	// MethodRandomType is accepted by the document format but never valid.
	MethodRandomType SelectionMethod = "random_type"
)

// IsRandom reports whether the method samples from a pool.
func (m SelectionMethod) IsRandom() bool {
	switch m {
	case MethodRandomAll, MethodRandomTopic, MethodRandomDifficulty:
		return true
	}
	return false
}

// Short returns the abbreviated form used in QR payloads.
func (m SelectionMethod) Short() string {
	return strings.Replace(string(m), "random_", "rnd_", 1)
}

// SelectionBlock is one ordered section of a template.
type SelectionBlock struct {
	Title       string          `json:"title" yaml:"title"`
	Method      SelectionMethod `json:"method" yaml:"method"`
	Quantity    int             `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	Topic       string          `json:"topic,omitempty" yaml:"topic,omitempty"`
	Difficulty  Difficulty      `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`
	QuestionIDs StringList      `json:"question_ids,omitempty" yaml:"question_ids,omitempty"`
}

// Matches reports whether q belongs to the block's random pool.
// Manual blocks have no pool and match nothing.
func (b SelectionBlock) Matches(q Question) bool {
	switch b.Method {
	case MethodRandomAll:
		return true
	case MethodRandomTopic:
		return q.HasTopic(b.Topic)
	case MethodRandomDifficulty:
		return b.Difficulty != DifficultyNone && q.Difficulty == b.Difficulty
	}
	return false
}

// Template is an assessment template configuration.
type Template struct {
	Name           string
	DocumentTitle  string
	FilenamePrefix string
	CourseInfo     map[string]string
	Blocks         []SelectionBlock
	LogoPath       string
	RosterPath     string
}

// Template defaults applied when a document omits them.
const (
	DefaultTemplateName   = "Unnamed Template"
	DefaultFilenamePrefix = "assessment"
)

// templateDoc is the on-disk layout of a template.
type templateDoc struct {
	Name             string            `json:"name" yaml:"name"`
	DocumentSettings documentSettings  `json:"document_settings" yaml:"document_settings"`
	CourseInfo       map[string]string `json:"course_info" yaml:"course_info"`
	StudentInfo      studentInfo       `json:"student_info" yaml:"student_info"`
	QuestionSelect   questionSelection `json:"question_selection" yaml:"question_selection"`
	LogoPath         *string           `json:"logo_path" yaml:"logo_path"`
}

type documentSettings struct {
	DocumentTitle  string `json:"document_title" yaml:"document_title"`
	FilenamePrefix string `json:"filename_prefix" yaml:"filename_prefix"`
}

type studentInfo struct {
	CSVPath *string `json:"csv_path" yaml:"csv_path"`
}

type questionSelection struct {
	Blocks []SelectionBlock `json:"blocks" yaml:"blocks"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (t Template) doc() templateDoc {
	return templateDoc{
		Name: t.Name,
		DocumentSettings: documentSettings{
			DocumentTitle:  t.DocumentTitle,
			FilenamePrefix: t.FilenamePrefix,
		},
		CourseInfo:     t.CourseInfo,
		StudentInfo:    studentInfo{CSVPath: optional(t.RosterPath)},
		QuestionSelect: questionSelection{Blocks: t.Blocks},
		LogoPath:       optional(t.LogoPath),
	}
}

func (t *Template) fromDoc(d templateDoc) {
	*t = Template{
		Name:           d.Name,
		DocumentTitle:  d.DocumentSettings.DocumentTitle,
		FilenamePrefix: d.DocumentSettings.FilenamePrefix,
		CourseInfo:     d.CourseInfo,
		Blocks:         d.QuestionSelect.Blocks,
		LogoPath:       deref(d.LogoPath),
		RosterPath:     deref(d.StudentInfo.CSVPath),
	}
	if t.Name == "" {
		t.Name = DefaultTemplateName
	}
	if t.FilenamePrefix == "" {
		t.FilenamePrefix = DefaultFilenamePrefix
	}
	if t.CourseInfo == nil {
		t.CourseInfo = map[string]string{}
	}
}

func (t Template) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.doc())
}

func (t *Template) UnmarshalJSON(b []byte) error {
	var d templateDoc
	if err := json.Unmarshal(b, &d); err != nil {
		return err
	}
	t.fromDoc(d)
	return nil
}

func (t Template) MarshalYAML() (any, error) {
	return t.doc(), nil
}

func (t *Template) UnmarshalYAML(node *yaml.Node) error {
	var d templateDoc
	if err := node.Decode(&d); err != nil {
		return err
	}
	t.fromDoc(d)
	return nil
}
