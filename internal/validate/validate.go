// Package validate checks questions, rosters and templates before they are
// stored or used for generation.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/crammer/internal/model"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid")

var (
	once sync.Once
	v    *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			f := fl.Field()
			return f.Kind() == reflect.String && strings.TrimSpace(f.String()) != ""
		})
		_ = v.RegisterValidation("fileid", func(fl validator.FieldLevel) bool {
			f := fl.Field()
			return f.Kind() == reflect.String && model.FileSafeID(f.String())
		})
	})
	return v
}

// fieldMessages maps "Struct.Field.tag" namespaces to the message shown to the user.
var fieldMessages = map[string]string{
	"Question.QuestionID.notblank":  "Question ID cannot be empty",
	"Question.QuestionID.fileid":    "Question ID cannot contain path separators or '..'",
	"Question.Topics.min":           "Question must have at least one topic",
	"Question.Prompt.notblank":      "Question prompt cannot be empty",
	"Question.Image.Path.notblank":  "Image path cannot be empty",
	"Question.Image.WidthCM.gt":     "Image width must be positive",
	"Question.Image.Position.oneof": "Image position must be one of: above, below, left, right",
	"Student.Name.notblank":         "Student name cannot be empty",
	"Student.ID.notblank":           "Student registration number cannot be empty",
}

// invalid builds an error that wraps ErrInvalid.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// structErr runs the tag validator on s and translates the first failure.
// Field order in the struct decides which failure wins.
func structErr(s any) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate: %w", err)
	}
	fe := verrs[0]
	ns := fe.StructNamespace()
	key := ns + "." + fe.Tag()
	if msg, ok := fieldMessages[key]; ok {
		return invalid("%s", msg)
	}
	return invalid("%s failed %q", ns, fe.Tag())
}

// Question validates a single question.
func Question(q model.Question) error {
	return structErr(q)
}

// UniqueID checks that id is not among existing.
func UniqueID(id string, existing []string) error {
	for _, e := range existing {
		if e == id {
			return invalid("Question ID '%s' already exists", id)
		}
	}
	return nil
}

// Student validates a single student.
func Student(s model.Student) error {
	return structErr(s)
}

// Roster validates a whole class roster.
func Roster(students []model.Student) error {
	if len(students) == 0 {
		return invalid("Class roster cannot be empty")
	}
	seen := make(map[string]bool, len(students))
	for _, s := range students {
		if seen[s.ID] {
			return invalid("Duplicate registration numbers found in roster")
		}
		seen[s.ID] = true
	}
	for _, s := range students {
		if err := Student(s); err != nil {
			return invalid("Invalid student '%s': %s", s.Name, message(err))
		}
	}
	return nil
}

// Block validates a selection block against the rules of its method.
func Block(b model.SelectionBlock) error {
	if strings.TrimSpace(b.Title) == "" {
		return invalid("Block title cannot be empty")
	}
	switch b.Method {
	case model.MethodManual:
		if len(b.QuestionIDs) == 0 {
			return invalid("Manual selection requires at least one question ID")
		}
	case model.MethodRandomAll:
		if b.Quantity <= 0 {
			return invalid("Random selection requires a positive quantity")
		}
	case model.MethodRandomTopic:
		if b.Quantity <= 0 {
			return invalid("Random topic selection requires a positive quantity")
		}
		if strings.TrimSpace(b.Topic) == "" {
			return invalid("Random topic selection requires a topic")
		}
	case model.MethodRandomDifficulty:
		if b.Quantity <= 0 {
			return invalid("Random difficulty selection requires a positive quantity")
		}
		if b.Difficulty == model.DifficultyNone {
			return invalid("Random difficulty selection requires a difficulty level")
		}
	case model.MethodRandomType:
		return invalid("Selection by question type is not supported")
	default:
		return invalid("Unknown selection method: %s", b.Method)
	}
	return nil
}

// Template validates a template and every block in it. When requireRoster is
// false a missing roster reference is accepted, for callers that supply the
// roster separately.
func Template(t model.Template, requireRoster bool) error {
	if strings.TrimSpace(t.Name) == "" {
		return invalid("Template name cannot be empty")
	}
	if strings.TrimSpace(t.DocumentTitle) == "" {
		return invalid("Document title cannot be empty")
	}
	if strings.TrimSpace(t.FilenamePrefix) == "" {
		return invalid("Filename prefix cannot be empty")
	}
	if requireRoster && strings.TrimSpace(t.RosterPath) == "" {
		return invalid("Class roster (CSV path) must be specified")
	}
	if len(t.Blocks) == 0 {
		return invalid("Template must have at least one question selection block")
	}
	for i, b := range t.Blocks {
		if err := Block(b); err != nil {
			return invalid("Block %d ('%s'): %s", i+1, b.Title, message(err))
		}
	}
	return nil
}

// message strips the ErrInvalid prefix so nested messages read cleanly.
func message(err error) string {
	return strings.TrimPrefix(err.Error(), ErrInvalid.Error()+": ")
}
