package generate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pavelanni/crammer/internal/docstore"
	"github.com/pavelanni/crammer/internal/model"
	"github.com/pavelanni/crammer/internal/roster"
	"github.com/pavelanni/crammer/internal/workspace"
)

// ErrUnknownRoster is returned when a roster name is not one of the rosters
// stored under classes/.
var ErrUnknownRoster = errors.New("unknown class roster")

// ErrNoRoster is returned when neither the template nor the caller names a
// class roster.
var ErrNoRoster = errors.New("no class roster specified")

// Sources loads the inputs of a run from a workspace.
type Sources struct {
	Workspace workspace.Workspace
	Questions *docstore.Questions
	Templates *docstore.Templates
}

// OpenSources opens the question and template stores of ws.
func OpenSources(ws workspace.Workspace) (*Sources, error) {
	qs, err := docstore.NewQuestions(ws.Questions())
	if err != nil {
		return nil, err
	}
	ts, err := docstore.NewTemplates(ws.Templates())
	if err != nil {
		return nil, err
	}
	return &Sources{Workspace: ws, Questions: qs, Templates: ts}, nil
}

// Template loads a template by name from the store, or from a file when ref
// looks like a path.
func (s *Sources) Template(ref string) (model.Template, error) {
	if strings.ContainsRune(ref, os.PathSeparator) || filepath.Ext(ref) != "" {
		if _, err := os.Stat(ref); err == nil {
			return docstore.LoadTemplate(ref)
		}
	}
	return s.Templates.Get(ref)
}

// Options assembles run options for a template. A non-empty rosterRef
// overrides the roster named by the template. Both references may be file
// paths.
func (s *Sources) Options(templateRef, rosterRef string) (Options, error) {
	t, err := s.Template(templateRef)
	if err != nil {
		return Options{}, err
	}
	return s.options(t, rosterRef)
}

// StoredOptions is Options restricted to the workspace: the template is
// looked up by name only, and a roster override must be a file listed in
// classes/. Use it for references that come from remote clients.
func (s *Sources) StoredOptions(templateName, rosterName string) (Options, error) {
	t, err := s.Templates.Get(templateName)
	if err != nil {
		return Options{}, err
	}
	if rosterName != "" {
		names, err := roster.List(s.Workspace.Classes())
		if err != nil {
			return Options{}, err
		}
		if !slices.Contains(names, rosterName) {
			return Options{}, fmt.Errorf("roster %q: %w", rosterName, ErrUnknownRoster)
		}
		rosterName = filepath.Join(s.Workspace.Classes(), rosterName)
	}
	return s.options(t, rosterName)
}

func (s *Sources) options(t model.Template, rosterRef string) (Options, error) {
	if rosterRef == "" {
		rosterRef = t.RosterPath
	}
	if rosterRef == "" {
		return Options{}, fmt.Errorf("template %s: %w", t.Name, ErrNoRoster)
	}
	students, err := roster.Load(s.Workspace.RosterPath(rosterRef))
	if err != nil {
		return Options{}, err
	}
	questions, err := s.Questions.All()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Template:  t,
		Students:  students,
		Questions: questions,
		OutputDir: s.Workspace.Output(),
	}, nil
}
