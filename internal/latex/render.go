// Package latex turns assembled exams into LaTeX sources and compiles them to PDF.
package latex

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/pavelanni/crammer/internal/model"
)

//go:embed templates/exam.tex
var templateFS embed.FS

// DefaultTemplate is the name of the embedded exam template.
const DefaultTemplate = "templates/exam.tex"

// Template delimiters. Braces are LaTeX syntax, so the usual ones won't do.
const (
	leftDelim  = "<<"
	rightDelim = ">>"
)

var latexEscaper = strings.NewReplacer(
	`\`, `\textbackslash{}`,
	`&`, `\&`,
	`%`, `\%`,
	`$`, `\$`,
	`#`, `\#`,
	`_`, `\_`,
	`{`, `\{`,
	`}`, `\}`,
	`~`, `\textasciitilde{}`,
	`^`, `\textasciicircum{}`,
)

// Escape makes free text safe for LaTeX.
func Escape(s string) string {
	return latexEscaper.Replace(s)
}

var qrEscaper = strings.NewReplacer(
	`\`, `\\`,
	`&`, `\&`,
	`%`, `\%`,
	`$`, `\$`,
	`#`, `\#`,
	`_`, `\_`,
	`{`, `\{`,
	`}`, `\}`,
	`~`, `\~`,
	`^`, `\^`,
)

func cm(w float64) string {
	if w <= 0 {
		w = model.DefaultImageWidthCM
	}
	return strconv.FormatFloat(w, 'f', -1, 64) + "cm"
}

var funcs = template.FuncMap{
	"escape":   Escape,
	"qrEscape": qrEscaper.Replace,
	"cm":       cm,
}

// Item is a numbered question on the page.
type Item struct {
	Number int
	model.Question
}

// SideImage reports whether the image sits beside the prompt.
func (i Item) SideImage() bool {
	return i.Image != nil && (i.Image.Position == model.ImageLeft || i.Image.Position == model.ImageRight)
}

// Block is a titled group of numbered questions.
type Block struct {
	Title string
	Items []Item
}

// Data is the template context for one exam. Question prompts are emitted
// as written, so they may contain LaTeX markup.
type Data struct {
	DocumentTitle string
	CourseInfo    map[string]string
	LogoPath      string
	Student       model.Student
	Blocks        []Block
	Date          string
	QRData        string
	Babel         string
	Labels        map[string]string
}

// NumberBlocks numbers questions continuously across blocks.
func NumberBlocks(blocks []model.BlockSelection) []Block {
	out := make([]Block, 0, len(blocks))
	n := 0
	for _, b := range blocks {
		items := make([]Item, 0, len(b.Questions))
		for _, q := range b.Questions {
			n++
			items = append(items, Item{Number: n, Question: q})
		}
		out = append(out, Block{Title: b.Title, Items: items})
	}
	return out
}

// Renderer executes an exam template.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the template at path, or the embedded default when path
// is empty.
func NewRenderer(path string) (*Renderer, error) {
	var (
		src  []byte
		name string
		err  error
	)
	if path == "" {
		name = filepath.Base(DefaultTemplate)
		src, err = templateFS.ReadFile(DefaultTemplate)
	} else {
		name = filepath.Base(path)
		src, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read latex template: %w", err)
	}

	tmpl, err := template.New(name).Delims(leftDelim, rightDelim).Funcs(funcs).Option("missingkey=zero").Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parse latex template %s: %w", name, err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render produces the LaTeX source for one exam.
func (r *Renderer) Render(data Data) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render exam for %s: %w", data.Student.ID, err)
	}
	return buf.String(), nil
}
