package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/crammer/internal/generate"
	"github.com/pavelanni/crammer/internal/i18n"
	"github.com/pavelanni/crammer/internal/latex"
	"github.com/pavelanni/crammer/internal/metrics"
	"github.com/pavelanni/crammer/internal/model"
	"github.com/pavelanni/crammer/internal/roster"
	"github.com/pavelanni/crammer/internal/store"
	"github.com/pavelanni/crammer/internal/workspace"
)

func TestMain(m *testing.M) {
	if err := i18n.Init(i18n.English); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type pdfCompiler struct{}

func (pdfCompiler) Name() string { return "fakelatex" }

func (pdfCompiler) Compile(_ context.Context, _, outBase, _ string) error {
	return os.WriteFile(outBase+".pdf", []byte("%PDF-1.5 test"), 0o644)
}

func setupServer(t *testing.T, password string) (*httptest.Server, *store.Store) {
	t.Helper()
	ws := workspace.Workspace{Root: t.TempDir()}
	if err := ws.EnsureLayout(); err != nil {
		t.Fatal(err)
	}
	src, err := generate.OpenSources(ws)
	if err != nil {
		t.Fatal(err)
	}
	for _, q := range []model.Question{
		{QuestionID: "Q1", Prompt: "What is a loop?", Topics: model.StringList{"loops"}},
		{QuestionID: "Q2", Prompt: "What is an array?", Topics: model.StringList{"arrays"}},
		{QuestionID: "Q3", Prompt: "Index of the first element?", Topics: model.StringList{"arrays"}},
	} {
		if err := src.Questions.Save(q); err != nil {
			t.Fatal(err)
		}
	}
	students := []model.Student{{Name: "Ana Souza", ID: "1"}, {Name: "Bruno Lima", ID: "2"}}
	if err := roster.Save(filepath.Join(ws.Classes(), "class.csv"), students); err != nil {
		t.Fatal(err)
	}
	if err := src.Templates.Save(model.Template{
		Name:           "quiz",
		DocumentTitle:  "Quiz",
		FilenamePrefix: "quiz",
		RosterPath:     "class.csv",
		Blocks: []model.SelectionBlock{
			{Title: "Arrays", Method: model.MethodRandomTopic, Topic: "arrays", Quantity: 1},
		},
	}); err != nil {
		t.Fatal(err)
	}

	st, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	renderer, err := latex.NewRenderer("")
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.New()
	gen := generate.New(renderer, pdfCompiler{}, st, m)
	h, err := New(st, src, gen, m, Config{Workers: 2, Lang: i18n.English}, password)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postRun(t *testing.T, url, body, user, password string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/api/runs", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.SetBasicAuth(user, password)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthAndListings(t *testing.T) {
	srv, _ := setupServer(t, "")

	var health map[string]string
	if code := getJSON(t, srv.URL+"/health", &health); code != http.StatusOK || health["status"] != "ok" {
		t.Errorf("health = %d %v", code, health)
	}

	var names []string
	getJSON(t, srv.URL+"/api/templates", &names)
	if len(names) != 1 || names[0] != "quiz" {
		t.Errorf("templates = %v", names)
	}

	var topics []string
	getJSON(t, srv.URL+"/api/topics", &topics)
	if len(topics) != 2 {
		t.Errorf("topics = %v", topics)
	}

	var runs []model.Run
	if code := getJSON(t, srv.URL+"/api/runs", &runs); code != http.StatusOK || len(runs) != 0 {
		t.Errorf("runs = %d %v", code, runs)
	}

	if code := getJSON(t, srv.URL+"/api/runs/nope", nil); code != http.StatusNotFound {
		t.Errorf("missing run status = %d", code)
	}
}

func TestStartRunAndFetchPDF(t *testing.T) {
	srv, _ := setupServer(t, "")

	resp := postRun(t, srv.URL, `{"template":"quiz","seed":"abc"}`, "", "")
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Run     model.Run          `json:"run"`
		Exams   []model.ExamRecord `json:"exams"`
		Success bool               `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Run.Seed != "abc" || len(out.Exams) != 2 {
		t.Fatalf("unexpected run response %+v", out)
	}

	exam := out.Exams[0]
	pdf, err := http.Get(srv.URL + "/api/runs/" + out.Run.ID + "/exams/" + exam.ID + "/pdf")
	if err != nil {
		t.Fatal(err)
	}
	defer pdf.Body.Close()
	body, _ := io.ReadAll(pdf.Body)
	if pdf.StatusCode != http.StatusOK || pdf.Header.Get("Content-Type") != "application/pdf" {
		t.Errorf("pdf response = %d %s", pdf.StatusCode, pdf.Header.Get("Content-Type"))
	}
	if !bytes.HasPrefix(body, []byte("%PDF")) {
		t.Errorf("pdf body = %q", body)
	}

	if code := getJSON(t, srv.URL+"/api/runs/"+out.Run.ID+"/exams/missing/pdf", nil); code != http.StatusNotFound {
		t.Errorf("missing exam status = %d", code)
	}

	var runs []model.Run
	getJSON(t, srv.URL+"/api/runs", &runs)
	if len(runs) != 1 || runs[0].Status != model.RunCompleted {
		t.Errorf("runs = %+v", runs)
	}
}

func TestStartRunNoCompileHasNoPDF(t *testing.T) {
	srv, _ := setupServer(t, "")
	resp := postRun(t, srv.URL, `{"template":"quiz","no_compile":true}`, "", "")
	var out struct {
		Run   model.Run          `json:"run"`
		Exams []model.ExamRecord `json:"exams"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	code := getJSON(t, srv.URL+"/api/runs/"+out.Run.ID+"/exams/"+out.Exams[0].ID+"/pdf", nil)
	if code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestStartRunErrors(t *testing.T) {
	srv, _ := setupServer(t, "")
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"no template", `{}`, http.StatusBadRequest},
		{"unknown template", `{"template":"final"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postRun(t, srv.URL, tt.body, "", "")
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestStartRunRejectsPathReferences(t *testing.T) {
	srv, _ := setupServer(t, "")
	secret := filepath.Join(t.TempDir(), "secret.csv")
	if err := roster.Save(secret, []model.Student{{Name: "Hidden Row", ID: "999"}}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"absolute roster", `{"template":"quiz","roster":"` + secret + `","no_compile":true}`, http.StatusNotFound},
		{"relative roster", `{"template":"quiz","roster":"../../secret.csv","no_compile":true}`, http.StatusNotFound},
		{"template path", `{"template":"/etc/quiz.yaml","no_compile":true}`, http.StatusNotFound},
		{"template traversal", `{"template":"../templates/quiz","no_compile":true}`, http.StatusNotFound},
		{"stored roster", `{"template":"quiz","roster":"class.csv","no_compile":true}`, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postRun(t, srv.URL, tt.body, "", "")
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d: %s", resp.StatusCode, tt.want, body)
			}
			if strings.Contains(string(body), "Hidden Row") {
				t.Errorf("response exposes an outside roster: %s", body)
			}
		})
	}
}

func TestStartRunRequiresAuth(t *testing.T) {
	srv, _ := setupServer(t, "s3cret")
	tests := []struct {
		name     string
		user     string
		password string
		want     int
	}{
		{"no credentials", "", "", http.StatusUnauthorized},
		{"wrong password", "admin", "nope", http.StatusUnauthorized},
		{"wrong user", "root", "s3cret", http.StatusUnauthorized},
		{"valid", "admin", "s3cret", http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postRun(t, srv.URL, `{"template":"quiz","no_compile":true}`, tt.user, tt.password)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	// Reads stay open.
	if code := getJSON(t, srv.URL+"/api/runs", nil); code != http.StatusOK {
		t.Errorf("GET runs status = %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := setupServer(t, "")
	postRun(t, srv.URL, `{"template":"quiz","no_compile":true}`, "", "")

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `crammer_exams_total{status="rendered"} 2`) {
		t.Errorf("metrics missing exam counter:\n%s", body)
	}
}

func TestStartRunLanguage(t *testing.T) {
	srv, _ := setupServer(t, "")
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/runs", strings.NewReader(`{"template":"quiz","no_compile":true}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Accept-Language", "pt-BR")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Exams []model.ExamRecord `json:"exams"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Exams) == 0 {
		t.Fatal("no exams returned")
	}
	tex, err := os.ReadFile(out.Exams[0].TexPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(tex), "brazilian") {
		t.Error("exam was not rendered in Portuguese")
	}
}
