package api

import (
	"bettergist/cfg"
	"bettergist/pkg/domain"
	"bettergist/svc/svc"
	"bettergist/svc/util"
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var languages = map[string]string{
	"js":   "javascript",
	"mjs":  "javascript",
	"cjs":  "javascript",
	"jsx":  "javascript",
	"ts":   "typescript",
	"tsx":  "typescript",
	"py":   "python",
	"html": "html",
	"htm":  "html",
	"css":  "css",
	"json": "json",
	"go":   "go",
	"rs":   "rust",
	"rb":   "ruby",
	"java": "java",
	"c":    "c",
	"h":    "c",
	"cpp":  "cpp",
	"cc":   "cpp",
	"sh":   "bash",
	"sql":  "sql",
	"md":   "markdown",
	"yml":  "yaml",
	"yaml": "yaml",
	"toml": "toml",
	"xml":  "xml",
}

// Language maps a file name to a highlighter language by extension.
func Language(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if lang, ok := languages[ext]; ok {
		return lang
	}
	return "text"
}

type viewFile struct {
	Name     string
	Language string
	Content  string
}
type pageData struct {
	Title   string
	BaseURL string
	Files   []viewFile
	Count   int
}

type View struct {
	snippets *svc.Snippets
	cfg      *cfg.Cfg
}

func NewView(s *svc.Snippets, c *cfg.Cfg) *View {
	return &View{snippets: s, cfg: c}
}
func (v *View) Index(w http.ResponseWriter, r *http.Request) {
	v.render(w, r, http.StatusOK, "index.html", pageData{
		Title: "bettergist",
		Count: v.snippets.Count(r.Context()),
	})
}

// Snippet renders every file of the snippet. Store failures get their own
// page so a transient outage is not reported as a missing snippet.
func (v *View) Snippet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sn, err := v.snippets.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrSnippetNotFound) {
			v.NotFound(w, r)
			return
		}
		hlog.FromRequest(r).Error().Err(err).Str("id", id).Msg("snippet page unavailable")
		v.render(w, r, http.StatusServiceUnavailable, "unavailable.html", pageData{
			Title: "Snippet temporarily unavailable | bettergist",
		})
		return
	}
	files := make([]viewFile, len(sn.Files))
	for i, f := range sn.Files {
		files[i] = viewFile{Name: f.Name, Language: Language(f.Name), Content: f.Content}
	}
	title := "bettergist"
	if len(files) > 0 {
		title = files[0].Name + " | bettergist"
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	v.render(w, r, http.StatusOK, "snippet.html", pageData{Title: title, Files: files})
}
func (v *View) NotFound(w http.ResponseWriter, r *http.Request) {
	v.render(w, r, http.StatusNotFound, "notfound.html", pageData{
		Title: "Not found | bettergist",
	})
}
func (v *View) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	data.BaseURL = v.cfg.BaseURL
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		util.Error().
			Err(err).
			Str("template", name).
			Str("request_id", util.GetRequestID(r.Context())).
			Msg("template render failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
