package api

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"pastebox/pkg/domain"
	"pastebox/svc/util"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var pageLanguages = language.NewMatcher([]language.Tag{
	language.English,
	language.German,
	language.French,
	language.Spanish,
})

type pasteView struct {
	*domain.Paste
	// Remaining is the localised view allowance, empty when unlimited.
	Remaining string
}

func newPasteView(r *http.Request, p *domain.Paste) pasteView {
	v := pasteView{Paste: p}
	if n := p.RemainingViews(); n != nil {
		tag, _ := language.MatchStrings(pageLanguages, r.Header.Get("Accept-Language"))
		v.Remaining = message.NewPrinter(tag).Sprintf("%d", *n)
	}
	return v
}

//go:embed web
var webFS embed.FS

type pages struct {
	index, paste, notFound *template.Template
}

func loadPages() (*pages, error) {
	web, err := fs.Sub(webFS, "web")
	if err != nil {
		return nil, err
	}
	parse := func(name string) (*template.Template, error) {
		return template.ParseFS(web, "layout.html", name)
	}
	p := &pages{}
	if p.index, err = parse("index.html"); err != nil {
		return nil, err
	}
	if p.paste, err = parse("paste.html"); err != nil {
		return nil, err
	}
	if p.notFound, err = parse("notfound.html"); err != nil {
		return nil, err
	}
	return p, nil
}

func staticFiles() http.Handler {
	web, _ := fs.Sub(webFS, "web")
	return http.StripPrefix("/static/", http.FileServer(http.FS(web)))
}

func (p *pages) render(w http.ResponseWriter, status int, t *template.Template, page string, data any) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, page, data); err != nil {
		util.Error().Err(err).Str("page", page).Msg("template render failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func (h *Hdl) Index(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, http.StatusOK, h.pages.index, "index.html", nil)
}

// ViewPaste is the HTML counterpart of GetPaste and consumes a view the same way.
func (h *Hdl) ViewPaste(w http.ResponseWriter, r *http.Request) {
	paste, err := h.consume(r)
	switch {
	case err == nil:
		h.pages.render(w, http.StatusOK, h.pages.paste, "paste.html", newPasteView(r, paste))
	case domain.Gone(err):
		h.pages.render(w, http.StatusNotFound, h.pages.notFound, "notfound.html", nil)
	default:
		status := domain.Status(err)
		http.Error(w, http.StatusText(status), status)
	}
}
