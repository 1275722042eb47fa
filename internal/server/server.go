// Package server is the local web viewer for recorded research sessions.
package server

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/AIResearch/internal/compose"
	"github.com/TobiSchelling/AIResearch/internal/database"
	"github.com/TobiSchelling/AIResearch/internal/research"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New(goldmark.WithExtensions(extension.Table, extension.Linkify))

// Server is the HTTP server for browsing sessions.
type Server struct {
	db     *database.DB
	pages  map[string]*template.Template
	mux    *http.ServeMux
	logger *slog.Logger
}

// New creates a new Server. When mcp is non-nil it is mounted at /mcp.
func New(db *database.DB, mcp http.Handler, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	funcMap := template.FuncMap{
		"markdown":   renderMarkdown,
		"references": func(bib []research.BibEntry) template.HTML { return renderMarkdown(compose.References(bib)) },
		"shortID":    shortID,
		"when":       func(t time.Time) string { return t.Local().Format("2006-01-02 15:04") },
		"elapsed":    func(d time.Duration) string { return d.Round(time.Second).String() },
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so that every page can define
	// its own "title" and "content" blocks.
	pageNames := []string{"index.html", "session.html", "draft.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, pages: pages, mux: http.NewServeMux(), logger: logger}
	s.routes(mcp)
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes(mcp http.Handler) {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("GET /session/{id}", s.handleSession)
	s.mux.HandleFunc("GET /session/{id}/draft/{version}", s.handleDraft)
	if mcp != nil {
		s.mux.Handle("/mcp", mcp)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	sessions, err := s.db.ListSessions(100)
	if err != nil {
		s.fail(w, "listing sessions", err)
		return
	}
	stats, err := s.db.GetStats()
	if err != nil {
		s.fail(w, "loading stats", err)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Sessions": sessions,
		"Stats":    stats,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookup(w, r)
	if !ok {
		return
	}

	plans, err := s.db.GetPlans(session.ID)
	if err != nil {
		s.fail(w, "loading plans", err)
		return
	}
	summaries, err := s.db.GetSummaries(session.ID)
	if err != nil {
		s.fail(w, "loading summaries", err)
		return
	}
	drafts, err := s.db.GetDrafts(session.ID)
	if err != nil {
		s.fail(w, "loading drafts", err)
		return
	}
	verdicts, err := s.db.GetVerdicts(session.ID)
	if err != nil {
		s.fail(w, "loading verdicts", err)
		return
	}
	transitions, err := s.db.GetTransitions(session.ID)
	if err != nil {
		s.fail(w, "loading transitions", err)
		return
	}

	var plan *research.Plan
	if len(plans) > 0 {
		plan = &plans[len(plans)-1]
	}
	s.render(w, "session.html", map[string]any{
		"Session":     session,
		"Plan":        plan,
		"Summaries":   summaries,
		"Drafts":      drafts,
		"Verdicts":    verdicts,
		"Transitions": transitions,
	})
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version < 1 {
		http.NotFound(w, r)
		return
	}
	session, ok := s.lookup(w, r)
	if !ok {
		return
	}

	draft, err := s.db.GetDraft(session.ID, version)
	if err != nil {
		s.fail(w, "loading draft", err)
		return
	}
	if draft == nil {
		http.NotFound(w, r)
		return
	}
	verdicts, err := s.db.GetVerdicts(session.ID)
	if err != nil {
		s.fail(w, "loading verdicts", err)
		return
	}
	var review *research.ReviewVerdict
	for i := range verdicts {
		if verdicts[i].DraftVersion == version {
			review = &verdicts[i]
			break
		}
	}

	s.render(w, "draft.html", map[string]any{
		"Session": session,
		"Draft":   draft,
		"Review":  review,
	})
}

// lookup resolves the {id} path value, writing the error response itself
// when no single session matches.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*database.Session, bool) {
	session, err := s.db.GetSession(r.PathValue("id"))
	if errors.Is(err, database.ErrAmbiguousID) {
		http.Error(w, "Session id prefix matches more than one session", http.StatusBadRequest)
		return nil, false
	}
	if err != nil {
		s.fail(w, "loading session", err)
		return nil, false
	}
	if session == nil {
		http.NotFound(w, r)
		return nil, false
	}
	return session, true
}

func (s *Server) fail(w http.ResponseWriter, what string, err error) {
	s.logger.Error(what, "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("template not found", "name", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.fail(w, "rendering "+name, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, mcp http.Handler, port int, logger *slog.Logger) error {
	srv, err := New(db, mcp, logger)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv.logger.Info("server listening", "url", "http://"+addr)
	return http.ListenAndServe(addr, srv.Handler())
}
