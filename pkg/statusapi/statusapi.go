// Package statusapi is the optional read-only debug HTTP API
// (SPEC_FULL.md §5.10): JSON views of the in-progress build table and
// the Installed-Packages Database, mounted only when the CLI is run
// with --status-addr. Grounded directly in the teacher's
// pkg/http.Server (chi.NewRouter, middleware.Logger,
// middleware.Heartbeat) and pkg/graph's HTTPEntry/jsonError pattern
// for per-route JSON handlers.
package statusapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"

	"github.com/tinypkg/tinypkg/pkg/db"
	"github.com/tinypkg/tinypkg/pkg/types"
)

// buildTable is the slice of the Build Runner this API needs: naming
// every package currently mid-build. Satisfied by *buildrunner.Runner.
type buildTable interface {
	InProgress() []string
}

// Server is a small standalone HTTP server exposing observability
// endpoints. It never mutates orchestrator state.
type Server struct {
	l hclog.Logger
	r chi.Router
	n *http.Server

	database *db.DB
	builds   buildTable
}

// New builds the router. Nothing is bound to a socket until Serve.
func New(l hclog.Logger, database *db.DB, builds buildTable) *Server {
	s := &Server{
		l:        l.Named("statusapi"),
		r:        chi.NewRouter(),
		n:        &http.Server{},
		database: database,
		builds:   builds,
	}

	s.r.Use(middleware.Logger)
	s.r.Use(middleware.Heartbeat("/healthz"))

	s.r.Get("/", s.index)
	s.r.Get("/installed", s.listInstalled)
	s.r.Get("/installed/{name}", s.getInstalled)
	s.r.Get("/installed/stats", s.stats)
	s.r.Get("/builds", s.listBuilds)

	return s
}

// Serve binds addr and serves until the listener fails or is closed.
func (s *Server) Serve(addr string) error {
	s.l.Info("status API is starting", "addr", addr)
	s.n.Addr = addr
	s.n.Handler = s.r
	return s.n.ListenAndServe()
}

// Close shuts the server down.
func (s *Server) Close() error {
	return s.n.Close()
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("tinypkg status API: see /installed, /installed/{name}, /installed/stats, /builds\n"))
}

func (s *Server) listInstalled(w http.ResponseWriter, r *http.Request) {
	entries, err := s.database.All()
	if err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, entries)
}

func (s *Server) getInstalled(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	entry, ok, err := s.database.Find(name)
	if err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, entry)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.database.Stats()
	if err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) listBuilds(w http.ResponseWriter, r *http.Request) {
	if s.builds == nil {
		writeJSON(w, []string{})
		return
	}
	writeJSON(w, s.builds.InProgress())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, err error, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	out := struct {
		Error string `json:"error"`
	}{Error: err.Error()}
	json.NewEncoder(w).Encode(out)
}

// entryNames is a small helper the tests use to assert on shape
// without depending on map iteration order elsewhere in the package.
func entryNames(entries []types.InstalledEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}
