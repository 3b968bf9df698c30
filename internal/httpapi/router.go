// Package httpapi is the thin HTTP transport adapter exposing
// SPEC_FULL.md §6's representative endpoints. Routing only — every
// handler delegates immediately to a collaborator (the Filesystem
// Facade, the Task Orchestrator, the Backup Engine) and translates its
// result through internal/apperr's standard envelope. Grounded on the
// teacher's cmd/serve HTTP tree, which composes chi handlers the same
// thin way around rclone's own fs/operations and fs/rc packages.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/apperr"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/backup"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/fsfacade"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/perm"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/task"
)

// KeyStore resolves the bearer credential on a request into a
// Principal, spec §4.A. A missing or unknown credential resolves to
// the guest principal; this middleware never rejects a request on its
// own — every mutating Facade method runs the resulting Principal
// through perm.Authorize before it touches a driver, so rejection
// happens there, not here.
type KeyStore interface {
	PrincipalForToken(ctx context.Context, token string) (perm.Principal, bool)
}

// Server bundles the collaborators every handler needs.
type Server struct {
	fs    *fsfacade.Facade
	tasks *task.Orchestrator
	bkp   *backup.Engine
	keys  KeyStore
	log   *logrus.Entry
}

// New builds a Server. Any of the collaborators may be nil in a
// deployment that doesn't wire that subsystem (e.g. a read-only
// mirror with no Task Orchestrator); the corresponding routes then
// respond 501 via apperr.NotImplemented. keys may be nil, in which
// case every request resolves to the guest principal.
func New(fs *fsfacade.Facade, tasks *task.Orchestrator, bkp *backup.Engine, keys KeyStore, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{fs: fs, tasks: tasks, bkp: bkp, keys: keys, log: log}
}

// Router builds the chi router exposing every route this server
// supports. Authentication middleware resolves the caller's Principal
// from the Authorization header into the request context; handlers
// read it back with principalFrom.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(s.authenticate)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/fs", func(r chi.Router) {
		r.Get("/list", s.handleListDirectory)
		r.Get("/stat", s.handleGetFileInfo)
		r.Get("/download", s.handleDownload)
		r.Put("/upload", s.handleUpload)
		r.Post("/mkdir", s.handleCreateDirectory)
		r.Post("/rename", s.handleRename)
		r.Post("/copy", s.handleCopy)
		r.Post("/remove", s.handleBatchRemove)
	})

	r.Route("/api/tasks", func(r chi.Router) {
		r.Post("/", s.handleCreateTask)
		r.Get("/{jobID}", s.handleGetTask)
		r.Delete("/{jobID}", s.handleCancelTask)
		r.Get("/", s.handleListTasks)
	})

	r.Route("/api/backup", func(r chi.Router) {
		r.Post("/export", s.handleCreateBackup)
		r.Post("/restore", s.handleRestore)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.WithField("method", r.Method).WithField("path", r.URL.Path).Debug("http request")
		next.ServeHTTP(w, r)
	})
}

// writeEnvelope marshals the standard success/failure envelope, spec
// §6/§7.
func writeEnvelope(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apperr.Envelope{Code: status, Success: status < 400, Data: data})
}

// writeError translates err through apperr's taxonomy into the
// standard failure envelope.
func writeError(w http.ResponseWriter, log *logrus.Entry, err error) {
	env := apperr.ToEnvelope(err)
	if env.Code >= 500 {
		log.WithError(err).Error("http handler error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(env.Code)
	_ = json.NewEncoder(w).Encode(env)
}
