package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/apperr"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/backup"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/storage"
	"github.com/zFlqwovo/CloudPaste-sub005/internal/task"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListDirectory(w http.ResponseWriter, r *http.Request) {
	if s.fs == nil {
		writeError(w, s.log, apperr.NotImplemented("FS.DISABLED", "filesystem facade is not configured"))
		return
	}
	path := r.URL.Query().Get("path")
	listing, err := s.fs.ListDirectory(r.Context(), path, principalFrom(r.Context()), storage.ListOptions{})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeEnvelope(w, http.StatusOK, listing)
}

func (s *Server) handleGetFileInfo(w http.ResponseWriter, r *http.Request) {
	if s.fs == nil {
		writeError(w, s.log, apperr.NotImplemented("FS.DISABLED", "filesystem facade is not configured"))
		return
	}
	path := r.URL.Query().Get("path")
	info, err := s.fs.GetFileInfo(r.Context(), path, principalFrom(r.Context()), storage.GetOptions{})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeEnvelope(w, http.StatusOK, info)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if s.fs == nil {
		writeError(w, s.log, apperr.NotImplemented("FS.DISABLED", "filesystem facade is not configured"))
		return
	}
	path := r.URL.Query().Get("path")
	desc, err := s.fs.DownloadFile(r.Context(), path, principalFrom(r.Context()), storage.DownloadOptions{})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	handle, err := desc.GetStream(r.Context(), storage.DownloadOptions{})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	defer handle.Close()

	if desc.ContentType != nil {
		w.Header().Set("Content-Type", *desc.ContentType)
	}
	if desc.Size != nil {
		w.Header().Set("Content-Length", strconv.FormatInt(*desc.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, handle.Stream)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.fs == nil {
		writeError(w, s.log, apperr.NotImplemented("FS.DISABLED", "filesystem facade is not configured"))
		return
	}
	path := r.URL.Query().Get("path")
	err := s.fs.UploadFile(r.Context(), path, r.Body, principalFrom(r.Context()), storage.UploadOptions{
		Size:        r.ContentLength,
		ContentType: r.Header.Get("Content-Type"),
		OverwriteOK: r.URL.Query().Get("overwrite") == "true",
	})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeEnvelope(w, http.StatusOK, nil)
}

func (s *Server) handleCreateDirectory(w http.ResponseWriter, r *http.Request) {
	if s.fs == nil {
		writeError(w, s.log, apperr.NotImplemented("FS.DISABLED", "filesystem facade is not configured"))
		return
	}
	var body struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := s.fs.CreateDirectory(r.Context(), body.Path, principalFrom(r.Context()), storage.Options{}); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeEnvelope(w, http.StatusOK, nil)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	if s.fs == nil {
		writeError(w, s.log, apperr.NotImplemented("FS.DISABLED", "filesystem facade is not configured"))
		return
	}
	var body struct {
		OldPath string `json:"oldPath"`
		NewPath string `json:"newPath"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := s.fs.RenameItem(r.Context(), body.OldPath, body.NewPath, principalFrom(r.Context()), storage.Options{}); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeEnvelope(w, http.StatusOK, nil)
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	if s.fs == nil {
		writeError(w, s.log, apperr.NotImplemented("FS.DISABLED", "filesystem facade is not configured"))
		return
	}
	var body struct {
		SourcePath string `json:"sourcePath"`
		TargetPath string `json:"targetPath"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.log, err)
		return
	}
	result, err := s.fs.CopyItem(r.Context(), body.SourcePath, body.TargetPath, principalFrom(r.Context()), storage.CopyOptions{})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeEnvelope(w, http.StatusOK, result)
}

func (s *Server) handleBatchRemove(w http.ResponseWriter, r *http.Request) {
	if s.fs == nil {
		writeError(w, s.log, apperr.NotImplemented("FS.DISABLED", "filesystem facade is not configured"))
		return
	}
	var body struct {
		Paths []string `json:"paths"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.log, err)
		return
	}
	result, err := s.fs.BatchRemoveItems(r.Context(), body.Paths, principalFrom(r.Context()), storage.Options{})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeEnvelope(w, http.StatusOK, result)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, s.log, apperr.NotImplemented("TASK.DISABLED", "task orchestrator is not configured"))
		return
	}
	var body struct {
		TaskType string          `json:"taskType"`
		Payload  json.RawMessage `json:"payload"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.log, err)
		return
	}
	principal := principalFrom(r.Context())
	job, err := s.tasks.CreateJob(r.Context(), body.TaskType, body.Payload, principal.ID, string(principal.Kind))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeEnvelope(w, http.StatusAccepted, job)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, s.log, apperr.NotImplemented("TASK.DISABLED", "task orchestrator is not configured"))
		return
	}
	job, err := s.tasks.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeEnvelope(w, http.StatusOK, job)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, s.log, apperr.NotImplemented("TASK.DISABLED", "task orchestrator is not configured"))
		return
	}
	if err := s.tasks.CancelJob(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeEnvelope(w, http.StatusOK, nil)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, s.log, apperr.NotImplemented("TASK.DISABLED", "task orchestrator is not configured"))
		return
	}
	jobs, err := s.tasks.ListJobs(r.Context(), task.ListFilter{TaskType: r.URL.Query().Get("taskType")})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeEnvelope(w, http.StatusOK, jobs)
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	if s.bkp == nil {
		writeError(w, s.log, apperr.NotImplemented("BACKUP.DISABLED", "backup engine is not configured"))
		return
	}
	var body struct {
		Full    bool     `json:"full"`
		Modules []string `json:"modules"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.log, err)
		return
	}
	env, err := s.bkp.CreateBackup(r.Context(), backup.CreateBackupRequest{Full: body.Full, Modules: body.Modules})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeEnvelope(w, http.StatusOK, env)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if s.bkp == nil {
		writeError(w, s.log, apperr.NotImplemented("BACKUP.DISABLED", "backup engine is not configured"))
		return
	}
	var body struct {
		Envelope           backup.Envelope `json:"envelope"`
		Mode               string          `json:"mode"`
		PreserveTimestamps bool            `json:"preserveTimestamps"`
		Strict             bool            `json:"strict"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.log, err)
		return
	}
	principal := principalFrom(r.Context())
	result, err := s.bkp.Restore(r.Context(), &body.Envelope, backup.RestoreOptions{
		Mode:               body.Mode,
		AdminID:            principal.ID,
		PreserveTimestamps: body.PreserveTimestamps,
		Strict:             body.Strict,
	})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeEnvelope(w, http.StatusOK, result)
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.KindValidation, "REQUEST.MALFORMED_JSON", "request body is not valid JSON", err)
	}
	return nil
}
