package daemon

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"minutes/internal/api"
	"minutes/internal/services"
)

// multipartMemory is how much of an upload is buffered before spilling to a
// temp file.
const multipartMemory = 32 << 20

func (s *apiServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if limit := s.svc.UploadLimit(); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "create job", "upload exceeds the size limit", nil))
			return
		}
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "create job", "parse multipart form", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "create job", "missing 'file' part", err))
		return
	}
	defer file.Close()

	publish := false
	if raw := strings.TrimSpace(r.FormValue("publish")); raw != "" {
		publish, err = strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "create job", fmt.Sprintf("invalid publish value %q", raw), nil))
			return
		}
	}
	name := header.Filename
	if override := strings.TrimSpace(r.FormValue("filename")); override != "" {
		name = override
	}

	job, err := s.svc.CreateJob(r.Context(), api.CreateJobRequest{
		UserID:   userFrom(r),
		Filename: name,
		Reader:   file,
		Template: r.FormValue("template"),
		Publish:  publish,
		Metadata: map[string]string{"source": "http"},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.JobResponse{Job: job})
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListJobs(r.Context(), userFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		filtered := make([]api.JobView, 0, len(list))
		for _, job := range list {
			if strings.EqualFold(job.Status, status) {
				filtered = append(filtered, job)
			}
		}
		list = filtered
	}
	if list == nil {
		list = []api.JobView{}
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: list})
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.GetJob(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: job})
}

func (s *apiServer) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.CancelJob(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.JobResponse{Job: job})
}

func (s *apiServer) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.RetryJob(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.JobResponse{Job: job})
}

func (s *apiServer) handleRemoveJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.RemoveJob(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: job})
}

func (s *apiServer) handleArtifact(artifact api.Artifact, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := s.svc.ReadArtifact(r.Context(), userFrom(r), chi.URLParam(r, "id"), artifact)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func (s *apiServer) handleExportDocx(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	path, err := s.svc.ExportDocx(r.Context(), userFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.serveDocx(w, r, path, "minutes-"+id+".docx")
}

func (s *apiServer) handleExportTranscriptDocx(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	path, err := s.svc.ExportTranscriptDocx(r.Context(), userFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.serveDocx(w, r, path, "transcript-"+id+".docx")
}

func (s *apiServer) serveDocx(w http.ResponseWriter, r *http.Request, path, filename string) {
	file, err := os.Open(path)
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrStorage, "api", "export docx", "open document", err))
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrStorage, "api", "export docx", "stat document", err))
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	http.ServeContent(w, r, filename, info.ModTime(), file)
}
