package daemon

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"minutes/internal/api"
	"minutes/internal/services"
)

func (s *apiServer) handleRequestPublication(w http.ResponseWriter, r *http.Request) {
	pub, err := s.svc.RequestPublication(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	s.writePublication(w, r, pub, err)
}

func (s *apiServer) handleRetryPublication(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "retry publication", "invalid publication id", nil))
		return
	}
	pub, err := s.svc.RetryPublication(r.Context(), userFrom(r), id)
	s.writePublication(w, r, pub, err)
}

func (s *apiServer) handleListPublications(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListPublications(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.PublicationListResponse{Publications: list})
}

// writePublication reports a publish attempt. A failed attempt still returns
// the record so the caller can retry it.
func (s *apiServer) writePublication(w http.ResponseWriter, r *http.Request, pub api.PublicationView, err error) {
	if err == nil {
		s.writeJSON(w, http.StatusOK, api.PublicationResponse{Publication: pub})
		return
	}
	body := api.FromError(err)
	if pub.ID != 0 {
		body.Publication = &pub
	}
	s.writeJSON(w, statusFor(err), body)
}
