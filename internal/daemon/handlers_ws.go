package daemon

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"minutes/internal/logging"
)

// handleSubscribe upgrades to a WebSocket and pushes the job view on every
// change until the job settles or the client goes away.
func (s *apiServer) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	userID, jobID := userFrom(r), chi.URLParam(r, "id")
	if _, err := s.svc.GetJob(r.Context(), userID, jobID); err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(err),
		)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	updates, err := s.svc.Subscribe(ctx, userID, jobID, s.poll)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	for view := range updates {
		if err := wsjson.Write(ctx, conn, view); err != nil {
			s.logger.Debug("websocket write failed",
				logging.String(logging.FieldJobID, jobID),
				logging.Error(err),
			)
			return
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "job settled")
}
