package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bondly/bondly/internal/common/apperrors"
	"github.com/bondly/bondly/internal/common/httpx"
	"github.com/bondly/bondly/internal/common/uuid"
	"github.com/go-chi/chi/v5"
)

var ErrInvalidSessionID = apperrors.New("session id is missing or malformed").SetStatusCode(http.StatusBadRequest).SetCode("INVALID_INPUT")

// SSE event names.
const (
	EventSession = "session"
	EventReady   = "ready"
)

// EventsHandler streams a session's events as server-sent events. The session id
// comes from the "sessionID" route parameter.
func (h *Hub) EventsHandler() http.HandlerFunc {
	return httpx.WrapStreamHandler(func(r *http.Request) (*httpx.StreamResponse, error) {
		sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
		if err != nil {
			return nil, ErrInvalidSessionID
		}
		ctx := r.Context()
		events, cancel := h.Subscribe(sessionID)
		heartbeat := time.NewTicker(h.heartbeat)
		context.AfterFunc(ctx, func() {
			heartbeat.Stop()
			cancel()
		})

		opened := false
		return &httpx.StreamResponse{
			StatusCode:  http.StatusOK,
			ContentType: "text/event-stream",
			Headers: map[string]string{
				"Cache-Control":     "no-cache",
				"Connection":        "keep-alive",
				"X-Accel-Buffering": "no",
			},
			WriteChunk: func(w http.ResponseWriter) error {
				if !opened {
					opened = true
					_, err := fmt.Fprintf(w, "event: %s\ndata: {}\n\n", EventReady)
					return err
				}
				select {
				case <-ctx.Done():
					return io.EOF
				case ev, ok := <-events:
					if !ok {
						return io.EOF
					}
					data, err := json.Marshal(ev)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", EventSession, data)
					return err
				case <-heartbeat.C:
					_, err := io.WriteString(w, ": heartbeat\n\n")
					return err
				}
			},
		}, nil
	})
}
