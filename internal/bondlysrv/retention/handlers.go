package retention

import (
	"net/http"
	"time"

	"github.com/bondly/bondly/internal/common/httpx"
)

type CleanupRsp struct {
	Success   bool      `json:"success"`
	Deleted   Deleted   `json:"deleted"`
	Timestamp time.Time `json:"timestamp"`
}

// CleanupHandler serves the sweep trigger. Callers put CronSecretMiddleware in front.
func CleanupHandler(s *Sweeper) http.HandlerFunc {
	return httpx.WrapHttpRsp(func(r *http.Request) (*httpx.Response, error) {
		res, err := s.Sweep(r.Context())
		if err != nil {
			return nil, &httpx.Error{
				Description: "Cleanup failed",
				Code:        err.Code(),
				Message:     err.Error(),
				StatusCode:  http.StatusInternalServerError,
			}
		}
		return &httpx.Response{
			StatusCode: http.StatusOK,
			Response: &CleanupRsp{
				Success:   true,
				Deleted:   res.Deleted,
				Timestamp: res.Timestamp,
			},
		}, nil
	})
}
