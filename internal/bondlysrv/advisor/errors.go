package advisor

import (
	"net/http"

	"github.com/bondly/bondly/internal/common/apperrors"
)

var (
	ErrAdvisor          = apperrors.New("advice generation failed").SetStatusCode(http.StatusInternalServerError).SetCode("GENERATION_FAILED")
	ErrGenerationFailed = ErrAdvisor.New("unable to generate advice")
	ErrQuotaExceeded    = ErrAdvisor.New("advice service is busy, please try again in a few minutes").SetStatusCode(http.StatusTooManyRequests).SetCode("QUOTA_EXCEEDED")
)
