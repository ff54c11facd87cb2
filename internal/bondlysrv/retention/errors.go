package retention

import (
	"net/http"

	"github.com/bondly/bondly/internal/common/apperrors"
)

var (
	ErrCleanupFailed   = apperrors.New("Cleanup failed").SetStatusCode(http.StatusInternalServerError).SetCode("PERSISTENCE_ERROR")
	ErrInvalidSchedule = ErrCleanupFailed.New("invalid retention schedule").SetCode("INTERNAL")
)
