package httpx

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bondly/bondly/internal/common/logtrace"
	"github.com/rs/zerolog/log"
)

// SendJsonRsp writes msg as a JSON body with statusCode. A string or []byte is
// treated as pre-encoded JSON and sent unchanged; if it is not valid JSON the body
// is "null". location becomes the Location header of a 201.
func SendJsonRsp(ctx context.Context, w http.ResponseWriter, statusCode int, msg any, location ...string) {
	body, err := encodeBody(msg)
	if err != nil {
		log.Ctx(ctx).Err(err).Msg("unable to marshal json")
		ErrApplicationError("request " + logtrace.RequestIdFromContext(ctx) + " failed").Send(w)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	if statusCode == http.StatusCreated && len(location) > 0 && location[0] != "" {
		h.Set("Location", location[0])
	}
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("response write failed")
	}
}

func encodeBody(msg any) ([]byte, error) {
	switch v := msg.(type) {
	case []byte:
		return rawOrNull(v), nil
	case string:
		return rawOrNull([]byte(v)), nil
	case json.RawMessage:
		return rawOrNull(v), nil
	default:
		return json.Marshal(v)
	}
}

func rawOrNull(b []byte) []byte {
	if !json.Valid(b) {
		return []byte("null")
	}
	return b
}
