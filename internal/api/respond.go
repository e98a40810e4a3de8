package api

import (
	"encoding/json"
	"net/http"

	"github.com/fleetctl/orchestrator/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError converts err into an apierr.Error (wrapping it as
// INTERNAL if it isn't one already) and writes the standard
// {error, detail?, code?, timestamp} envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		apiErr = apierr.Wrap(apierr.CodeInternal, "internal error", err)
	}
	w.Header().Set("X-Request-ID", requestIDFrom(r.Context()))
	writeJSON(w, apiErr.HTTPStatus(), apiErr.ToEnvelope())
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}
