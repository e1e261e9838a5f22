/*
Package resp writes the board's HTTP JSON envelope.

Every response carries a business code (0 on success), a client-facing message, the chi
request id for correlating with server logs, and an optional data payload.
*/
package resp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"voteboard/internal/pkg/errs"
	"voteboard/internal/pkg/logx"
)

// Envelope is the body of every HTTP response.
type Envelope struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// RespondJSON writes payload as JSON with the given status.
func RespondJSON(w http.ResponseWriter, r *http.Request, httpStatus int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		logx.Error(err, "Error encoding JSON response", "http_status", httpStatus, "path", r.URL.Path)
		http.Error(w, "Error encoding JSON response", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "no-store")

	w.WriteHeader(httpStatus)
	if _, err := w.Write(body); err != nil {
		logx.Debug("Failed to write JSON response", "path", r.URL.Path, "error", err.Error())
	}
}

// RespondSuccess writes data in a code 0 envelope with HTTP 200.
func RespondSuccess(w http.ResponseWriter, r *http.Request, data any) {
	RespondJSON(w, r, http.StatusOK, Envelope{
		Code:      0,
		Message:   "success",
		RequestID: middleware.GetReqID(r.Context()),
		Data:      data,
	})
}

// RespondError translates err into its business code and HTTP status and writes it.
// Errors without a code are reported as errs.ErrUnknown. Causes of 5xx errors are logged
// with the request id and never sent to the client.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	var customErr *errs.CustomError
	if !errors.As(err, &customErr) {
		customErr = errs.Wrap(errs.ErrUnknown, err)
	}

	requestID := middleware.GetReqID(r.Context())

	if cause := customErr.Unwrap(); cause != nil && customErr.Status >= http.StatusInternalServerError {
		logx.Error(cause, "Request failed", "code", customErr.Code, "path", r.URL.Path, "request_id", requestID)
	}

	RespondJSON(w, r, customErr.Status, Envelope{
		Code:      customErr.Code,
		Message:   customErr.Message,
		RequestID: requestID,
	})
}
