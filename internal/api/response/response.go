// Package response writes the JSON envelopes shared by every API route.
package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/newthinker/tpsl/internal/core"
)

// Meta contains response metadata. Paging fields are only set on list routes.
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	Total     *int      `json:"total,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
}

// SuccessResponse is the standard success response format.
type SuccessResponse struct {
	Data any  `json:"data"`
	Meta Meta `json:"meta"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// Paging describes one page of a list result.
type Paging struct {
	Total  int
	Limit  int
	Offset int
}

// JSON writes a success response with data.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, SuccessResponse{
		Data: data,
		Meta: Meta{Timestamp: time.Now().UTC()},
	})
}

// Page writes a 200 list response with paging metadata.
func Page(w http.ResponseWriter, data any, p Paging) {
	total := p.Total
	write(w, http.StatusOK, SuccessResponse{
		Data: data,
		Meta: Meta{
			Timestamp: time.Now().UTC(),
			Total:     &total,
			Limit:     p.Limit,
			Offset:    p.Offset,
		},
	})
}

// Error writes an error response. Errors that are not *core.Error are
// reported as INTERNAL_ERROR without leaking their text.
func Error(w http.ResponseWriter, status int, err error) {
	detail := ErrorDetail{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		detail.Code = coreErr.Code
		detail.Message = coreErr.Message
		if coreErr.Cause != nil {
			detail.Cause = coreErr.Cause.Error()
		}
	}

	write(w, status, ErrorResponse{Error: detail})
}

// Fail writes err with the status StatusFor picks.
func Fail(w http.ResponseWriter, err error) {
	Error(w, StatusFor(err), err)
}

// StatusFor maps an error kind to the HTTP status it is reported with.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case core.IsConfigError(err), core.IsSchemaError(err), errors.Is(err, core.ErrNoData):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Decode reads a JSON request body into v. Malformed bodies are schema errors.
func Decode(r *http.Request, v any) error {
	if r.Body == nil {
		return core.Errorf(core.ErrSchemaInvalid, "empty request body")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return core.WrapError(core.ErrSchemaInvalid, err)
	}
	return nil
}

func write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
