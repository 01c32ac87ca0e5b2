package dto

import "time"

// ErrorResponse is the JSON envelope returned for every non-2xx response.
//
// Fields:
//   - Message: short, user-facing description.
//   - ErrorDetails: optional underlying error text.
//   - Timestamp: UTC time the error was produced.
type ErrorResponse struct {
	Message      string    `json:"message" example:"failed to fetch trading results"`
	ErrorDetails string    `json:"error,omitempty" example:"connection refused"`
	Timestamp    time.Time `json:"timestamp" example:"2024-10-14T14:12:00Z"`
}

// Error implements the error interface so an ErrorResponse can travel through c.Error().
func (e ErrorResponse) Error() string {
	if e.ErrorDetails == "" {
		return e.Message
	}
	return e.Message + ": " + e.ErrorDetails
}

// NewErrorResponse builds an ErrorResponse; err may be nil.
func NewErrorResponse(message string, err error) ErrorResponse {
	resp := ErrorResponse{Message: message, Timestamp: time.Now().UTC()}
	if err != nil {
		resp.ErrorDetails = err.Error()
	}
	return resp
}
