// Package response defines the JSON envelope every API endpoint replies with.
package response

// Response is the envelope shared by all endpoints. Data carries the payload
// on success; Error carries a user-facing message on failure. The status code
// is repeated in the body so polling dashboard clients can branch on it
// without inspecting transport headers.
type Response struct {
	Status     string      `json:"status"`      // "success" or "error"
	StatusCode int         `json:"status_code"` // HTTP status code
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Success wraps a payload in a success envelope.
func Success(statusCode int, data interface{}) Response {
	return Response{
		Status:     "success",
		StatusCode: statusCode,
		Data:       data,
	}
}

// Error builds a failure envelope. The message must already be user-facing;
// raw internal errors never reach the boundary unshaped.
func Error(statusCode int, msg string) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Error:      msg,
	}
}
