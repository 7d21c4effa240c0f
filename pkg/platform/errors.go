package platform

import "time"

// ErrorBody is the JSON envelope every adapter emits for failures it traps.
type ErrorBody struct {
	Error      string         `json:"error"`
	StatusCode int            `json:"statusCode"`
	Timestamp  string         `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`
}

// ErrorResponse builds the structured failure envelope. The timestamp is
// captured at call time in UTC. A nil details map leaves the details key
// out of the payload entirely rather than encoding null.
func ErrorResponse(status int, message string, details map[string]any) Response {
	body := ErrorBody{
		Error:      message,
		StatusCode: status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Details:    details,
	}
	return NewBuilder().Status(status).JSON(body).Response()
}
