package response

// StandardApiResponse is the envelope every API handler writes. Errors
// carries the stable engine error code so clients can branch on it.
type StandardApiResponse struct {
	Status     string      `json:"status"`
	StatusCode int         `json:"status_code"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
	Errors     interface{} `json:"errors,omitempty"`
}
