package dto

// Response is the envelope of every API response
type Response struct {
	Success  bool       `json:"success"`
	Data     any        `json:"data,omitempty"`
	Error    *ErrorInfo `json:"error,omitempty"`
	RetryURL string     `json:"retry_url,omitempty"`
}

// ErrorInfo is the machine-readable part of a failed response
type ErrorInfo struct {
	Code      string             `json:"code"`
	Message   string             `json:"message"`
	RequestID string             `json:"request_id,omitempty"`
	Details   []ValidationDetail `json:"details,omitempty"`
}

// ValidationDetail describes one rejected request field
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data any) Response {
	return Response{Success: true, Data: data}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, message, requestID string) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	}
}

// NewValidationErrorResponse creates a 400 response listing field errors
func NewValidationErrorResponse(message, requestID string, details []ValidationDetail) Response {
	resp := NewErrorResponse(ErrCodeValidation, message, requestID)
	resp.Error.Details = details
	return resp
}

// WithRetryURL points the client at the page to restart a failed payment from
func (r Response) WithRetryURL(url string) Response {
	r.RetryURL = url
	return r
}
