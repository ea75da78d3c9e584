package dto

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// StartBatchResponse is returned when a batch has been accepted
type StartBatchResponse struct {
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
}

// EventsResponse carries the progress lines drained since the last poll
type EventsResponse struct {
	BatchID string   `json:"batch_id"`
	Status  string   `json:"status"`
	Events  []string `json:"events"`
	Dropped int64    `json:"dropped"`
}
