package tools

// StatusResponse is returned by tools that have no value of their own.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
