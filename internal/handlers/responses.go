package handlers

// ErrorResponse is the JSON error envelope for the REST surface.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}
