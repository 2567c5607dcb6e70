// Package protocol defines the API request/response types.
package protocol

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// RegisterRequest is the body for POST /register.
type RegisterRequest struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
}

// LoginRequest is the body for POST /login.
type LoginRequest struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
}

// LoginResponse is returned by POST /login.
type LoginResponse struct {
	Token string `json:"token"`
}

// CreateSubfolderRequest is the body for POST /create-subfolder/{id}/{path...}.
type CreateSubfolderRequest struct {
	SubFolderName string `json:"subFolderName"`
}

// MessageResponse is a generic success payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// UploadResponse is returned after a successful compressed upload.
type UploadResponse struct {
	Message  string `json:"message"`
	StoredAs string `json:"storedAs"`
}

// ListResponse is returned by GET /list/{id}/{path...}.
type ListResponse struct {
	Files []string `json:"files"`
}
