package dto

import (
	"errors"
	"strings"
)

// StartBatchRequest represents the incoming request to reconcile a folder
type StartBatchRequest struct {
	FolderPath string `json:"folder_path" binding:"required"`
	OutputDir  string `json:"output_dir,omitempty"`
}

// Validate performs basic validation on the request
func (r *StartBatchRequest) Validate() error {
	if strings.TrimSpace(r.FolderPath) == "" {
		return errors.New("folder_path is required")
	}
	return nil
}
