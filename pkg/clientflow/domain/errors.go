package domain

import "errors"

var (
	ErrMissingTenant   = errors.New("tenant id is required")
	ErrUnknownAction   = errors.New("unknown action type")
	ErrNotFound        = errors.New("not found")
	ErrSystemWorkflow  = errors.New("system workflows cannot be deleted")
	ErrInvalidWorkflow = errors.New("invalid workflow")
)
